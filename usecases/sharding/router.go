//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2024 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package sharding

import (
	"fmt"

	"github.com/weaviate/gridmirror/entities/document"
	"github.com/weaviate/gridmirror/entities/routing"
)

// Router knows the position of this instance in the grid and maps routing
// keys to owning instances. Instance ids are 1-based.
type Router struct {
	instanceID int
	partitions int
}

func NewRouter(instanceID, partitions int) (*Router, error) {
	if partitions < 1 {
		return nil, fmt.Errorf("partition count must be at least 1, got %d", partitions)
	}
	if instanceID < 1 || instanceID > partitions {
		return nil, fmt.Errorf("instance id must be between 1 and %d, got %d", partitions, instanceID)
	}
	return &Router{instanceID: instanceID, partitions: partitions}, nil
}

func (r *Router) InstanceID() int { return r.instanceID }

func (r *Router) Partitions() int { return r.partitions }

// InstanceIDOf returns the owner of key for the current partition count.
func (r *Router) InstanceIDOf(key document.Value) (int, error) {
	return routing.InstanceID(key, r.partitions)
}

// Owns reports whether this instance owns key.
func (r *Router) Owns(key document.Value) (bool, error) {
	id, err := r.InstanceIDOf(key)
	if err != nil {
		return false, err
	}
	return id == r.instanceID, nil
}
