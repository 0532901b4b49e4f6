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

package descriptor

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/weaviate/gridmirror/entities/document"
)

// RoutingKeyStrategy extracts the routing key of a record from its document.
type RoutingKeyStrategy interface {
	RoutingKey(doc *document.Document) (document.Value, bool)
	Validate() error
	fmt.Stringer
}

// RouteByID routes records by their identity.
func RouteByID() RoutingKeyStrategy {
	return fieldStrategy{field: document.FieldID}
}

// RouteByField routes records by a top level field of their document.
func RouteByField(field string) RoutingKeyStrategy {
	return fieldStrategy{field: field}
}

type fieldStrategy struct {
	field string
}

func (s fieldStrategy) RoutingKey(doc *document.Document) (document.Value, bool) {
	v, ok := doc.Get(s.field)
	if !ok || v.IsNull() {
		return document.Value{}, false
	}
	return v, true
}

func (s fieldStrategy) Validate() error {
	if s.field == "" {
		return errors.Wrap(ErrInvalidDescriptor, "routing field is empty")
	}
	if s.field != document.FieldID && document.IsReserved(s.field) {
		return errors.Wrapf(ErrInvalidDescriptor, "routing field %q is reserved", s.field)
	}
	return nil
}

func (s fieldStrategy) String() string {
	return "field:" + s.field
}
