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

package errors

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// ErrTransient marks a failure that may succeed when retried, e.g. a store
// that is temporarily unreachable.
var ErrTransient = errors.New("transient store error")

func NewTransient(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrTransient)
}

// TransientPolicy decides which failures are surfaced to the caller for a
// retry and which ones are reported and dropped.
type TransientPolicy interface {
	IsTransient(err error) bool
}

// MatchPolicy treats ErrTransient and every error whose message contains one
// of Patterns as transient.
type MatchPolicy struct {
	Patterns []string
}

func (p MatchPolicy) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	msg := err.Error()
	for _, pattern := range p.Patterns {
		if pattern != "" && strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// SwappablePolicy is a TransientPolicy that can be replaced at runtime.
type SwappablePolicy struct {
	current atomic.Pointer[TransientPolicy]
}

func NewSwappablePolicy(initial TransientPolicy) *SwappablePolicy {
	p := &SwappablePolicy{}
	p.Swap(initial)
	return p
}

func (p *SwappablePolicy) Swap(next TransientPolicy) {
	if next == nil {
		next = MatchPolicy{}
	}
	p.current.Store(&next)
}

func (p *SwappablePolicy) IsTransient(err error) bool {
	current := p.current.Load()
	if current == nil {
		return MatchPolicy{}.IsTransient(err)
	}
	return (*current).IsTransient(err)
}

// IsTransient applies the default policy.
func IsTransient(err error) bool {
	return MatchPolicy{}.IsTransient(err)
}
