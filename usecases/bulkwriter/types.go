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

package bulkwriter

import (
	"context"
	"fmt"

	"github.com/weaviate/gridmirror/usecases/store"
)

type MutationKind int

const (
	Insert MutationKind = iota
	Update
	Remove
)

func (k MutationKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Remove:
		return "remove"
	default:
		return fmt.Sprintf("mutation(%d)", int(k))
	}
}

// Mutation is one change of the grid's working set. Record is nil for
// removals.
type Mutation struct {
	Kind     MutationKind
	TypeName string
	ID       string
	Record   any
}

type FailureKind string

const (
	// FailurePartial is a single op rejected inside a bulk write.
	FailurePartial FailureKind = "partial"
	// FailureTotal is a bulk write that failed as a whole.
	FailureTotal FailureKind = "total"
	// FailureTerminal reports the ops abandoned after the retry cap.
	FailureTerminal FailureKind = "terminal"
	// FailureConversion is a record that could not be turned into a document.
	FailureConversion FailureKind = "conversion"
)

// Failure describes one failed write. ID is the id of the failed op, for
// total and terminal failures it is the first id of the abandoned ops.
type Failure struct {
	Kind       FailureKind
	Collection string
	TypeName   string
	ID         string
	Op         store.OpKind
	Remaining  int
	Err        error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s write failure in %s at %q (%d ops abandoned): %v",
		f.Kind, f.Collection, f.ID, f.Remaining, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// ExceptionListener observes write failures, e.g. to alert.
type ExceptionListener interface {
	OnWriteFailure(f Failure)
}

// ExceptionHandler decides what happens to a failed write, e.g. parking the
// records for a later retry.
type ExceptionHandler interface {
	HandleWriteFailure(ctx context.Context, f Failure)
}

type ListenerFunc func(f Failure)

func (fn ListenerFunc) OnWriteFailure(f Failure) { fn(f) }

type HandlerFunc func(ctx context.Context, f Failure)

func (fn HandlerFunc) HandleWriteFailure(ctx context.Context, f Failure) { fn(ctx, f) }

// ReloadGuard reports records that were reloaded from the store during the
// current tick. Their mutations echo the reload and are not written back.
type ReloadGuard interface {
	RecentlyReloaded(typeName, id string) bool
}

// Outcome tells which ops of an Execute call reached the store.
type Outcome struct {
	Applied int
	// Failed are the positions of the submitted ops that were reported and
	// not written, in ascending order.
	Failed []int
}

// Complete reports whether every op was written.
func (o Outcome) Complete() bool { return len(o.Failed) == 0 }

// Written reports whether the op at position i was written.
func (o Outcome) Written(i int) bool {
	for _, f := range o.Failed {
		if f == i {
			return false
		}
		if f > i {
			break
		}
	}
	return true
}

func (o *Outcome) add(other Outcome, offset int) {
	o.Applied += other.Applied
	for _, f := range other.Failed {
		o.Failed = append(o.Failed, f+offset)
	}
}
