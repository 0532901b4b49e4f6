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
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrorGroupWrapper is a custom type that embeds errgroup.Group.
type ErrorGroupWrapper struct {
	*errgroup.Group
	logger    logrus.FieldLogger
	Variables []interface{}

	mu          sync.Mutex
	returnError error
}

// NewErrorGroupWrapper creates a new ErrorGroupWrapper.
func NewErrorGroupWrapper(logger logrus.FieldLogger, vars ...interface{}) *ErrorGroupWrapper {
	return &ErrorGroupWrapper{
		Group:     new(errgroup.Group),
		logger:    logger,
		Variables: vars,
	}
}

// NewErrorGroupWithContextWrapper creates a new ErrorGroupWrapper whose
// context is cancelled on the first error.
func NewErrorGroupWithContextWrapper(ctx context.Context, logger logrus.FieldLogger,
	vars ...interface{},
) (*ErrorGroupWrapper, context.Context) {
	eg, ctx := errgroup.WithContext(ctx)
	return &ErrorGroupWrapper{
		Group:     eg,
		logger:    logger,
		Variables: vars,
	}, ctx
}

// Go overrides the Go method to add panic recovery logic.
func (egw *ErrorGroupWrapper) Go(f func() error, localVars ...interface{}) {
	egw.Group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				egw.logger.WithFields(logrus.Fields{
					"action":     "error_group_recover",
					"local_vars": localVars,
					"vars":       egw.Variables,
				}).Errorf("Recovered from panic: %v", r)
				debug.PrintStack()
				err = fmt.Errorf("panic occurred: %v", r)
				egw.mu.Lock()
				egw.returnError = err
				egw.mu.Unlock()
			}
		}()
		return f()
	})
}

// Wait waits for all goroutines to finish and returns the first non-nil error.
func (egw *ErrorGroupWrapper) Wait() error {
	if err := egw.Group.Wait(); err != nil {
		return err
	}
	egw.mu.Lock()
	defer egw.mu.Unlock()
	return egw.returnError
}
