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
	"os"
	"runtime/debug"

	"github.com/sirupsen/logrus"
	"github.com/weaviate/gridmirror/usecases/configbase"
)

const disableRecoveryEnv = "GRIDMIRROR_DISABLE_RECOVERY_ON_PANIC"

// GoWrapper runs f on its own goroutine and recovers a panic into an error
// log entry. The returned channel is closed once f has returned.
func GoWrapper(f func(), logger logrus.FieldLogger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if configbase.Enabled(os.Getenv(disableRecoveryEnv)) {
				return
			}
			if r := recover(); r != nil {
				logger.WithFields(logrus.Fields{
					"action": "goroutine_recover",
					"stack":  string(debug.Stack()),
				}).Errorf("recovered from panic: %v", r)
			}
		}()
		f()
	}()
	return done
}
