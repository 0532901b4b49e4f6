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

package concurrency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBudget(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, 8, Budget(ctx, 8))

	ctx = WithBudget(ctx, 6)
	assert.Equal(t, 6, Budget(ctx, 8))
	assert.Equal(t, 1, Budget(WithBudget(ctx, 0), 8))
}
