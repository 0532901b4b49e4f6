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
)

type budgetKey struct{}

func (budgetKey) String() string {
	return "concurrency_budget"
}

// WithBudget caps the goroutines a callee may fan out to.
func WithBudget(ctx context.Context, budget int) context.Context {
	if budget < 1 {
		budget = 1
	}
	return context.WithValue(ctx, budgetKey{}, budget)
}

// Budget returns the budget of ctx, or fallback if none was set.
func Budget(ctx context.Context, fallback int) int {
	budget, ok := ctx.Value(budgetKey{}).(int)
	if !ok {
		return fallback
	}
	return budget
}

