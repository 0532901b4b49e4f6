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

// Package filters contains the store-agnostic predicate model used to scan
// collections. Stores either translate a clause into their native query
// language or evaluate it with Match.
package filters

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/weaviate/gridmirror/entities/document"
	"github.com/weaviate/gridmirror/entities/routing"
)

type Operator int

const (
	OperatorEqual Operator = iota + 1
	OperatorAnd
	OperatorOr
	OperatorIsNull
	OperatorNotNull
	OperatorHashModulo
)

func (o Operator) OnValue() bool {
	switch o {
	case OperatorEqual,
		OperatorIsNull,
		OperatorNotNull,
		OperatorHashModulo:
		return true
	default:
		return false
	}
}

func (o Operator) Name() string {
	switch o {
	case OperatorEqual:
		return "Equal"
	case OperatorAnd:
		return "And"
	case OperatorOr:
		return "Or"
	case OperatorIsNull:
		return "IsNull"
	case OperatorNotNull:
		return "NotNull"
	case OperatorHashModulo:
		return "HashModulo"
	default:
		panic("Unknown operator")
	}
}

// Clause is a node of a predicate tree. Value operators use On, and Value or
// Modulus; And/Or use Operands.
//
// HashModulo matches when routing.InstanceID(doc[On], Modulus) equals the int
// in Value, i.e. it is the store side equivalent of the partition router.
type Clause struct {
	Operator Operator
	On       string
	Value    document.Value
	Modulus  int
	Operands []*Clause
}

func Equal(field string, v document.Value) *Clause {
	return &Clause{Operator: OperatorEqual, On: field, Value: v}
}

// IsNull matches documents where field is absent or null.
func IsNull(field string) *Clause {
	return &Clause{Operator: OperatorIsNull, On: field}
}

func NotNull(field string) *Clause {
	return &Clause{Operator: OperatorNotNull, On: field}
}

func HashModulo(field string, partitions, instanceID int) *Clause {
	return &Clause{
		Operator: OperatorHashModulo,
		On:       field,
		Modulus:  partitions,
		Value:    document.FromInt(int64(instanceID)),
	}
}

func And(operands ...*Clause) *Clause {
	return &Clause{Operator: OperatorAnd, Operands: operands}
}

func Or(operands ...*Clause) *Clause {
	return &Clause{Operator: OperatorOr, Operands: operands}
}

func (c *Clause) Validate() error {
	if c == nil {
		return nil
	}

	switch c.Operator {
	case OperatorAnd, OperatorOr:
		if len(c.Operands) == 0 {
			return errors.Errorf("operator %s needs at least one operand", c.Operator.Name())
		}
		for i, op := range c.Operands {
			if op == nil {
				return errors.Errorf("operand %d of %s is nil", i, c.Operator.Name())
			}
			if err := op.Validate(); err != nil {
				return errors.Wrapf(err, "operand %d of %s", i, c.Operator.Name())
			}
		}
		return nil
	case OperatorEqual, OperatorIsNull, OperatorNotNull:
		if c.On == "" {
			return errors.Errorf("operator %s needs a field", c.Operator.Name())
		}
		return nil
	case OperatorHashModulo:
		if c.On == "" {
			return errors.New("operator HashModulo needs a field")
		}
		if c.Modulus <= 0 {
			return errors.Errorf("operator HashModulo needs a positive modulus, got %d", c.Modulus)
		}
		if _, ok := c.Value.AsInt(); !ok {
			return errors.New("operator HashModulo needs an int value")
		}
		return nil
	default:
		return errors.Errorf("unknown operator %d", c.Operator)
	}
}

// Match evaluates the clause against doc. A nil clause matches everything.
//
// HashModulo matches documents whose field cannot be hashed: stores only use
// clauses as a prefilter and the in-memory partition filter decides, so a
// false positive costs a little work while a false negative would lose data.
func (c *Clause) Match(doc *document.Document) bool {
	if c == nil {
		return true
	}

	switch c.Operator {
	case OperatorAnd:
		for _, op := range c.Operands {
			if !op.Match(doc) {
				return false
			}
		}
		return true
	case OperatorOr:
		for _, op := range c.Operands {
			if op.Match(doc) {
				return true
			}
		}
		return false
	case OperatorEqual:
		v, ok := doc.Get(c.On)
		return ok && v.Equal(c.Value)
	case OperatorIsNull:
		return !doc.Has(c.On)
	case OperatorNotNull:
		return doc.Has(c.On)
	case OperatorHashModulo:
		v, ok := doc.Get(c.On)
		if !ok || v.IsNull() {
			return false
		}
		id, err := routing.InstanceID(v, c.Modulus)
		if err != nil {
			return true
		}
		want, _ := c.Value.AsInt()
		return int64(id) == want
	default:
		return false
	}
}

func (c *Clause) String() string {
	if c == nil {
		return "<all>"
	}

	switch c.Operator {
	case OperatorAnd, OperatorOr:
		parts := make([]string, len(c.Operands))
		for i, op := range c.Operands {
			parts[i] = op.String()
		}
		return fmt.Sprintf("%s(%s)", c.Operator.Name(), strings.Join(parts, ", "))
	case OperatorHashModulo:
		return fmt.Sprintf("HashModulo(%s, %d) == %s", c.On, c.Modulus, c.Value)
	case OperatorIsNull, OperatorNotNull:
		return fmt.Sprintf("%s(%s)", c.Operator.Name(), c.On)
	default:
		return fmt.Sprintf("%s == %s", c.On, c.Value)
	}
}
