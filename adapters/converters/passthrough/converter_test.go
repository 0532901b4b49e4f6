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

package passthrough

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/gridmirror/entities/document"
)

func TestConverter(t *testing.T) {
	c := Converter{}
	in := document.New("1").Set("name", document.FromString("X"))

	doc, err := c.ToDocument(in)
	require.NoError(t, err)
	assert.True(t, in.Equal(doc))
	doc.Set("name", document.FromString("Y"))
	name, _ := in.Get("name")
	assert.Equal(t, document.FromString("X"), name, "records and documents do not share state")

	rec, err := c.ToRecord(in)
	require.NoError(t, err)
	assert.True(t, in.Equal(rec.(*document.Document)))

	doc, err = c.ToDocument(map[string]any{"_id": "2", "n": 1})
	require.NoError(t, err)
	assert.Equal(t, "2", doc.ID())

	_, err = c.ToDocument(42)
	assert.Error(t, err)
}

func TestConverter_TemplateToQuery(t *testing.T) {
	c := Converter{}
	q, err := c.TemplateToQuery(document.NewMap().
		Set("customer", document.FromString("c-1")).
		Set("ignored", document.Null()))
	require.NoError(t, err)
	assert.Equal(t, `And(customer == "c-1")`, q.String())
	assert.True(t, q.Match(document.New("1").Set("customer", document.FromString("c-1"))))
	assert.False(t, q.Match(document.New("2").Set("customer", document.FromString("c-2"))))

	q, err = c.TemplateToQuery(document.NewMap())
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestConverters(t *testing.T) {
	_, err := NewConverters().ConverterFor("Anything")
	assert.NoError(t, err)

	restricted := NewConverters("Order")
	_, err = restricted.ConverterFor("Order")
	assert.NoError(t, err)
	_, err = restricted.ConverterFor("Customer")
	assert.Error(t, err)
}
