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

package document

import (
	"fmt"
	"strconv"
	"strings"
)

// Reserved field names. Everything else in a document belongs to the record
// type and is opaque to the mirror.
const (
	FieldID               = "_id"
	FieldFormatVersion    = "_formatVersion"
	FieldRoutingKey       = "_routingKey"
	InstanceIDFieldPrefix = "_instanceId_"
)

// DefaultVersion is assumed for documents without a version stamp.
const DefaultVersion = 1

// Document is the wire representation of a record. The alias keeps every
// nested map and top level document the same type, so patches can move
// sub-trees around freely.
type Document = Map

// New returns an empty document with the given identity.
func New(id string) *Document {
	return NewMap().Set(FieldID, FromString(id))
}

// InstanceIDField is the name of the precomputed instance id field for the
// given partition count, e.g. "_instanceId_4".
func InstanceIDField(partitions int) string {
	return InstanceIDFieldPrefix + strconv.Itoa(partitions)
}

// ParseInstanceIDField is the inverse of InstanceIDField.
func ParseInstanceIDField(name string) (int, bool) {
	if !strings.HasPrefix(name, InstanceIDFieldPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, InstanceIDFieldPrefix))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func IsReserved(field string) bool {
	switch field {
	case FieldID, FieldFormatVersion, FieldRoutingKey:
		return true
	default:
		return strings.HasPrefix(field, InstanceIDFieldPrefix)
	}
}

// ID returns the document identity, or "" if it has none. Non-string ids are
// rendered in their canonical form.
func (m *Map) ID() string {
	v, ok := m.Get(FieldID)
	if !ok || v.IsNull() {
		return ""
	}
	if s, ok := v.AsString(); ok {
		return s
	}
	return v.String()
}

// Version returns the format version. A missing or null stamp means
// DefaultVersion, a stamp of any other kind than int yields 0 which no patch
// chain accepts.
func (m *Map) Version() int {
	v, ok := m.Get(FieldFormatVersion)
	if !ok || v.IsNull() {
		return DefaultVersion
	}
	i, ok := v.AsInt()
	if !ok {
		return 0
	}
	return int(i)
}

func (m *Map) SetVersion(version int) *Map {
	return m.Set(FieldFormatVersion, FromInt(int64(version)))
}

func (m *Map) RoutingKey() (Value, bool) {
	v, ok := m.Get(FieldRoutingKey)
	if !ok || v.IsNull() {
		return Value{}, false
	}
	return v, true
}

// InstanceID returns the stored instance id for the partition count.
func (m *Map) InstanceID(partitions int) (int, bool) {
	v, ok := m.Get(InstanceIDField(partitions))
	if !ok {
		return 0, false
	}
	i, ok := v.AsInt()
	return int(i), ok
}

// Describe is used in log lines and error messages.
func (m *Map) Describe() string {
	return fmt.Sprintf("document %q (version %d)", m.ID(), m.Version())
}
