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

package config

import (
	"bytes"
	"errors"
	"io"

	"gopkg.in/yaml.v3"
)

// Overrides are the settings that can change while the mirror is running.
// They are read from RuntimeOverrides.Path.
type Overrides struct {
	// TransientErrors replaces Config.TransientErrors.
	TransientErrors []string `json:"transient_errors" yaml:"transient_errors"`
}

// ParseOverrides is a runtime.Parser that rejects unknown keys.
func ParseOverrides(buf []byte) (*Overrides, error) {
	var o Overrides
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &o, nil
}
