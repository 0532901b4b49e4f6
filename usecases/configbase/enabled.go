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

package configbase

import "strings"

// Enabled interprets an environment flag value.
func Enabled(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "enabled", "1", "true", "yes":
		return true
	default:
		return false
	}
}
