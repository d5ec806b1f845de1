// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for identifiers that
// reach security- or correctness-critical sinks.
//
// User, roadmap, module, and task IDs end up in cache keys (colon-joined
// compound keys), websocket room names, and URL query strings. A colon
// in an ID would alias two different tasks onto one cache key; control
// characters would corrupt log lines and wire frames. Validate at the
// edges and the inner layers can trust their inputs.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// idPattern matches valid Pathlight identifiers: UUIDs, slugs, and
// short opaque IDs. Explicitly excludes ':' (compound key separator),
// whitespace, and control characters.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,63}$`)

// ValidateID checks one identifier.
//
// Valid identifiers:
//   - 1-64 characters
//   - letters, digits, dots, underscores, hyphens
//   - must start with a letter or digit
//
// Example:
//
//	if err := validation.ValidateID("task id", taskID); err != nil {
//	    return err
//	}
//	// Safe to embed in a cache key or room name
func ValidateID(label, id string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", label)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid %s: %q (must be 1-64 alphanumeric chars, dots, underscores, or hyphens)", label, id)
	}
	return nil
}

// ValidateIDs checks several identifiers at once, given as alternating
// label, value pairs. It reports every invalid one, not just the first.
func ValidateIDs(pairs ...string) error {
	var invalid []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := ValidateID(pairs[i], pairs[i+1]); err != nil {
			invalid = append(invalid, err.Error())
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%s", strings.Join(invalid, "; "))
	}
	return nil
}
