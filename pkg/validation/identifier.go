// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for user-supplied node
// identifiers.
//
// Identifiers arrive in URL paths, query strings and JSON bodies. They are
// opaque to the tree engine, so this package only rejects values that
// cannot round-trip through those transports: empty strings, control
// characters, path separators and invalid UTF-8.
package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxIdentifierLength is the maximum identifier length in bytes.
const MaxIdentifierLength = 256

// IdentifierTag is the struct tag name registered by RegisterValidators.
const IdentifierTag = "node_id"

// ValidateIdentifier checks a node identifier.
//
// Valid identifiers:
//   - 1-256 bytes of valid UTF-8 (Thai, CJK etc. are fine)
//   - No control characters
//   - No '/' (identifiers are addressed as a single path segment)
//   - No leading or trailing whitespace
//
// Example:
//
//	if err := validation.ValidateIdentifier(id); err != nil {
//	    return fmt.Errorf("invalid node id: %w", err)
//	}
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(id) > MaxIdentifierLength {
		return fmt.Errorf("identifier too long: %d bytes (max %d)", len(id), MaxIdentifierLength)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("identifier is not valid UTF-8")
	}
	if strings.TrimSpace(id) != id {
		return fmt.Errorf("identifier %q has leading or trailing whitespace", id)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("identifier %q contains a control character", id)
		}
		if r == '/' {
			return fmt.Errorf("identifier %q contains '/'", id)
		}
	}
	return nil
}

// ValidateIdentifiers validates multiple identifiers.
// Returns an error listing all invalid identifiers if any fail validation.
func ValidateIdentifiers(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateIdentifier(id); err != nil {
			invalid = append(invalid, id)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid identifiers: %q", invalid)
	}
	return nil
}

// SanitizeIdentifier trims surrounding whitespace and validates the result.
func SanitizeIdentifier(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateIdentifier(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// RegisterValidators registers the node_id tag on v.
//
// # Description
//
// gin's default binding validator is a *validator.Validate; pass
// binding.Validator.Engine() to make `binding:"node_id"` available in
// request DTOs.
//
// # Outputs
//
//   - error: Non-nil if registration fails.
func RegisterValidators(v *validator.Validate) error {
	return v.RegisterValidation(IdentifierTag, func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		if !ok {
			return false
		}
		return ValidateIdentifier(s) == nil
	})
}
