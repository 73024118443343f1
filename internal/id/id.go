// Package id provides unique identifier generation for requests and
// workspace artifacts.
package id

import (
	"github.com/google/uuid"
)

const uuidLen = 36

// Generate creates a new unique identifier with the given prefix.
// Format: <prefix>-<uuid>
// Example: req-0b8f4c1e-6a53-4f0c-9a8e-2f1d7c5b9e10
func Generate(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "-" + uuid.NewString()
}

// Valid reports whether s has the shape produced by Generate.
// Inbound identifiers such as an X-Request-ID header are only reused when valid.
func Valid(s string) bool {
	if len(s) < uuidLen || len(s) > 128 {
		return false
	}
	if len(s) > uuidLen && s[len(s)-uuidLen-1] != '-' {
		return false
	}
	_, err := uuid.Parse(s[len(s)-uuidLen:])
	return err == nil
}
