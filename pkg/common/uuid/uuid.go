// Package uuid wraps github.com/google/uuid behind a single import seam so
// the rest of the codebase does not depend on the library directly.
package uuid

import "github.com/google/uuid"

// UUID is an alias for the underlying library type, so values flow to and
// from pgtype and the google library without conversion.
type UUID = uuid.UUID

// Nil is the zero-value UUID.
var Nil = uuid.Nil

// New returns a random (v4) UUID.
func New() UUID { return uuid.New() }

// NewString returns the string form of a random (v4) UUID.
func NewString() string { return uuid.NewString() }

// Parse decodes s into a UUID or returns an error.
func Parse(s string) (UUID, error) { return uuid.Parse(s) }

// MustParse is like Parse but panics on failure. Intended for tests and
// hard-coded identifiers.
func MustParse(s string) UUID { return uuid.MustParse(s) }
