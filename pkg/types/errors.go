package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the storage and registry layers. Callers match
// these with errors.Is after unwrapping.
var (
	// ErrNotFound indicates a lookup for a (type, id) returned nothing.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate indicates a primary-key collision on create when
	// id deduplication is disabled.
	ErrDuplicate = errors.New("entity already exists")

	// ErrUnknownType indicates the registry has no entry for the type.
	ErrUnknownType = errors.New("unknown entity type")

	// ErrAlreadyRegistered indicates a duplicate type registration.
	ErrAlreadyRegistered = errors.New("entity type already registered")

	// ErrInvalidJobData indicates handler validation rejected a payload
	// before enqueue; no job row is written.
	ErrInvalidJobData = errors.New("invalid job data")

	// ErrSerialization indicates an adapter round-trip failed.
	ErrSerialization = errors.New("serialization failed")

	// ErrStorage wraps I/O failures against the SQL store.
	ErrStorage = errors.New("storage error")

	// ErrIndex wraps embedding generation or vector-index failures.
	ErrIndex = errors.New("index error")
)

// ValidationError reports a schema rejection with the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationErrors aggregates multiple field rejections from a single
// schema validation pass.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e), strings.Join(msgs, "; "))
}

// IsValidation reports whether err is (or wraps) a validation error.
func IsValidation(err error) bool {
	var ve *ValidationError
	var ves ValidationErrors
	return errors.As(err, &ve) || errors.As(err, &ves)
}
