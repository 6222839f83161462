// Package errs defines the error taxonomy shared by the store, the embedding
// providers and the retrieval engine.
package errs

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid or incomplete configuration: an
// unknown provider, a missing credential. It is fatal at construction and
// never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// TransientProviderError is a network or rate-limit failure that may succeed
// on retry.
type TransientProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransientProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient failure (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Provider, e.Err)
}

func (e *TransientProviderError) Unwrap() error {
	return e.Err
}

// EncodingFailure is the terminal failure of an encode call, after any
// retries were exhausted.
type EncodingFailure struct {
	Provider string
	Attempts int
	Err      error
}

func (e *EncodingFailure) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s: encoding failed after %d attempts: %v", e.Provider, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: encoding failed: %v", e.Provider, e.Err)
}

func (e *EncodingFailure) Unwrap() error {
	return e.Err
}

// StorageError wraps an I/O or serialization failure of the database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ValidationError rejects malformed input before any I/O happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SearchFailure means results are unavailable. It is never returned for a
// search that merely matched nothing.
type SearchFailure struct {
	Query string
	Err   error
}

func (e *SearchFailure) Error() string {
	return fmt.Sprintf("search %q failed: %v", e.Query, e.Err)
}

func (e *SearchFailure) Unwrap() error {
	return e.Err
}

func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsTransient reports whether err, or anything it wraps, is a
// TransientProviderError.
func IsTransient(err error) bool {
	var t *TransientProviderError
	return errors.As(err, &t)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsConfiguration(err error) bool {
	var c *ConfigurationError
	return errors.As(err, &c)
}

func IsStorage(err error) bool {
	var s *StorageError
	return errors.As(err, &s)
}

func IsSearchFailure(err error) bool {
	var s *SearchFailure
	return errors.As(err, &s)
}
