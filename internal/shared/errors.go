package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// FieldErrors collects per-field validation problems keyed by field path.
type FieldErrors map[string]string

// Merge copies entries from other, keeping existing keys.
func (f FieldErrors) Merge(other FieldErrors) {
	for key, msg := range other {
		if _, ok := f[key]; !ok {
			f[key] = msg
		}
	}
}

// ValidationError reports a malformed or inconsistent request. Field messages
// are safe to expose verbatim to callers.
type ValidationError struct {
	Fields FieldErrors
}

// NewValidationError builds a ValidationError from field messages.
func NewValidationError(fields FieldErrors) *ValidationError {
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", key, e.Fields[key]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ConflictError reports a duplicate identifier or a lost-update race. Safe to
// retry with fresh reads.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s: %s", e.Resource, e.ID, e.Reason)
	}
	return fmt.Sprintf("%s %s already exists", e.Resource, e.ID)
}

// NotFoundError reports an unknown item or transaction id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s does not exist", e.Resource, e.ID)
}

// InsufficientInventoryError rejects a transaction that would oversell or
// over-consume an item. Nothing is persisted when it is returned.
type InsufficientInventoryError struct {
	ItemID    string
	Requested float64
	Available float64
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient quantity of %s (%g/%g)", e.ItemID, e.Available, e.Requested)
}

// InternalError wraps a persistence or cache failure. The wrapped cause is
// logged in full but never exposed to callers.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Internal wraps err as an InternalError unless it already carries one of the
// caller-facing types.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		validation   *ValidationError
		conflict     *ConflictError
		notFound     *NotFoundError
		insufficient *InsufficientInventoryError
	)
	if errors.As(err, &validation) || errors.As(err, &conflict) || errors.As(err, &notFound) || errors.As(err, &insufficient) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}

// UserSafeMessage maps an error to a message suitable for external callers.
// Internal detail is never surfaced.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		validation   *ValidationError
		conflict     *ConflictError
		notFound     *NotFoundError
		insufficient *InsufficientInventoryError
	)
	switch {
	case errors.As(err, &validation):
		return validation.Error()
	case errors.As(err, &conflict):
		return conflict.Error()
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.As(err, &insufficient):
		return insufficient.Error()
	default:
		return "an internal error occurred"
	}
}
