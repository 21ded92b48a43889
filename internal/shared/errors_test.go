package shared

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFieldErrorsMergeKeepsExisting(t *testing.T) {
	errs := FieldErrors{"id": "first"}
	errs.Merge(FieldErrors{"id": "second", "name": "required"})
	require.Equal(t, "first", errs["id"])
	require.Equal(t, "required", errs["name"])
}

func TestValidationErrorMessageIsDeterministic(t *testing.T) {
	err := NewValidationError(FieldErrors{"b": "two", "a": "one"})
	require.Equal(t, "validation failed: a: one; b: two", err.Error())
	require.Equal(t, "validation failed", (&ValidationError{}).Error())
}

func TestInternalWrapsAndPassesThrough(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("ledger: get balance", cause)
	var internal *InternalError
	require.ErrorAs(t, err, &internal)
	require.ErrorIs(t, err, cause)

	notFound := &NotFoundError{Resource: "item", ID: "oak-plank"}
	require.Equal(t, error(notFound), Internal("ledger: get balance", notFound))
	require.NoError(t, Internal("noop", nil))
}

func TestUserSafeMessageHidesInternalDetail(t *testing.T) {
	require.Equal(t, "an internal error occurred",
		UserSafeMessage(&InternalError{Op: "db", Err: errors.New("dsn=secret")}))
	require.Equal(t, "item oak-plank does not exist",
		UserSafeMessage(&NotFoundError{Resource: "item", ID: "oak-plank"}))
	require.Equal(t, "insufficient quantity of oak-plank (3/5)",
		UserSafeMessage(&InsufficientInventoryError{ItemID: "oak-plank", Requested: 5, Available: 3}))
	require.Equal(t, "transaction po-1 already exists",
		UserSafeMessage(&ConflictError{Resource: "transaction", ID: "po-1"}))
}
