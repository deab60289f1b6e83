package errorx_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/marcodd23/go-micro-dao/pkg/errorx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseErrorWrapper(t *testing.T) {
	cause := errors.New("connection refused")
	err := errorx.NewDatabaseErrorWrapper(cause, "error opening session on %s", "main-db")

	assert.Equal(t, "error opening session on main-db: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestTaxonomyHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"entity not found", errorx.NewEntityNotFoundError("Note", int64(7)), errorx.IsEntityNotFound},
		{"validation failed", errorx.NewValidationFailedError("predicate check failed"), errorx.IsValidationFailed},
		{"chained update failed", errorx.NewChainedUpdateFailedError(0, "update returned no rows"), errorx.IsChainedUpdateFailed},
		{"constraint violation", errorx.NewConstraintViolationError("uq_ext_id", "duplicate key"), errorx.IsConstraintViolation},
		{"store operation failed", errorx.NewStoreOperationFailedErrorWrapper(errors.New("boom"), "store operation failed"), errorx.IsStoreOperationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, tt.check(tt.err))
			require.True(t, tt.check(fmt.Errorf("outer: %w", tt.err)))
			require.True(t, errorx.IsClassified(tt.err))
		})
	}
}

func TestStepFailedUnwrapsCause(t *testing.T) {
	cause := errorx.NewValidationFailedError("predicate check failed")
	err := errorx.NewStepFailedError(2, "filter", cause)

	var step *errorx.StepFailedError
	require.ErrorAs(t, err, &step)
	assert.Equal(t, 2, step.Index)
	assert.Equal(t, "filter", step.Kind)
	assert.True(t, errorx.IsValidationFailed(err))
	assert.True(t, errorx.IsClassified(err))
}

func TestIsClassifiedRejectsPlainErrors(t *testing.T) {
	assert.False(t, errorx.IsClassified(nil))
	assert.False(t, errorx.IsClassified(errors.New("plain")))
	assert.False(t, errorx.IsClassified(errorx.NewDatabaseError("store down")))
}
