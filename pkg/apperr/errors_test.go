package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds_SurviveWrapping(t *testing.T) {
	err := fmt.Errorf("create version: %w", NotFound("branch", "main"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), `branch "main"`)

	err = fmt.Errorf("commit: %w", Protected("main", "restrictPush"))
	assert.ErrorIs(t, err, ErrProtectedBranch)

	assert.ErrorIs(t, Validation("bad %s", "input"), ErrValidation)
}

func TestConflictError_Details(t *testing.T) {
	var err error = fmt.Errorf("merge: %w", &ConflictError{Reason: "overlapping edits", Paths: []string{"a", "b.c"}})

	assert.ErrorIs(t, err, ErrConflict)
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"a", "b.c"}, ce.Paths)
	assert.Contains(t, err.Error(), "a, b.c")
}

func TestStaleError_Kinds(t *testing.T) {
	mr := &StaleError{MergeRequestID: "mr-1", CurrentSource: "s2", CurrentTarget: "t1"}
	assert.ErrorIs(t, mr, ErrStaleMergeRequest)
	assert.ErrorIs(t, mr, ErrConcurrentModification)

	head := &StaleError{BranchID: "b-1", Expected: "v1", Current: "v2"}
	assert.ErrorIs(t, head, ErrConcurrentModification)
	assert.NotErrorIs(t, head, ErrStaleMergeRequest)
	assert.Contains(t, head.Error(), "expected head v1")
}

func TestIncompleteResolutionError(t *testing.T) {
	err := fmt.Errorf("manual merge: %w", &IncompleteResolutionError{Missing: []string{"a"}})
	assert.ErrorIs(t, err, ErrIncompleteResolution)

	var ie *IncompleteResolutionError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, []string{"a"}, ie.Missing)
}
