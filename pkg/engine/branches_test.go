package engine

import (
	"context"
	"testing"

	"metavault/pkg/apperr"
	"metavault/pkg/meta"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranch_InfoAndCompare(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	root := env.commit(t, "", `{"a":1,"b":1}`, "alice", "init")
	env.branch(t, "feature", DefaultBranch)
	env.commit(t, "feature", `{"a":2,"b":1}`, "bob", "feature edit")
	env.commit(t, DefaultBranch, `{"a":1,"b":2}`, "alice", "main edit 1")
	env.commit(t, DefaultBranch, `{"a":1,"b":3}`, "alice", "main edit 2")

	info, err := env.eng.GetBranchInfo(ctx, testDoc, "feature")
	require.NoError(t, err)
	require.NotNil(t, info.SourceBranch)
	assert.Equal(t, DefaultBranch, info.SourceBranch.Name)
	assert.Equal(t, root.ID, info.Branch.ForkVersionID)
	assert.Equal(t, 1, info.Ahead)
	assert.Equal(t, 2, info.Behind)
	assert.Equal(t, 0, info.OpenMergeRequests)

	cmp, err := env.eng.CompareBranches(ctx, testDoc, DefaultBranch, "feature")
	require.NoError(t, err)
	assert.Equal(t, root.ID, cmp.Base)
	assert.Equal(t, 1, cmp.Ahead)
	assert.Equal(t, 2, cmp.Behind)
	assert.Equal(t, 2, cmp.Diff.Len(), "a and b differ between the heads")
}

func TestBranch_FromVersion(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	v1 := env.commit(t, "", `{"a":1}`, "alice", "init")
	env.commit(t, DefaultBranch, `{"a":2}`, "alice", "second")

	b, err := env.eng.CreateBranch(ctx, CreateBranchInput{
		DocumentID:    testDoc,
		Name:          "hotfix",
		SourceVersion: string(v1.ID)[:12],
		CreatedBy:     "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, v1.ID, b.HeadVersionID)
	assert.Empty(t, b.SourceBranchID)

	_, err = env.eng.CreateBranch(ctx, CreateBranchInput{DocumentID: testDoc, Name: "hotfix", SourceBranch: DefaultBranch, CreatedBy: "bob"})
	assert.ErrorIs(t, err, apperr.ErrConflict, "branch names are unique per document")

	_, err = env.eng.CreateBranch(ctx, CreateBranchInput{DocumentID: testDoc, Name: "bad name", SourceBranch: DefaultBranch, CreatedBy: "bob"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = env.eng.CreateBranch(ctx, CreateBranchInput{DocumentID: testDoc, Name: "orphan", CreatedBy: "bob"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestBranch_Delete(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	env.commit(t, "", `{"a":1}`, "alice", "init")
	env.branch(t, "merged", DefaultBranch)
	env.branch(t, "wip", DefaultBranch)
	wipHead := env.commit(t, "wip", `{"a":9}`, "bob", "unmerged work")

	// head 仍然可以从 main 到达
	require.NoError(t, env.eng.DeleteBranch(ctx, testDoc, "merged", false, "alice"))

	err := env.eng.DeleteBranch(ctx, testDoc, "wip", false, "alice")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	require.NoError(t, env.eng.DeleteBranch(ctx, testDoc, "wip", true, "alice"))
	_, err = env.eng.GetBranchInfo(ctx, testDoc, "wip")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// 版本不受分支删除影响
	_, err = env.eng.GetVersion(ctx, string(wipHead.ID))
	assert.NoError(t, err)
}

func TestBranch_Protection(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	v1 := env.commit(t, "", `{"a":1}`, "alice", "init")

	b, err := env.eng.ProtectBranch(ctx, testDoc, DefaultBranch, meta.Protection{RestrictPush: true}, "admin")
	require.NoError(t, err)
	assert.True(t, b.Protection.RestrictPush)

	_, err = env.eng.CreateVersion(ctx, CreateVersionInput{
		DocumentID: testDoc,
		Branch:     DefaultBranch,
		Document:   mustDoc(t, `{"a":2}`),
		Author:     "bob",
	})
	assert.ErrorIs(t, err, apperr.ErrProtectedBranch)

	_, err = env.eng.RestoreVersion(ctx, RestoreInput{VersionID: string(v1.ID), Author: "bob"})
	assert.ErrorIs(t, err, apperr.ErrProtectedBranch)

	err = env.eng.DeleteBranch(ctx, testDoc, DefaultBranch, false, "bob")
	assert.ErrorIs(t, err, apperr.ErrProtectedBranch)

	assert.Equal(t, v1.ID, env.head(t, DefaultBranch).ID, "head must not move")

	b, err = env.eng.UnprotectBranch(ctx, testDoc, DefaultBranch, "admin")
	require.NoError(t, err)
	assert.False(t, b.Protection.Any())
	env.commit(t, DefaultBranch, `{"a":2}`, "bob", "after unprotect")
}
