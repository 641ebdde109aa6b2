package meta

import (
	"context"
	"testing"
	"time"

	"metavault/pkg/apperr"
	"metavault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 测试用例
// -----------------------------------------------------------------------------

func TestRepository_VersionLifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	p1 := mockHash("parent_1")
	p2 := mockHash("parent_2")
	v := mustNewVersion(t, mockHash("snap"), []types.Hash{p1, p2}, "Alice", time.Unix(100, 0), "Failed to create version")

	mustIndexVersion(t, repo, v, "First index should succeed")
	mustIndexVersion(t, repo, v, "2nd write (idempotency check) failed")

	stored, err := repo.GetVersion(ctx, v.ID())
	require.NoError(t, err)
	assert.Equal(t, v.ID(), stored.Hash)
	assert.Equal(t, "Alice", stored.Author)
	assert.Equal(t, []types.Hash{p1, p2}, stored.Parents())
	assert.Equal(t, time.Unix(100, 0).UnixNano(), stored.CreatedTime().UnixNano())

	var count int64
	require.NoError(t, repo.db.GetConn().Model(&VersionModel{}).Where("hash = ?", v.ID()).Count(&count).Error)
	assert.Equal(t, int64(1), count, "Should have exactly 1 record after duplicate inserts")

	_, err = repo.GetVersion(ctx, mockHash("missing"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRepository_ListVersions(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	v1 := mustNewVersion(t, mockHash("t1"), nil, "Alice", time.Unix(1000, 0))
	v2 := mustNewVersion(t, mockHash("t2"), []types.Hash{v1.ID()}, "Bob", time.Unix(2000, 0))
	v3 := mustNewVersion(t, mockHash("t3"), []types.Hash{v2.ID()}, "Alice", time.Unix(3000, 0))
	mustIndexVersion(t, repo, v1)
	mustIndexVersion(t, repo, v2)
	mustIndexVersion(t, repo, v3)

	all, err := repo.ListVersions(ctx, VersionFilter{DocumentID: testDoc})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, v3.ID(), all[0].Hash, "Newest version should be first")

	alice, err := repo.ListVersions(ctx, VersionFilter{Author: "Alice", Limit: 10})
	require.NoError(t, err)
	require.Len(t, alice, 2)
	assert.Equal(t, v1.ID(), alice[1].Hash, "Oldest version should be last")

	page, err := repo.ListVersions(ctx, VersionFilter{DocumentID: testDoc, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, v2.ID(), page[0].Hash)

	n, err := repo.CountChildren(ctx, v1.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = repo.CountChildren(ctx, v3.ID())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRepository_ResolveVersionPrefix(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	v := mustNewVersion(t, mockHash("snap"), nil, "Alice", time.Unix(1, 0))
	mustIndexVersion(t, repo, v)

	got, err := repo.ResolveVersionPrefix(ctx, string(v.ID())[:10])
	require.NoError(t, err)
	assert.Equal(t, v.ID(), got)

	_, err = repo.ResolveVersionPrefix(ctx, "abc")
	assert.ErrorIs(t, err, apperr.ErrValidation, "prefix too short")

	_, err = repo.ResolveVersionPrefix(ctx, "zzzzzzzz")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRepository_Branch_CAS(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	hashV1 := mockHash("v1")
	hashV2 := mockHash("v2")
	hashV3 := mockHash("v3")
	mustCreateBranch(t, repo, "b-main", "main", hashV1, "Initial creation failed")

	// 1. 正常更新
	require.NoError(t, repo.UpdateBranchHead(ctx, "b-main", hashV1, hashV2))
	b, err := repo.GetBranch(ctx, "b-main")
	require.NoError(t, err)
	assert.Equal(t, hashV2, b.HeadVersionID)
	assert.Equal(t, int64(2), b.Revision, "revision should increase on head move")

	// 2. 拿着过期的 head 更新，应该失败并告知当前 head
	err = repo.UpdateBranchHead(ctx, "b-main", hashV1, hashV3)
	require.ErrorIs(t, err, apperr.ErrConcurrentModification)
	var stale *apperr.StaleError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, string(hashV2), stale.Current)
	assert.Equal(t, string(hashV1), stale.Expected)

	// 3. 数据没有被覆盖
	b, err = repo.GetBranch(ctx, "b-main")
	require.NoError(t, err)
	assert.Equal(t, hashV2, b.HeadVersionID)

	// 4. 分支不存在
	err = repo.UpdateBranchHead(ctx, "nope", hashV1, hashV2)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRepository_Branch_Lifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	head := mockHash("head")
	mustCreateBranch(t, repo, "b-main", "main", head)
	mustCreateBranch(t, repo, "b-dev", "dev", head)

	// 同一文档下名字唯一
	err := repo.CreateBranch(ctx, &Branch{ID: "b-dup", DocumentID: testDoc, Name: "main", HeadVersionID: head})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	got, err := repo.GetBranchByName(ctx, testDoc, "dev")
	require.NoError(t, err)
	assert.Equal(t, "b-dev", got.ID)

	at, err := repo.BranchesAt(ctx, head)
	require.NoError(t, err)
	assert.Len(t, at, 2)

	require.NoError(t, repo.UpdateBranchProtection(ctx, "b-main", Protection{RestrictPush: true}))
	got, err = repo.GetBranch(ctx, "b-main")
	require.NoError(t, err)
	assert.True(t, got.Protection.RestrictPush)
	assert.False(t, got.Protection.RequireReview)

	require.NoError(t, repo.DeleteBranch(ctx, "b-dev"))
	list, err := repo.ListBranches(ctx, testDoc)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "main", list[0].Name)

	assert.ErrorIs(t, repo.DeleteBranch(ctx, "b-dev"), apperr.ErrNotFound)
}

func TestRepository_Transaction_Rollback(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	v := mustNewVersion(t, mockHash("snap"), nil, "Alice", time.Unix(1, 0))
	err := repo.Transaction(ctx, func(tx *Repository) error {
		require.NoError(t, tx.IndexVersion(ctx, v))
		return apperr.Validation("abort")
	})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = repo.GetVersion(ctx, v.ID())
	assert.ErrorIs(t, err, apperr.ErrNotFound, "rolled back version must not be visible")
}

func TestRepository_MergeRequest_Revision(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	mr := &MergeRequest{
		ID:              "mr-1",
		DocumentID:      testDoc,
		SourceBranchID:  "b-dev",
		TargetBranchID:  "b-main",
		SourceVersionID: mockHash("s"),
		TargetVersionID: mockHash("t"),
		Status:          StatusBlockedByConflicts,
		ConflictPaths:   []string{"a", "b.c"},
		Revision:        1,
	}
	require.NoError(t, repo.CreateMergeRequest(ctx, mr))

	got, err := repo.GetMergeRequest(ctx, "mr-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b.c"}, []string(got.ConflictPaths))

	// 一个副本先写成功
	first := *got
	first.Status = StatusApproved
	first.ApprovedBy = []string{"bob"}
	require.NoError(t, repo.SaveMergeRequest(ctx, &first))
	assert.Equal(t, int64(2), first.Revision)

	// 另一个副本拿着旧 revision 写入失败
	second := *got
	second.Status = StatusClosed
	err = repo.SaveMergeRequest(ctx, &second)
	assert.ErrorIs(t, err, apperr.ErrStaleMergeRequest)

	got, err = repo.GetMergeRequest(ctx, "mr-1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	assert.Equal(t, []string{"bob"}, []string(got.ApprovedBy))

	list, err := repo.ListMergeRequests(ctx, MergeRequestFilter{BranchID: "b-main"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = repo.ListMergeRequests(ctx, MergeRequestFilter{Status: StatusOpen})
	require.NoError(t, err)
	assert.Empty(t, list)
}
