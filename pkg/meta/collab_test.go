package meta

import (
	"context"
	"testing"
	"time"

	"metavault/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_AppendOnly(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	e := &HistoryEntry{DocumentID: testDoc, Action: ActionCreateVersion, PerformedBy: "alice"}
	require.NoError(t, repo.AppendHistory(ctx, e))
	require.NotEmpty(t, e.ID)
	require.False(t, e.PerformedAt.IsZero())

	conn := repo.db.GetConn()
	err := conn.Model(&HistoryEntry{}).Where("id = ?", e.ID).Update("description", "rewritten").Error
	assert.ErrorIs(t, err, ErrAppendOnly)

	err = conn.Where("id = ?", e.ID).Delete(&HistoryEntry{}).Error
	assert.ErrorIs(t, err, ErrAppendOnly)

	list, err := repo.ListHistory(ctx, HistoryFilter{DocumentID: testDoc})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Description)
}

func TestHistory_Filters(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []*HistoryEntry{
		{DocumentID: testDoc, Action: ActionCreateVersion, PerformedBy: "alice", BranchID: "b-main", VersionID: mockHash("v1"), PerformedAt: base},
		{DocumentID: testDoc, Action: ActionCreateBranch, PerformedBy: "bob", BranchID: "b-dev", PerformedAt: base.Add(time.Hour)},
		{DocumentID: testDoc, Action: ActionMerge, PerformedBy: "alice", BranchID: "b-main", VersionID: mockHash("v2"), PerformedAt: base.Add(2 * time.Hour)},
		{DocumentID: "RE-002", Action: ActionCreateVersion, PerformedBy: "alice", PerformedAt: base.Add(3 * time.Hour)},
	}
	for _, e := range entries {
		require.NoError(t, repo.AppendHistory(ctx, e))
	}

	all, err := repo.ListHistory(ctx, HistoryFilter{DocumentID: testDoc})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ActionMerge, all[0].Action, "newest first")
	assert.Equal(t, ActionCreateVersion, all[2].Action)

	byUser, err := repo.ListHistory(ctx, HistoryFilter{User: "alice"})
	require.NoError(t, err)
	assert.Len(t, byUser, 3)

	byBranch, err := repo.ListHistory(ctx, HistoryFilter{BranchID: "b-main", Actions: []HistoryAction{ActionMerge}})
	require.NoError(t, err)
	require.Len(t, byBranch, 1)
	assert.Equal(t, mockHash("v2"), byBranch[0].VersionID)

	since, err := repo.ListHistory(ctx, HistoryFilter{DocumentID: testDoc, Since: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	byVersion, err := repo.ListHistory(ctx, HistoryFilter{VersionID: mockHash("v1")})
	require.NoError(t, err)
	assert.Len(t, byVersion, 1)

	limited, err := repo.ListHistory(ctx, HistoryFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestTags(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	v := mockHash("v1")

	tag := &Tag{ID: "t1", DocumentID: testDoc, Name: "release-1.0", VersionID: v, TagType: "release", Metadata: map[string]any{"approver": "qa"}}
	require.NoError(t, repo.CreateTag(ctx, tag))

	err := repo.CreateTag(ctx, &Tag{ID: "t2", DocumentID: testDoc, Name: "release-1.0", VersionID: v})
	assert.ErrorIs(t, err, apperr.ErrConflict, "tag names are unique per document")

	n, err := repo.CountTags(ctx, v)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tags, err := repo.ListTags(ctx, testDoc, "")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "qa", tags[0].Metadata["approver"])

	require.NoError(t, repo.DeleteTag(ctx, "t1"))
	assert.ErrorIs(t, repo.DeleteTag(ctx, "t1"), apperr.ErrNotFound)
}

func TestComments_Thread(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	v := mockHash("v1")

	root := &Comment{ID: "c1", VersionID: v, FieldPath: "analyses[id=AN01].method", Content: "wrong method?", Author: "bob"}
	reply := &Comment{ID: "c2", VersionID: v, ParentID: "c1", Content: "fixed", Author: "alice"}
	require.NoError(t, repo.CreateComment(ctx, root))
	require.NoError(t, repo.CreateComment(ctx, reply))

	require.NoError(t, repo.UpdateCommentContent(ctx, "c1", "wrong method"))
	require.NoError(t, repo.SetCommentResolved(ctx, "c1", true, "alice"))

	got, err := repo.GetComment(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "wrong method", got.Content)
	assert.True(t, got.Resolved)
	assert.Equal(t, "alice", got.ResolvedBy)
	require.NotNil(t, got.ResolvedAt)

	require.NoError(t, repo.SetCommentResolved(ctx, "c1", false, "alice"))
	got, err = repo.GetComment(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, got.Resolved)
	assert.Nil(t, got.ResolvedAt)

	// 删除根评论时一并删除回复
	require.NoError(t, repo.DeleteComment(ctx, "c1"))
	list, err := repo.ListComments(ctx, v)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, repo.UpdateCommentContent(ctx, "c1", "x"), apperr.ErrNotFound)
}

func TestComments_DeleteRemovesNestedReplies(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	v := mockHash("v1")

	for _, c := range []*Comment{
		{ID: "c1", VersionID: v, Content: "root", Author: "bob"},
		{ID: "c2", VersionID: v, ParentID: "c1", Content: "reply", Author: "alice"},
		{ID: "c3", VersionID: v, ParentID: "c2", Content: "reply2", Author: "bob"},
		{ID: "c4", VersionID: v, Content: "other thread", Author: "carol"},
	} {
		require.NoError(t, repo.CreateComment(ctx, c))
	}

	require.NoError(t, repo.DeleteComment(ctx, "c1"))
	list, err := repo.ListComments(ctx, v)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c4", list[0].ID)

	assert.ErrorIs(t, repo.DeleteComment(ctx, "c1"), apperr.ErrNotFound)
}

func TestLocks_Expiry(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	v := mockHash("v1")
	now := time.Now()

	require.NoError(t, repo.CreateLock(ctx, &Lock{ID: "l1", VersionID: v, LockedBy: "alice", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, repo.CreateLock(ctx, &Lock{ID: "l2", VersionID: v, LockedBy: "bob", ExpiresAt: now.Add(time.Hour)}))

	active, err := repo.ActiveLocks(ctx, v, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "l2", active[0].ID)
	assert.True(t, active[0].Active(now))

	purged, err := repo.PurgeExpiredLocks(ctx, v, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = repo.GetLock(ctx, "l1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, repo.DeleteLock(ctx, "l2"))
	assert.ErrorIs(t, repo.DeleteLock(ctx, "l2"), apperr.ErrNotFound)
}
