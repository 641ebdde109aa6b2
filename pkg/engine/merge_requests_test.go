package engine

import (
	"context"
	"errors"
	"testing"

	"metavault/pkg/apperr"
	"metavault/pkg/core"
	"metavault/pkg/meta"
	"metavault/pkg/merge"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (env *testEnv) openMR(t *testing.T, source, target string, reviewers ...string) *MergeRequestView {
	t.Helper()
	view, err := env.eng.CreateMergeRequest(context.Background(), CreateMergeRequestInput{
		DocumentID:   testDoc,
		SourceBranch: source,
		TargetBranch: target,
		Title:        "merge " + source,
		Reviewers:    reviewers,
		CreatedBy:    "bob",
	})
	require.NoError(t, err)
	return view
}

func TestMergeRequest_CleanAutoMerge(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	root := env.commit(t, "", `{"a":1,"b":1,"arms":[{"id":"x","n":1}]}`, "alice", "init")
	env.branch(t, "feature", DefaultBranch)
	src := env.commit(t, "feature", `{"a":5,"b":1,"arms":[{"id":"x","n":1},{"id":"y","n":2}]}`, "bob", "feature")
	tgt := env.commit(t, DefaultBranch, `{"a":1,"b":9,"arms":[{"id":"x","n":3}]}`, "alice", "main")

	view := env.openMR(t, "feature", DefaultBranch)
	assert.Equal(t, meta.StatusOpen, view.MergeRequest.Status)
	assert.Equal(t, root.ID, view.MergeRequest.BaseVersionID)
	assert.Empty(t, view.Conflicts)

	info, err := env.eng.GetBranchInfo(ctx, testDoc, "feature")
	require.NoError(t, err)
	assert.Equal(t, 1, info.OpenMergeRequests)

	res, err := env.eng.AutoMerge(ctx, view.MergeRequest.ID, "carol")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, meta.StatusMerged, res.MergeRequest.Status)
	assert.Equal(t, res.MergedVersionID, res.MergeRequest.MergedVersionID)

	head := env.head(t, DefaultBranch)
	assert.Equal(t, res.MergedVersionID, head.ID)
	assert.Equal(t, []string{string(tgt.ID), string(src.ID)}, hashStrings(head.Parents))
	assertDoc(t, `{"a":5,"b":9,"arms":[{"id":"x","n":3},{"id":"y","n":2}]}`, head.Document)

	stored, err := env.eng.GetMergeRequest(ctx, view.MergeRequest.ID)
	require.NoError(t, err)
	assert.Equal(t, meta.StatusMerged, stored.Status)
	assert.Equal(t, head.ID, stored.MergedVersionID)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.MergesTotal.WithLabelValues("auto", "merged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.HeadMovesTotal.WithLabelValues("merge-request")))

	// 终态之后不能再操作
	_, err = env.eng.AutoMerge(ctx, view.MergeRequest.ID, "carol")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = env.eng.CloseMergeRequest(ctx, view.MergeRequest.ID, "carol")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	merged, err := env.eng.ListMergeRequests(ctx, MergeRequestFilter{DocumentID: testDoc, Status: meta.StatusMerged})
	require.NoError(t, err)
	assert.Len(t, merged, 1)
}

func TestMergeRequest_ConflictThenManual(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	env.commit(t, "", `{"a":1,"b":1}`, "alice", "init")
	env.branch(t, "feature", DefaultBranch)
	src := env.commit(t, "feature", `{"a":5,"b":2}`, "bob", "feature")
	tgt := env.commit(t, DefaultBranch, `{"a":9,"b":1}`, "alice", "main")

	view := env.openMR(t, "feature", DefaultBranch)
	id := view.MergeRequest.ID
	assert.Equal(t, meta.StatusBlockedByConflicts, view.MergeRequest.Status)
	require.Len(t, view.Conflicts, 1)
	assert.Equal(t, "a", view.Conflicts[0].Path.String())
	assert.Equal(t, merge.ModifyModify, view.Conflicts[0].Kind)
	assert.Equal(t, []string{"a"}, []string(view.MergeRequest.ConflictPaths))

	suggestions, err := env.eng.SuggestConflictResolutions(ctx, id)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "a", suggestions[0].Path)
	assert.NotEmpty(t, suggestions[0].Suggestions)

	// 自动合并失败不是错误
	res, err := env.eng.AutoMerge(ctx, id, "carol")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, res.Conflicts, 1)
	assert.Equal(t, tgt.ID, env.head(t, DefaultBranch).ID)

	_, err = env.eng.ManualMerge(ctx, id, nil, "carol")
	require.ErrorIs(t, err, apperr.ErrIncompleteResolution)
	var incomplete *apperr.IncompleteResolutionError
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, []string{"a"}, incomplete.Missing)

	res, err = env.eng.ManualMerge(ctx, id, []merge.Resolution{
		{Path: core.MustParsePath("a"), Value: core.Scalar(7)},
	}, "carol")
	require.NoError(t, err)
	require.True(t, res.Success)

	head := env.head(t, DefaultBranch)
	assertDoc(t, `{"a":7,"b":2}`, head.Document)
	assert.Equal(t, []string{string(tgt.ID), string(src.ID)}, hashStrings(head.Parents))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.MergesTotal.WithLabelValues("auto", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.MergesTotal.WithLabelValues("manual", "merged")))
}

func TestMergeRequest_MixedArrayAddressingBlocksAutoMerge(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	env.commit(t, "", `{"arr":[{"id":"a","v":1},{"id":"b","v":2}]}`, "alice", "init")
	env.branch(t, "feature", DefaultBranch)
	env.commit(t, "feature", `{"arr":[{"id":"b","v":2}]}`, "bob", "drop a")
	tgt := env.commit(t, DefaultBranch, `{"arr":[{"id":"a","v":1},{"id":"b","v":2},{"note":"x"}]}`, "alice", "append note")

	view := env.openMR(t, "feature", DefaultBranch)
	assert.Equal(t, meta.StatusBlockedByConflicts, view.MergeRequest.Status)
	assert.Equal(t, []string{"arr"}, []string(view.MergeRequest.ConflictPaths))

	res, err := env.eng.AutoMerge(ctx, view.MergeRequest.ID, "carol")
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, tgt.ID, env.head(t, DefaultBranch).ID)

	res, err = env.eng.ManualMerge(ctx, view.MergeRequest.ID, []merge.Resolution{
		{Path: core.MustParsePath("arr"), Value: core.MustFromValue([]any{map[string]any{"note": "x"}})},
	}, "carol")
	require.NoError(t, err)
	require.True(t, res.Success)
	assertDoc(t, `{"arr":[{"note":"x"}]}`, env.head(t, DefaultBranch).Document)
}

func TestMergeRequest_Stale(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	env.commit(t, "", `{"a":1,"b":1}`, "alice", "init")
	env.branch(t, "feature", DefaultBranch)
	env.commit(t, "feature", `{"a":2,"b":1}`, "bob", "feature")
	view := env.openMR(t, "feature", DefaultBranch)

	moved := env.commit(t, DefaultBranch, `{"a":1,"b":2}`, "alice", "main moved")

	_, err := env.eng.AutoMerge(ctx, view.MergeRequest.ID, "carol")
	require.ErrorIs(t, err, apperr.ErrStaleMergeRequest)
	var stale *apperr.StaleError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, string(moved.ID), stale.CurrentTarget)
	assert.Equal(t, moved.ID, env.head(t, DefaultBranch).ID, "a stale merge must not move the head")

	refreshed, err := env.eng.RefreshMergeRequest(ctx, view.MergeRequest.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, moved.ID, refreshed.MergeRequest.TargetVersionID)

	res, err := env.eng.AutoMerge(ctx, view.MergeRequest.ID, "carol")
	require.NoError(t, err)
	require.True(t, res.Success)
	assertDoc(t, `{"a":2,"b":2}`, env.head(t, DefaultBranch).Document)
}

func TestMergeRequest_AlreadyContained(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	env.commit(t, "", `{"a":1}`, "alice", "init")
	env.branch(t, "stale-copy", DefaultBranch)
	tip := env.commit(t, DefaultBranch, `{"a":2}`, "alice", "main moved")

	view := env.openMR(t, "stale-copy", DefaultBranch)
	res, err := env.eng.AutoMerge(ctx, view.MergeRequest.ID, "carol")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, tip.ID, res.MergedVersionID)
	assert.Equal(t, tip.ID, env.head(t, DefaultBranch).ID, "no merge version is created")
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.MergesTotal.WithLabelValues("auto", "noop")))
}

func TestMergeRequest_ProtectedTarget(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	env.commit(t, "", `{"a":1}`, "alice", "init")
	env.branch(t, "feature", DefaultBranch)
	env.commit(t, "feature", `{"a":2}`, "bob", "feature")

	_, err := env.eng.ProtectBranch(ctx, testDoc, DefaultBranch, meta.Protection{
		RequireReview:       true,
		RestrictPush:        true,
		RequireStatusChecks: true,
	}, "admin")
	require.NoError(t, err)

	view := env.openMR(t, "feature", DefaultBranch, "carol")
	id := view.MergeRequest.ID

	_, err = env.eng.AutoMerge(ctx, id, "bob")
	assert.ErrorIs(t, err, apperr.ErrProtectedBranch)

	_, err = env.eng.ApproveMergeRequest(ctx, id, "dave")
	assert.ErrorIs(t, err, apperr.ErrValidation, "dave is not a reviewer")

	mr, err := env.eng.ApproveMergeRequest(ctx, id, "carol")
	require.NoError(t, err)
	assert.Equal(t, meta.StatusApproved, mr.Status)

	_, err = env.eng.AutoMerge(ctx, id, "bob")
	assert.ErrorIs(t, err, apperr.ErrProtectedBranch, "status checks still pending")

	_, err = env.eng.ReportStatusCheck(ctx, id, true, "ci")
	require.NoError(t, err)

	// restrictPush 只允许合并请求移动 head
	res, err := env.eng.AutoMerge(ctx, id, "bob")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assertDoc(t, `{"a":2}`, env.head(t, DefaultBranch).Document)
}

func TestMergeRequest_RejectAndValidate(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	env.commit(t, "", `{"a":1}`, "alice", "init")
	env.branch(t, "feature", DefaultBranch)

	_, err := env.eng.CreateMergeRequest(ctx, CreateMergeRequestInput{
		DocumentID:   testDoc,
		SourceBranch: DefaultBranch,
		TargetBranch: DefaultBranch,
		Title:        "self",
		CreatedBy:    "bob",
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = env.eng.GetMergeRequest(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	view := env.openMR(t, "feature", DefaultBranch)
	mr, err := env.eng.RejectMergeRequest(ctx, view.MergeRequest.ID, "carol", "not needed")
	require.NoError(t, err)
	assert.Equal(t, meta.StatusRejected, mr.Status)

	_, err = env.eng.ManualMerge(ctx, view.MergeRequest.ID, nil, "carol")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	entries, err := env.eng.GetChangeHistory(ctx, HistoryFilter{
		DocumentID: testDoc,
		Actions:    []meta.HistoryAction{meta.ActionCreateMergeRequest, meta.ActionReviewMergeRequest},
	})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
