package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"

	"metavault/pkg/apperr"
	"metavault/pkg/client"
	"metavault/pkg/core"
	"metavault/pkg/engine"
	"metavault/pkg/merge"
	"metavault/pkg/meta"
	"metavault/pkg/service"
	"metavault/pkg/storage/disk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testDoc = "RE-001"

// startServer 在 bufconn 上启动完整的服务端，返回连好的客户端
func startServer(t *testing.T) *client.Client {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	metaDB := meta.NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(meta.Models()...))
	t.Cleanup(func() { _ = metaDB.Close() })

	store, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)
	eng, err := engine.New(meta.NewRepository(metaDB), store)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	service.Register(srv, service.NewServer(eng, nil))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := client.New("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustDoc(t *testing.T, raw string) *core.Document {
	t.Helper()
	doc, err := core.ParseJSON([]byte(raw))
	require.NoError(t, err)
	return doc
}

func commit(t *testing.T, c *client.Client, branch, raw, author string) *service.Version {
	t.Helper()
	v, err := c.CreateVersion(context.Background(), &service.CreateVersionRequest{
		DocumentID: testDoc,
		Branch:     branch,
		Document:   mustDoc(t, raw),
		Author:     author,
		Message:    "edit by " + author,
	})
	require.NoError(t, err)
	return v
}

func assertJSON(t *testing.T, want string, doc *core.Document) {
	t.Helper()
	require.NotNil(t, doc)
	got, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, want, string(got))
}

func TestVersionControl_VersionRoundTrip(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	v1 := commit(t, c, "", `{"title":"Trial","arms":[{"id":"a","dose":10}]}`, "alice")
	assert.Empty(t, v1.Parents)
	assertJSON(t, `{"title":"Trial","arms":[{"id":"a","dose":10}]}`, v1.Document)

	v2 := commit(t, c, engine.DefaultBranch, `{"title":"Trial","arms":[{"id":"a","dose":20}]}`, "bob")
	assert.Equal(t, []string{v1.ID}, v2.Parents)

	got, err := c.GetVersion(ctx, &service.VersionRequest{VersionID: v2.ID[:12]})
	require.NoError(t, err)
	assert.Equal(t, v2.ID, got.ID)
	assertJSON(t, `{"title":"Trial","arms":[{"id":"a","dose":20}]}`, got.Document)

	list, err := c.ListVersions(ctx, &service.ListVersionsRequest{DocumentID: testDoc})
	require.NoError(t, err)
	assert.Len(t, list.Versions, 2)

	cmp, err := c.CompareVersions(ctx, &service.CompareRequest{From: v1.ID, To: v2.ID})
	require.NoError(t, err)
	require.Len(t, cmp.Diff.Changes, 1)
	assert.Equal(t, "arms[id=a].dose", cmp.Diff.Changes[0].Path)
	assert.JSONEq(t, `10`, string(cmp.Diff.Changes[0].Old))
	assert.JSONEq(t, `20`, string(cmp.Diff.Changes[0].New))

	_, err = c.CreateVersion(ctx, &service.CreateVersionRequest{
		DocumentID:   testDoc,
		Branch:       engine.DefaultBranch,
		Document:     mustDoc(t, `{"title":"Late"}`),
		Author:       "carol",
		Message:      "late",
		ExpectedHead: v1.ID,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConcurrentModification)
	var stale *apperr.StaleError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, v2.ID, stale.Current)
}

func TestVersionControl_MergeFlow(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	commit(t, c, "", `{"a":1,"b":1}`, "alice")
	_, err := c.CreateBranch(ctx, &service.CreateBranchRequest{
		DocumentID:   testDoc,
		Name:         "feature",
		SourceBranch: engine.DefaultBranch,
		CreatedBy:    "alice",
	})
	require.NoError(t, err)
	commit(t, c, "feature", `{"a":5,"b":2}`, "bob")
	commit(t, c, engine.DefaultBranch, `{"a":9,"b":1}`, "alice")

	view, err := c.CreateMergeRequest(ctx, &service.CreateMergeRequestRequest{
		DocumentID:   testDoc,
		SourceBranch: "feature",
		TargetBranch: engine.DefaultBranch,
		Title:        "feature into main",
		CreatedBy:    "bob",
	})
	require.NoError(t, err)
	id := view.MergeRequest.ID
	assert.Equal(t, meta.StatusBlockedByConflicts, view.MergeRequest.Status)
	require.Len(t, view.Conflicts, 1)
	assert.Equal(t, "a", view.Conflicts[0].Path)
	assert.Equal(t, merge.ModifyModify, view.Conflicts[0].Kind)
	assert.JSONEq(t, `5`, string(view.Conflicts[0].Source))
	assert.JSONEq(t, `9`, string(view.Conflicts[0].Target))

	res, err := c.AutoMerge(ctx, &service.MergeRequestRef{ID: id, User: "carol"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, res.Conflicts, 1)

	t.Run("IncompleteResolution", func(t *testing.T) {
		_, err := c.ManualMerge(ctx, &service.ManualMergeRequest{ID: id, User: "carol"})
		require.Error(t, err)
		var inc *apperr.IncompleteResolutionError
		require.ErrorAs(t, err, &inc)
		assert.Equal(t, []string{"a"}, inc.Missing)
	})

	t.Run("Strategy", func(t *testing.T) {
		res, err := c.ManualMerge(ctx, &service.ManualMergeRequest{ID: id, Strategy: merge.PreferSource, User: "carol"})
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.Equal(t, meta.StatusMerged, res.MergeRequest.Status)

		head, err := c.GetVersion(ctx, &service.VersionRequest{VersionID: res.MergedVersionID})
		require.NoError(t, err)
		assert.Len(t, head.Parents, 2)
		assertJSON(t, `{"a":5,"b":2}`, head.Document)
	})

	history, err := c.GetChangeHistory(ctx, &service.HistoryRequest{
		DocumentID: testDoc,
		Actions:    []meta.HistoryAction{meta.ActionMerge},
	})
	require.NoError(t, err)
	require.Len(t, history.Entries, 1)
	assert.Equal(t, "carol", history.Entries[0].PerformedBy)
}

func TestVersionControl_ManualMergeResolutions(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	commit(t, c, "", `{"a":1}`, "alice")
	_, err := c.CreateBranch(ctx, &service.CreateBranchRequest{DocumentID: testDoc, Name: "feature", SourceBranch: engine.DefaultBranch, CreatedBy: "alice"})
	require.NoError(t, err)
	commit(t, c, "feature", `{"a":2}`, "bob")
	commit(t, c, engine.DefaultBranch, `{"a":3}`, "alice")

	view, err := c.CreateMergeRequest(ctx, &service.CreateMergeRequestRequest{
		DocumentID: testDoc, SourceBranch: "feature", TargetBranch: engine.DefaultBranch, Title: "t", CreatedBy: "bob",
	})
	require.NoError(t, err)

	_, err = c.ManualMerge(ctx, &service.ManualMergeRequest{
		ID:          view.MergeRequest.ID,
		Resolutions: []service.Resolution{{Path: "a"}},
		User:        "carol",
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	res, err := c.ManualMerge(ctx, &service.ManualMergeRequest{
		ID:          view.MergeRequest.ID,
		Resolutions: []service.Resolution{{Path: "a", Value: json.RawMessage(`{"low":2,"high":3}`)}},
		User:        "carol",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	head, err := c.GetVersion(ctx, &service.VersionRequest{VersionID: res.MergedVersionID})
	require.NoError(t, err)
	assertJSON(t, `{"a":{"low":2,"high":3}}`, head.Document)
}

func TestVersionControl_Collaboration(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	v := commit(t, c, "", `{"title":"Trial"}`, "alice")

	tag, err := c.CreateTag(ctx, &service.CreateTagRequest{VersionID: v.ID, Name: "v1.0", TagType: "release", CreatedBy: "alice"})
	require.NoError(t, err)
	tags, err := c.ListTags(ctx, &service.ListTagsRequest{DocumentID: testDoc})
	require.NoError(t, err)
	require.Len(t, tags.Tags, 1)
	assert.Equal(t, tag.ID, tags.Tags[0].ID)

	comment, err := c.CreateComment(ctx, &service.CreateCommentRequest{VersionID: v.ID, FieldPath: "title", Content: "rename?", Author: "bob"})
	require.NoError(t, err)
	_, err = c.UpdateComment(ctx, &service.ItemRequest{ID: comment.ID, User: "carol", Content: "hijack"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	resolved, err := c.ResolveComment(ctx, &service.ItemRequest{ID: comment.ID, User: "alice", Resolved: true})
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, "alice", resolved.ResolvedBy)

	_, err = c.LockVersion(ctx, &service.LockRequest{VersionID: v.ID, User: "alice", Reason: "audit"})
	require.NoError(t, err)
	_, err = c.LockVersion(ctx, &service.LockRequest{VersionID: v.ID, User: "bob"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	locks, err := c.GetVersionLocks(ctx, &service.VersionRequest{VersionID: v.ID})
	require.NoError(t, err)
	require.Len(t, locks.Locks, 1)
	assert.Equal(t, "alice", locks.Locks[0].LockedBy)

	_, err = c.UnlockVersion(ctx, &service.LockRequest{VersionID: v.ID, User: "alice"})
	require.NoError(t, err)
	_, err = c.UnlockVersion(ctx, &service.LockRequest{VersionID: v.ID, User: "alice"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestVersionControl_ErrorDetails(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		call   func() error
		code   codes.Code
		reason string
	}{
		{
			name: "NotFound",
			call: func() error {
				_, err := c.GetVersion(ctx, &service.VersionRequest{VersionID: strings.Repeat("ab", 32)})
				return err
			},
			code:   codes.NotFound,
			reason: service.ReasonNotFound,
		},
		{
			name: "Validation",
			call: func() error {
				_, err := c.CreateVersion(ctx, &service.CreateVersionRequest{DocumentID: testDoc})
				return err
			},
			code:   codes.InvalidArgument,
			reason: service.ReasonValidation,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			require.Error(t, err)

			var remote *client.RemoteError
			require.ErrorAs(t, err, &remote)
			assert.Equal(t, tc.code, remote.Code)
		})
	}

	// 没有 ErrorInfo 的状态不做还原
	t.Run("WireErrorInfo", func(t *testing.T) {
		_, err := c.GetMergeRequest(ctx, &service.MergeRequestRef{ID: "missing"})
		assert.ErrorIs(t, err, apperr.ErrNotFound)

		st := status.New(codes.NotFound, "x")
		assert.Nil(t, service.ErrorInfo(st.Err()))
	})
}
