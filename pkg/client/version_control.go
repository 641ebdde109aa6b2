package client

import (
	"context"

	"metavault/pkg/service"
)

var _ service.VersionControlServer = (*Client)(nil)

// -----------------------------------------------------------------------------
// 版本
// -----------------------------------------------------------------------------

func (c *Client) CreateVersion(ctx context.Context, req *service.CreateVersionRequest) (*service.Version, error) {
	return call[service.Version](ctx, c, "CreateVersion", req)
}

func (c *Client) GetVersion(ctx context.Context, req *service.VersionRequest) (*service.Version, error) {
	return call[service.Version](ctx, c, "GetVersion", req)
}

func (c *Client) ListVersions(ctx context.Context, req *service.ListVersionsRequest) (*service.VersionList, error) {
	return call[service.VersionList](ctx, c, "ListVersions", req)
}

func (c *Client) RestoreVersion(ctx context.Context, req *service.RestoreVersionRequest) (*service.Version, error) {
	return call[service.Version](ctx, c, "RestoreVersion", req)
}

func (c *Client) DeleteVersion(ctx context.Context, req *service.VersionRequest) (*service.Empty, error) {
	return call[service.Empty](ctx, c, "DeleteVersion", req)
}

func (c *Client) CompareVersions(ctx context.Context, req *service.CompareRequest) (*service.Comparison, error) {
	return call[service.Comparison](ctx, c, "CompareVersions", req)
}

// -----------------------------------------------------------------------------
// 分支
// -----------------------------------------------------------------------------

func (c *Client) CreateBranch(ctx context.Context, req *service.CreateBranchRequest) (*service.Branch, error) {
	return call[service.Branch](ctx, c, "CreateBranch", req)
}

func (c *Client) ListBranches(ctx context.Context, req *service.BranchRequest) (*service.BranchList, error) {
	return call[service.BranchList](ctx, c, "ListBranches", req)
}

func (c *Client) GetBranchInfo(ctx context.Context, req *service.BranchRequest) (*service.BranchInfo, error) {
	return call[service.BranchInfo](ctx, c, "GetBranchInfo", req)
}

func (c *Client) DeleteBranch(ctx context.Context, req *service.BranchRequest) (*service.Empty, error) {
	return call[service.Empty](ctx, c, "DeleteBranch", req)
}

func (c *Client) ProtectBranch(ctx context.Context, req *service.BranchRequest) (*service.Branch, error) {
	return call[service.Branch](ctx, c, "ProtectBranch", req)
}

func (c *Client) UnprotectBranch(ctx context.Context, req *service.BranchRequest) (*service.Branch, error) {
	return call[service.Branch](ctx, c, "UnprotectBranch", req)
}

func (c *Client) CompareBranches(ctx context.Context, req *service.CompareRequest) (*service.Comparison, error) {
	return call[service.Comparison](ctx, c, "CompareBranches", req)
}

// -----------------------------------------------------------------------------
// 合并请求
// -----------------------------------------------------------------------------

func (c *Client) CreateMergeRequest(ctx context.Context, req *service.CreateMergeRequestRequest) (*service.MergeRequestView, error) {
	return call[service.MergeRequestView](ctx, c, "CreateMergeRequest", req)
}

func (c *Client) GetMergeRequest(ctx context.Context, req *service.MergeRequestRef) (*service.MergeRequest, error) {
	return call[service.MergeRequest](ctx, c, "GetMergeRequest", req)
}

func (c *Client) ListMergeRequests(ctx context.Context, req *service.ListMergeRequestsRequest) (*service.MergeRequestList, error) {
	return call[service.MergeRequestList](ctx, c, "ListMergeRequests", req)
}

func (c *Client) RefreshMergeRequest(ctx context.Context, req *service.MergeRequestRef) (*service.MergeRequestView, error) {
	return call[service.MergeRequestView](ctx, c, "RefreshMergeRequest", req)
}

func (c *Client) ApproveMergeRequest(ctx context.Context, req *service.MergeRequestRef) (*service.MergeRequest, error) {
	return call[service.MergeRequest](ctx, c, "ApproveMergeRequest", req)
}

func (c *Client) RejectMergeRequest(ctx context.Context, req *service.MergeRequestRef) (*service.MergeRequest, error) {
	return call[service.MergeRequest](ctx, c, "RejectMergeRequest", req)
}

func (c *Client) CloseMergeRequest(ctx context.Context, req *service.MergeRequestRef) (*service.MergeRequest, error) {
	return call[service.MergeRequest](ctx, c, "CloseMergeRequest", req)
}

func (c *Client) ReportStatusCheck(ctx context.Context, req *service.MergeRequestRef) (*service.MergeRequest, error) {
	return call[service.MergeRequest](ctx, c, "ReportStatusCheck", req)
}

func (c *Client) GetConflicts(ctx context.Context, req *service.MergeRequestRef) (*service.ConflictList, error) {
	return call[service.ConflictList](ctx, c, "GetConflicts", req)
}

func (c *Client) SuggestConflictResolutions(ctx context.Context, req *service.MergeRequestRef) (*service.SuggestionList, error) {
	return call[service.SuggestionList](ctx, c, "SuggestConflictResolutions", req)
}

func (c *Client) AutoMerge(ctx context.Context, req *service.MergeRequestRef) (*service.MergeResult, error) {
	return call[service.MergeResult](ctx, c, "AutoMerge", req)
}

func (c *Client) ManualMerge(ctx context.Context, req *service.ManualMergeRequest) (*service.MergeResult, error) {
	return call[service.MergeResult](ctx, c, "ManualMerge", req)
}

// -----------------------------------------------------------------------------
// Cherry-pick / Revert
// -----------------------------------------------------------------------------

func (c *Client) CherryPick(ctx context.Context, req *service.CherryPickRequest) (*service.Version, error) {
	return call[service.Version](ctx, c, "CherryPick", req)
}

func (c *Client) RevertVersion(ctx context.Context, req *service.CherryPickRequest) (*service.Version, error) {
	return call[service.Version](ctx, c, "RevertVersion", req)
}

// -----------------------------------------------------------------------------
// 历史
// -----------------------------------------------------------------------------

func (c *Client) GetVersionLineage(ctx context.Context, req *service.VersionRequest) (*service.Lineage, error) {
	return call[service.Lineage](ctx, c, "GetVersionLineage", req)
}

func (c *Client) GetChangeHistory(ctx context.Context, req *service.HistoryRequest) (*service.History, error) {
	return call[service.History](ctx, c, "GetChangeHistory", req)
}

func (c *Client) GetUserActivity(ctx context.Context, req *service.HistoryRequest) (*service.History, error) {
	return call[service.History](ctx, c, "GetUserActivity", req)
}

func (c *Client) GetBranchHistory(ctx context.Context, req *service.BranchRequest) (*service.BranchHistory, error) {
	return call[service.BranchHistory](ctx, c, "GetBranchHistory", req)
}

// -----------------------------------------------------------------------------
// 标签
// -----------------------------------------------------------------------------

func (c *Client) CreateTag(ctx context.Context, req *service.CreateTagRequest) (*service.Tag, error) {
	return call[service.Tag](ctx, c, "CreateTag", req)
}

func (c *Client) ListTags(ctx context.Context, req *service.ListTagsRequest) (*service.TagList, error) {
	return call[service.TagList](ctx, c, "ListTags", req)
}

func (c *Client) DeleteTag(ctx context.Context, req *service.ItemRequest) (*service.Empty, error) {
	return call[service.Empty](ctx, c, "DeleteTag", req)
}

// -----------------------------------------------------------------------------
// 评论
// -----------------------------------------------------------------------------

func (c *Client) CreateComment(ctx context.Context, req *service.CreateCommentRequest) (*service.Comment, error) {
	return call[service.Comment](ctx, c, "CreateComment", req)
}

func (c *Client) GetComments(ctx context.Context, req *service.VersionRequest) (*service.CommentList, error) {
	return call[service.CommentList](ctx, c, "GetComments", req)
}

func (c *Client) UpdateComment(ctx context.Context, req *service.ItemRequest) (*service.Comment, error) {
	return call[service.Comment](ctx, c, "UpdateComment", req)
}

func (c *Client) DeleteComment(ctx context.Context, req *service.ItemRequest) (*service.Empty, error) {
	return call[service.Empty](ctx, c, "DeleteComment", req)
}

func (c *Client) ResolveComment(ctx context.Context, req *service.ItemRequest) (*service.Comment, error) {
	return call[service.Comment](ctx, c, "ResolveComment", req)
}

// -----------------------------------------------------------------------------
// 锁
// -----------------------------------------------------------------------------

func (c *Client) LockVersion(ctx context.Context, req *service.LockRequest) (*service.Lock, error) {
	return call[service.Lock](ctx, c, "LockVersion", req)
}

func (c *Client) UnlockVersion(ctx context.Context, req *service.LockRequest) (*service.Empty, error) {
	return call[service.Empty](ctx, c, "UnlockVersion", req)
}

func (c *Client) GetVersionLocks(ctx context.Context, req *service.VersionRequest) (*service.LockList, error) {
	return call[service.LockList](ctx, c, "GetVersionLocks", req)
}
