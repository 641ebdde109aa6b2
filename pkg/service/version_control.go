package service

import (
	"context"
	"log/slog"

	"metavault/pkg/apperr"
	"metavault/pkg/engine"
	"metavault/pkg/merge"
	"metavault/pkg/meta"
	"metavault/pkg/types"
)

// Server 把 VersionControl 的每个 RPC 转成一次引擎调用
// 方法直接返回领域错误，gRPC 状态映射在 ServiceDesc 的 handler 里统一完成
type Server struct {
	eng *engine.Engine
	log *slog.Logger
}

func NewServer(eng *engine.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{eng: eng, log: log}
}

// -----------------------------------------------------------------------------
// 版本
// -----------------------------------------------------------------------------

func (s *Server) CreateVersion(ctx context.Context, req *CreateVersionRequest) (*Version, error) {
	v, err := s.eng.CreateVersion(ctx, engine.CreateVersionInput{
		DocumentID:   types.DocumentID(req.DocumentID),
		Branch:       req.Branch,
		Document:     req.Document,
		Author:       req.Author,
		Message:      req.Message,
		ExpectedHead: types.Hash(req.ExpectedHead),
	})
	if err != nil {
		return nil, err
	}
	return toVersion(v), nil
}

func (s *Server) GetVersion(ctx context.Context, req *VersionRequest) (*Version, error) {
	v, err := s.eng.GetVersion(ctx, req.VersionID)
	if err != nil {
		return nil, err
	}
	return toVersion(v), nil
}

func (s *Server) ListVersions(ctx context.Context, req *ListVersionsRequest) (*VersionList, error) {
	vs, err := s.eng.ListVersions(ctx, engine.VersionFilter{
		DocumentID: types.DocumentID(req.DocumentID),
		Branch:     req.Branch,
		Author:     req.Author,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		return nil, err
	}
	out := &VersionList{Versions: make([]*Version, len(vs))}
	for i, v := range vs {
		out.Versions[i] = toVersion(v)
	}
	return out, nil
}

func (s *Server) RestoreVersion(ctx context.Context, req *RestoreVersionRequest) (*Version, error) {
	v, err := s.eng.RestoreVersion(ctx, engine.RestoreInput{
		VersionID: req.VersionID,
		Branch:    req.Branch,
		Author:    req.Author,
		Message:   req.Message,
	})
	if err != nil {
		return nil, err
	}
	return toVersion(v), nil
}

func (s *Server) DeleteVersion(ctx context.Context, req *VersionRequest) (*Empty, error) {
	return &Empty{}, s.eng.DeleteVersion(ctx, req.VersionID, req.User)
}

func (s *Server) CompareVersions(ctx context.Context, req *CompareRequest) (*Comparison, error) {
	cmp, err := s.eng.CompareVersions(ctx, req.From, req.To)
	if err != nil {
		return nil, err
	}
	d, err := toDiff(cmp.Diff)
	if err != nil {
		return nil, encodeErr("diff", err)
	}
	return &Comparison{From: toVersion(cmp.From), To: toVersion(cmp.To), Diff: d}, nil
}

// -----------------------------------------------------------------------------
// 分支
// -----------------------------------------------------------------------------

func (s *Server) CreateBranch(ctx context.Context, req *CreateBranchRequest) (*Branch, error) {
	b, err := s.eng.CreateBranch(ctx, engine.CreateBranchInput{
		DocumentID:    types.DocumentID(req.DocumentID),
		Name:          req.Name,
		SourceBranch:  req.SourceBranch,
		SourceVersion: req.SourceVersion,
		CreatedBy:     req.CreatedBy,
	})
	if err != nil {
		return nil, err
	}
	return toBranch(b), nil
}

func (s *Server) ListBranches(ctx context.Context, req *BranchRequest) (*BranchList, error) {
	bs, err := s.eng.ListBranches(ctx, types.DocumentID(req.DocumentID))
	if err != nil {
		return nil, err
	}
	out := &BranchList{Branches: make([]*Branch, len(bs))}
	for i := range bs {
		out.Branches[i] = toBranch(&bs[i])
	}
	return out, nil
}

func (s *Server) GetBranchInfo(ctx context.Context, req *BranchRequest) (*BranchInfo, error) {
	info, err := s.eng.GetBranchInfo(ctx, types.DocumentID(req.DocumentID), req.Branch)
	if err != nil {
		return nil, err
	}
	return &BranchInfo{
		Branch:            toBranch(info.Branch),
		Head:              toVersion(info.Head),
		SourceBranch:      toBranch(info.SourceBranch),
		Ahead:             info.Ahead,
		Behind:            info.Behind,
		OpenMergeRequests: info.OpenMergeRequests,
	}, nil
}

func (s *Server) DeleteBranch(ctx context.Context, req *BranchRequest) (*Empty, error) {
	return &Empty{}, s.eng.DeleteBranch(ctx, types.DocumentID(req.DocumentID), req.Branch, req.Force, req.User)
}

func (s *Server) ProtectBranch(ctx context.Context, req *BranchRequest) (*Branch, error) {
	b, err := s.eng.ProtectBranch(ctx, types.DocumentID(req.DocumentID), req.Branch, meta.Protection(req.Protection), req.User)
	if err != nil {
		return nil, err
	}
	return toBranch(b), nil
}

func (s *Server) UnprotectBranch(ctx context.Context, req *BranchRequest) (*Branch, error) {
	b, err := s.eng.UnprotectBranch(ctx, types.DocumentID(req.DocumentID), req.Branch, req.User)
	if err != nil {
		return nil, err
	}
	return toBranch(b), nil
}

func (s *Server) CompareBranches(ctx context.Context, req *CompareRequest) (*Comparison, error) {
	cmp, err := s.eng.CompareBranches(ctx, types.DocumentID(req.DocumentID), req.From, req.To)
	if err != nil {
		return nil, err
	}
	d, err := toDiff(cmp.Diff)
	if err != nil {
		return nil, encodeErr("diff", err)
	}
	return &Comparison{
		From:   toVersion(cmp.From),
		To:     toVersion(cmp.To),
		Diff:   d,
		Base:   string(cmp.Base),
		Ahead:  cmp.Ahead,
		Behind: cmp.Behind,
	}, nil
}

// -----------------------------------------------------------------------------
// 合并请求
// -----------------------------------------------------------------------------

func (s *Server) CreateMergeRequest(ctx context.Context, req *CreateMergeRequestRequest) (*MergeRequestView, error) {
	view, err := s.eng.CreateMergeRequest(ctx, engine.CreateMergeRequestInput{
		DocumentID:   types.DocumentID(req.DocumentID),
		SourceBranch: req.SourceBranch,
		TargetBranch: req.TargetBranch,
		Title:        req.Title,
		Description:  req.Description,
		Reviewers:    req.Reviewers,
		CreatedBy:    req.CreatedBy,
	})
	if err != nil {
		return nil, err
	}
	return toView(view)
}

func toView(view *engine.MergeRequestView) (*MergeRequestView, error) {
	conflicts, err := toConflicts(view.Conflicts)
	if err != nil {
		return nil, encodeErr("conflicts", err)
	}
	return &MergeRequestView{MergeRequest: toMergeRequest(view.MergeRequest), Conflicts: conflicts}, nil
}

func (s *Server) GetMergeRequest(ctx context.Context, req *MergeRequestRef) (*MergeRequest, error) {
	mr, err := s.eng.GetMergeRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return toMergeRequest(mr), nil
}

func (s *Server) ListMergeRequests(ctx context.Context, req *ListMergeRequestsRequest) (*MergeRequestList, error) {
	mrs, err := s.eng.ListMergeRequests(ctx, engine.MergeRequestFilter{
		DocumentID: types.DocumentID(req.DocumentID),
		Status:     req.Status,
		Branch:     req.Branch,
		Limit:      req.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := &MergeRequestList{MergeRequests: make([]*MergeRequest, len(mrs))}
	for i := range mrs {
		out.MergeRequests[i] = toMergeRequest(&mrs[i])
	}
	return out, nil
}

func (s *Server) RefreshMergeRequest(ctx context.Context, req *MergeRequestRef) (*MergeRequestView, error) {
	view, err := s.eng.RefreshMergeRequest(ctx, req.ID, req.User)
	if err != nil {
		return nil, err
	}
	return toView(view)
}

func (s *Server) ApproveMergeRequest(ctx context.Context, req *MergeRequestRef) (*MergeRequest, error) {
	mr, err := s.eng.ApproveMergeRequest(ctx, req.ID, req.User)
	if err != nil {
		return nil, err
	}
	return toMergeRequest(mr), nil
}

func (s *Server) RejectMergeRequest(ctx context.Context, req *MergeRequestRef) (*MergeRequest, error) {
	mr, err := s.eng.RejectMergeRequest(ctx, req.ID, req.User, req.Reason)
	if err != nil {
		return nil, err
	}
	return toMergeRequest(mr), nil
}

func (s *Server) CloseMergeRequest(ctx context.Context, req *MergeRequestRef) (*MergeRequest, error) {
	mr, err := s.eng.CloseMergeRequest(ctx, req.ID, req.User)
	if err != nil {
		return nil, err
	}
	return toMergeRequest(mr), nil
}

func (s *Server) ReportStatusCheck(ctx context.Context, req *MergeRequestRef) (*MergeRequest, error) {
	mr, err := s.eng.ReportStatusCheck(ctx, req.ID, req.Passed, req.User)
	if err != nil {
		return nil, err
	}
	return toMergeRequest(mr), nil
}

func (s *Server) GetConflicts(ctx context.Context, req *MergeRequestRef) (*ConflictList, error) {
	cs, err := s.eng.GetConflicts(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	out, err := toConflicts(cs)
	if err != nil {
		return nil, encodeErr("conflicts", err)
	}
	return &ConflictList{Conflicts: out}, nil
}

func (s *Server) SuggestConflictResolutions(ctx context.Context, req *MergeRequestRef) (*SuggestionList, error) {
	ps, err := s.eng.SuggestConflictResolutions(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	out := &SuggestionList{Paths: make([]PathSuggestions, 0, len(ps))}
	for _, p := range ps {
		sugg, err := toSuggestions(p.Suggestions)
		if err != nil {
			return nil, encodeErr("suggestions", err)
		}
		out.Paths = append(out.Paths, PathSuggestions{Path: p.Path, Kind: p.Kind, Suggestions: sugg})
	}
	return out, nil
}

func (s *Server) AutoMerge(ctx context.Context, req *MergeRequestRef) (*MergeResult, error) {
	res, err := s.eng.AutoMerge(ctx, req.ID, req.User)
	if err != nil {
		return nil, err
	}
	return toMergeResult(res)
}

// ManualMerge 给出 Strategy 而没有逐条解决方案时，用该策略一次性解决全部冲突
func (s *Server) ManualMerge(ctx context.Context, req *ManualMergeRequest) (*MergeResult, error) {
	resolutions, err := fromResolutions(req.Resolutions)
	if err != nil {
		return nil, err
	}
	if len(resolutions) == 0 && req.Strategy != "" {
		conflicts, err := s.eng.GetConflicts(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		var ok bool
		resolutions, ok = merge.ResolveAll(conflicts, req.Strategy)
		if !ok {
			return nil, apperr.Validation("strategy %s cannot resolve every conflict", req.Strategy)
		}
		s.log.Debug("conflicts resolved by strategy",
			slog.String("merge_request", req.ID),
			slog.String("strategy", string(req.Strategy)),
			slog.Int("count", len(resolutions)),
		)
	}
	res, err := s.eng.ManualMerge(ctx, req.ID, resolutions, req.User)
	if err != nil {
		return nil, err
	}
	return toMergeResult(res)
}

func toMergeResult(res *engine.MergeResult) (*MergeResult, error) {
	conflicts, err := toConflicts(res.Conflicts)
	if err != nil {
		return nil, encodeErr("conflicts", err)
	}
	return &MergeResult{
		Success:         res.Success,
		MergedVersionID: string(res.MergedVersionID),
		Messages:        res.Messages,
		Conflicts:       conflicts,
		MergeRequest:    toMergeRequest(res.MergeRequest),
	}, nil
}

// -----------------------------------------------------------------------------
// Cherry-pick / Revert
// -----------------------------------------------------------------------------

func (s *Server) CherryPick(ctx context.Context, req *CherryPickRequest) (*Version, error) {
	resolutions, err := fromResolutions(req.Resolutions)
	if err != nil {
		return nil, err
	}
	v, err := s.eng.CherryPick(ctx, engine.CherryPickInput{
		VersionID:    req.VersionID,
		TargetBranch: req.TargetBranch,
		Paths:        req.Paths,
		Resolutions:  resolutions,
		Author:       req.Author,
		Message:      req.Message,
	})
	if err != nil {
		return nil, err
	}
	return toVersion(v), nil
}

func (s *Server) RevertVersion(ctx context.Context, req *CherryPickRequest) (*Version, error) {
	resolutions, err := fromResolutions(req.Resolutions)
	if err != nil {
		return nil, err
	}
	v, err := s.eng.RevertVersion(ctx, engine.RevertInput{
		VersionID:    req.VersionID,
		TargetBranch: req.TargetBranch,
		Resolutions:  resolutions,
		Author:       req.Author,
		Message:      req.Message,
	})
	if err != nil {
		return nil, err
	}
	return toVersion(v), nil
}

// -----------------------------------------------------------------------------
// 历史
// -----------------------------------------------------------------------------

func (s *Server) GetVersionLineage(ctx context.Context, req *VersionRequest) (*Lineage, error) {
	entries, err := s.eng.CollectLineage(ctx, req.VersionID, req.MaxDepth)
	if err != nil {
		return nil, err
	}
	out := &Lineage{Entries: make([]LineageEntry, len(entries))}
	for i, e := range entries {
		out.Entries[i] = LineageEntry{Version: toVersion(e.Version), Depth: e.Depth}
	}
	return out, nil
}

func (s *Server) GetChangeHistory(ctx context.Context, req *HistoryRequest) (*History, error) {
	entries, err := s.eng.GetChangeHistory(ctx, engine.HistoryFilter{
		DocumentID: types.DocumentID(req.DocumentID),
		Branch:     req.Branch,
		VersionID:  req.VersionID,
		User:       req.User,
		Actions:    req.Actions,
		Since:      req.Since,
		Limit:      req.Limit,
	})
	if err != nil {
		return nil, err
	}
	return &History{Entries: toHistory(entries)}, nil
}

func (s *Server) GetUserActivity(ctx context.Context, req *HistoryRequest) (*History, error) {
	entries, err := s.eng.GetUserActivity(ctx, req.User, req.Since, req.Limit)
	if err != nil {
		return nil, err
	}
	return &History{Entries: toHistory(entries)}, nil
}

func (s *Server) GetBranchHistory(ctx context.Context, req *BranchRequest) (*BranchHistory, error) {
	h, err := s.eng.GetBranchHistory(ctx, types.DocumentID(req.DocumentID), req.Branch, req.MaxDepth)
	if err != nil {
		return nil, err
	}
	out := &BranchHistory{
		Branch:   toBranch(h.Branch),
		Versions: make([]*Version, len(h.Versions)),
		Entries:  toHistory(h.Entries),
	}
	for i, v := range h.Versions {
		out.Versions[i] = toVersion(v)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// 标签 / 评论 / 锁
// -----------------------------------------------------------------------------

func (s *Server) CreateTag(ctx context.Context, req *CreateTagRequest) (*Tag, error) {
	t, err := s.eng.CreateTag(ctx, engine.CreateTagInput{
		VersionID: req.VersionID,
		Name:      req.Name,
		TagType:   req.TagType,
		Metadata:  req.Metadata,
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		return nil, err
	}
	return toTag(t), nil
}

func (s *Server) ListTags(ctx context.Context, req *ListTagsRequest) (*TagList, error) {
	ts, err := s.eng.ListTags(ctx, types.DocumentID(req.DocumentID), req.VersionID)
	if err != nil {
		return nil, err
	}
	out := &TagList{Tags: make([]*Tag, len(ts))}
	for i := range ts {
		out.Tags[i] = toTag(&ts[i])
	}
	return out, nil
}

func (s *Server) DeleteTag(ctx context.Context, req *ItemRequest) (*Empty, error) {
	return &Empty{}, s.eng.DeleteTag(ctx, req.ID, req.User)
}

func (s *Server) CreateComment(ctx context.Context, req *CreateCommentRequest) (*Comment, error) {
	c, err := s.eng.CreateComment(ctx, engine.CreateCommentInput{
		VersionID:  req.VersionID,
		ParentID:   req.ParentID,
		FieldPath:  req.FieldPath,
		LineNumber: req.LineNumber,
		Content:    req.Content,
		Author:     req.Author,
	})
	if err != nil {
		return nil, err
	}
	return toComment(c), nil
}

func (s *Server) GetComments(ctx context.Context, req *VersionRequest) (*CommentList, error) {
	cs, err := s.eng.GetComments(ctx, req.VersionID)
	if err != nil {
		return nil, err
	}
	out := &CommentList{Comments: make([]*Comment, len(cs))}
	for i := range cs {
		out.Comments[i] = toComment(&cs[i])
	}
	return out, nil
}

func (s *Server) UpdateComment(ctx context.Context, req *ItemRequest) (*Comment, error) {
	c, err := s.eng.UpdateComment(ctx, req.ID, req.Content, req.User)
	if err != nil {
		return nil, err
	}
	return toComment(c), nil
}

func (s *Server) DeleteComment(ctx context.Context, req *ItemRequest) (*Empty, error) {
	return &Empty{}, s.eng.DeleteComment(ctx, req.ID, req.User)
}

func (s *Server) ResolveComment(ctx context.Context, req *ItemRequest) (*Comment, error) {
	c, err := s.eng.ResolveComment(ctx, req.ID, req.Resolved, req.User)
	if err != nil {
		return nil, err
	}
	return toComment(c), nil
}

func (s *Server) LockVersion(ctx context.Context, req *LockRequest) (*Lock, error) {
	l, err := s.eng.LockVersion(ctx, engine.LockInput{
		VersionID: req.VersionID,
		LockedBy:  req.User,
		Reason:    req.Reason,
		Duration:  req.Duration,
	})
	if err != nil {
		return nil, err
	}
	return toLock(l), nil
}

func (s *Server) UnlockVersion(ctx context.Context, req *LockRequest) (*Empty, error) {
	return &Empty{}, s.eng.UnlockVersion(ctx, req.VersionID, req.User)
}

func (s *Server) GetVersionLocks(ctx context.Context, req *VersionRequest) (*LockList, error) {
	ls, err := s.eng.GetVersionLocks(ctx, req.VersionID)
	if err != nil {
		return nil, err
	}
	out := &LockList{Locks: make([]*Lock, len(ls))}
	for i := range ls {
		out.Locks[i] = toLock(&ls[i])
	}
	return out, nil
}
