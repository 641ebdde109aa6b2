package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"metavault/pkg/apperr"
	"metavault/pkg/core"
	"metavault/pkg/meta"
	"metavault/pkg/merge"
	"metavault/pkg/refs"
	"metavault/pkg/types"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// CreateMergeRequestInput 描述合并意图，分支可以是 ID 或名字
type CreateMergeRequestInput struct {
	DocumentID   types.DocumentID
	SourceBranch string
	TargetBranch string
	Title        string
	Description  string
	Reviewers    []string
	CreatedBy    string
}

func (in CreateMergeRequestInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.DocumentID, validation.Required),
		validation.Field(&in.SourceBranch, validation.Required),
		validation.Field(&in.TargetBranch, validation.Required),
		validation.Field(&in.Title, validation.Required, validation.Length(1, 255)),
		validation.Field(&in.CreatedBy, validation.Required),
	)
}

// CreateMergeRequest 记录两个分支当前的 tip 与公共祖先，并立即计算冲突
func (e *Engine) CreateMergeRequest(ctx context.Context, in CreateMergeRequestInput) (*MergeRequestView, error) {
	if err := in.Validate(); err != nil {
		return nil, apperr.Validation("merge request: %v", err)
	}
	src, err := e.resolveBranch(ctx, in.DocumentID, in.SourceBranch)
	if err != nil {
		return nil, err
	}
	tgt, err := e.resolveBranch(ctx, in.DocumentID, in.TargetBranch)
	if err != nil {
		return nil, err
	}
	if src.ID == tgt.ID {
		return nil, apperr.Validation("source and target branch are the same")
	}
	if src.DocumentID != tgt.DocumentID {
		return nil, apperr.Validation("source and target belong to different documents")
	}

	mr := &meta.MergeRequest{
		ID:              uuid.NewString(),
		DocumentID:      tgt.DocumentID,
		Title:           in.Title,
		Description:     in.Description,
		SourceBranchID:  src.ID,
		TargetBranchID:  tgt.ID,
		SourceVersionID: src.HeadVersionID,
		TargetVersionID: tgt.HeadVersionID,
		Status:          meta.StatusOpen,
		Reviewers:       datatypes.JSONSlice[string](in.Reviewers),
		ApprovedBy:      datatypes.JSONSlice[string]{},
		CreatedBy:       in.CreatedBy,
		Revision:        1,
	}
	plan, err := e.recompute(ctx, mr)
	if err != nil {
		return nil, err
	}

	err = e.repo.Transaction(ctx, func(tx *meta.Repository) error {
		if err := tx.CreateMergeRequest(ctx, mr); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, &meta.HistoryEntry{
			DocumentID:     mr.DocumentID,
			Action:         meta.ActionCreateMergeRequest,
			Description:    fmt.Sprintf("merge request %q: %s -> %s (%d conflict(s))", mr.Title, src.Name, tgt.Name, len(plan.Conflicts)),
			PerformedBy:    in.CreatedBy,
			PerformedAt:    e.now(),
			BranchID:       tgt.ID,
			MergeRequestID: mr.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return &MergeRequestView{MergeRequest: mr, Conflicts: plan.Conflicts}, nil
}

// recompute 根据 mr 记录的 tip 重新计算公共祖先、冲突与状态 (不落库)
func (e *Engine) recompute(ctx context.Context, mr *meta.MergeRequest) (*merge.Plan, error) {
	base, err := e.mergeBase(ctx, mr.SourceVersionID, mr.TargetVersionID)
	if err != nil {
		return nil, err
	}
	mr.BaseVersionID = base

	plan, err := e.plan(ctx, base, mr.SourceVersionID, mr.TargetVersionID)
	if err != nil {
		return nil, err
	}
	mr.ConflictPaths = datatypes.JSONSlice[string](plan.ConflictPaths())
	if mr.ConflictPaths == nil {
		mr.ConflictPaths = datatypes.JSONSlice[string]{}
	}

	switch {
	case !plan.Clean():
		mr.Status = meta.StatusBlockedByConflicts
	case mr.Status == meta.StatusBlockedByConflicts:
		mr.Status = meta.StatusOpen
	}
	if mr.Status == meta.StatusOpen && len(mr.ApprovedBy) > 0 {
		mr.Status = meta.StatusApproved
	}
	return plan, nil
}

// plan 加载三个文档并计算三方合并；base 为空时以空文档为祖先
func (e *Engine) plan(ctx context.Context, base, source, target types.Hash, opts ...merge.Option) (*merge.Plan, error) {
	baseDoc, err := e.documentAt(ctx, base)
	if err != nil {
		return nil, err
	}
	srcDoc, err := e.documentAt(ctx, source)
	if err != nil {
		return nil, err
	}
	tgtDoc, err := e.documentAt(ctx, target)
	if err != nil {
		return nil, err
	}
	return merge.Compute(ctx, baseDoc, srcDoc, tgtDoc, append(opts, merge.WithKeying(e.keying))...)
}

func (e *Engine) GetMergeRequest(ctx context.Context, id string) (*meta.MergeRequest, error) {
	return e.repo.GetMergeRequest(ctx, id)
}

// MergeRequestFilter 合并请求列表的查询条件；Branch 匹配 source 或 target
type MergeRequestFilter struct {
	DocumentID types.DocumentID
	Status     meta.MergeRequestStatus
	Branch     string
	Limit      int
}

func (e *Engine) ListMergeRequests(ctx context.Context, f MergeRequestFilter) ([]meta.MergeRequest, error) {
	q := meta.MergeRequestFilter{DocumentID: f.DocumentID, Status: f.Status, Limit: f.Limit}
	if f.Branch != "" {
		b, err := e.resolveBranch(ctx, f.DocumentID, f.Branch)
		if err != nil {
			return nil, err
		}
		q.BranchID = b.ID
	}
	return e.repo.ListMergeRequests(ctx, q)
}

// GetConflicts 按合并请求记录的 tip 重新计算冲突，冲突本身从不落库
func (e *Engine) GetConflicts(ctx context.Context, id string) ([]merge.Conflict, error) {
	mr, err := e.repo.GetMergeRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	plan, err := e.plan(ctx, mr.BaseVersionID, mr.SourceVersionID, mr.TargetVersionID)
	if err != nil {
		return nil, err
	}
	return plan.Conflicts, nil
}

// SuggestConflictResolutions 返回每个冲突路径上的启发式建议，引擎不会自动采用
func (e *Engine) SuggestConflictResolutions(ctx context.Context, id string) ([]PathSuggestions, error) {
	conflicts, err := e.GetConflicts(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]PathSuggestions, len(conflicts))
	for i, c := range conflicts {
		out[i] = PathSuggestions{Path: c.Path.String(), Kind: c.Kind, Suggestions: c.Suggestions}
	}
	return out, nil
}

// RefreshMergeRequest 把合并请求更新到两个分支当前的 tip
// tip 变化时已有的批准和状态检查作废
func (e *Engine) RefreshMergeRequest(ctx context.Context, id, performedBy string) (*MergeRequestView, error) {
	mr, err := e.openMergeRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	src, tgt, err := e.mergeBranches(ctx, mr)
	if err != nil {
		return nil, err
	}
	if src.HeadVersionID != mr.SourceVersionID || tgt.HeadVersionID != mr.TargetVersionID {
		mr.SourceVersionID = src.HeadVersionID
		mr.TargetVersionID = tgt.HeadVersionID
		mr.ApprovedBy = datatypes.JSONSlice[string]{}
		mr.StatusChecksPassed = false
		if mr.Status == meta.StatusApproved {
			mr.Status = meta.StatusOpen
		}
	}
	plan, err := e.recompute(ctx, mr)
	if err != nil {
		return nil, err
	}
	if err := e.saveMergeRequest(ctx, mr, meta.ActionReviewMergeRequest, performedBy,
		fmt.Sprintf("refreshed against %s / %s", mr.SourceVersionID.Short(), mr.TargetVersionID.Short())); err != nil {
		return nil, err
	}
	return &MergeRequestView{MergeRequest: mr, Conflicts: plan.Conflicts}, nil
}

// ApproveMergeRequest 记录一次批准
func (e *Engine) ApproveMergeRequest(ctx context.Context, id, reviewer string) (*meta.MergeRequest, error) {
	if reviewer == "" {
		return nil, apperr.Validation("approve: reviewer is required")
	}
	mr, err := e.openMergeRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(mr.Reviewers) > 0 && !slices.Contains(mr.Reviewers, reviewer) {
		return nil, apperr.Validation("%s is not a reviewer of merge request %s", reviewer, mr.ID)
	}
	if !slices.Contains(mr.ApprovedBy, reviewer) {
		mr.ApprovedBy = append(mr.ApprovedBy, reviewer)
	}
	if mr.Status == meta.StatusOpen {
		mr.Status = meta.StatusApproved
	}
	return mr, e.saveMergeRequest(ctx, mr, meta.ActionReviewMergeRequest, reviewer, "approved by "+reviewer)
}

// RejectMergeRequest 以 rejected 终态结束合并请求
func (e *Engine) RejectMergeRequest(ctx context.Context, id, reviewer, reason string) (*meta.MergeRequest, error) {
	mr, err := e.openMergeRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	mr.Status = meta.StatusRejected
	mr.ClosedBy = reviewer
	return mr, e.saveMergeRequest(ctx, mr, meta.ActionReviewMergeRequest, reviewer, "rejected: "+reason)
}

// CloseMergeRequest 以 closed 终态结束合并请求
func (e *Engine) CloseMergeRequest(ctx context.Context, id, performedBy string) (*meta.MergeRequest, error) {
	mr, err := e.openMergeRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	mr.Status = meta.StatusClosed
	mr.ClosedBy = performedBy
	return mr, e.saveMergeRequest(ctx, mr, meta.ActionCloseMergeRequest, performedBy, "closed")
}

// ReportStatusCheck 由外部检查系统回写结果
func (e *Engine) ReportStatusCheck(ctx context.Context, id string, passed bool, reporter string) (*meta.MergeRequest, error) {
	mr, err := e.openMergeRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	mr.StatusChecksPassed = passed
	return mr, e.saveMergeRequest(ctx, mr, meta.ActionReviewMergeRequest, reporter, fmt.Sprintf("status checks passed=%t", passed))
}

func (e *Engine) openMergeRequest(ctx context.Context, id string) (*meta.MergeRequest, error) {
	mr, err := e.repo.GetMergeRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if mr.Status.Terminal() {
		return nil, &apperr.ConflictError{Reason: fmt.Sprintf("merge request %s is already %s", mr.ID, mr.Status)}
	}
	return mr, nil
}

func (e *Engine) mergeBranches(ctx context.Context, mr *meta.MergeRequest) (src, tgt *meta.Branch, err error) {
	if src, err = e.repo.GetBranch(ctx, mr.SourceBranchID); err != nil {
		return nil, nil, err
	}
	if tgt, err = e.repo.GetBranch(ctx, mr.TargetBranchID); err != nil {
		return nil, nil, err
	}
	return src, tgt, nil
}

func (e *Engine) saveMergeRequest(ctx context.Context, mr *meta.MergeRequest, action meta.HistoryAction, by, desc string) error {
	return e.repo.Transaction(ctx, func(tx *meta.Repository) error {
		if err := tx.SaveMergeRequest(ctx, mr); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, &meta.HistoryEntry{
			DocumentID:     mr.DocumentID,
			Action:         action,
			Description:    desc,
			PerformedBy:    by,
			PerformedAt:    e.now(),
			BranchID:       mr.TargetBranchID,
			MergeRequestID: mr.ID,
		})
	})
}

// AutoMerge 在没有冲突时合并；有冲突时返回 Success=false 并把状态置为 blocked_by_conflicts
func (e *Engine) AutoMerge(ctx context.Context, id, performedBy string) (*MergeResult, error) {
	return e.mergeRequest(ctx, id, performedBy, nil, false)
}

// ManualMerge 要求每个冲突路径恰好有一个解决方案
func (e *Engine) ManualMerge(ctx context.Context, id string, resolutions []merge.Resolution, performedBy string) (*MergeResult, error) {
	return e.mergeRequest(ctx, id, performedBy, resolutions, true)
}

func (e *Engine) mergeRequest(ctx context.Context, id, performedBy string, resolutions []merge.Resolution, manual bool) (*MergeResult, error) {
	kind := "auto"
	if manual {
		kind = "manual"
	}

	mr, err := e.openMergeRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	src, tgt, err := e.mergeBranches(ctx, mr)
	if err != nil {
		return nil, err
	}

	// 乐观并发检查：任一侧 tip 移动过，调用方必须先刷新
	if src.HeadVersionID != mr.SourceVersionID || tgt.HeadVersionID != mr.TargetVersionID {
		e.metrics.RecordMerge(kind, "stale", 0)
		return nil, &apperr.StaleError{
			MergeRequestID: mr.ID,
			BranchID:       tgt.ID,
			Expected:       string(mr.TargetVersionID),
			Current:        string(tgt.HeadVersionID),
			CurrentSource:  string(src.HeadVersionID),
			CurrentTarget:  string(tgt.HeadVersionID),
		}
	}
	if err := checkMergeAllowed(tgt, mr); err != nil {
		return nil, err
	}

	// source 已经包含在 target 里：什么都不用做
	alreadyMerged := mr.SourceVersionID == mr.TargetVersionID
	if !alreadyMerged {
		if alreadyMerged, err = e.isAncestor(ctx, mr.SourceVersionID, mr.TargetVersionID); err != nil {
			return nil, err
		}
	}
	if alreadyMerged {
		mr.Status = meta.StatusMerged
		mr.MergedVersionID = tgt.HeadVersionID
		mr.ConflictPaths = datatypes.JSONSlice[string]{}
		if err := e.saveMergeRequest(ctx, mr, meta.ActionMerge, performedBy, "source already contained in target"); err != nil {
			return nil, err
		}
		e.metrics.RecordMerge(kind, "noop", 0)
		return &MergeResult{
			Success:         true,
			MergedVersionID: tgt.HeadVersionID,
			Messages:        []string{"source is already contained in target, nothing to merge"},
			MergeRequest:    mr,
		}, nil
	}

	plan, err := e.plan(ctx, mr.BaseVersionID, mr.SourceVersionID, mr.TargetVersionID)
	if err != nil {
		return nil, err
	}

	if !manual && !plan.Clean() {
		mr.Status = meta.StatusBlockedByConflicts
		mr.ConflictPaths = datatypes.JSONSlice[string](plan.ConflictPaths())
		if err := e.saveMergeRequest(ctx, mr, meta.ActionReviewMergeRequest, performedBy,
			fmt.Sprintf("auto merge blocked by %d conflict(s)", len(plan.Conflicts))); err != nil {
			return nil, err
		}
		e.metrics.RecordMerge(kind, "conflict", len(plan.Conflicts))
		msgs := make([]string, 0, len(plan.Conflicts))
		for _, c := range plan.Conflicts {
			msgs = append(msgs, fmt.Sprintf("conflict at %s (%s)", c.Path, c.Kind))
		}
		return &MergeResult{Success: false, Messages: msgs, Conflicts: plan.Conflicts, MergeRequest: mr}, nil
	}

	merged, err := plan.Apply(resolutions)
	if err != nil {
		if errors.Is(err, apperr.ErrIncompleteResolution) {
			e.metrics.RecordMerge(kind, "conflict", len(plan.Conflicts))
		}
		return nil, err
	}

	srcName := src.Name
	v, err := e.commit(ctx, commitSpec{
		branch:         tgt,
		doc:            merged,
		prev:           plan.Target,
		parents:        []types.Hash{mr.TargetVersionID, mr.SourceVersionID},
		author:         performedBy,
		message:        fmt.Sprintf("Merge %s into %s: %s", srcName, tgt.Name, mr.Title),
		move:           refs.MoveMergeRequest,
		action:         meta.ActionMerge,
		description:    fmt.Sprintf("merged %s into %s (%d resolution(s))", srcName, tgt.Name, len(resolutions)),
		mergeRequestID: mr.ID,
		extra: func(tx *meta.Repository, v *core.Version) error {
			next := *mr
			next.Status = meta.StatusMerged
			next.MergedVersionID = v.ID()
			next.ConflictPaths = datatypes.JSONSlice[string]{}
			if err := tx.SaveMergeRequest(ctx, &next); err != nil {
				return err
			}
			*mr = next
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordMerge(kind, "merged", len(plan.Conflicts))
	e.log.Info("merge request merged",
		slog.String("merge_request", mr.ID),
		slog.String("version", v.ID.Short()),
		slog.Int("conflicts_resolved", len(plan.Conflicts)),
	)
	msgs := []string{fmt.Sprintf("merged %d change(s) from %s", len(plan.SourceDiff.Changes), srcName)}
	if len(plan.Conflicts) > 0 {
		msgs = append(msgs, fmt.Sprintf("resolved %d conflict(s)", len(plan.Conflicts)))
	}
	return &MergeResult{Success: true, MergedVersionID: v.ID, Messages: msgs, MergeRequest: mr}, nil
}

// checkMergeAllowed 校验 target 分支的保护规则
func checkMergeAllowed(tgt *meta.Branch, mr *meta.MergeRequest) error {
	if tgt.Protection.RequireReview && len(mr.ApprovedBy) == 0 {
		return apperr.Protected(tgt.Name, "an approving review is required")
	}
	if tgt.Protection.RequireStatusChecks && !mr.StatusChecksPassed {
		return apperr.Protected(tgt.Name, "status checks have not passed")
	}
	return nil
}

func (e *Engine) isAncestor(ctx context.Context, anc, desc types.Hash) (bool, error) {
	return ancestry{e}.IsAncestor(ctx, anc, desc)
}
