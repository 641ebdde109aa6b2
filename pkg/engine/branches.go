package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"metavault/pkg/apperr"
	"metavault/pkg/diff"
	"metavault/pkg/lineage"
	"metavault/pkg/meta"
	"metavault/pkg/refs"
	"metavault/pkg/types"
)

// CreateBranchInput 描述新分支
// SourceVersion 为空时从来源分支的 head 分叉
type CreateBranchInput struct {
	DocumentID    types.DocumentID
	Name          string
	SourceBranch  string
	SourceVersion string
	CreatedBy     string
}

func (e *Engine) CreateBranch(ctx context.Context, in CreateBranchInput) (*meta.Branch, error) {
	if in.SourceBranch == "" && in.SourceVersion == "" {
		return nil, apperr.Validation("create branch: a source branch or a source version is required")
	}

	req := refs.CreateRequest{
		DocumentID: in.DocumentID,
		Name:       in.Name,
		CreatedBy:  in.CreatedBy,
	}
	if in.SourceBranch != "" {
		src, err := e.resolveBranch(ctx, in.DocumentID, in.SourceBranch)
		if err != nil {
			return nil, err
		}
		req.SourceBranchID = src.ID
		req.Head = src.HeadVersionID
	}
	if in.SourceVersion != "" {
		v, err := e.resolveVersion(ctx, in.SourceVersion)
		if err != nil {
			return nil, err
		}
		req.Head = v.Hash
	}

	b, err := e.refs.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := e.appendHistory(ctx, meta.HistoryEntry{
		DocumentID:  b.DocumentID,
		Action:      meta.ActionCreateBranch,
		Description: fmt.Sprintf("created branch %s at %s", b.Name, b.HeadVersionID.Short()),
		PerformedBy: in.CreatedBy,
		VersionID:   b.HeadVersionID,
		BranchID:    b.ID,
	}); err != nil {
		return nil, err
	}
	e.log.Info("branch created",
		slog.String("document", string(b.DocumentID)),
		slog.String("branch", b.Name),
		slog.String("head", b.HeadVersionID.Short()),
	)
	return b, nil
}

func (e *Engine) ListBranches(ctx context.Context, doc types.DocumentID) ([]meta.Branch, error) {
	return e.refs.List(ctx, doc)
}

// GetBranchInfo 返回分支、head 版本以及相对来源分支的领先/落后数
func (e *Engine) GetBranchInfo(ctx context.Context, doc types.DocumentID, branch string) (*BranchInfo, error) {
	b, err := e.resolveBranch(ctx, doc, branch)
	if err != nil {
		return nil, err
	}
	head, err := e.repo.GetVersion(ctx, b.HeadVersionID)
	if err != nil {
		return nil, err
	}
	info := &BranchInfo{Branch: b, Head: versionFromModel(head)}

	if b.SourceBranchID != "" {
		src, err := e.repo.GetBranch(ctx, b.SourceBranchID)
		switch {
		case err == nil:
			info.SourceBranch = src
			info.Ahead, info.Behind, err = lineage.AheadBehind(ctx, e.loader(e.repo), b.HeadVersionID, src.HeadVersionID)
			if err != nil {
				return nil, err
			}
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}
	}

	open, err := e.repo.ListMergeRequests(ctx, meta.MergeRequestFilter{BranchID: b.ID})
	if err != nil {
		return nil, err
	}
	for _, mr := range open {
		if !mr.Status.Terminal() {
			info.OpenMergeRequests++
		}
	}
	return info, nil
}

// DeleteBranch 删除分支指针，版本不受影响
func (e *Engine) DeleteBranch(ctx context.Context, doc types.DocumentID, branch string, force bool, performedBy string) error {
	b, err := e.resolveBranch(ctx, doc, branch)
	if err != nil {
		return err
	}
	if _, err := e.refs.Delete(ctx, b.ID, force); err != nil {
		return err
	}
	desc := fmt.Sprintf("deleted branch %s at %s", b.Name, b.HeadVersionID.Short())
	if force {
		desc += " (forced)"
	}
	e.log.Info("branch deleted", slog.String("branch", b.Name), slog.Bool("force", force))
	return e.appendHistory(ctx, meta.HistoryEntry{
		DocumentID:  b.DocumentID,
		Action:      meta.ActionDeleteBranch,
		Description: desc,
		PerformedBy: performedBy,
		VersionID:   b.HeadVersionID,
		BranchID:    b.ID,
	})
}

func (e *Engine) ProtectBranch(ctx context.Context, doc types.DocumentID, branch string, rules meta.Protection, performedBy string) (*meta.Branch, error) {
	b, err := e.resolveBranch(ctx, doc, branch)
	if err != nil {
		return nil, err
	}
	b, err = e.refs.Protect(ctx, b.ID, rules)
	if err != nil {
		return nil, err
	}
	return b, e.appendHistory(ctx, meta.HistoryEntry{
		DocumentID: b.DocumentID,
		Action:     meta.ActionProtectBranch,
		Description: fmt.Sprintf("protected %s (review=%t, restrict_push=%t, status_checks=%t)",
			b.Name, rules.RequireReview, rules.RestrictPush, rules.RequireStatusChecks),
		PerformedBy: performedBy,
		BranchID:    b.ID,
	})
}

func (e *Engine) UnprotectBranch(ctx context.Context, doc types.DocumentID, branch string, performedBy string) (*meta.Branch, error) {
	b, err := e.resolveBranch(ctx, doc, branch)
	if err != nil {
		return nil, err
	}
	b, err = e.refs.Unprotect(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	return b, e.appendHistory(ctx, meta.HistoryEntry{
		DocumentID:  b.DocumentID,
		Action:      meta.ActionUnprotectBranch,
		Description: "removed protection from " + b.Name,
		PerformedBy: performedBy,
		BranchID:    b.ID,
	})
}

// CompareBranches 比较两个分支的 head，并给出公共祖先与领先/落后数
func (e *Engine) CompareBranches(ctx context.Context, doc types.DocumentID, from, to string) (*BranchComparison, error) {
	a, err := e.resolveBranch(ctx, doc, from)
	if err != nil {
		return nil, err
	}
	b, err := e.resolveBranch(ctx, doc, to)
	if err != nil {
		return nil, err
	}
	if a.DocumentID != b.DocumentID {
		return nil, apperr.Validation("branches belong to different documents")
	}

	fromV, err := e.GetVersion(ctx, string(a.HeadVersionID))
	if err != nil {
		return nil, err
	}
	toV, err := e.GetVersion(ctx, string(b.HeadVersionID))
	if err != nil {
		return nil, err
	}
	base, err := e.mergeBase(ctx, a.HeadVersionID, b.HeadVersionID)
	if err != nil {
		return nil, err
	}
	ahead, behind, err := lineage.AheadBehind(ctx, e.loader(e.repo), b.HeadVersionID, a.HeadVersionID)
	if err != nil {
		return nil, err
	}
	return &BranchComparison{
		Comparison: Comparison{
			From: fromV,
			To:   toV,
			Diff: diff.Compute(fromV.Document, toV.Document, diff.WithKeying(e.keying)),
		},
		FromBranch: a,
		ToBranch:   b,
		Base:       base,
		Ahead:      ahead,
		Behind:     behind,
	}, nil
}
