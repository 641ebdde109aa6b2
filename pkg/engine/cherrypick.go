package engine

import (
	"context"
	"fmt"
	"log/slog"

	"metavault/pkg/apperr"
	"metavault/pkg/core"
	"metavault/pkg/meta"
	"metavault/pkg/merge"
	"metavault/pkg/refs"
	"metavault/pkg/types"
)

// CherryPickInput 描述把某个版本引入的变更应用到另一个分支
// Paths 非空时只挑选与这些路径重叠的变更
type CherryPickInput struct {
	VersionID    string
	TargetBranch string
	Paths        []string
	Resolutions  []merge.Resolution
	Author       string
	Message      string
}

// CherryPick 计算 parent(v) -> v 的变更并三方合并到目标分支的 head
// 结果是目标分支上的普通提交，只有一个父版本
func (e *Engine) CherryPick(ctx context.Context, in CherryPickInput) (*Version, error) {
	if in.Author == "" {
		return nil, apperr.Validation("cherry-pick: author is required")
	}
	only := make([]core.Path, 0, len(in.Paths))
	for _, s := range in.Paths {
		p, err := core.ParsePath(s)
		if err != nil {
			return nil, apperr.Validation("cherry-pick: %v", err)
		}
		only = append(only, p)
	}

	v, b, err := e.pickTarget(ctx, in.VersionID, in.TargetBranch)
	if err != nil {
		return nil, err
	}
	parent, err := e.documentAt(ctx, firstParent(v))
	if err != nil {
		return nil, err
	}
	picked, err := e.versionDocument(ctx, v)
	if err != nil {
		return nil, err
	}
	tip, err := e.documentAt(ctx, b.HeadVersionID)
	if err != nil {
		return nil, err
	}

	opts := []merge.Option{merge.WithKeying(e.keying)}
	if len(only) > 0 {
		opts = append(opts, merge.OnlyPaths(only...))
	}
	plan, err := merge.Compute(ctx, parent, picked, tip, opts...)
	if err != nil {
		return nil, err
	}
	doc, err := e.applyPlan(plan, in.Resolutions, "cherry-pick of "+v.Hash.Short())
	if err != nil {
		e.metrics.RecordMerge("cherry_pick", "conflict", len(plan.Conflicts))
		return nil, err
	}

	msg := in.Message
	if msg == "" {
		msg = fmt.Sprintf("cherry-pick %s: %s", v.Hash.Short(), v.Message)
	}
	out, err := e.commit(ctx, commitSpec{
		branch:      b,
		doc:         doc,
		prev:        tip,
		parents:     []types.Hash{b.HeadVersionID},
		author:      in.Author,
		message:     msg,
		move:        refs.MoveCherryPick,
		action:      meta.ActionCherryPick,
		description: fmt.Sprintf("cherry-picked %s onto %s (%d change(s))", v.Hash.Short(), b.Name, len(plan.SourceDiff.Changes)),
	})
	if err != nil {
		return nil, err
	}
	e.metrics.RecordMerge("cherry_pick", "merged", len(plan.Conflicts))
	e.log.Debug("cherry-pick applied", slog.String("from", v.Hash.Short()), slog.Int("paths", len(only)))
	return out, nil
}

// RevertInput 描述撤销某个版本引入的变更
type RevertInput struct {
	VersionID    string
	TargetBranch string
	Resolutions  []merge.Resolution
	Author       string
	Message      string
}

// RevertVersion 把 v -> parent(v) 的反向变更三方合并到目标分支的 head
// 目标分支为空时使用版本最初所在的分支
func (e *Engine) RevertVersion(ctx context.Context, in RevertInput) (*Version, error) {
	if in.Author == "" {
		return nil, apperr.Validation("revert: author is required")
	}
	v, b, err := e.pickTarget(ctx, in.VersionID, in.TargetBranch)
	if err != nil {
		return nil, err
	}
	parent, err := e.documentAt(ctx, firstParent(v))
	if err != nil {
		return nil, err
	}
	reverted, err := e.versionDocument(ctx, v)
	if err != nil {
		return nil, err
	}
	tip, err := e.documentAt(ctx, b.HeadVersionID)
	if err != nil {
		return nil, err
	}

	// 以 v 为 base、parent 为 source：source 一侧的变更正好是 v 的逆
	plan, err := merge.Compute(ctx, reverted, parent, tip, merge.WithKeying(e.keying))
	if err != nil {
		return nil, err
	}
	doc, err := e.applyPlan(plan, in.Resolutions, "revert of "+v.Hash.Short())
	if err != nil {
		e.metrics.RecordMerge("revert", "conflict", len(plan.Conflicts))
		return nil, err
	}

	msg := in.Message
	if msg == "" {
		msg = fmt.Sprintf("revert %s: %s", v.Hash.Short(), v.Message)
	}
	out, err := e.commit(ctx, commitSpec{
		branch:      b,
		doc:         doc,
		prev:        tip,
		parents:     []types.Hash{b.HeadVersionID},
		author:      in.Author,
		message:     msg,
		move:        refs.MoveRevert,
		action:      meta.ActionRevert,
		description: fmt.Sprintf("reverted %s on %s", v.Hash.Short(), b.Name),
	})
	if err != nil {
		return nil, err
	}
	e.metrics.RecordMerge("revert", "merged", len(plan.Conflicts))
	return out, nil
}

func (e *Engine) pickTarget(ctx context.Context, versionID, branch string) (*meta.VersionModel, *meta.Branch, error) {
	v, err := e.resolveVersion(ctx, versionID)
	if err != nil {
		return nil, nil, err
	}
	if branch == "" {
		branch = v.BranchID
	}
	b, err := e.resolveBranch(ctx, v.DocumentID, branch)
	if err != nil {
		return nil, nil, err
	}
	if b.DocumentID != v.DocumentID {
		return nil, nil, apperr.Validation("version %s does not belong to document %s", v.Hash.Short(), b.DocumentID)
	}
	return v, b, nil
}

// applyPlan 有冲突且调用方没有给出解决方案时返回 ConflictError
func (e *Engine) applyPlan(plan *merge.Plan, resolutions []merge.Resolution, what string) (*core.Document, error) {
	if !plan.Clean() && len(resolutions) == 0 {
		return nil, &apperr.ConflictError{
			Reason:    what + " conflicts with the target branch",
			Paths:     plan.ConflictPaths(),
			Conflicts: plan.Conflicts,
		}
	}
	return plan.Apply(resolutions)
}

// firstParent 根版本返回空，对应空文档
func firstParent(v *meta.VersionModel) types.Hash {
	return v.Parent1
}
