package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"metavault/pkg/apperr"
	"metavault/pkg/core"
	"metavault/pkg/diff"
	"metavault/pkg/meta"
	"metavault/pkg/refs"
	"metavault/pkg/storage"
	"metavault/pkg/types"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// CreateVersionInput 描述一次提交
//
// Branch 可以是分支 ID 或名字。文档还没有任何分支时 Branch 可以为空，
// 此时创建根版本并自动建立 main 分支。
// ExpectedHead 非空时作为额外的前置条件：分支 head 必须仍然是它。
type CreateVersionInput struct {
	DocumentID   types.DocumentID
	Branch       string
	Document     *core.Document
	Author       string
	Message      string
	ExpectedHead types.Hash
}

func (in CreateVersionInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.DocumentID, validation.Required),
		validation.Field(&in.Document, validation.NotNil),
		validation.Field(&in.Author, validation.Required),
	)
}

// CreateVersion 把文档提交为分支上的新版本
func (e *Engine) CreateVersion(ctx context.Context, in CreateVersionInput) (*Version, error) {
	if err := in.Validate(); err != nil {
		return nil, apperr.Validation("create version: %v", err)
	}

	if in.Branch == "" {
		branches, err := e.repo.ListBranches(ctx, in.DocumentID)
		if err != nil {
			return nil, err
		}
		if len(branches) > 0 {
			return nil, apperr.Validation("document %s already has branches, a branch is required", in.DocumentID)
		}
		return e.bootstrap(ctx, in)
	}

	b, err := e.resolveBranch(ctx, in.DocumentID, in.Branch)
	if err != nil {
		return nil, err
	}
	if b.DocumentID != in.DocumentID {
		return nil, apperr.Validation("branch %s belongs to document %s", b.Name, b.DocumentID)
	}
	if in.ExpectedHead != "" && in.ExpectedHead != b.HeadVersionID {
		return nil, &apperr.StaleError{
			BranchID: b.ID,
			Expected: string(in.ExpectedHead),
			Current:  string(b.HeadVersionID),
		}
	}

	prev, err := e.documentAt(ctx, b.HeadVersionID)
	if err != nil {
		return nil, err
	}
	return e.commit(ctx, commitSpec{
		branch:      b,
		doc:         in.Document,
		prev:        prev,
		parents:     []types.Hash{b.HeadVersionID},
		author:      in.Author,
		message:     in.Message,
		move:        refs.MoveCommit,
		action:      meta.ActionCreateVersion,
		description: fmt.Sprintf("commit on %s: %s", b.Name, in.Message),
	})
}

// bootstrap 创建文档的根版本与默认分支
func (e *Engine) bootstrap(ctx context.Context, in CreateVersionInput) (*Version, error) {
	branchID := uuid.NewString()

	snap, err := core.NewSnapshot(in.Document)
	if err != nil {
		return nil, apperr.Validation("document: %v", err)
	}
	if err := e.store.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}
	summary := diff.Compute(emptyDocument(), in.Document, diff.WithKeying(e.keying)).Summary()
	v, err := core.NewVersion(snap.ID(), core.VersionHeader{
		DocumentID: in.DocumentID,
		BranchID:   branchID,
		Author:     in.Author,
		Message:    in.Message,
		Summary:    summary.String(),
		CreatedAt:  e.now(),
	})
	if err != nil {
		return nil, err
	}
	if err := e.store.Put(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to store version: %w", err)
	}

	err = e.repo.Transaction(ctx, func(tx *meta.Repository) error {
		if err := tx.IndexVersion(ctx, v); err != nil {
			return err
		}
		b, err := e.refs.WithRepo(tx).Create(ctx, refs.CreateRequest{
			ID:         branchID,
			DocumentID: in.DocumentID,
			Name:       DefaultBranch,
			Head:       v.ID(),
			CreatedBy:  in.Author,
		})
		if err != nil {
			return err
		}
		for _, h := range []meta.HistoryEntry{
			{Action: meta.ActionCreateVersion, Description: "initial version: " + in.Message, ChangesSummary: summary.String(), VersionID: v.ID()},
			{Action: meta.ActionCreateBranch, Description: "created default branch " + DefaultBranch, VersionID: v.ID()},
		} {
			h.DocumentID = in.DocumentID
			h.BranchID = b.ID
			h.PerformedBy = in.Author
			h.PerformedAt = e.now()
			if err := tx.AppendHistory(ctx, &h); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.docs.Add(snap.ID(), in.Document)
	e.log.Info("document initialized",
		slog.String("document", string(in.DocumentID)),
		slog.String("version", v.ID().Short()),
	)
	out := versionFromCore(v)
	out.Document = in.Document
	return out, nil
}

// GetVersion 返回版本及其文档，id 可以是前缀
func (e *Engine) GetVersion(ctx context.Context, id string) (*Version, error) {
	m, err := e.resolveVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := e.versionDocument(ctx, m)
	if err != nil {
		return nil, err
	}
	out := versionFromModel(m)
	out.Document = doc
	return out, nil
}

// VersionFilter 版本列表的查询条件；Branch 可以是 ID 或名字
type VersionFilter struct {
	DocumentID types.DocumentID
	Branch     string
	Author     string
	Limit      int
	Offset     int
}

// ListVersions 按时间倒序列出版本 (不含文档内容)
func (e *Engine) ListVersions(ctx context.Context, f VersionFilter) ([]*Version, error) {
	q := meta.VersionFilter{
		DocumentID: f.DocumentID,
		Author:     f.Author,
		Limit:      f.Limit,
		Offset:     f.Offset,
	}
	if f.Branch != "" {
		b, err := e.resolveBranch(ctx, f.DocumentID, f.Branch)
		if err != nil {
			return nil, err
		}
		q.BranchID = b.ID
	}
	models, err := e.repo.ListVersions(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]*Version, len(models))
	for i := range models {
		out[i] = versionFromModel(&models[i])
	}
	return out, nil
}

// RestoreInput 描述一次恢复；Branch 为空时恢复到版本最初所在的分支
type RestoreInput struct {
	VersionID string
	Branch    string
	Author    string
	Message   string
}

// RestoreVersion 在分支上创建一个内容等于旧版本的新版本，历史不会被改写
func (e *Engine) RestoreVersion(ctx context.Context, in RestoreInput) (*Version, error) {
	if in.Author == "" {
		return nil, apperr.Validation("restore: author is required")
	}
	old, err := e.resolveVersion(ctx, in.VersionID)
	if err != nil {
		return nil, err
	}
	branchRef := in.Branch
	if branchRef == "" {
		branchRef = old.BranchID
	}
	b, err := e.resolveBranch(ctx, old.DocumentID, branchRef)
	if err != nil {
		return nil, err
	}
	if b.DocumentID != old.DocumentID {
		return nil, apperr.Validation("version %s does not belong to document %s", old.Hash.Short(), b.DocumentID)
	}

	doc, err := e.versionDocument(ctx, old)
	if err != nil {
		return nil, err
	}
	prev, err := e.documentAt(ctx, b.HeadVersionID)
	if err != nil {
		return nil, err
	}
	msg := in.Message
	if msg == "" {
		msg = fmt.Sprintf("restore version %s", old.Hash.Short())
	}
	return e.commit(ctx, commitSpec{
		branch:      b,
		doc:         doc,
		prev:        prev,
		parents:     []types.Hash{b.HeadVersionID},
		author:      in.Author,
		message:     msg,
		move:        refs.MoveRestore,
		action:      meta.ActionRestoreVersion,
		description: fmt.Sprintf("restored %s on %s", old.Hash.Short(), b.Name),
	})
}

// DeleteVersion 删除一个版本
//
// 有子版本、标签、有效锁或进行中合并请求引用的版本拒绝删除 (ConflictError)。
// 如果它是某些分支的 head，这些分支退回到它的第一个父版本；根版本作为 head 时不能删除。
// 快照对象可能被其它版本共享，只删除版本对象本身。
func (e *Engine) DeleteVersion(ctx context.Context, id, performedBy string) error {
	v, err := e.resolveVersion(ctx, id)
	if err != nil {
		return err
	}

	children, err := e.repo.CountChildren(ctx, v.Hash)
	if err != nil {
		return err
	}
	if children > 0 {
		return &apperr.ConflictError{Reason: fmt.Sprintf("version %s has %d descendant(s)", v.Hash.Short(), children)}
	}
	tags, err := e.repo.CountTags(ctx, v.Hash)
	if err != nil {
		return err
	}
	if tags > 0 {
		return &apperr.ConflictError{Reason: fmt.Sprintf("version %s is referenced by %d tag(s)", v.Hash.Short(), tags)}
	}
	locks, err := e.activeLocks(ctx, v.Hash)
	if err != nil {
		return err
	}
	if len(locks) > 0 {
		return &apperr.ConflictError{Reason: fmt.Sprintf("version %s is locked by %s", v.Hash.Short(), locks[0].LockedBy)}
	}
	mrs, err := e.repo.CountActiveMergeRequestsAt(ctx, v.Hash)
	if err != nil {
		return err
	}
	if mrs > 0 {
		return &apperr.ConflictError{Reason: fmt.Sprintf("version %s is referenced by %d open merge request(s)", v.Hash.Short(), mrs)}
	}

	heads, err := e.repo.BranchesAt(ctx, v.Hash)
	if err != nil {
		return err
	}
	parents := v.Parents()
	if len(heads) > 0 && len(parents) == 0 {
		return &apperr.ConflictError{Reason: fmt.Sprintf("version %s is the root of branch %s", v.Hash.Short(), heads[0].Name)}
	}
	for i := range heads {
		if err := refs.CheckMove(&heads[i], refs.MoveDeleteVersion); err != nil {
			return err
		}
	}

	err = e.repo.Transaction(ctx, func(tx *meta.Repository) error {
		mgr := e.refs.WithRepo(tx)
		for i := range heads {
			if err := mgr.Advance(ctx, &heads[i], parents[0], refs.MoveDeleteVersion); err != nil {
				return err
			}
		}
		if err := tx.DeleteVersion(ctx, v.Hash); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, &meta.HistoryEntry{
			DocumentID:  v.DocumentID,
			Action:      meta.ActionDeleteVersion,
			Description: fmt.Sprintf("deleted version %s", v.Hash.Short()),
			PerformedBy: performedBy,
			PerformedAt: e.now(),
			VersionID:   v.Hash,
			BranchID:    v.BranchID,
		})
	})
	if err != nil {
		return err
	}

	if err := e.store.Delete(ctx, v.Hash); err != nil && !errors.Is(err, storage.ErrNotFound) {
		// 索引已删除，对象残留只会浪费空间
		e.log.Warn("failed to delete version object", slog.String("version", v.Hash.Short()), slog.Any("error", err))
	}
	for range heads {
		e.metrics.RecordHeadMove(refs.MoveDeleteVersion.String())
	}
	e.log.Info("version deleted",
		slog.String("document", string(v.DocumentID)),
		slog.String("version", v.Hash.Short()),
		slog.Int("heads_moved", len(heads)),
	)
	return nil
}

// CompareVersions 计算 from -> to 的差异
func (e *Engine) CompareVersions(ctx context.Context, from, to string) (*Comparison, error) {
	a, err := e.GetVersion(ctx, from)
	if err != nil {
		return nil, err
	}
	b, err := e.GetVersion(ctx, to)
	if err != nil {
		return nil, err
	}
	if a.DocumentID != b.DocumentID {
		return nil, apperr.Validation("versions belong to different documents (%s, %s)", a.DocumentID, b.DocumentID)
	}
	return &Comparison{
		From: a,
		To:   b,
		Diff: diff.Compute(a.Document, b.Document, diff.WithKeying(e.keying)),
	}, nil
}
