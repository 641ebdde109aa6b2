package engine

import (
	"context"
	"iter"
	"time"

	"metavault/pkg/apperr"
	"metavault/pkg/lineage"
	"metavault/pkg/meta"
	"metavault/pkg/types"
)

// GetVersionLineage 广度优先产出 id 的祖先版本 (含自身，深度 0)
// 序列是惰性的，可以重复 range；maxDepth <= 0 表示不限深度
func (e *Engine) GetVersionLineage(ctx context.Context, id string, maxDepth int) iter.Seq2[LineageEntry, error] {
	return func(yield func(LineageEntry, error) bool) {
		start, err := e.resolveVersion(ctx, id)
		if err != nil {
			yield(LineageEntry{}, err)
			return
		}
		for entry, err := range lineage.Walk(ctx, e.loader(e.repo), start.Hash, maxDepth) {
			if err != nil {
				yield(LineageEntry{}, err)
				return
			}
			m, err := e.repo.GetVersion(ctx, entry.Node.ID)
			if err != nil {
				yield(LineageEntry{}, err)
				return
			}
			if !yield(LineageEntry{Version: versionFromModel(m), Depth: entry.Depth}, nil) {
				return
			}
		}
	}
}

// CollectLineage 把 GetVersionLineage 的结果收集成切片
func (e *Engine) CollectLineage(ctx context.Context, id string, maxDepth int) ([]LineageEntry, error) {
	var out []LineageEntry
	for entry, err := range e.GetVersionLineage(ctx, id, maxDepth) {
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// HistoryFilter 审计查询条件；Branch 可以是 ID 或名字，零值字段不参与过滤
type HistoryFilter struct {
	DocumentID types.DocumentID
	Branch     string
	VersionID  string
	User       string
	Actions    []meta.HistoryAction
	Since      time.Time
	Limit      int
}

// GetChangeHistory 按时间倒序返回审计记录
func (e *Engine) GetChangeHistory(ctx context.Context, f HistoryFilter) ([]meta.HistoryEntry, error) {
	q := meta.HistoryFilter{
		DocumentID: f.DocumentID,
		User:       f.User,
		Actions:    f.Actions,
		Since:      f.Since,
		Limit:      f.Limit,
	}
	if f.Branch != "" {
		if f.DocumentID == "" {
			return nil, apperr.Validation("history: a document is required to filter by branch")
		}
		b, err := e.resolveBranch(ctx, f.DocumentID, f.Branch)
		if err != nil {
			return nil, err
		}
		q.BranchID = b.ID
	}
	if f.VersionID != "" {
		// 已删除的版本仍然可以按完整 ID 查询审计记录
		hash := types.Hash(f.VersionID)
		if !hash.IsValid() {
			v, err := e.resolveVersion(ctx, f.VersionID)
			if err != nil {
				return nil, err
			}
			hash = v.Hash
		}
		q.VersionID = hash
	}
	return e.repo.ListHistory(ctx, q)
}

// GetUserActivity 返回某个用户在 since 之后的全部操作
func (e *Engine) GetUserActivity(ctx context.Context, user string, since time.Time, limit int) ([]meta.HistoryEntry, error) {
	if user == "" {
		return nil, apperr.Validation("user is required")
	}
	return e.repo.ListHistory(ctx, meta.HistoryFilter{User: user, Since: since, Limit: limit})
}

// BranchHistory 是分支的审计记录与沿第一父版本的提交链
type BranchHistory struct {
	Branch   *meta.Branch
	Versions []*Version
	Entries  []meta.HistoryEntry
}

// GetBranchHistory 只依靠 lineage 重建分支的提交历史：从 head 沿第一个父版本回溯
func (e *Engine) GetBranchHistory(ctx context.Context, doc types.DocumentID, branch string, maxDepth int) (*BranchHistory, error) {
	b, err := e.resolveBranch(ctx, doc, branch)
	if err != nil {
		return nil, err
	}
	out := &BranchHistory{Branch: b}
	for cur := b.HeadVersionID; cur != ""; {
		if maxDepth > 0 && len(out.Versions) > maxDepth {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := e.repo.GetVersion(ctx, cur)
		if err != nil {
			return nil, err
		}
		out.Versions = append(out.Versions, versionFromModel(m))
		cur = m.Parent1
	}

	out.Entries, err = e.repo.ListHistory(ctx, meta.HistoryFilter{DocumentID: b.DocumentID, BranchID: b.ID})
	if err != nil {
		return nil, err
	}
	return out, nil
}
