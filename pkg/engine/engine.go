// Package engine 编排版本控制的全部操作
//
// 内容 (快照、版本对象) 写入对象存储，查询索引与分支指针写入 SQL。
// 每次移动分支 head 都在一个数据库事务里完成：索引新版本、CAS 更新 head、
// 追加审计记录。CAS 失败时整体回滚，调用方拿到 StaleError 后自行重试。
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"metavault/pkg/apperr"
	"metavault/pkg/core"
	"metavault/pkg/diff"
	"metavault/pkg/lineage"
	"metavault/pkg/meta"
	"metavault/pkg/metrics"
	"metavault/pkg/refs"
	"metavault/pkg/storage"
	"metavault/pkg/types"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultBranch 是文档第一个版本自动创建的分支
const DefaultBranch = "main"

const defaultSnapshotEntries = 256

type Engine struct {
	repo   *meta.Repository
	store  storage.Store
	refs   *refs.Manager
	keying core.Keying

	// 解码后的快照缓存，文档不可变，只读共享
	docs *lru.Cache[types.Hash, *core.Document]

	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Metrics

	cacheSize int
}

type Option func(*Engine)

// WithKeying 指定数组元素的稳定 key 字段
func WithKeying(k core.Keying) Option {
	return func(e *Engine) { e.keying = k }
}

// WithSnapshotCache 设置快照缓存的条目数
func WithSnapshotCache(n int) Option {
	return func(e *Engine) { e.cacheSize = n }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func New(repo *meta.Repository, store storage.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		repo:      repo,
		store:     store,
		keying:    core.DefaultKeying,
		now:       time.Now,
		log:       slog.Default(),
		cacheSize: defaultSnapshotEntries,
	}
	for _, fn := range opts {
		fn(e)
	}
	if e.cacheSize <= 0 {
		e.cacheSize = defaultSnapshotEntries
	}
	docs, err := lru.New[types.Hash, *core.Document](e.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}
	e.docs = docs
	e.refs = refs.NewManager(repo, ancestry{e})
	return e, nil
}

// Keying 返回引擎使用的数组 key 约定
func (e *Engine) Keying() core.Keying { return e.keying }

// -----------------------------------------------------------------------------
// 祖先关系
// -----------------------------------------------------------------------------

// loader 通过 SQL 索引加载版本 DAG 的节点
func (e *Engine) loader(repo *meta.Repository) lineage.Loader {
	return lineage.LoaderFunc(func(ctx context.Context, id types.Hash) (*lineage.Node, error) {
		v, err := repo.GetVersion(ctx, id)
		if err != nil {
			return nil, err
		}
		return &lineage.Node{ID: v.Hash, Parents: v.Parents(), CreatedAt: v.CreatedTime()}, nil
	})
}

type ancestry struct{ e *Engine }

func (a ancestry) IsAncestor(ctx context.Context, anc, desc types.Hash) (bool, error) {
	return lineage.IsAncestor(ctx, a.e.loader(a.e.repo), anc, desc)
}

// mergeBase 返回两个版本的最近公共祖先，没有公共祖先时返回空
func (e *Engine) mergeBase(ctx context.Context, a, b types.Hash) (types.Hash, error) {
	base, found, err := lineage.CommonAncestor(ctx, e.loader(e.repo), a, b)
	if err != nil {
		return "", fmt.Errorf("failed to find common ancestor: %w", err)
	}
	if !found {
		return "", nil
	}
	return base, nil
}

// -----------------------------------------------------------------------------
// 内容读取
// -----------------------------------------------------------------------------

func emptyDocument() *core.Document {
	return core.NewDocument(core.NewObject())
}

// resolveVersion 接受完整 Hash 或不少于 4 位的前缀
func (e *Engine) resolveVersion(ctx context.Context, id string) (*meta.VersionModel, error) {
	if id == "" {
		return nil, apperr.Validation("version id is required")
	}
	hash := types.Hash(id)
	if !hash.IsValid() {
		full, err := e.repo.ResolveVersionPrefix(ctx, id)
		if err != nil {
			return nil, err
		}
		hash = full
	}
	return e.repo.GetVersion(ctx, hash)
}

// snapshot 读取快照文档，优先走缓存
// 返回的文档与缓存共享，调用方不得修改
func (e *Engine) snapshot(ctx context.Context, hash types.Hash) (*core.Document, error) {
	if doc, ok := e.docs.Get(hash); ok {
		return doc, nil
	}
	snap, err := storage.LoadSnapshot(ctx, e.store, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", hash.Short(), err)
	}
	e.docs.Add(hash, snap.Document())
	return snap.Document(), nil
}

func (e *Engine) versionDocument(ctx context.Context, v *meta.VersionModel) (*core.Document, error) {
	return e.snapshot(ctx, v.SnapshotHash)
}

// documentAt 读取某个版本的文档，hash 为空时返回空文档
func (e *Engine) documentAt(ctx context.Context, hash types.Hash) (*core.Document, error) {
	if hash == "" {
		return emptyDocument(), nil
	}
	v, err := e.repo.GetVersion(ctx, hash)
	if err != nil {
		return nil, err
	}
	return e.versionDocument(ctx, v)
}

func (e *Engine) resolveBranch(ctx context.Context, doc types.DocumentID, idOrName string) (*meta.Branch, error) {
	if idOrName == "" {
		return nil, apperr.Validation("branch is required")
	}
	return e.refs.Resolve(ctx, doc, idOrName)
}

// -----------------------------------------------------------------------------
// 提交流水线
// -----------------------------------------------------------------------------

// commitSpec 描述一次会移动分支 head 的提交
type commitSpec struct {
	branch  *meta.Branch
	doc     *core.Document
	prev    *core.Document // 第一个父版本的文档，用于生成变更摘要
	parents []types.Hash
	author  string
	message string
	move    refs.Move

	action         meta.HistoryAction
	description    string
	mergeRequestID string

	// extra 在同一个事务里执行，用于同时推进合并请求的状态
	extra func(tx *meta.Repository, v *core.Version) error
}

// commit 写入快照与版本对象，然后在事务里完成索引、head CAS 与审计记录
// 成功后 in.branch 被原地更新为新的 head
func (e *Engine) commit(ctx context.Context, in commitSpec) (*Version, error) {
	if err := refs.CheckMove(in.branch, in.move); err != nil {
		return nil, err
	}

	snap, err := core.NewSnapshot(in.doc)
	if err != nil {
		return nil, apperr.Validation("document: %v", err)
	}
	if err := e.store.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	prev := in.prev
	if prev == nil {
		prev = emptyDocument()
	}
	summary := diff.Compute(prev, in.doc, diff.WithKeying(e.keying)).Summary()

	v, err := core.NewVersion(snap.ID(), core.VersionHeader{
		DocumentID: in.branch.DocumentID,
		BranchID:   in.branch.ID,
		Parents:    in.parents,
		Author:     in.author,
		Message:    in.message,
		Summary:    summary.String(),
		CreatedAt:  e.now(),
	})
	if err != nil {
		return nil, err
	}
	if err := e.store.Put(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to store version: %w", err)
	}

	branch := *in.branch
	err = e.repo.Transaction(ctx, func(tx *meta.Repository) error {
		if err := tx.IndexVersion(ctx, v); err != nil {
			return err
		}
		if err := e.refs.WithRepo(tx).Advance(ctx, &branch, v.ID(), in.move); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, &meta.HistoryEntry{
			DocumentID:     branch.DocumentID,
			Action:         in.action,
			Description:    in.description,
			ChangesSummary: summary.String(),
			PerformedBy:    in.author,
			PerformedAt:    e.now(),
			VersionID:      v.ID(),
			BranchID:       branch.ID,
			MergeRequestID: in.mergeRequestID,
		}); err != nil {
			return err
		}
		if in.extra != nil {
			return in.extra(tx, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	*in.branch = branch
	e.docs.Add(snap.ID(), in.doc)
	e.metrics.RecordHeadMove(in.move.String())
	e.log.Info("branch head moved",
		slog.String("document", string(branch.DocumentID)),
		slog.String("branch", branch.Name),
		slog.String("version", v.ID().Short()),
		slog.String("move", in.move.String()),
		slog.String("summary", summary.String()),
	)

	info := versionFromCore(v)
	info.Document = in.doc
	return info, nil
}

// appendHistory 记录不移动 head 的操作
func (e *Engine) appendHistory(ctx context.Context, entry meta.HistoryEntry) error {
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = e.now()
	}
	return e.repo.AppendHistory(ctx, &entry)
}
