package meta

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"metavault/pkg/apperr"
	"metavault/pkg/core"
	"metavault/pkg/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) conn(ctx context.Context) *gorm.DB {
	return r.db.GetConn().WithContext(ctx)
}

// Transaction 在一个数据库事务里执行 fn
// fn 拿到的 Repository 绑定在事务上，返回错误时整体回滚
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: NewWithConn(tx)})
	})
}

// isDuplicate 兼容性处理不同数据库 (PG 与 SQLite) 的唯一约束错误
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(kind, id)
	}
	return err
}

// -----------------------------------------------------------------------------
// 1. 版本索引 (Versions)
// -----------------------------------------------------------------------------

// IndexVersion 将 core.Version 投影到 SQL 数据库中 (幂等写入)
func (r *Repository) IndexVersion(ctx context.Context, v *core.Version) error {
	parents := v.ParentHashes()
	model := VersionModel{
		Hash:         v.ID(),
		DocumentID:   v.DocumentID,
		BranchID:     v.BranchID,
		SnapshotHash: v.SnapshotCid.Hash,
		Author:       v.Author,
		Message:      v.Message,
		Summary:      v.Summary,
		Timestamp:    v.Timestamp,
		CreatedAt:    v.CreatedAt(),
	}
	if len(parents) > 0 {
		model.Parent1 = parents[0]
	}
	if len(parents) > 1 {
		model.Parent2 = parents[1]
	}

	// 如果 Hash 已存在，则什么都不做 (Do Nothing)
	err := r.conn(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hash"}},
			DoNothing: true,
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to index version: %w", err)
	}
	return nil
}

func (r *Repository) GetVersion(ctx context.Context, hash types.Hash) (*VersionModel, error) {
	var v VersionModel
	err := r.conn(ctx).Where("hash = ?", hash).First(&v).Error
	if err != nil {
		return nil, notFound(err, "version", string(hash))
	}
	return &v, nil
}

// ResolveVersionPrefix 把短 Hash 展开为完整 Hash，前缀不唯一时返回校验错误
func (r *Repository) ResolveVersionPrefix(ctx context.Context, prefix string) (types.Hash, error) {
	if len(prefix) < 4 {
		return "", apperr.Validation("version prefix %q is too short", prefix)
	}
	var hashes []types.Hash
	err := r.conn(ctx).Model(&VersionModel{}).
		Where("hash LIKE ?", prefix+"%").
		Limit(2).
		Pluck("hash", &hashes).Error
	if err != nil {
		return "", err
	}
	switch len(hashes) {
	case 0:
		return "", apperr.NotFound("version", prefix)
	case 1:
		return hashes[0], nil
	default:
		return "", apperr.Validation("version prefix %q is ambiguous", prefix)
	}
}

// VersionFilter 版本列表的查询条件，零值字段不参与过滤
type VersionFilter struct {
	DocumentID types.DocumentID
	BranchID   string
	Author     string
	Limit      int
	Offset     int
}

// ListVersions 按时间倒序返回版本
func (r *Repository) ListVersions(ctx context.Context, f VersionFilter) ([]VersionModel, error) {
	q := r.conn(ctx).Model(&VersionModel{})
	if f.DocumentID != "" {
		q = q.Where("document_id = ?", f.DocumentID)
	}
	if f.BranchID != "" {
		q = q.Where("branch_id = ?", f.BranchID)
	}
	if f.Author != "" {
		q = q.Where("author = ?", f.Author)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var out []VersionModel
	err := q.Order("timestamp DESC").Order("hash").Find(&out).Error
	return out, err
}

// CountChildren 返回以 hash 为父节点的版本数量
func (r *Repository) CountChildren(ctx context.Context, hash types.Hash) (int64, error) {
	var n int64
	err := r.conn(ctx).Model(&VersionModel{}).
		Where("parent1 = ? OR parent2 = ?", hash, hash).
		Count(&n).Error
	return n, err
}

// DeleteVersion 删除版本索引 (引用检查由调用方完成)
func (r *Repository) DeleteVersion(ctx context.Context, hash types.Hash) error {
	res := r.conn(ctx).Where("hash = ?", hash).Delete(&VersionModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("version", string(hash))
	}
	return nil
}

// -----------------------------------------------------------------------------
// 2. 分支 (Branches)
// -----------------------------------------------------------------------------

func (r *Repository) CreateBranch(ctx context.Context, b *Branch) error {
	if err := r.conn(ctx).Create(b).Error; err != nil {
		if isDuplicate(err) {
			return &apperr.ConflictError{Reason: fmt.Sprintf("branch %q already exists", b.Name)}
		}
		return fmt.Errorf("failed to create branch: %w", err)
	}
	return nil
}

func (r *Repository) GetBranch(ctx context.Context, id string) (*Branch, error) {
	var b Branch
	if err := r.conn(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, notFound(err, "branch", id)
	}
	return &b, nil
}

func (r *Repository) GetBranchByName(ctx context.Context, doc types.DocumentID, name string) (*Branch, error) {
	var b Branch
	err := r.conn(ctx).Where("document_id = ? AND name = ?", doc, name).First(&b).Error
	if err != nil {
		return nil, notFound(err, "branch", name)
	}
	return &b, nil
}

func (r *Repository) ListBranches(ctx context.Context, doc types.DocumentID) ([]Branch, error) {
	var out []Branch
	err := r.conn(ctx).Where("document_id = ?", doc).Order("name").Find(&out).Error
	return out, err
}

// BranchesAt 返回 head 指向该版本的分支
func (r *Repository) BranchesAt(ctx context.Context, hash types.Hash) ([]Branch, error) {
	var out []Branch
	err := r.conn(ctx).Where("head_version_id = ?", hash).Order("name").Find(&out).Error
	return out, err
}

// UpdateBranchHead 原子更新分支 head (CAS)
// expected 是调用方之前读到的 head，如果数据库里的值已经变化，更新失败并返回当前值
// SQL: UPDATE branches SET head_version_id = ?, revision = revision + 1 WHERE id = ? AND head_version_id = ?
func (r *Repository) UpdateBranchHead(ctx context.Context, id string, expected, next types.Hash) error {
	res := r.conn(ctx).Model(&Branch{}).
		Where("id = ? AND head_version_id = ?", id, expected).
		Updates(map[string]any{
			"head_version_id": next,
			"revision":        gorm.Expr("revision + 1"),
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}

	// 影响行数为 0：分支不存在，或者 head 被人抢先改了
	if res.RowsAffected == 0 {
		cur, err := r.GetBranch(ctx, id)
		if err != nil {
			return err
		}
		return &apperr.StaleError{
			BranchID: id,
			Expected: string(expected),
			Current:  string(cur.HeadVersionID),
		}
	}
	return nil
}

func (r *Repository) UpdateBranchProtection(ctx context.Context, id string, p Protection) error {
	res := r.conn(ctx).Model(&Branch{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"protect_require_review":        p.RequireReview,
			"protect_restrict_push":         p.RestrictPush,
			"protect_require_status_checks": p.RequireStatusChecks,
			"updated_at":                    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("branch", id)
	}
	return nil
}

// DeleteBranch 只删除指针，版本不受影响
func (r *Repository) DeleteBranch(ctx context.Context, id string) error {
	res := r.conn(ctx).Where("id = ?", id).Delete(&Branch{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("branch", id)
	}
	return nil
}
