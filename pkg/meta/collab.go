package meta

import (
	"context"
	"fmt"
	"time"

	"metavault/pkg/apperr"
	"metavault/pkg/types"
)

// -----------------------------------------------------------------------------
// 标签 (Tags)
// -----------------------------------------------------------------------------

func (r *Repository) CreateTag(ctx context.Context, t *Tag) error {
	if err := r.conn(ctx).Create(t).Error; err != nil {
		if isDuplicate(err) {
			return &apperr.ConflictError{Reason: fmt.Sprintf("tag %q already exists", t.Name)}
		}
		return fmt.Errorf("failed to create tag: %w", err)
	}
	return nil
}

func (r *Repository) GetTag(ctx context.Context, id string) (*Tag, error) {
	var t Tag
	if err := r.conn(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err, "tag", id)
	}
	return &t, nil
}

// ListTags 返回文档的标签，versionID 非空时只返回该版本上的
func (r *Repository) ListTags(ctx context.Context, doc types.DocumentID, versionID types.Hash) ([]Tag, error) {
	q := r.conn(ctx).Model(&Tag{})
	if doc != "" {
		q = q.Where("document_id = ?", doc)
	}
	if versionID != "" {
		q = q.Where("version_id = ?", versionID)
	}
	var out []Tag
	err := q.Order("created_at DESC").Order("name").Find(&out).Error
	return out, err
}

func (r *Repository) CountTags(ctx context.Context, versionID types.Hash) (int64, error) {
	var n int64
	err := r.conn(ctx).Model(&Tag{}).Where("version_id = ?", versionID).Count(&n).Error
	return n, err
}

func (r *Repository) DeleteTag(ctx context.Context, id string) error {
	res := r.conn(ctx).Where("id = ?", id).Delete(&Tag{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("tag", id)
	}
	return nil
}

// -----------------------------------------------------------------------------
// 评论 (Comments)
// -----------------------------------------------------------------------------

func (r *Repository) CreateComment(ctx context.Context, c *Comment) error {
	if err := r.conn(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

func (r *Repository) GetComment(ctx context.Context, id string) (*Comment, error) {
	var c Comment
	if err := r.conn(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err, "comment", id)
	}
	return &c, nil
}

// ListComments 按创建时间正序返回，方便客户端按 ParentID 组装讨论串
func (r *Repository) ListComments(ctx context.Context, versionID types.Hash) ([]Comment, error) {
	var out []Comment
	err := r.conn(ctx).
		Where("version_id = ?", versionID).
		Order("created_at").Order("id").
		Find(&out).Error
	return out, err
}

func (r *Repository) updateComment(ctx context.Context, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now()
	res := r.conn(ctx).Model(&Comment{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("comment", id)
	}
	return nil
}

func (r *Repository) UpdateCommentContent(ctx context.Context, id, content string) error {
	return r.updateComment(ctx, id, map[string]any{"content": content})
}

// SetCommentResolved 标记或取消评论的已解决状态
func (r *Repository) SetCommentResolved(ctx context.Context, id string, resolved bool, by string) error {
	fields := map[string]any{"resolved": resolved, "resolved_by": "", "resolved_at": nil}
	if resolved {
		now := time.Now()
		fields["resolved_by"] = by
		fields["resolved_at"] = &now
	}
	return r.updateComment(ctx, id, fields)
}

// DeleteComment 删除评论及其整棵回复子树
func (r *Repository) DeleteComment(ctx context.Context, id string) error {
	return r.Transaction(ctx, func(tx *Repository) error {
		ids := []string{id}
		frontier := []string{id}
		for len(frontier) > 0 {
			var children []string
			if err := tx.conn(ctx).Model(&Comment{}).Where("parent_id IN ?", frontier).Pluck("id", &children).Error; err != nil {
				return err
			}
			ids = append(ids, children...)
			frontier = children
		}

		res := tx.conn(ctx).Where("id = ?", id).Delete(&Comment{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("comment", id)
		}
		return tx.conn(ctx).Where("id IN ?", ids[1:]).Delete(&Comment{}).Error
	})
}

// -----------------------------------------------------------------------------
// 锁 (Locks)
// -----------------------------------------------------------------------------

// PurgeExpiredLocks 清理已经过期的锁，返回清理数量
func (r *Repository) PurgeExpiredLocks(ctx context.Context, versionID types.Hash, now time.Time) (int64, error) {
	q := r.conn(ctx).Where("expires_at <= ?", now)
	if versionID != "" {
		q = q.Where("version_id = ?", versionID)
	}
	res := q.Delete(&Lock{})
	return res.RowsAffected, res.Error
}

// ActiveLocks 返回版本上尚未过期的锁
func (r *Repository) ActiveLocks(ctx context.Context, versionID types.Hash, now time.Time) ([]Lock, error) {
	var out []Lock
	err := r.conn(ctx).
		Where("version_id = ? AND expires_at > ?", versionID, now).
		Order("created_at").
		Find(&out).Error
	return out, err
}

func (r *Repository) CreateLock(ctx context.Context, l *Lock) error {
	if err := r.conn(ctx).Create(l).Error; err != nil {
		return fmt.Errorf("failed to create lock: %w", err)
	}
	return nil
}

func (r *Repository) GetLock(ctx context.Context, id string) (*Lock, error) {
	var l Lock
	if err := r.conn(ctx).Where("id = ?", id).First(&l).Error; err != nil {
		return nil, notFound(err, "lock", id)
	}
	return &l, nil
}

func (r *Repository) DeleteLock(ctx context.Context, id string) error {
	res := r.conn(ctx).Where("id = ?", id).Delete(&Lock{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("lock", id)
	}
	return nil
}
