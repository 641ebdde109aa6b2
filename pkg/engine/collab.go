package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"metavault/pkg/apperr"
	"metavault/pkg/core"
	"metavault/pkg/meta"
	"metavault/pkg/types"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DefaultLockDuration 是未指定时长时锁的有效期
const DefaultLockDuration = time.Hour

// -----------------------------------------------------------------------------
// 标签
// -----------------------------------------------------------------------------

type CreateTagInput struct {
	VersionID string
	Name      string
	TagType   string
	Metadata  map[string]any
	CreatedBy string
}

func (in CreateTagInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.VersionID, validation.Required),
		validation.Field(&in.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&in.CreatedBy, validation.Required),
	)
}

// CreateTag 给版本打标签，同一文档内标签名唯一
func (e *Engine) CreateTag(ctx context.Context, in CreateTagInput) (*meta.Tag, error) {
	if err := in.Validate(); err != nil {
		return nil, apperr.Validation("tag: %v", err)
	}
	v, err := e.resolveVersion(ctx, in.VersionID)
	if err != nil {
		return nil, err
	}
	t := &meta.Tag{
		ID:         uuid.NewString(),
		DocumentID: v.DocumentID,
		Name:       in.Name,
		VersionID:  v.Hash,
		TagType:    in.TagType,
		Metadata:   datatypes.JSONMap(in.Metadata),
		CreatedBy:  in.CreatedBy,
		CreatedAt:  e.now(),
	}
	err = e.repo.Transaction(ctx, func(tx *meta.Repository) error {
		if err := tx.CreateTag(ctx, t); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, &meta.HistoryEntry{
			DocumentID:  t.DocumentID,
			Action:      meta.ActionCreateTag,
			Description: fmt.Sprintf("tagged %s as %s", v.Hash.Short(), t.Name),
			PerformedBy: in.CreatedBy,
			PerformedAt: e.now(),
			VersionID:   v.Hash,
		})
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTags 返回文档的标签；versionID 非空时只返回该版本上的
func (e *Engine) ListTags(ctx context.Context, doc types.DocumentID, versionID string) ([]meta.Tag, error) {
	var hash types.Hash
	if versionID != "" {
		v, err := e.resolveVersion(ctx, versionID)
		if err != nil {
			return nil, err
		}
		hash = v.Hash
	}
	return e.repo.ListTags(ctx, doc, hash)
}

func (e *Engine) DeleteTag(ctx context.Context, id, performedBy string) error {
	t, err := e.repo.GetTag(ctx, id)
	if err != nil {
		return err
	}
	return e.repo.Transaction(ctx, func(tx *meta.Repository) error {
		if err := tx.DeleteTag(ctx, t.ID); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, &meta.HistoryEntry{
			DocumentID:  t.DocumentID,
			Action:      meta.ActionDeleteTag,
			Description: "deleted tag " + t.Name,
			PerformedBy: performedBy,
			PerformedAt: e.now(),
			VersionID:   t.VersionID,
		})
	})
}

// -----------------------------------------------------------------------------
// 评论
// -----------------------------------------------------------------------------

// CreateCommentInput 描述一条评论；ParentID 非空时是对同一版本上另一条评论的回复
type CreateCommentInput struct {
	VersionID  string
	ParentID   string
	FieldPath  string
	LineNumber int
	Content    string
	Author     string
}

func (in CreateCommentInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.VersionID, validation.Required),
		validation.Field(&in.Content, validation.Required),
		validation.Field(&in.Author, validation.Required),
		validation.Field(&in.LineNumber, validation.Min(0)),
	)
}

func (e *Engine) CreateComment(ctx context.Context, in CreateCommentInput) (*meta.Comment, error) {
	if err := in.Validate(); err != nil {
		return nil, apperr.Validation("comment: %v", err)
	}
	v, err := e.resolveVersion(ctx, in.VersionID)
	if err != nil {
		return nil, err
	}
	fieldPath := in.FieldPath
	if fieldPath != "" {
		p, err := core.ParsePath(fieldPath)
		if err != nil {
			return nil, apperr.Validation("comment: %v", err)
		}
		fieldPath = p.String()
	}
	if in.ParentID != "" {
		parent, err := e.repo.GetComment(ctx, in.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.VersionID != v.Hash {
			return nil, apperr.Validation("comment %s belongs to another version", parent.ID)
		}
	}

	c := &meta.Comment{
		ID:         uuid.NewString(),
		VersionID:  v.Hash,
		ParentID:   in.ParentID,
		FieldPath:  fieldPath,
		LineNumber: in.LineNumber,
		Content:    in.Content,
		Author:     in.Author,
		CreatedAt:  e.now(),
	}
	if err := e.repo.CreateComment(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetComments 按创建顺序返回版本上的全部评论
func (e *Engine) GetComments(ctx context.Context, versionID string) ([]meta.Comment, error) {
	v, err := e.resolveVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return e.repo.ListComments(ctx, v.Hash)
}

// UpdateComment 只有作者本人可以修改内容
func (e *Engine) UpdateComment(ctx context.Context, id, content, author string) (*meta.Comment, error) {
	if content == "" {
		return nil, apperr.Validation("comment content is required")
	}
	c, err := e.repo.GetComment(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Author != author {
		return nil, apperr.Validation("only %s can edit comment %s", c.Author, c.ID)
	}
	if err := e.repo.UpdateCommentContent(ctx, id, content); err != nil {
		return nil, err
	}
	return e.repo.GetComment(ctx, id)
}

// DeleteComment 删除评论及其回复，只有作者本人可以删除
func (e *Engine) DeleteComment(ctx context.Context, id, author string) error {
	c, err := e.repo.GetComment(ctx, id)
	if err != nil {
		return err
	}
	if c.Author != author {
		return apperr.Validation("only %s can delete comment %s", c.Author, c.ID)
	}
	return e.repo.DeleteComment(ctx, id)
}

// ResolveComment 标记 (或取消标记) 讨论已解决
func (e *Engine) ResolveComment(ctx context.Context, id string, resolved bool, by string) (*meta.Comment, error) {
	if err := e.repo.SetCommentResolved(ctx, id, resolved, by); err != nil {
		return nil, err
	}
	return e.repo.GetComment(ctx, id)
}

// -----------------------------------------------------------------------------
// 锁
// -----------------------------------------------------------------------------

// activeLocks 先惰性清理过期的锁，再返回仍然有效的
func (e *Engine) activeLocks(ctx context.Context, versionID types.Hash) ([]meta.Lock, error) {
	now := e.now()
	purged, err := e.repo.PurgeExpiredLocks(ctx, versionID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to purge expired locks: %w", err)
	}
	if purged > 0 {
		e.log.Debug("expired locks purged", slog.String("version", versionID.Short()), slog.Int64("count", purged))
	}
	return e.repo.ActiveLocks(ctx, versionID, now)
}

type LockInput struct {
	VersionID string
	LockedBy  string
	Reason    string
	// Duration <= 0 时使用 DefaultLockDuration
	Duration time.Duration
}

// LockVersion 在版本上声明独占；同一用户重复加锁会延长有效期
// 其他用户持有有效锁时返回 ConflictError
func (e *Engine) LockVersion(ctx context.Context, in LockInput) (*meta.Lock, error) {
	if in.LockedBy == "" {
		return nil, apperr.Validation("lock: user is required")
	}
	v, err := e.resolveVersion(ctx, in.VersionID)
	if err != nil {
		return nil, err
	}
	held, err := e.activeLocks(ctx, v.Hash)
	if err != nil {
		return nil, err
	}
	for _, l := range held {
		if l.LockedBy != in.LockedBy {
			return nil, &apperr.ConflictError{
				Reason: fmt.Sprintf("version %s is locked by %s until %s", v.Hash.Short(), l.LockedBy, l.ExpiresAt.Format(time.RFC3339)),
			}
		}
	}

	d := in.Duration
	if d <= 0 {
		d = DefaultLockDuration
	}
	now := e.now()
	l := &meta.Lock{
		ID:        uuid.NewString(),
		VersionID: v.Hash,
		LockedBy:  in.LockedBy,
		Reason:    in.Reason,
		ExpiresAt: now.Add(d),
		CreatedAt: now,
	}
	err = e.repo.Transaction(ctx, func(tx *meta.Repository) error {
		for _, old := range held {
			if err := tx.DeleteLock(ctx, old.ID); err != nil {
				return err
			}
		}
		if err := tx.CreateLock(ctx, l); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, &meta.HistoryEntry{
			DocumentID:  v.DocumentID,
			Action:      meta.ActionLockVersion,
			Description: fmt.Sprintf("locked %s until %s: %s", v.Hash.Short(), l.ExpiresAt.Format(time.RFC3339), in.Reason),
			PerformedBy: in.LockedBy,
			PerformedAt: now,
			VersionID:   v.Hash,
		})
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// UnlockVersion 释放 user 在版本上持有的锁
func (e *Engine) UnlockVersion(ctx context.Context, versionID, user string) error {
	v, err := e.resolveVersion(ctx, versionID)
	if err != nil {
		return err
	}
	held, err := e.activeLocks(ctx, v.Hash)
	if err != nil {
		return err
	}
	var mine []meta.Lock
	for _, l := range held {
		if l.LockedBy == user {
			mine = append(mine, l)
		}
	}
	if len(mine) == 0 {
		if len(held) > 0 {
			return &apperr.ConflictError{Reason: fmt.Sprintf("version %s is locked by %s", v.Hash.Short(), held[0].LockedBy)}
		}
		return apperr.NotFound("lock", string(v.Hash))
	}
	return e.repo.Transaction(ctx, func(tx *meta.Repository) error {
		for _, l := range mine {
			if err := tx.DeleteLock(ctx, l.ID); err != nil {
				return err
			}
		}
		return tx.AppendHistory(ctx, &meta.HistoryEntry{
			DocumentID:  v.DocumentID,
			Action:      meta.ActionUnlockVersion,
			Description: "unlocked " + v.Hash.Short(),
			PerformedBy: user,
			PerformedAt: e.now(),
			VersionID:   v.Hash,
		})
	})
}

// GetVersionLocks 返回版本上仍然有效的锁
func (e *Engine) GetVersionLocks(ctx context.Context, versionID string) ([]meta.Lock, error) {
	v, err := e.resolveVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return e.activeLocks(ctx, v.Hash)
}
