package meta

import (
	"context"
	"fmt"
	"time"

	"metavault/pkg/types"

	"github.com/google/uuid"
)

// AppendHistory 追加一条审计记录，ID 与 PerformedAt 为空时自动填充
func (r *Repository) AppendHistory(ctx context.Context, e *HistoryEntry) error {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate history id: %w", err)
		}
		e.ID = id.String()
	}
	if e.PerformedAt.IsZero() {
		e.PerformedAt = time.Now()
	}
	if err := r.conn(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// HistoryFilter 审计日志的查询条件，零值字段不参与过滤
type HistoryFilter struct {
	DocumentID types.DocumentID
	BranchID   string
	VersionID  types.Hash
	User       string
	Actions    []HistoryAction
	Since      time.Time
	Limit      int
}

// ListHistory 按时间倒序返回审计记录
func (r *Repository) ListHistory(ctx context.Context, f HistoryFilter) ([]HistoryEntry, error) {
	q := r.conn(ctx).Model(&HistoryEntry{})
	if f.DocumentID != "" {
		q = q.Where("document_id = ?", f.DocumentID)
	}
	if f.BranchID != "" {
		q = q.Where("branch_id = ?", f.BranchID)
	}
	if f.VersionID != "" {
		q = q.Where("version_id = ?", f.VersionID)
	}
	if f.User != "" {
		q = q.Where("performed_by = ?", f.User)
	}
	if len(f.Actions) > 0 {
		q = q.Where("action IN ?", f.Actions)
	}
	if !f.Since.IsZero() {
		q = q.Where("performed_at >= ?", f.Since)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []HistoryEntry
	err := q.Order("performed_at DESC").Order("id DESC").Find(&out).Error
	return out, err
}
