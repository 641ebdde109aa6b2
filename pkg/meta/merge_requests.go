package meta

import (
	"context"
	"fmt"
	"time"

	"metavault/pkg/apperr"
	"metavault/pkg/types"

	"gorm.io/gorm"
)

func (r *Repository) CreateMergeRequest(ctx context.Context, mr *MergeRequest) error {
	if err := r.conn(ctx).Create(mr).Error; err != nil {
		return fmt.Errorf("failed to create merge request: %w", err)
	}
	return nil
}

func (r *Repository) GetMergeRequest(ctx context.Context, id string) (*MergeRequest, error) {
	var mr MergeRequest
	if err := r.conn(ctx).Where("id = ?", id).First(&mr).Error; err != nil {
		return nil, notFound(err, "merge request", id)
	}
	return &mr, nil
}

// MergeRequestFilter 零值字段不参与过滤
type MergeRequestFilter struct {
	DocumentID types.DocumentID
	Status     MergeRequestStatus
	// BranchID 匹配 source 或 target
	BranchID string
	Limit    int
}

func (r *Repository) ListMergeRequests(ctx context.Context, f MergeRequestFilter) ([]MergeRequest, error) {
	q := r.conn(ctx).Model(&MergeRequest{})
	if f.DocumentID != "" {
		q = q.Where("document_id = ?", f.DocumentID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.BranchID != "" {
		q = q.Where("source_branch_id = ? OR target_branch_id = ?", f.BranchID, f.BranchID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []MergeRequest
	err := q.Order("created_at DESC").Order("id").Find(&out).Error
	return out, err
}

// CountActiveMergeRequestsAt 统计仍在进行中、记录了该版本 (source / target / base) 的合并请求
func (r *Repository) CountActiveMergeRequestsAt(ctx context.Context, versionID types.Hash) (int64, error) {
	var n int64
	err := r.conn(ctx).Model(&MergeRequest{}).
		Where("status NOT IN ?", []MergeRequestStatus{StatusMerged, StatusRejected, StatusClosed}).
		Where("source_version_id = ? OR target_version_id = ? OR base_version_id = ?", versionID, versionID, versionID).
		Count(&n).Error
	return n, err
}

// SaveMergeRequest 以 Revision 做乐观锁写回整条记录
// 成功后 mr.Revision 自增
func (r *Repository) SaveMergeRequest(ctx context.Context, mr *MergeRequest) error {
	res := r.conn(ctx).Model(&MergeRequest{}).
		Where("id = ? AND revision = ?", mr.ID, mr.Revision).
		Updates(map[string]any{
			"source_version_id":    mr.SourceVersionID,
			"target_version_id":    mr.TargetVersionID,
			"base_version_id":      mr.BaseVersionID,
			"status":               mr.Status,
			"conflict_paths":       mr.ConflictPaths,
			"reviewers":            mr.Reviewers,
			"approved_by":          mr.ApprovedBy,
			"status_checks_passed": mr.StatusChecksPassed,
			"merged_version_id":    mr.MergedVersionID,
			"closed_by":            mr.ClosedBy,
			"revision":             gorm.Expr("revision + 1"),
			"updated_at":           time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		cur, err := r.GetMergeRequest(ctx, mr.ID)
		if err != nil {
			return err
		}
		return &apperr.StaleError{
			MergeRequestID: mr.ID,
			BranchID:       mr.TargetBranchID,
			CurrentSource:  string(cur.SourceVersionID),
			CurrentTarget:  string(cur.TargetVersionID),
		}
	}
	mr.Revision++
	return nil
}
