package meta

import (
	"errors"
	"time"

	"metavault/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Protection 是分支的保护规则
type Protection struct {
	// RequireReview: 合并请求至少需要一个批准
	RequireReview bool `gorm:"default:false"`
	// RestrictPush: 只有通过合并请求才能移动 head
	RestrictPush bool `gorm:"default:false"`
	// RequireStatusChecks: 合并请求需要状态检查通过
	RequireStatusChecks bool `gorm:"default:false"`
}

// Any 是否设置了任意规则
func (p Protection) Any() bool {
	return p.RequireReview || p.RestrictPush || p.RequireStatusChecks
}

// Branch 是可变的具名指针，指向某个文档的版本 DAG
type Branch struct {
	ID         string           `gorm:"primaryKey;type:varchar(36)"`
	DocumentID types.DocumentID `gorm:"type:varchar(255);not null;uniqueIndex:idx_branch_doc_name"`
	Name       string           `gorm:"type:varchar(255);not null;uniqueIndex:idx_branch_doc_name"`

	// HeadVersionID 是唯一会被修改的字段，所有修改都走 CAS
	HeadVersionID types.Hash `gorm:"type:char(64);not null;index"`

	// 创建时的来源分支与分叉点，用于判断是否存在未合并的提交
	SourceBranchID string     `gorm:"type:varchar(36)"`
	ForkVersionID  types.Hash `gorm:"type:char(64)"`

	Protection Protection `gorm:"embedded;embeddedPrefix:protect_"`
	IsActive   bool       `gorm:"default:true"`
	CreatedBy  string     `gorm:"type:varchar(100)"`

	// Revision 每次 head 移动时 +1
	Revision int64 `gorm:"default:1"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// VersionModel 是 core.Version 在关系型数据库中的投影 (索引)
// 版本内容本身在对象存储里，这里只保存查询所需的字段
type VersionModel struct {
	Hash types.Hash `gorm:"primaryKey;type:char(64)"`

	DocumentID types.DocumentID `gorm:"type:varchar(255);not null;index"`
	BranchID   string           `gorm:"type:varchar(36);index"`

	SnapshotHash types.Hash `gorm:"type:char(64);not null"`

	// 最多两个父节点，定长两列比边表更容易查询子节点
	Parent1 types.Hash `gorm:"type:char(64);index"`
	Parent2 types.Hash `gorm:"type:char(64);index"`

	Author    string `gorm:"index;type:varchar(100)"`
	Message   string `gorm:"type:text"`
	Summary   string `gorm:"type:text"`
	Timestamp int64  `gorm:"index"` // Unix 纳秒

	CreatedAt time.Time
}

func (VersionModel) TableName() string {
	return "versions"
}

// Parents 返回非空的父节点列表
func (v *VersionModel) Parents() []types.Hash {
	var out []types.Hash
	for _, p := range []types.Hash{v.Parent1, v.Parent2} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (v *VersionModel) CreatedTime() time.Time {
	return time.Unix(0, v.Timestamp)
}

// MergeRequestStatus 合并请求的状态
type MergeRequestStatus string

const (
	StatusOpen               MergeRequestStatus = "open"
	StatusBlockedByConflicts MergeRequestStatus = "blocked_by_conflicts"
	StatusApproved           MergeRequestStatus = "approved"
	StatusMerged             MergeRequestStatus = "merged"
	StatusRejected           MergeRequestStatus = "rejected"
	StatusClosed             MergeRequestStatus = "closed"
)

// Terminal 是否为终态
func (s MergeRequestStatus) Terminal() bool {
	return s == StatusMerged || s == StatusRejected || s == StatusClosed
}

// MergeRequest 记录一次从 source 分支到 target 分支的合并意图
// 冲突本身不落库，只保存冲突路径，需要时根据两侧 tip 重新计算
type MergeRequest struct {
	ID          string           `gorm:"primaryKey;type:varchar(36)"`
	DocumentID  types.DocumentID `gorm:"type:varchar(255);not null;index"`
	Title       string           `gorm:"type:varchar(255)"`
	Description string           `gorm:"type:text"`

	SourceBranchID  string     `gorm:"type:varchar(36);not null;index"`
	TargetBranchID  string     `gorm:"type:varchar(36);not null;index"`
	SourceVersionID types.Hash `gorm:"type:char(64);not null"`
	TargetVersionID types.Hash `gorm:"type:char(64);not null"`
	BaseVersionID   types.Hash `gorm:"type:char(64)"`

	Status        MergeRequestStatus `gorm:"type:varchar(32);not null;index"`
	ConflictPaths datatypes.JSONSlice[string]
	Reviewers     datatypes.JSONSlice[string]
	ApprovedBy    datatypes.JSONSlice[string]

	// StatusChecksPassed 由外部 CI 回写
	StatusChecksPassed bool `gorm:"default:false"`

	MergedVersionID types.Hash `gorm:"type:char(64)"`
	CreatedBy       string     `gorm:"type:varchar(100)"`
	ClosedBy        string     `gorm:"type:varchar(100)"`

	// Revision 用于乐观锁，防止两个请求同时推进状态
	Revision int64 `gorm:"default:1"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ErrAppendOnly 审计日志禁止修改和删除
var ErrAppendOnly = errors.New("history entries are append-only")

// HistoryAction 审计动作类型
type HistoryAction string

const (
	ActionCreateVersion      HistoryAction = "create_version"
	ActionRestoreVersion     HistoryAction = "restore_version"
	ActionDeleteVersion      HistoryAction = "delete_version"
	ActionCreateBranch       HistoryAction = "create_branch"
	ActionDeleteBranch       HistoryAction = "delete_branch"
	ActionProtectBranch      HistoryAction = "protect_branch"
	ActionUnprotectBranch    HistoryAction = "unprotect_branch"
	ActionCreateMergeRequest HistoryAction = "create_merge_request"
	ActionReviewMergeRequest HistoryAction = "review_merge_request"
	ActionCloseMergeRequest  HistoryAction = "close_merge_request"
	ActionMerge              HistoryAction = "merge"
	ActionCherryPick         HistoryAction = "cherry_pick"
	ActionRevert             HistoryAction = "revert"
	ActionCreateTag          HistoryAction = "create_tag"
	ActionDeleteTag          HistoryAction = "delete_tag"
	ActionLockVersion        HistoryAction = "lock_version"
	ActionUnlockVersion      HistoryAction = "unlock_version"
)

// HistoryEntry 是只追加的审计记录
type HistoryEntry struct {
	// ID 使用 UUIDv7，按时间单调递增，可作为同一时刻的排序依据
	ID         string           `gorm:"primaryKey;type:varchar(36)"`
	DocumentID types.DocumentID `gorm:"type:varchar(255);not null;index"`

	Action         HistoryAction `gorm:"type:varchar(64);not null;index"`
	Description    string        `gorm:"type:text"`
	ChangesSummary string        `gorm:"type:text"`

	PerformedBy string    `gorm:"type:varchar(100);index"`
	PerformedAt time.Time `gorm:"not null;index"`

	VersionID      types.Hash `gorm:"type:char(64);index"`
	BranchID       string     `gorm:"type:varchar(36);index"`
	MergeRequestID string     `gorm:"type:varchar(36)"`
}

func (HistoryEntry) TableName() string {
	return "history"
}

func (*HistoryEntry) BeforeUpdate(*gorm.DB) error { return ErrAppendOnly }
func (*HistoryEntry) BeforeDelete(*gorm.DB) error { return ErrAppendOnly }

// Tag 是版本上的不可变标签
type Tag struct {
	ID         string           `gorm:"primaryKey;type:varchar(36)"`
	DocumentID types.DocumentID `gorm:"type:varchar(255);not null;uniqueIndex:idx_tag_doc_name"`
	Name       string           `gorm:"type:varchar(255);not null;uniqueIndex:idx_tag_doc_name"`
	VersionID  types.Hash       `gorm:"type:char(64);not null;index"`
	TagType    string           `gorm:"type:varchar(64)"`
	Metadata   datatypes.JSONMap

	CreatedBy string `gorm:"type:varchar(100)"`
	CreatedAt time.Time
}

// Comment 是版本上的评论，可以回复 (ParentID) 并限定到某个字段路径
type Comment struct {
	ID        string     `gorm:"primaryKey;type:varchar(36)"`
	VersionID types.Hash `gorm:"type:char(64);not null;index"`
	ParentID  string     `gorm:"type:varchar(36);index"`

	FieldPath  string `gorm:"type:text"`
	LineNumber int

	Content string `gorm:"type:text;not null"`
	Author  string `gorm:"type:varchar(100);index"`

	Resolved   bool `gorm:"default:false"`
	ResolvedBy string
	ResolvedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Lock 是版本上的建议性独占声明，过期后自动失效
type Lock struct {
	ID        string     `gorm:"primaryKey;type:varchar(36)"`
	VersionID types.Hash `gorm:"type:char(64);not null;index"`
	LockedBy  string     `gorm:"type:varchar(100);not null"`
	Reason    string     `gorm:"type:text"`
	ExpiresAt time.Time  `gorm:"not null;index"`
	CreatedAt time.Time
}

// Active 判断锁在给定时刻是否仍然有效
func (l *Lock) Active(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}
