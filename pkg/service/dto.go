package service

import (
	"encoding/json"
	"fmt"
	"time"

	"metavault/pkg/apperr"
	"metavault/pkg/core"
	"metavault/pkg/diff"
	"metavault/pkg/engine"
	"metavault/pkg/meta"
	"metavault/pkg/merge"
)

// =============================================================================
// 实体 (服务端 -> 客户端)
// =============================================================================

type Version struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	BranchID   string         `json:"branch_id"`
	SnapshotID string         `json:"snapshot_id"`
	Parents    []string       `json:"parents"`
	Author     string         `json:"author"`
	Message    string         `json:"message"`
	Summary    string         `json:"summary"`
	CreatedAt  time.Time      `json:"created_at"`
	Document   *core.Document `json:"document,omitempty"`
}

func toVersion(v *engine.Version) *Version {
	if v == nil {
		return nil
	}
	parents := make([]string, len(v.Parents))
	for i, p := range v.Parents {
		parents[i] = string(p)
	}
	return &Version{
		ID:         string(v.ID),
		DocumentID: string(v.DocumentID),
		BranchID:   v.BranchID,
		SnapshotID: string(v.SnapshotID),
		Parents:    parents,
		Author:     v.Author,
		Message:    v.Message,
		Summary:    v.Summary,
		CreatedAt:  v.CreatedAt,
		Document:   v.Document,
	}
}

type Protection struct {
	RequireReview       bool `json:"require_review"`
	RestrictPush        bool `json:"restrict_push"`
	RequireStatusChecks bool `json:"require_status_checks"`
}

type Branch struct {
	ID             string     `json:"id"`
	DocumentID     string     `json:"document_id"`
	Name           string     `json:"name"`
	HeadVersionID  string     `json:"head_version_id"`
	SourceBranchID string     `json:"source_branch_id,omitempty"`
	ForkVersionID  string     `json:"fork_version_id,omitempty"`
	Protection     Protection `json:"protection"`
	CreatedBy      string     `json:"created_by"`
	Revision       int64      `json:"revision"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toBranch(b *meta.Branch) *Branch {
	if b == nil {
		return nil
	}
	return &Branch{
		ID:             b.ID,
		DocumentID:     string(b.DocumentID),
		Name:           b.Name,
		HeadVersionID:  string(b.HeadVersionID),
		SourceBranchID: b.SourceBranchID,
		ForkVersionID:  string(b.ForkVersionID),
		Protection:     Protection(b.Protection),
		CreatedBy:      b.CreatedBy,
		Revision:       b.Revision,
		CreatedAt:      b.CreatedAt,
	}
}

type BranchInfo struct {
	Branch            *Branch  `json:"branch"`
	Head              *Version `json:"head"`
	SourceBranch      *Branch  `json:"source_branch,omitempty"`
	Ahead             int      `json:"ahead"`
	Behind            int      `json:"behind"`
	OpenMergeRequests int      `json:"open_merge_requests"`
}

type Change struct {
	Path string          `json:"path"`
	Type diff.ChangeType `json:"type"`
	Old  json.RawMessage `json:"old,omitempty"`
	New  json.RawMessage `json:"new,omitempty"`
}

type Diff struct {
	Summary diff.Summary `json:"summary"`
	Changes []Change     `json:"changes"`
}

func toDiff(d *diff.Diff) (*Diff, error) {
	out := &Diff{Summary: d.Summary(), Changes: make([]Change, 0, d.Len())}
	for _, c := range d.Changes {
		oldRaw, err := rawNode(c.Old)
		if err != nil {
			return nil, err
		}
		newRaw, err := rawNode(c.New)
		if err != nil {
			return nil, err
		}
		out.Changes = append(out.Changes, Change{Path: c.Path.String(), Type: c.Type, Old: oldRaw, New: newRaw})
	}
	return out, nil
}

// rawNode 不存在的节点编码为空 (omitempty)，与 JSON null 区分
func rawNode(n core.Node) (json.RawMessage, error) {
	if n == nil {
		return nil, nil
	}
	b, err := core.MarshalNode(n)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

type Comparison struct {
	From *Version `json:"from"`
	To   *Version `json:"to"`
	Diff *Diff    `json:"diff"`

	// 仅分支比较时填充
	Base   string `json:"base,omitempty"`
	Ahead  int    `json:"ahead,omitempty"`
	Behind int    `json:"behind,omitempty"`
}

type Resolution struct {
	Path   string          `json:"path"`
	Value  json.RawMessage `json:"value,omitempty"`
	Remove bool            `json:"remove,omitempty"`
}

func toResolution(r merge.Resolution) (Resolution, error) {
	raw, err := rawNode(r.Value)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Path: r.Path.String(), Value: raw, Remove: r.Remove}, nil
}

func fromResolutions(in []Resolution) ([]merge.Resolution, error) {
	out := make([]merge.Resolution, 0, len(in))
	for _, r := range in {
		p, err := core.ParsePath(r.Path)
		if err != nil {
			return nil, apperr.Validation("resolution: %v", err)
		}
		res := merge.Resolution{Path: p, Remove: r.Remove}
		if !r.Remove {
			if len(r.Value) == 0 {
				return nil, apperr.Validation("resolution for %s has neither a value nor remove", r.Path)
			}
			n, err := core.ParseNode(r.Value)
			if err != nil {
				return nil, apperr.Validation("resolution for %s: %v", r.Path, err)
			}
			res.Value = n
		}
		out = append(out, res)
	}
	return out, nil
}

type Suggestion struct {
	Strategy    merge.Strategy `json:"strategy"`
	Description string         `json:"description"`
	Resolution  Resolution     `json:"resolution"`
}

type Conflict struct {
	Path        string          `json:"path"`
	Kind        merge.Kind      `json:"kind"`
	Base        json.RawMessage `json:"base,omitempty"`
	Source      json.RawMessage `json:"source,omitempty"`
	Target      json.RawMessage `json:"target,omitempty"`
	Suggestions []Suggestion    `json:"suggestions,omitempty"`
}

func toSuggestions(in []merge.Suggestion) ([]Suggestion, error) {
	out := make([]Suggestion, 0, len(in))
	for _, s := range in {
		r, err := toResolution(s.Resolution)
		if err != nil {
			return nil, err
		}
		out = append(out, Suggestion{Strategy: s.Strategy, Description: s.Description, Resolution: r})
	}
	return out, nil
}

func toConflicts(in []merge.Conflict) ([]Conflict, error) {
	out := make([]Conflict, 0, len(in))
	for _, c := range in {
		dto := Conflict{Path: c.Path.String(), Kind: c.Kind}
		var err error
		if dto.Base, err = rawNode(c.Base); err != nil {
			return nil, err
		}
		if dto.Source, err = rawNode(c.Source); err != nil {
			return nil, err
		}
		if dto.Target, err = rawNode(c.Target); err != nil {
			return nil, err
		}
		if dto.Suggestions, err = toSuggestions(c.Suggestions); err != nil {
			return nil, err
		}
		out = append(out, dto)
	}
	return out, nil
}

type MergeRequest struct {
	ID                 string                  `json:"id"`
	DocumentID         string                  `json:"document_id"`
	Title              string                  `json:"title"`
	Description        string                  `json:"description,omitempty"`
	SourceBranchID     string                  `json:"source_branch_id"`
	TargetBranchID     string                  `json:"target_branch_id"`
	SourceVersionID    string                  `json:"source_version_id"`
	TargetVersionID    string                  `json:"target_version_id"`
	BaseVersionID      string                  `json:"base_version_id,omitempty"`
	Status             meta.MergeRequestStatus `json:"status"`
	ConflictPaths      []string                `json:"conflict_paths"`
	Reviewers          []string                `json:"reviewers"`
	ApprovedBy         []string                `json:"approved_by"`
	StatusChecksPassed bool                    `json:"status_checks_passed"`
	MergedVersionID    string                  `json:"merged_version_id,omitempty"`
	CreatedBy          string                  `json:"created_by"`
	ClosedBy           string                  `json:"closed_by,omitempty"`
	Revision           int64                   `json:"revision"`
	CreatedAt          time.Time               `json:"created_at"`
	UpdatedAt          time.Time               `json:"updated_at"`
}

func toMergeRequest(mr *meta.MergeRequest) *MergeRequest {
	if mr == nil {
		return nil
	}
	return &MergeRequest{
		ID:                 mr.ID,
		DocumentID:         string(mr.DocumentID),
		Title:              mr.Title,
		Description:        mr.Description,
		SourceBranchID:     mr.SourceBranchID,
		TargetBranchID:     mr.TargetBranchID,
		SourceVersionID:    string(mr.SourceVersionID),
		TargetVersionID:    string(mr.TargetVersionID),
		BaseVersionID:      string(mr.BaseVersionID),
		Status:             mr.Status,
		ConflictPaths:      mr.ConflictPaths,
		Reviewers:          mr.Reviewers,
		ApprovedBy:         mr.ApprovedBy,
		StatusChecksPassed: mr.StatusChecksPassed,
		MergedVersionID:    string(mr.MergedVersionID),
		CreatedBy:          mr.CreatedBy,
		ClosedBy:           mr.ClosedBy,
		Revision:           mr.Revision,
		CreatedAt:          mr.CreatedAt,
		UpdatedAt:          mr.UpdatedAt,
	}
}

type MergeRequestView struct {
	MergeRequest *MergeRequest `json:"merge_request"`
	Conflicts    []Conflict    `json:"conflicts"`
}

type MergeResult struct {
	Success         bool          `json:"success"`
	MergedVersionID string        `json:"merged_version_id,omitempty"`
	Messages        []string      `json:"messages"`
	Conflicts       []Conflict    `json:"conflicts,omitempty"`
	MergeRequest    *MergeRequest `json:"merge_request"`
}

type PathSuggestions struct {
	Path        string       `json:"path"`
	Kind        merge.Kind   `json:"kind"`
	Suggestions []Suggestion `json:"suggestions"`
}

type LineageEntry struct {
	Version *Version `json:"version"`
	Depth   int      `json:"depth"`
}

type HistoryEntry struct {
	ID             string             `json:"id"`
	DocumentID     string             `json:"document_id"`
	Action         meta.HistoryAction `json:"action"`
	Description    string             `json:"description"`
	ChangesSummary string             `json:"changes_summary,omitempty"`
	PerformedBy    string             `json:"performed_by"`
	PerformedAt    time.Time          `json:"performed_at"`
	VersionID      string             `json:"version_id,omitempty"`
	BranchID       string             `json:"branch_id,omitempty"`
	MergeRequestID string             `json:"merge_request_id,omitempty"`
}

func toHistory(in []meta.HistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, len(in))
	for i, h := range in {
		out[i] = HistoryEntry{
			ID:             h.ID,
			DocumentID:     string(h.DocumentID),
			Action:         h.Action,
			Description:    h.Description,
			ChangesSummary: h.ChangesSummary,
			PerformedBy:    h.PerformedBy,
			PerformedAt:    h.PerformedAt,
			VersionID:      string(h.VersionID),
			BranchID:       h.BranchID,
			MergeRequestID: h.MergeRequestID,
		}
	}
	return out
}

type Tag struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Name       string         `json:"name"`
	VersionID  string         `json:"version_id"`
	TagType    string         `json:"tag_type,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedBy  string         `json:"created_by"`
	CreatedAt  time.Time      `json:"created_at"`
}

func toTag(t *meta.Tag) *Tag {
	return &Tag{
		ID:         t.ID,
		DocumentID: string(t.DocumentID),
		Name:       t.Name,
		VersionID:  string(t.VersionID),
		TagType:    t.TagType,
		Metadata:   t.Metadata,
		CreatedBy:  t.CreatedBy,
		CreatedAt:  t.CreatedAt,
	}
}

type Comment struct {
	ID         string     `json:"id"`
	VersionID  string     `json:"version_id"`
	ParentID   string     `json:"parent_id,omitempty"`
	FieldPath  string     `json:"field_path,omitempty"`
	LineNumber int        `json:"line_number,omitempty"`
	Content    string     `json:"content"`
	Author     string     `json:"author"`
	Resolved   bool       `json:"resolved"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toComment(c *meta.Comment) *Comment {
	return &Comment{
		ID:         c.ID,
		VersionID:  string(c.VersionID),
		ParentID:   c.ParentID,
		FieldPath:  c.FieldPath,
		LineNumber: c.LineNumber,
		Content:    c.Content,
		Author:     c.Author,
		Resolved:   c.Resolved,
		ResolvedBy: c.ResolvedBy,
		ResolvedAt: c.ResolvedAt,
		CreatedAt:  c.CreatedAt,
	}
}

type Lock struct {
	ID        string    `json:"id"`
	VersionID string    `json:"version_id"`
	LockedBy  string    `json:"locked_by"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

func toLock(l *meta.Lock) *Lock {
	return &Lock{ID: l.ID, VersionID: string(l.VersionID), LockedBy: l.LockedBy, Reason: l.Reason, ExpiresAt: l.ExpiresAt}
}

// =============================================================================
// 请求 (客户端 -> 服务端)
// =============================================================================

type CreateVersionRequest struct {
	DocumentID   string         `json:"document_id"`
	Branch       string         `json:"branch,omitempty"`
	Document     *core.Document `json:"document"`
	Author       string         `json:"author"`
	Message      string         `json:"message"`
	ExpectedHead string         `json:"expected_head,omitempty"`
}

// VersionRequest 只定位一个版本的请求共用
type VersionRequest struct {
	VersionID string `json:"version_id"`
	User      string `json:"user,omitempty"`
	MaxDepth  int    `json:"max_depth,omitempty"`
}

type ListVersionsRequest struct {
	DocumentID string `json:"document_id"`
	Branch     string `json:"branch,omitempty"`
	Author     string `json:"author,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

type RestoreVersionRequest struct {
	VersionID string `json:"version_id"`
	Branch    string `json:"branch,omitempty"`
	Author    string `json:"author"`
	Message   string `json:"message,omitempty"`
}

type CompareRequest struct {
	DocumentID string `json:"document_id,omitempty"`
	From       string `json:"from"`
	To         string `json:"to"`
}

type CreateBranchRequest struct {
	DocumentID    string `json:"document_id"`
	Name          string `json:"name"`
	SourceBranch  string `json:"source_branch,omitempty"`
	SourceVersion string `json:"source_version,omitempty"`
	CreatedBy     string `json:"created_by"`
}

// BranchRequest 只定位一个分支的请求共用
type BranchRequest struct {
	DocumentID string     `json:"document_id"`
	Branch     string     `json:"branch,omitempty"`
	User       string     `json:"user,omitempty"`
	Force      bool       `json:"force,omitempty"`
	Protection Protection `json:"protection"`
	MaxDepth   int        `json:"max_depth,omitempty"`
}

type CreateMergeRequestRequest struct {
	DocumentID   string   `json:"document_id"`
	SourceBranch string   `json:"source_branch"`
	TargetBranch string   `json:"target_branch"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Reviewers    []string `json:"reviewers,omitempty"`
	CreatedBy    string   `json:"created_by"`
}

// MergeRequestRef 只定位一个合并请求的请求共用
type MergeRequestRef struct {
	ID     string `json:"id"`
	User   string `json:"user,omitempty"`
	Reason string `json:"reason,omitempty"`
	Passed bool   `json:"passed,omitempty"`
}

type ListMergeRequestsRequest struct {
	DocumentID string                  `json:"document_id"`
	Status     meta.MergeRequestStatus `json:"status,omitempty"`
	Branch     string                  `json:"branch,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
}

// ManualMergeRequest 可以逐个给出解决方案，也可以指定一个统一策略
type ManualMergeRequest struct {
	ID          string         `json:"id"`
	Resolutions []Resolution   `json:"resolutions,omitempty"`
	Strategy    merge.Strategy `json:"strategy,omitempty"`
	User        string         `json:"user"`
}

type CherryPickRequest struct {
	VersionID    string       `json:"version_id"`
	TargetBranch string       `json:"target_branch,omitempty"`
	Paths        []string     `json:"paths,omitempty"`
	Resolutions  []Resolution `json:"resolutions,omitempty"`
	Author       string       `json:"author"`
	Message      string       `json:"message,omitempty"`
}

type HistoryRequest struct {
	DocumentID string               `json:"document_id,omitempty"`
	Branch     string               `json:"branch,omitempty"`
	VersionID  string               `json:"version_id,omitempty"`
	User       string               `json:"user,omitempty"`
	Actions    []meta.HistoryAction `json:"actions,omitempty"`
	Since      time.Time            `json:"since,omitempty"`
	Limit      int                  `json:"limit,omitempty"`
}

type CreateTagRequest struct {
	VersionID string         `json:"version_id"`
	Name      string         `json:"name"`
	TagType   string         `json:"tag_type,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedBy string         `json:"created_by"`
}

type ListTagsRequest struct {
	DocumentID string `json:"document_id"`
	VersionID  string `json:"version_id,omitempty"`
}

// ItemRequest 按 ID 操作标签或评论
type ItemRequest struct {
	ID       string `json:"id"`
	User     string `json:"user"`
	Content  string `json:"content,omitempty"`
	Resolved bool   `json:"resolved,omitempty"`
}

type CreateCommentRequest struct {
	VersionID  string `json:"version_id"`
	ParentID   string `json:"parent_id,omitempty"`
	FieldPath  string `json:"field_path,omitempty"`
	LineNumber int    `json:"line_number,omitempty"`
	Content    string `json:"content"`
	Author     string `json:"author"`
}

type LockRequest struct {
	VersionID string        `json:"version_id"`
	User      string        `json:"user"`
	Reason    string        `json:"reason,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// =============================================================================
// 列表响应
// =============================================================================

type Empty struct{}

type VersionList struct {
	Versions []*Version `json:"versions"`
}

type BranchList struct {
	Branches []*Branch `json:"branches"`
}

type MergeRequestList struct {
	MergeRequests []*MergeRequest `json:"merge_requests"`
}

type ConflictList struct {
	Conflicts []Conflict `json:"conflicts"`
}

type SuggestionList struct {
	Paths []PathSuggestions `json:"paths"`
}

type Lineage struct {
	Entries []LineageEntry `json:"entries"`
}

type History struct {
	Entries []HistoryEntry `json:"entries"`
}

type BranchHistory struct {
	Branch   *Branch        `json:"branch"`
	Versions []*Version     `json:"versions"`
	Entries  []HistoryEntry `json:"entries"`
}

type TagList struct {
	Tags []*Tag `json:"tags"`
}

type CommentList struct {
	Comments []*Comment `json:"comments"`
}

type LockList struct {
	Locks []*Lock `json:"locks"`
}

func encodeErr(what string, err error) error {
	return fmt.Errorf("failed to encode %s: %w", what, err)
}
