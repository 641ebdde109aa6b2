package engine

import (
	"time"

	"metavault/pkg/core"
	"metavault/pkg/diff"
	"metavault/pkg/meta"
	"metavault/pkg/merge"
	"metavault/pkg/types"
)

// Version 是对外返回的版本信息
// Document 只在读取单个版本或新建版本时填充
type Version struct {
	ID         types.Hash
	DocumentID types.DocumentID
	BranchID   string
	SnapshotID types.Hash
	Parents    []types.Hash
	Author     string
	Message    string
	Summary    string
	CreatedAt  time.Time

	Document *core.Document
}

func versionFromModel(m *meta.VersionModel) *Version {
	return &Version{
		ID:         m.Hash,
		DocumentID: m.DocumentID,
		BranchID:   m.BranchID,
		SnapshotID: m.SnapshotHash,
		Parents:    m.Parents(),
		Author:     m.Author,
		Message:    m.Message,
		Summary:    m.Summary,
		CreatedAt:  m.CreatedTime(),
	}
}

func versionFromCore(v *core.Version) *Version {
	return &Version{
		ID:         v.ID(),
		DocumentID: v.DocumentID,
		BranchID:   v.BranchID,
		SnapshotID: v.SnapshotCid.Hash,
		Parents:    v.ParentHashes(),
		Author:     v.Author,
		Message:    v.Message,
		Summary:    v.Summary,
		CreatedAt:  v.CreatedAt(),
	}
}

// BranchInfo 是分支及其相对来源分支的状态
type BranchInfo struct {
	Branch *meta.Branch
	Head   *Version

	// 相对来源分支 head 的领先/落后提交数；没有来源分支时为 0
	SourceBranch *meta.Branch
	Ahead        int
	Behind       int

	OpenMergeRequests int
}

// Comparison 是两个版本之间的差异
type Comparison struct {
	From *Version
	To   *Version
	Diff *diff.Diff
}

// BranchComparison 在 Comparison 的基础上给出公共祖先与领先/落后数
type BranchComparison struct {
	Comparison
	FromBranch *meta.Branch
	ToBranch   *meta.Branch
	Base       types.Hash

	// Ahead: ToBranch 有而 FromBranch 没有的提交数；Behind 反之
	Ahead  int
	Behind int
}

// MergeResult 是 autoMerge / manualMerge 的结果
// 自动合并遇到冲突时 Success 为 false，不返回错误
type MergeResult struct {
	Success         bool
	MergedVersionID types.Hash
	Messages        []string
	Conflicts       []merge.Conflict
	MergeRequest    *meta.MergeRequest
}

// MergeRequestView 是合并请求及其当前冲突
type MergeRequestView struct {
	MergeRequest *meta.MergeRequest
	Conflicts    []merge.Conflict
}

// PathSuggestions 是某个冲突路径上的建议解决方案
type PathSuggestions struct {
	Path        string
	Kind        merge.Kind
	Suggestions []merge.Suggestion
}

// LineageEntry 是祖先遍历的一项
type LineageEntry struct {
	Version *Version
	Depth   int
}
