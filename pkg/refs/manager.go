// Package refs 管理分支指针：创建、删除、保护规则与 head 的 CAS 移动
package refs

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"metavault/pkg/apperr"
	"metavault/pkg/meta"
	"metavault/pkg/types"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

var branchNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

// Ancestry 判断版本之间的祖先关系，用于检测未合并的提交
type Ancestry interface {
	IsAncestor(ctx context.Context, ancestor, descendant types.Hash) (bool, error)
}

// Manager 负责管理分支
type Manager struct {
	repo     *meta.Repository
	ancestry Ancestry
}

func NewManager(repo *meta.Repository, ancestry Ancestry) *Manager {
	return &Manager{repo: repo, ancestry: ancestry}
}

// WithRepo 返回绑定到另一个 Repository (通常是事务) 的 Manager
func (m *Manager) WithRepo(repo *meta.Repository) *Manager {
	return &Manager{repo: repo, ancestry: m.ancestry}
}

// CreateRequest 描述一个新分支
// Head 必须是已存在的版本；SourceBranchID 为空表示文档的第一个分支
type CreateRequest struct {
	// ID 为空时自动生成
	ID             string
	DocumentID     types.DocumentID
	Name           string
	SourceBranchID string
	Head           types.Hash
	CreatedBy      string
}

func (r CreateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DocumentID, validation.Required),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 255), validation.Match(branchNamePattern)),
		validation.Field(&r.Head, validation.Required),
	)
}

func (m *Manager) Create(ctx context.Context, req CreateRequest) (*meta.Branch, error) {
	if err := req.Validate(); err != nil {
		return nil, apperr.Validation("branch: %v", err)
	}

	v, err := m.repo.GetVersion(ctx, req.Head)
	if err != nil {
		return nil, err
	}
	if v.DocumentID != req.DocumentID {
		return nil, apperr.Validation("version %s belongs to document %s, not %s", req.Head.Short(), v.DocumentID, req.DocumentID)
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	b := &meta.Branch{
		ID:             id,
		DocumentID:     req.DocumentID,
		Name:           req.Name,
		HeadVersionID:  req.Head,
		SourceBranchID: req.SourceBranchID,
		ForkVersionID:  req.Head,
		IsActive:       true,
		CreatedBy:      req.CreatedBy,
		Revision:       1,
	}
	if err := m.repo.CreateBranch(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*meta.Branch, error) {
	return m.repo.GetBranch(ctx, id)
}

// Resolve 先按 ID 查找，找不到再按 (文档, 名字) 查找
func (m *Manager) Resolve(ctx context.Context, doc types.DocumentID, idOrName string) (*meta.Branch, error) {
	b, err := m.repo.GetBranch(ctx, idOrName)
	if err == nil {
		return b, nil
	}
	if doc == "" {
		return nil, err
	}
	return m.repo.GetBranchByName(ctx, doc, idOrName)
}

func (m *Manager) List(ctx context.Context, doc types.DocumentID) ([]meta.Branch, error) {
	return m.repo.ListBranches(ctx, doc)
}

// Unmerged 判断分支 head 是否还没有合并回来源分支
// 来源分支已经不存在时 (或文档的第一个分支)，退化为检查同一文档的其它分支能否到达它
func (m *Manager) Unmerged(ctx context.Context, b *meta.Branch) (bool, error) {
	if b.SourceBranchID != "" {
		src, err := m.repo.GetBranch(ctx, b.SourceBranchID)
		switch {
		case err == nil:
			ok, err := m.ancestry.IsAncestor(ctx, b.HeadVersionID, src.HeadVersionID)
			if err != nil {
				return false, err
			}
			return !ok, nil
		case !errors.Is(err, apperr.ErrNotFound):
			return false, err
		}
	}

	others, err := m.repo.ListBranches(ctx, b.DocumentID)
	if err != nil {
		return false, err
	}
	for _, o := range others {
		if o.ID == b.ID {
			continue
		}
		ok, err := m.ancestry.IsAncestor(ctx, b.HeadVersionID, o.HeadVersionID)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
	return true, nil
}

// Delete 删除分支指针，版本不受影响
// 非 force 模式下，受保护的分支和含有未合并提交的分支拒绝删除
func (m *Manager) Delete(ctx context.Context, id string, force bool) (*meta.Branch, error) {
	b, err := m.repo.GetBranch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !force {
		if b.Protection.Any() {
			return nil, apperr.Protected(b.Name, "unprotect the branch before deleting it")
		}
		unmerged, err := m.Unmerged(ctx, b)
		if err != nil {
			return nil, err
		}
		if unmerged {
			return nil, &apperr.ConflictError{
				Reason: fmt.Sprintf("branch %q has commits not merged into its source branch; use force to delete", b.Name),
			}
		}
	}
	if err := m.repo.DeleteBranch(ctx, id); err != nil {
		return nil, err
	}
	return b, nil
}

func (m *Manager) Protect(ctx context.Context, id string, rules meta.Protection) (*meta.Branch, error) {
	if err := m.repo.UpdateBranchProtection(ctx, id, rules); err != nil {
		return nil, err
	}
	return m.repo.GetBranch(ctx, id)
}

func (m *Manager) Unprotect(ctx context.Context, id string) (*meta.Branch, error) {
	return m.Protect(ctx, id, meta.Protection{})
}

// Move 表示移动 head 的方式
type Move int

const (
	MoveCommit Move = iota
	MoveRestore
	MoveRevert
	MoveCherryPick
	MoveDeleteVersion
	// MoveMergeRequest 是唯一允许移动 restrictPush 分支的方式
	MoveMergeRequest
)

func (mv Move) String() string {
	switch mv {
	case MoveCommit:
		return "commit"
	case MoveRestore:
		return "restore"
	case MoveRevert:
		return "revert"
	case MoveCherryPick:
		return "cherry-pick"
	case MoveDeleteVersion:
		return "delete-version"
	case MoveMergeRequest:
		return "merge-request"
	}
	return "unknown"
}

// CheckMove 校验保护规则是否允许以 mv 的方式移动分支 head
func CheckMove(b *meta.Branch, mv Move) error {
	if b.Protection.RestrictPush && mv != MoveMergeRequest {
		return apperr.Protected(b.Name, fmt.Sprintf("%s is not allowed, only merge requests may move the head", mv))
	}
	return nil
}

// Advance 以 CAS 方式把 head 从 b.HeadVersionID 移动到 next
// 成功后 b 被原地更新
func (m *Manager) Advance(ctx context.Context, b *meta.Branch, next types.Hash, mv Move) error {
	if err := CheckMove(b, mv); err != nil {
		return err
	}
	if err := m.repo.UpdateBranchHead(ctx, b.ID, b.HeadVersionID, next); err != nil {
		return err
	}
	b.HeadVersionID = next
	b.Revision++
	return nil
}
