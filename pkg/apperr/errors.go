// Package apperr 定义版本引擎对外暴露的错误类别
//
// 调用方通过 errors.Is 判断类别，通过 errors.As 取出携带的结构化细节
// (冲突路径、当前分支 tip 等)，然后自行重算、重试。引擎内部从不重试。
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrStaleMergeRequest      = errors.New("stale merge request")
	ErrIncompleteResolution   = errors.New("incomplete conflict resolution")
	ErrProtectedBranch        = errors.New("protected branch")
	ErrValidation             = errors.New("validation failed")
)

// NotFound 构造带实体描述的 NotFound 错误
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// Validation 构造校验错误
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Protected 构造受保护分支错误
func Protected(branch, reason string) error {
	return fmt.Errorf("branch %q: %w: %s", branch, ErrProtectedBranch, reason)
}

// ConflictError 描述结构冲突或被引用对象的删除冲突
// Conflicts 的具体类型由产生者决定 (合并时是 []merge.Conflict)
type ConflictError struct {
	Reason    string
	Paths     []string
	Conflicts any
}

func (e *ConflictError) Error() string {
	if len(e.Paths) == 0 {
		return fmt.Sprintf("conflict: %s", e.Reason)
	}
	return fmt.Sprintf("conflict: %s (paths: %s)", e.Reason, strings.Join(e.Paths, ", "))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// StaleError 表示乐观并发检查失败：分支 head 或合并请求记录的 tip 已经移动
type StaleError struct {
	// MergeRequestID 为空时表示普通的 head CAS 失败 (ConcurrentModification)
	MergeRequestID string
	BranchID       string
	Expected       string
	Current        string

	// 合并请求场景下两侧的当前 tip
	CurrentSource string
	CurrentTarget string
}

func (e *StaleError) Error() string {
	if e.MergeRequestID != "" {
		return fmt.Sprintf("merge request %s is stale: source tip %s, target tip %s", e.MergeRequestID, e.CurrentSource, e.CurrentTarget)
	}
	return fmt.Sprintf("branch %s moved: expected head %s, current %s", e.BranchID, e.Expected, e.Current)
}

func (e *StaleError) Is(target error) bool {
	if e.MergeRequestID != "" {
		return target == ErrStaleMergeRequest || target == ErrConcurrentModification
	}
	return target == ErrConcurrentModification
}

// IncompleteResolutionError 列出缺少解决方案的冲突路径
type IncompleteResolutionError struct {
	Missing []string
}

func (e *IncompleteResolutionError) Error() string {
	return fmt.Sprintf("missing resolution for %d conflict(s): %s", len(e.Missing), strings.Join(e.Missing, ", "))
}

func (e *IncompleteResolutionError) Is(target error) bool { return target == ErrIncompleteResolution }
