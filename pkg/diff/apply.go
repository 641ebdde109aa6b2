package diff

import (
	"errors"
	"fmt"
	"sort"

	"metavault/pkg/core"
)

// ErrApplyMismatch 表示目标文档与变更记录的前置状态不一致
var ErrApplyMismatch = errors.New("document does not match change precondition")

// PathError 记录应用失败的变更路径
type PathError struct {
	Path core.Path
	Err  error
}

func (e *PathError) Error() string { return fmt.Sprintf("apply %s: %v", e.Path, e.Err) }
func (e *PathError) Unwrap() error { return e.Err }

// Invert 返回逆变更集：对新文档应用它会得到旧文档
func Invert(d *Diff) *Diff {
	out := &Diff{Changes: make([]Change, len(d.Changes))}
	for i, c := range d.Changes {
		inv := Change{Path: c.Path, Old: c.New, New: c.Old}
		switch c.Type {
		case Added:
			inv.Type = Removed
		case Removed:
			inv.Type = Added
		default:
			inv.Type = c.Type
		}
		out.Changes[i] = inv
	}
	return out
}

// Apply 把变更集应用到文档的副本上，原文档不受影响
//
// 应用顺序：先删除 (路径降序，保证位置数组从尾部开始删)，
// 再修改，最后新增 (路径升序，保证位置数组按下标追加)。
// 每条变更都会校验前置状态，不一致时返回 ErrApplyMismatch。
func Apply(doc *core.Document, d *Diff, opts ...Option) (*core.Document, error) {
	o := buildOptions(opts)
	root := doc.Root.Clone()

	var removals, updates, additions []Change
	for _, c := range d.Changes {
		switch c.Type {
		case Removed:
			removals = append(removals, c)
		case Added:
			additions = append(additions, c)
		case Changed, TypeChanged:
			updates = append(updates, c)
		default:
			return nil, fmt.Errorf("unknown change type %q at %s", c.Type, c.Path)
		}
	}
	sort.SliceStable(removals, func(i, j int) bool {
		return core.ComparePaths(removals[i].Path, removals[j].Path) > 0
	})
	sortChanges(updates)
	sortChanges(additions)

	var err error
	for _, c := range removals {
		if err := expect(o.keying, root, c.Path, c.Old); err != nil {
			return nil, &PathError{Path: c.Path, Err: err}
		}
		if root, err = core.RemoveAt(root, c.Path); err != nil {
			return nil, &PathError{Path: c.Path, Err: err}
		}
	}
	for _, c := range updates {
		if err := expect(o.keying, root, c.Path, c.Old); err != nil {
			return nil, &PathError{Path: c.Path, Err: err}
		}
		if root, err = core.SetAt(root, c.Path, c.New.Clone()); err != nil {
			return nil, &PathError{Path: c.Path, Err: err}
		}
	}
	for _, c := range additions {
		if _, exists := core.Lookup(root, c.Path); exists {
			return nil, &PathError{Path: c.Path, Err: fmt.Errorf("%w: %s already exists", ErrApplyMismatch, c.Path)}
		}
		if root, err = core.SetAt(root, c.Path, c.New.Clone()); err != nil {
			return nil, &PathError{Path: c.Path, Err: err}
		}
	}
	return core.NewDocument(root), nil
}

func expect(k core.Keying, root core.Node, p core.Path, want core.Node) error {
	got, ok := core.Lookup(root, p)
	if !ok {
		return fmt.Errorf("%w: %s does not exist", ErrApplyMismatch, p)
	}
	if want != nil && !k.Equal(got, want) {
		return fmt.Errorf("%w: unexpected value at %s", ErrApplyMismatch, p)
	}
	return nil
}
