// Package merge 实现结构化文档的三方合并
//
// 合并是纯函数：输入 base / source / target 三个快照，输出冲突集合与
// 可自动应用的变更。持久化、乐观并发检查由上层 engine 负责。
package merge

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"metavault/pkg/apperr"
	"metavault/pkg/core"
	"metavault/pkg/diff"

	"golang.org/x/sync/errgroup"
)

type options struct {
	keying core.Keying
	only   []core.Path
}

type Option func(*options)

// WithKeying 指定数组元素的稳定 key 字段
func WithKeying(k core.Keying) Option {
	return func(o *options) { o.keying = k }
}

// OnlyPaths 只保留 source 一侧与这些路径重叠的变更 (cherry-pick 指定变更时使用)
func OnlyPaths(paths ...core.Path) Option {
	return func(o *options) { o.only = append(o.only, paths...) }
}

// Plan 是一次三方合并的计算结果
// Conflicts 为空时可以直接 Apply(nil)
type Plan struct {
	Base   *core.Document
	Source *core.Document
	Target *core.Document

	SourceDiff *diff.Diff
	TargetDiff *diff.Diff

	Conflicts []Conflict

	// 不冲突的变更，均以 base 为前置状态
	changes []diff.Change
	keying  core.Keying
}

type side uint8

const (
	fromSource side = 1 << iota
	fromTarget
)

// Compute 计算三方合并计划
// 两个 diff 互不依赖，并行计算
func Compute(ctx context.Context, base, source, target *core.Document, opts ...Option) (*Plan, error) {
	o := options{keying: core.DefaultKeying}
	for _, fn := range opts {
		fn(&o)
	}
	dopt := diff.WithKeying(o.keying)

	if len(o.only) > 0 {
		// 只挑选部分变更时，把 source 收敛为 base + 被选中的变更
		picked := diff.Compute(base, source, dopt).Filter(func(c diff.Change) bool {
			return overlapsAny(c.Path, o.only)
		})
		narrowed, err := diff.Apply(base, picked, dopt)
		if err != nil {
			return nil, apperr.Validation("selected paths cannot be applied on their own: %v", err)
		}
		source = narrowed
	}

	p := &Plan{Base: base, Source: source, Target: target, keying: o.keying}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.SourceDiff = diff.Compute(base, source, dopt)
		return nil
	})
	g.Go(func() error {
		p.TargetDiff = diff.Compute(base, target, dopt)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.combine()
	return p, nil
}

func overlapsAny(p core.Path, set []core.Path) bool {
	for _, q := range set {
		if p.HasPrefix(q) || q.HasPrefix(p) {
			return true
		}
	}
	return false
}

type touched struct {
	path   core.Path
	side   side
	change *diff.Change
}

// combine 把两侧变更按“最浅的被触及祖先”聚类：
// 只有一侧触及的簇直接采纳；两侧都触及的簇比较簇根处的结果值，
// 相同则采纳一次，不同则产生冲突。
func (p *Plan) combine() {
	var all []touched
	for i := range p.SourceDiff.Changes {
		c := &p.SourceDiff.Changes[i]
		all = append(all, touched{path: c.Path, side: fromSource, change: c})
	}
	for i := range p.TargetDiff.Changes {
		c := &p.TargetDiff.Changes[i]
		all = append(all, touched{path: c.Path, side: fromTarget, change: c})
	}
	// 两侧对同一个数组的下标寻址互相干扰时，整个数组作为一个冲突单元
	for _, arr := range p.wholeArrays() {
		all = append(all, touched{path: arr, side: fromSource | fromTarget})
	}

	sort.SliceStable(all, func(i, j int) bool {
		return core.ComparePaths(all[i].path, all[j].path) < 0
	})

	type cluster struct {
		root    core.Path
		sides   side
		members []touched
	}
	var clusters []*cluster
	var cur *cluster
	for _, t := range all {
		if cur == nil || !t.path.HasPrefix(cur.root) {
			cur = &cluster{root: t.path}
			clusters = append(clusters, cur)
		}
		cur.sides |= t.side
		cur.members = append(cur.members, t)
	}

	for _, cl := range clusters {
		if cl.sides != fromSource|fromTarget {
			for _, m := range cl.members {
				if m.change != nil {
					p.changes = append(p.changes, *m.change)
				}
			}
			continue
		}

		sv, sok := core.Lookup(p.Source.Root, cl.root)
		tv, tok := core.Lookup(p.Target.Root, cl.root)
		if sok == tok && (!sok || p.keying.Equal(sv, tv)) {
			// 两侧得到相同结果，只应用一次
			p.changes = append(p.changes, p.setChange(cl.root, sv, sok))
			continue
		}

		bv, _ := core.Lookup(p.Base.Root, cl.root)
		c := Conflict{
			Path:   cl.root,
			Base:   bv,
			Source: presentOrNil(sv, sok),
			Target: presentOrNil(tv, tok),
		}
		c.Kind = classify(c)
		c.Suggestions = Suggest(c)
		p.Conflicts = append(p.Conflicts, c)
	}
}

// arrayTouch 记录一侧 diff 对某个数组的寻址方式
type arrayTouch struct {
	path    core.Path
	index   bool // 按下标寻址过元素
	elem    bool // 按 key 寻址过元素
	added   bool // 下标处直接新增元素
	removed bool // 下标处直接删除元素
}

func arrayTouches(d *diff.Diff) map[string]*arrayTouch {
	out := make(map[string]*arrayTouch)
	for _, c := range d.Changes {
		for i, s := range c.Path {
			if s.Kind != core.StepIndex && s.Kind != core.StepElem {
				continue
			}
			arrPath := c.Path[:i:i]
			key := arrPath.String()
			at, ok := out[key]
			if !ok {
				at = &arrayTouch{path: arrPath}
				out[key] = at
			}
			if s.Kind == core.StepElem {
				at.elem = true
				continue
			}
			at.index = true
			if i == len(c.Path)-1 {
				at.added = at.added || c.Type == diff.Added
				at.removed = at.removed || c.Type == diff.Removed
			}
		}
	}
	return out
}

// wholeArrays 找出下标已经失去意义、只能整体比较的数组：
// 两侧都触及该数组，并且
//   - 一侧按 key、另一侧按下标寻址 (数组在某一侧失去了 key 约定)，或
//   - 按下标寻址时任一侧删除了元素，或两侧都追加了元素
func (p *Plan) wholeArrays() []core.Path {
	src := arrayTouches(p.SourceDiff)
	tgt := arrayTouches(p.TargetDiff)

	var out []core.Path
	for key, s := range src {
		t, ok := tgt[key]
		if !ok {
			continue
		}
		mixed := (s.index || t.index) && (s.elem || t.elem)
		shifted := (s.index || t.index) && (s.removed || t.removed || (s.added && t.added))
		if mixed || shifted {
			out = append(out, s.path)
		}
	}
	return out
}

// setChange 构造一条“把 path 设为 v”的变更，前置状态取自 base
func (p *Plan) setChange(path core.Path, v core.Node, present bool) diff.Change {
	bv, bok := core.Lookup(p.Base.Root, path)
	switch {
	case !present:
		return diff.Change{Path: path, Type: diff.Removed, Old: bv}
	case !bok:
		return diff.Change{Path: path, Type: diff.Added, New: v}
	case bv.Kind() != v.Kind():
		return diff.Change{Path: path, Type: diff.TypeChanged, Old: bv, New: v}
	default:
		return diff.Change{Path: path, Type: diff.Changed, Old: bv, New: v}
	}
}

func presentOrNil(n core.Node, ok bool) core.Node {
	if !ok {
		return nil
	}
	return n
}

// Clean 表示没有冲突
func (p *Plan) Clean() bool { return len(p.Conflicts) == 0 }

// ConflictPaths 返回所有冲突路径的规范字符串
func (p *Plan) ConflictPaths() []string {
	out := make([]string, len(p.Conflicts))
	for i, c := range p.Conflicts {
		out[i] = c.Path.String()
	}
	return out
}

// Changes 返回将被自动应用的变更 (不含冲突)
func (p *Plan) Changes() []diff.Change {
	out := make([]diff.Change, len(p.changes))
	copy(out, p.changes)
	return out
}

// Apply 应用所有不冲突的变更以及调用方给出的冲突解决方案
// 每个冲突路径必须恰好有一个解决方案
func (p *Plan) Apply(resolutions []Resolution) (*core.Document, error) {
	byPath := make(map[string]Resolution, len(resolutions))
	for _, r := range resolutions {
		key := r.Path.String()
		if _, dup := byPath[key]; dup {
			return nil, apperr.Validation("duplicate resolution for %s", key)
		}
		if !r.Remove && r.Value == nil {
			return nil, apperr.Validation("resolution for %s has neither a value nor remove", key)
		}
		byPath[key] = r
	}

	changes := p.Changes()
	var missing []string
	// 位置数组元素的删除放到最后按下标降序执行，避免前移的元素让其余变更错位
	var shifting []core.Path
	for _, c := range p.Conflicts {
		key := c.Path.String()
		r, ok := byPath[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		delete(byPath, key)

		if r.Remove {
			if c.Base == nil {
				// base 里本来就没有，删除等价于不做任何事
				continue
			}
			if c.Path.Last().Kind == core.StepIndex {
				shifting = append(shifting, c.Path)
				continue
			}
			changes = append(changes, p.setChange(c.Path, nil, false))
		} else {
			changes = append(changes, p.setChange(c.Path, r.Value, true))
		}
	}
	if len(missing) > 0 {
		return nil, &apperr.IncompleteResolutionError{Missing: missing}
	}
	if len(byPath) > 0 {
		unknown := make([]string, 0, len(byPath))
		for k := range byPath {
			unknown = append(unknown, k)
		}
		sort.Strings(unknown)
		return nil, apperr.Validation("resolution for paths without conflict: %v", unknown)
	}

	merged, err := diff.Apply(p.Base, &diff.Diff{Changes: changes}, diff.WithKeying(p.keying))
	if err != nil {
		return nil, applyConflict(err)
	}
	if len(shifting) == 0 {
		return merged, nil
	}

	sort.Slice(shifting, func(i, j int) bool {
		return core.ComparePaths(shifting[i], shifting[j]) > 0
	})
	root := merged.Root
	for _, path := range shifting {
		if root, err = core.RemoveAt(root, path); err != nil {
			return nil, applyConflict(&diff.PathError{Path: path, Err: err})
		}
	}
	return core.NewDocument(root), nil
}

// applyConflict 把无法落地的合并结果报告为冲突，而不是内部错误
func applyConflict(err error) error {
	ce := &apperr.ConflictError{Reason: fmt.Sprintf("merged changes do not apply: %v", err)}
	var pe *diff.PathError
	if errors.As(err, &pe) {
		ce.Paths = []string{pe.Path.String()}
	}
	return ce
}
