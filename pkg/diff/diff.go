// Package diff 计算两个文档快照之间的结构化差异
//
// 比较以路径为单位：对象按 key 取并集，带稳定 key 的数组按 key 比较 (忽略顺序)，
// 其余数组按下标比较。位置数组中间插入或删除元素时，后续所有下标都会报告 changed，
// 这是按下标寻址的已知局限，这里不做特殊处理。
package diff

import (
	"fmt"
	"sort"
	"strings"

	"metavault/pkg/core"
)

// ChangeType 是变更记录的类别
type ChangeType string

const (
	Added       ChangeType = "added"
	Removed     ChangeType = "removed"
	Changed     ChangeType = "changed"
	TypeChanged ChangeType = "type_changed"
)

// Change 是某个路径上的一条变更记录
// Added 没有 Old，Removed 没有 New
type Change struct {
	Path core.Path
	Type ChangeType
	Old  core.Node
	New  core.Node
}

// Diff 是按路径排序的变更集合
type Diff struct {
	Changes []Change
}

func (d *Diff) IsEmpty() bool { return len(d.Changes) == 0 }
func (d *Diff) Len() int      { return len(d.Changes) }

// Paths 返回所有被触及的路径
func (d *Diff) Paths() []core.Path {
	out := make([]core.Path, len(d.Changes))
	for i, c := range d.Changes {
		out[i] = c.Path
	}
	return out
}

// Get 按路径查找变更
func (d *Diff) Get(p core.Path) (Change, bool) {
	i := sort.Search(len(d.Changes), func(i int) bool {
		return core.ComparePaths(d.Changes[i].Path, p) >= 0
	})
	if i < len(d.Changes) && d.Changes[i].Path.Equal(p) {
		return d.Changes[i], true
	}
	return Change{}, false
}

// Filter 返回满足条件的子集
func (d *Diff) Filter(keep func(Change) bool) *Diff {
	out := &Diff{}
	for _, c := range d.Changes {
		if keep(c) {
			out.Changes = append(out.Changes, c)
		}
	}
	return out
}

// Summary 统计各类变更的数量
type Summary struct {
	Added       int `json:"added"`
	Removed     int `json:"removed"`
	Changed     int `json:"changed"`
	TypeChanged int `json:"typeChanged"`
}

func (d *Diff) Summary() Summary {
	var s Summary
	for _, c := range d.Changes {
		switch c.Type {
		case Added:
			s.Added++
		case Removed:
			s.Removed++
		case Changed:
			s.Changed++
		case TypeChanged:
			s.TypeChanged++
		}
	}
	return s
}

func (s Summary) String() string {
	var parts []string
	if s.Added > 0 {
		parts = append(parts, fmt.Sprintf("%d added", s.Added))
	}
	if s.Removed > 0 {
		parts = append(parts, fmt.Sprintf("%d removed", s.Removed))
	}
	if s.Changed > 0 {
		parts = append(parts, fmt.Sprintf("%d changed", s.Changed))
	}
	if s.TypeChanged > 0 {
		parts = append(parts, fmt.Sprintf("%d type changed", s.TypeChanged))
	}
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, ", ")
}

type options struct {
	keying core.Keying
}

type Option func(*options)

// WithKeying 指定数组元素的稳定 key 字段
func WithKeying(k core.Keying) Option {
	return func(o *options) { o.keying = k }
}

func buildOptions(opts []Option) options {
	o := options{keying: core.DefaultKeying}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Compute 计算 base -> other 的差异
// 结果是确定性的；Compute(b, a) 等于 Invert(Compute(a, b))
func Compute(base, other *core.Document, opts ...Option) *Diff {
	o := buildOptions(opts)
	c := &computer{keying: o.keying}
	c.walk(core.Root, base.Root, other.Root)
	sortChanges(c.out)
	return &Diff{Changes: c.out}
}

type computer struct {
	keying core.Keying
	out    []Change
}

func (c *computer) emit(p core.Path, t ChangeType, old, new core.Node) {
	c.out = append(c.out, Change{Path: p, Type: t, Old: old, New: new})
}

func (c *computer) walk(p core.Path, a, b core.Node) {
	switch x := a.(type) {
	case *core.ScalarNode:
		y, ok := b.(*core.ScalarNode)
		if !ok {
			c.emit(p, TypeChanged, a, b)
			return
		}
		if x.Value != y.Value {
			c.emit(p, Changed, a, b)
		}
	case *core.ObjectNode:
		y, ok := b.(*core.ObjectNode)
		if !ok {
			c.emit(p, TypeChanged, a, b)
			return
		}
		for _, k := range x.Keys() {
			xv, _ := x.Get(k)
			if yv, ok := y.Get(k); ok {
				c.walk(p.Key(k), xv, yv)
			} else {
				c.emit(p.Key(k), Removed, xv, nil)
			}
		}
		for _, k := range y.Keys() {
			if _, ok := x.Get(k); !ok {
				yv, _ := y.Get(k)
				c.emit(p.Key(k), Added, nil, yv)
			}
		}
	case *core.ArrayNode:
		y, ok := b.(*core.ArrayNode)
		if !ok {
			c.emit(p, TypeChanged, a, b)
			return
		}
		if ix, iy, keyed := c.keying.Pair(x, y); keyed {
			c.walkKeyed(p, x, y, ix, iy)
			return
		}
		c.walkPositional(p, x, y)
	}
}

// walkKeyed 按元素 key 比较，顺序变化不产生变更
func (c *computer) walkKeyed(p core.Path, x, y *core.ArrayNode, ix, iy map[string]int) {
	for key, i := range ix {
		step := c.keying.ElemStep(key)
		if j, ok := iy[key]; ok {
			c.walk(p.Child(step), x.Items[i], y.Items[j])
		} else {
			c.emit(p.Child(step), Removed, x.Items[i], nil)
		}
	}
	for key, j := range iy {
		if _, ok := ix[key]; !ok {
			c.emit(p.Child(c.keying.ElemStep(key)), Added, nil, y.Items[j])
		}
	}
}

func (c *computer) walkPositional(p core.Path, x, y *core.ArrayNode) {
	common := min(len(x.Items), len(y.Items))
	for i := 0; i < common; i++ {
		c.walk(p.Index(i), x.Items[i], y.Items[i])
	}
	for i := common; i < len(x.Items); i++ {
		c.emit(p.Index(i), Removed, x.Items[i], nil)
	}
	for i := common; i < len(y.Items); i++ {
		c.emit(p.Index(i), Added, nil, y.Items[i])
	}
}

func sortChanges(cs []Change) {
	sort.SliceStable(cs, func(i, j int) bool {
		return core.ComparePaths(cs[i].Path, cs[j].Path) < 0
	})
}
