package merge

import (
	"metavault/pkg/core"
)

// Kind 描述冲突的形态
type Kind string

const (
	ModifyModify Kind = "modify_modify"
	AddAdd       Kind = "add_add"
	DeleteModify Kind = "delete_modify" // source 删除，target 修改
	ModifyDelete Kind = "modify_delete" // source 修改，target 删除
)

// Conflict 是某个路径上两侧无法自动调和的修改
// 值为 nil 表示该侧在此路径上不存在
type Conflict struct {
	Path   core.Path
	Kind   Kind
	Base   core.Node
	Source core.Node
	Target core.Node

	Suggestions []Suggestion
}

func classify(c Conflict) Kind {
	switch {
	case c.Base == nil:
		return AddAdd
	case c.Source == nil:
		return DeleteModify
	case c.Target == nil:
		return ModifyDelete
	default:
		return ModifyModify
	}
}

// Strategy 是建议的解决策略
type Strategy string

const (
	PreferTarget  Strategy = "prefer_target"
	PreferSource  Strategy = "prefer_source"
	PreferNonNull Strategy = "prefer_non_null"
	KeepBase      Strategy = "keep_base"
)

// Suggestion 是启发式的解决建议，只供调用方参考
type Suggestion struct {
	Strategy    Strategy
	Description string
	Resolution  Resolution
}

// Resolution 给出某个冲突路径上的最终值
// Remove 为 true 时表示最终结果里该路径不存在
type Resolution struct {
	Path   core.Path
	Value  core.Node
	Remove bool
}

func resolveTo(p core.Path, n core.Node) Resolution {
	if n == nil {
		return Resolution{Path: p, Remove: true}
	}
	return Resolution{Path: p, Value: n.Clone()}
}

func isNull(n core.Node) bool {
	if n == nil {
		return true
	}
	s, ok := n.(*core.ScalarNode)
	return ok && s.Value == nil
}

// Suggest 为冲突生成建议列表，顺序即推荐程度
func Suggest(c Conflict) []Suggestion {
	out := []Suggestion{
		{
			Strategy:    PreferTarget,
			Description: "keep the value on the target branch",
			Resolution:  resolveTo(c.Path, c.Target),
		},
		{
			Strategy:    PreferSource,
			Description: "take the value from the source branch",
			Resolution:  resolveTo(c.Path, c.Source),
		},
	}

	// 恰好一侧为空 (不存在或 null) 时，取另一侧
	srcNull, tgtNull := isNull(c.Source), isNull(c.Target)
	if srcNull != tgtNull {
		pick := c.Source
		if srcNull {
			pick = c.Target
		}
		out = append(out, Suggestion{
			Strategy:    PreferNonNull,
			Description: "take whichever side still has a value",
			Resolution:  resolveTo(c.Path, pick),
		})
	}

	if c.Base != nil {
		out = append(out, Suggestion{
			Strategy:    KeepBase,
			Description: "discard both changes and keep the common ancestor value",
			Resolution:  resolveTo(c.Path, c.Base),
		})
	}
	return out
}

// ResolveAll 用同一个策略为所有冲突生成解决方案
// 某个冲突不支持该策略时返回 false
func ResolveAll(conflicts []Conflict, s Strategy) ([]Resolution, bool) {
	out := make([]Resolution, 0, len(conflicts))
	for _, c := range conflicts {
		found := false
		for _, sg := range c.Suggestions {
			if sg.Strategy == s {
				out = append(out, sg.Resolution)
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return out, true
}
