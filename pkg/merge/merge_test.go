package merge

import (
	"context"
	"testing"

	"metavault/pkg/apperr"
	"metavault/pkg/core"
	"metavault/pkg/diff"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDoc(t *testing.T, raw string) *core.Document {
	t.Helper()
	doc, err := core.ParseJSON([]byte(raw))
	require.NoError(t, err)
	return doc
}

func mustPlan(t *testing.T, base, source, target string, opts ...Option) *Plan {
	t.Helper()
	p, err := Compute(context.Background(), mustDoc(t, base), mustDoc(t, source), mustDoc(t, target), opts...)
	require.NoError(t, err)
	return p
}

func assertDoc(t *testing.T, want string, got *core.Document) {
	t.Helper()
	assert.True(t, core.Equal(mustDoc(t, want).Root, got.Root), "want %s, got %s", want, got)
}

func TestMerge_DisjointChanges(t *testing.T) {
	p := mustPlan(t, `{"a":1,"b":2}`, `{"a":5,"b":2}`, `{"a":1,"b":9}`)
	require.True(t, p.Clean())

	merged, err := p.Apply(nil)
	require.NoError(t, err)
	assertDoc(t, `{"a":5,"b":9}`, merged)
}

func TestMerge_SamePathConflict(t *testing.T) {
	p := mustPlan(t, `{"a":1}`, `{"a":5}`, `{"a":9}`)
	require.Len(t, p.Conflicts, 1)

	c := p.Conflicts[0]
	assert.Equal(t, "a", c.Path.String())
	assert.Equal(t, ModifyModify, c.Kind)
	assert.Equal(t, 1.0, c.Base.(*core.ScalarNode).Value)
	assert.Equal(t, 5.0, c.Source.(*core.ScalarNode).Value)
	assert.Equal(t, 9.0, c.Target.(*core.ScalarNode).Value)
	assert.Equal(t, []string{"a"}, p.ConflictPaths())

	merged, err := p.Apply([]Resolution{{Path: core.MustParsePath("a"), Value: core.Scalar(7)}})
	require.NoError(t, err)
	assertDoc(t, `{"a":7}`, merged)
}

func TestMerge_SelfMergeIsNoop(t *testing.T) {
	doc := `{"a":{"b":[1,2]},"k":[{"id":"x","v":1}]}`
	p := mustPlan(t, `{"a":{}}`, doc, doc)
	require.True(t, p.Clean())

	merged, err := p.Apply(nil)
	require.NoError(t, err)
	assertDoc(t, doc, merged)
}

func TestMerge_IdenticalChangesApplyOnce(t *testing.T) {
	p := mustPlan(t, `{"l":[1],"x":0}`, `{"l":[1,2],"x":3,"n":true}`, `{"l":[1,2],"x":3,"n":true}`)
	require.True(t, p.Clean())

	merged, err := p.Apply(nil)
	require.NoError(t, err)
	assertDoc(t, `{"l":[1,2],"x":3,"n":true}`, merged)
}

func TestMerge_DeleteVersusModify(t *testing.T) {
	p := mustPlan(t, `{"m":{"x":1,"y":1}}`, `{}`, `{"m":{"x":2,"y":1}}`)
	require.Len(t, p.Conflicts, 1)
	c := p.Conflicts[0]
	assert.Equal(t, "m", c.Path.String())
	assert.Equal(t, DeleteModify, c.Kind)
	assert.Nil(t, c.Source)

	p = mustPlan(t, `{"m":1}`, `{"m":2}`, `{}`)
	require.Len(t, p.Conflicts, 1)
	assert.Equal(t, ModifyDelete, p.Conflicts[0].Kind)

	// 解决为删除
	merged, err := p.Apply([]Resolution{{Path: core.MustParsePath("m"), Remove: true}})
	require.NoError(t, err)
	assertDoc(t, `{}`, merged)
}

func TestMerge_AddAdd(t *testing.T) {
	p := mustPlan(t, `{}`, `{"n":"s"}`, `{"n":"t"}`)
	require.Len(t, p.Conflicts, 1)
	assert.Equal(t, AddAdd, p.Conflicts[0].Kind)
	assert.Nil(t, p.Conflicts[0].Base)

	// base 中不存在的路径解决为删除，结果里就没有这个字段
	merged, err := p.Apply([]Resolution{{Path: core.MustParsePath("n"), Remove: true}})
	require.NoError(t, err)
	assertDoc(t, `{}`, merged)
}

func TestMerge_AncestorAndDescendantTouched(t *testing.T) {
	// source 改了整个对象的类型，target 改了它的子字段
	p := mustPlan(t, `{"m":{"x":1}}`, `{"m":"flat"}`, `{"m":{"x":2}}`)
	require.Len(t, p.Conflicts, 1)
	assert.Equal(t, "m", p.Conflicts[0].Path.String())
	assert.Equal(t, core.KindScalar, p.Conflicts[0].Source.Kind())
	assert.Equal(t, core.KindObject, p.Conflicts[0].Target.Kind())
}

func TestMerge_KeyedArrays(t *testing.T) {
	base := `{"analyses":[{"id":"AN01","p":1},{"id":"AN02","p":1}]}`
	source := `{"analyses":[{"id":"AN02","p":1},{"id":"AN01","p":2}]}`
	target := `{"analyses":[{"id":"AN01","p":1},{"id":"AN02","p":3},{"id":"AN03"}]}`

	p := mustPlan(t, base, source, target)
	require.True(t, p.Clean(), "conflicts: %v", p.ConflictPaths())

	merged, err := p.Apply(nil)
	require.NoError(t, err)
	assertDoc(t, `{"analyses":[{"id":"AN01","p":2},{"id":"AN02","p":3},{"id":"AN03"}]}`, merged)

	p = mustPlan(t, base,
		`{"analyses":[{"id":"AN01","p":5},{"id":"AN02","p":1}]}`,
		`{"analyses":[{"id":"AN01","p":6},{"id":"AN02","p":1}]}`)
	assert.Equal(t, []string{"analyses[id=AN01].p"}, p.ConflictPaths())
}

func TestMerge_PositionalResizeConflictsOnWholeArray(t *testing.T) {
	p := mustPlan(t, `{"l":["a","b","c"]}`, `{"l":["a"]}`, `{"l":["a","b","c","d"]}`)
	require.Equal(t, []string{"l"}, p.ConflictPaths())

	merged, err := p.Apply([]Resolution{{
		Path:  core.MustParsePath("l"),
		Value: core.MustFromValue([]any{"a", "d"}),
	}})
	require.NoError(t, err)
	assertDoc(t, `{"l":["a","d"]}`, merged)
}

func TestMerge_PositionalDisjointEdits(t *testing.T) {
	p := mustPlan(t, `{"l":["a","b"]}`, `{"l":["A","b"]}`, `{"l":["a","b","c"]}`)
	require.True(t, p.Clean())

	merged, err := p.Apply(nil)
	require.NoError(t, err)
	assertDoc(t, `{"l":["A","b","c"]}`, merged)
}

func TestMerge_KeyedAgainstPositionalConflictsOnWholeArray(t *testing.T) {
	// source 按 key 删除 a；target 追加了一个没有 id 的元素，数组对它来说只能按下标比较
	base := `{"arr":[{"id":"a","v":1},{"id":"b","v":2}]}`
	p := mustPlan(t, base,
		`{"arr":[{"id":"b","v":2}]}`,
		`{"arr":[{"id":"a","v":1},{"id":"b","v":2},{"note":"x"}]}`)
	require.Equal(t, []string{"arr"}, p.ConflictPaths())
	assert.Equal(t, ModifyModify, p.Conflicts[0].Kind)

	merged, err := p.Apply([]Resolution{{
		Path:  core.MustParsePath("arr"),
		Value: core.MustFromValue([]any{map[string]any{"id": "b", "v": 2}, map[string]any{"note": "x"}}),
	}})
	require.NoError(t, err)
	assertDoc(t, `{"arr":[{"id":"b","v":2},{"note":"x"}]}`, merged)
}

func TestMerge_PositionalShiftsConflictOnWholeArray(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		source string
		target string
	}{
		{name: "both append", base: `{"arr":[1,2]}`, source: `{"arr":[1,2,3,4]}`, target: `{"arr":[1,2,5,6]}`},
		{name: "remove and edit", base: `{"arr":["a","b","c"]}`, source: `{"arr":["b","c"]}`, target: `{"arr":["x","b","y"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustPlan(t, tt.base, tt.source, tt.target)
			require.Equal(t, []string{"arr"}, p.ConflictPaths())

			// 每个冲突都给出解决方案时合并一定成功
			for _, strategy := range []Strategy{PreferSource, PreferTarget, KeepBase} {
				res, ok := ResolveAll(p.Conflicts, strategy)
				require.True(t, ok, strategy)
				_, err := p.Apply(res)
				require.NoError(t, err, strategy)
			}

			merged, err := p.Apply([]Resolution{{Path: core.MustParsePath("arr"), Remove: true}})
			require.NoError(t, err)
			assertDoc(t, `{}`, merged)
		})
	}
}

func TestMerge_PositionalElementRemovalResolution(t *testing.T) {
	// 两侧都只原地修改，冲突落在元素上；删除一个元素不能让其余变更错位
	p := mustPlan(t, `{"arr":["a","b","c"]}`, `{"arr":["A","b","C"]}`, `{"arr":["Z","b","c"]}`)
	require.Equal(t, []string{"arr[0]"}, p.ConflictPaths())

	merged, err := p.Apply([]Resolution{{Path: core.MustParsePath("arr[0]"), Remove: true}})
	require.NoError(t, err)
	assertDoc(t, `{"arr":["b","C"]}`, merged)

	p = mustPlan(t, `{"arr":[1,2,3]}`, `{"arr":[10,2,30]}`, `{"arr":[11,2,31]}`)
	require.Equal(t, []string{"arr[0]", "arr[2]"}, p.ConflictPaths())
	merged, err = p.Apply([]Resolution{
		{Path: core.MustParsePath("arr[0]"), Remove: true},
		{Path: core.MustParsePath("arr[2]"), Remove: true},
	})
	require.NoError(t, err)
	assertDoc(t, `{"arr":[2]}`, merged)
}

func TestApply_UnappliableChangesAreConflicts(t *testing.T) {
	base := mustDoc(t, `{"arr":[1]}`)
	p := &Plan{
		Base:    base,
		Source:  base,
		Target:  base,
		keying:  core.DefaultKeying,
		changes: []diff.Change{{Path: core.MustParsePath("arr[5]"), Type: diff.Added, New: core.Scalar(2)}},
	}

	_, err := p.Apply(nil)
	require.ErrorIs(t, err, apperr.ErrConflict)
	var ce *apperr.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"arr[5]"}, ce.Paths)
}

func TestApply_ResolutionErrors(t *testing.T) {
	p := mustPlan(t, `{"a":1,"b":1}`, `{"a":2,"b":2}`, `{"a":3,"b":3}`)
	require.Len(t, p.Conflicts, 2)

	_, err := p.Apply([]Resolution{{Path: core.MustParsePath("a"), Value: core.Scalar(4)}})
	var incomplete *apperr.IncompleteResolutionError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []string{"b"}, incomplete.Missing)
	assert.ErrorIs(t, err, apperr.ErrIncompleteResolution)

	a := Resolution{Path: core.MustParsePath("a"), Value: core.Scalar(4)}
	b := Resolution{Path: core.MustParsePath("b"), Value: core.Scalar(4)}

	_, err = p.Apply([]Resolution{a, a, b})
	assert.ErrorIs(t, err, apperr.ErrValidation, "duplicate resolution")

	_, err = p.Apply([]Resolution{a, b, {Path: core.MustParsePath("zzz"), Value: core.Null()}})
	assert.ErrorIs(t, err, apperr.ErrValidation, "resolution for a path without a conflict")

	_, err = p.Apply([]Resolution{a, {Path: core.MustParsePath("b")}})
	assert.ErrorIs(t, err, apperr.ErrValidation, "resolution without value")

	merged, err := p.Apply([]Resolution{a, b})
	require.NoError(t, err)
	assertDoc(t, `{"a":4,"b":4}`, merged)
}

func TestCompute_OnlyPaths(t *testing.T) {
	// cherry-pick 只挑选 a 的变更
	p := mustPlan(t, `{"a":1,"b":1}`, `{"a":2,"b":2}`, `{"a":1,"b":1,"c":0}`,
		OnlyPaths(core.MustParsePath("a")))
	require.True(t, p.Clean())

	merged, err := p.Apply(nil)
	require.NoError(t, err)
	assertDoc(t, `{"a":2,"b":1,"c":0}`, merged)
}

func TestCompute_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Compute(ctx, mustDoc(t, `{}`), mustDoc(t, `{}`), mustDoc(t, `{}`))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSuggest(t *testing.T) {
	p := mustPlan(t, `{"a":1}`, `{"a":null}`, `{"a":9}`)
	require.Len(t, p.Conflicts, 1)

	var strategies []Strategy
	for _, s := range p.Conflicts[0].Suggestions {
		strategies = append(strategies, s.Strategy)
	}
	assert.Equal(t, []Strategy{PreferTarget, PreferSource, PreferNonNull, KeepBase}, strategies)

	res, ok := ResolveAll(p.Conflicts, PreferNonNull)
	require.True(t, ok)
	merged, err := p.Apply(res)
	require.NoError(t, err)
	assertDoc(t, `{"a":9}`, merged)

	// 两侧都有值时不提供 prefer_non_null
	p = mustPlan(t, `{}`, `{"a":1}`, `{"a":2}`)
	_, ok = ResolveAll(p.Conflicts, PreferNonNull)
	assert.False(t, ok)
	_, ok = ResolveAll(p.Conflicts, KeepBase)
	assert.False(t, ok, "add/add has no base value")

	res, ok = ResolveAll(p.Conflicts, PreferSource)
	require.True(t, ok)
	merged, err = p.Apply(res)
	require.NoError(t, err)
	assertDoc(t, `{"a":1}`, merged)
}
