package lineage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"metavault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// graph 是测试用的内存 DAG
type graph struct {
	nodes map[types.Hash]*Node
	loads int
}

func newGraph() *graph { return &graph{nodes: make(map[types.Hash]*Node)} }

// add 添加节点，createdAt 取 seq 秒
func (g *graph) add(id string, seq int, parents ...string) {
	ps := make([]types.Hash, len(parents))
	for i, p := range parents {
		ps[i] = types.Hash(p)
	}
	g.nodes[types.Hash(id)] = &Node{ID: types.Hash(id), Parents: ps, CreatedAt: time.Unix(int64(seq), 0)}
}

func (g *graph) LoadNode(_ context.Context, id types.Hash) (*Node, error) {
	g.loads++
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("missing %s", id)
	}
	return n, nil
}

func collect(t *testing.T, g *graph, start string, maxDepth int) []string {
	t.Helper()
	var out []string
	for e, err := range Walk(context.Background(), g, types.Hash(start), maxDepth) {
		require.NoError(t, err)
		out = append(out, fmt.Sprintf("%s@%d", e.Node.ID, e.Depth))
	}
	return out
}

// diamond:
//
//	r ── a ── c ── m
//	 \        /
//	  b ─────┘
func diamond() *graph {
	g := newGraph()
	g.add("r", 1)
	g.add("a", 2, "r")
	g.add("b", 3, "r")
	g.add("c", 4, "a")
	g.add("m", 5, "c", "b")
	return g
}

func TestWalk_BreadthFirstDeduplicated(t *testing.T) {
	g := diamond()
	assert.Equal(t, []string{"m@0", "c@1", "b@1", "a@2", "r@2"}, collect(t, g, "m", 0))
}

func TestWalk_MaxDepth(t *testing.T) {
	g := diamond()
	assert.Equal(t, []string{"m@0", "c@1", "b@1"}, collect(t, g, "m", 1))
}

func TestWalk_LazyAndRestartable(t *testing.T) {
	g := diamond()
	seq := Walk(context.Background(), g, "m", 0)

	for e, err := range seq {
		require.NoError(t, err)
		assert.Equal(t, types.Hash("m"), e.Node.ID)
		break
	}
	assert.Equal(t, 1, g.loads, "stopping early must not load further nodes")

	var n int
	for _, err := range seq {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 5, n, "a second range restarts the walk")
}

func TestWalk_CycleTerminates(t *testing.T) {
	g := newGraph()
	g.add("x", 1, "y")
	g.add("y", 2, "x")
	assert.Equal(t, []string{"x@0", "y@1"}, collect(t, g, "x", 0))
}

func TestWalk_LoadError(t *testing.T) {
	g := newGraph()
	g.add("x", 1, "ghost")

	var got error
	for _, err := range Walk(context.Background(), g, "x", 0) {
		if err != nil {
			got = err
		}
	}
	require.Error(t, got)
	assert.Contains(t, got.Error(), "ghost")
}

func TestWalk_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, err := range Walk(ctx, diamond(), "m", 0) {
		assert.True(t, errors.Is(err, context.Canceled))
	}
}

func TestCommonAncestor(t *testing.T) {
	g := diamond()
	g.add("s", 6, "b")
	ctx := context.Background()

	cases := []struct {
		a, b, want string
	}{
		{"m", "m", "m"},
		{"c", "b", "r"},
		{"m", "s", "b"}, // b 在第二轮就被两侧同时看到
		{"a", "c", "a"}, // 祖先本身
		{"c", "a", "a"},
	}
	for _, tc := range cases {
		got, found, err := CommonAncestor(ctx, g, types.Hash(tc.a), types.Hash(tc.b))
		require.NoError(t, err)
		require.True(t, found, "%s/%s", tc.a, tc.b)
		assert.Equal(t, types.Hash(tc.want), got, "%s/%s", tc.a, tc.b)
	}
}

func TestCommonAncestor_TieBreakEarliest(t *testing.T) {
	// x 与 y 都有父节点 p1、p2，两个公共祖先在同一轮出现
	g := newGraph()
	g.add("p1", 5)
	g.add("p2", 3)
	g.add("x", 10, "p1", "p2")
	g.add("y", 11, "p2", "p1")

	got, found, err := CommonAncestor(context.Background(), g, "x", "y")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.Hash("p2"), got)
}

func TestCommonAncestor_Unrelated(t *testing.T) {
	g := newGraph()
	g.add("a", 1)
	g.add("b", 2)
	_, found, err := CommonAncestor(context.Background(), g, "a", "b")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIsAncestorAndAheadBehind(t *testing.T) {
	g := diamond()
	g.add("s", 6, "b")
	ctx := context.Background()

	ok, err := IsAncestor(ctx, g, "r", "m")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = IsAncestor(ctx, g, "s", "m")
	require.NoError(t, err)
	assert.False(t, ok)

	ahead, behind, err := AheadBehind(ctx, g, "m", "s")
	require.NoError(t, err)
	assert.Equal(t, 3, ahead, "m, c and a")
	assert.Equal(t, 1, behind, "s")
}
