// Package lineage 在版本 DAG 上做祖先遍历
//
// 图由父指针隐式给出，遍历时按需加载节点，不需要整张图常驻内存。
// 所有遍历都带 visited 集合，即使存储损坏出现环也能终止。
package lineage

import (
	"context"
	"iter"
	"slices"
	"time"

	"metavault/pkg/types"
)

// Node 是遍历所需的最小版本信息
type Node struct {
	ID        types.Hash
	Parents   []types.Hash
	CreatedAt time.Time
}

// Loader 按 ID 加载节点
type Loader interface {
	LoadNode(ctx context.Context, id types.Hash) (*Node, error)
}

// LoaderFunc 让普通函数满足 Loader
type LoaderFunc func(ctx context.Context, id types.Hash) (*Node, error)

func (f LoaderFunc) LoadNode(ctx context.Context, id types.Hash) (*Node, error) {
	return f(ctx, id)
}

// Entry 是遍历产出的一项，Depth 为到起点的最短距离
type Entry struct {
	Node  *Node
	Depth int
}

// Walk 从 start 开始广度优先遍历祖先 (含 start 本身，深度 0)
//
// maxDepth <= 0 表示不限深度。经由多条合并路径可达的版本只产出一次。
// 返回的序列是惰性的，每次 range 都会从头重新遍历。
// 加载失败时产出 (Entry{}, err) 并结束。
func Walk(ctx context.Context, l Loader, start types.Hash, maxDepth int) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		visited := map[types.Hash]bool{start: true}
		frontier := []types.Hash{start}

		for depth := 0; len(frontier) > 0; depth++ {
			var next []types.Hash
			for _, id := range frontier {
				if err := ctx.Err(); err != nil {
					yield(Entry{}, err)
					return
				}
				n, err := l.LoadNode(ctx, id)
				if err != nil {
					yield(Entry{}, err)
					return
				}
				if !yield(Entry{Node: n, Depth: depth}, nil) {
					return
				}
				for _, p := range n.Parents {
					if !visited[p] {
						visited[p] = true
						next = append(next, p)
					}
				}
			}
			if maxDepth > 0 && depth >= maxDepth {
				return
			}
			frontier = next
		}
	}
}

// Ancestors 收集 start 可达的全部版本 ID (含 start)
func Ancestors(ctx context.Context, l Loader, start types.Hash) (map[types.Hash]bool, error) {
	out := make(map[types.Hash]bool)
	for e, err := range Walk(ctx, l, start, 0) {
		if err != nil {
			return nil, err
		}
		out[e.Node.ID] = true
	}
	return out, nil
}

// IsAncestor 判断 ancestor 是否可以从 descendant 沿父指针到达 (自身也算)
func IsAncestor(ctx context.Context, l Loader, ancestor, descendant types.Hash) (bool, error) {
	for e, err := range Walk(ctx, l, descendant, 0) {
		if err != nil {
			return false, err
		}
		if e.Node.ID == ancestor {
			return true, nil
		}
	}
	return false, nil
}

// CommonAncestor 找到 a 与 b 的最近公共祖先
//
// 两侧按轮次同时扩展 BFS 前沿，第一轮出现的公共 ID 即为结果；
// 同一轮出现多个时取 createdAt 最早的，再按 ID 排序保证确定性。
// 两个版本没有公共祖先时 found 为 false。
func CommonAncestor(ctx context.Context, l Loader, a, b types.Hash) (id types.Hash, found bool, err error) {
	seenA := map[types.Hash]bool{a: true}
	seenB := map[types.Hash]bool{b: true}
	fa, fb := []types.Hash{a}, []types.Hash{b}

	nodes := make(map[types.Hash]*Node)
	load := func(id types.Hash) (*Node, error) {
		if n, ok := nodes[id]; ok {
			return n, nil
		}
		n, err := l.LoadNode(ctx, id)
		if err != nil {
			return nil, err
		}
		nodes[id] = n
		return n, nil
	}
	expand := func(frontier []types.Hash, seen map[types.Hash]bool) ([]types.Hash, error) {
		var next []types.Hash
		for _, id := range frontier {
			n, err := load(id)
			if err != nil {
				return nil, err
			}
			for _, p := range n.Parents {
				if !seen[p] {
					seen[p] = true
					next = append(next, p)
				}
			}
		}
		return next, nil
	}

	for len(fa) > 0 || len(fb) > 0 {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}

		var common []types.Hash
		for _, id := range fa {
			if seenB[id] {
				common = append(common, id)
			}
		}
		for _, id := range fb {
			if seenA[id] && !slices.Contains(common, id) {
				common = append(common, id)
			}
		}
		if len(common) > 0 {
			return pickEarliest(common, load)
		}

		if fa, err = expand(fa, seenA); err != nil {
			return "", false, err
		}
		if fb, err = expand(fb, seenB); err != nil {
			return "", false, err
		}
	}
	return "", false, nil
}

func pickEarliest(ids []types.Hash, load func(types.Hash) (*Node, error)) (types.Hash, bool, error) {
	var best *Node
	for _, id := range ids {
		n, err := load(id)
		if err != nil {
			return "", false, err
		}
		if best == nil ||
			n.CreatedAt.Before(best.CreatedAt) ||
			(n.CreatedAt.Equal(best.CreatedAt) && n.ID < best.ID) {
			best = n
		}
	}
	return best.ID, true, nil
}

// AheadBehind 返回 a 独有的版本数和 b 独有的版本数
func AheadBehind(ctx context.Context, l Loader, a, b types.Hash) (ahead, behind int, err error) {
	ra, err := Ancestors(ctx, l, a)
	if err != nil {
		return 0, 0, err
	}
	rb, err := Ancestors(ctx, l, b)
	if err != nil {
		return 0, 0, err
	}
	for id := range ra {
		if !rb[id] {
			ahead++
		}
	}
	for id := range rb {
		if !ra[id] {
			behind++
		}
	}
	return ahead, behind, nil
}
