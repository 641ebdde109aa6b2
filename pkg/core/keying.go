package core

// DefaultKeyField 是数组元素的稳定标识字段
// 元数据里的 analyses / methods / outputs 都带 id
const DefaultKeyField = "id"

// Keying 决定数组按 key 比较还是按位置比较
//
// 约定：当数组的每个元素都是对象、都带有非空字符串的 Field 字段、且取值互不重复时，
// 该数组是“keyed”的，比较时忽略顺序；其余数组按下标比较。
// 空数组与两种约定都兼容。
type Keying struct {
	Field string
}

var DefaultKeying = Keying{Field: DefaultKeyField}

func (k Keying) field() string {
	if k.Field == "" {
		return DefaultKeyField
	}
	return k.Field
}

// Index 返回 key -> 下标 的映射；数组不满足约定时 ok 为 false
func (k Keying) Index(a *ArrayNode) (map[string]int, bool) {
	idx := make(map[string]int, len(a.Items))
	for i, it := range a.Items {
		key, ok := elementKey(it, k.field())
		if !ok {
			return nil, false
		}
		if _, dup := idx[key]; dup {
			return nil, false
		}
		idx[key] = i
	}
	return idx, true
}

// Pair 判断两个数组是否应当按 key 比较
// 两侧都满足约定，且至少一侧非空
func (k Keying) Pair(a, b *ArrayNode) (map[string]int, map[string]int, bool) {
	if len(a.Items) == 0 && len(b.Items) == 0 {
		return nil, nil, false
	}
	ia, ok := k.Index(a)
	if !ok {
		return nil, nil, false
	}
	ib, ok := k.Index(b)
	if !ok {
		return nil, nil, false
	}
	return ia, ib, true
}

// ElemStep 构造指向 key 元素的路径步骤
func (k Keying) ElemStep(key string) Step {
	return ElemStep(k.field(), key)
}

// Equal 按 DefaultKeying 比较两个节点
func Equal(a, b Node) bool {
	return DefaultKeying.Equal(a, b)
}

// Equal 语义上的深比较，与 differ 的判定一致：
// 对象字段顺序、keyed 数组的元素顺序都不参与比较
func (k Keying) Equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *ScalarNode:
		y, ok := b.(*ScalarNode)
		return ok && x.Value == y.Value
	case *ObjectNode:
		y, ok := b.(*ObjectNode)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for _, key := range x.keys {
			yv, ok := y.fields[key]
			if !ok || !k.Equal(x.fields[key], yv) {
				return false
			}
		}
		return true
	case *ArrayNode:
		y, ok := b.(*ArrayNode)
		if !ok || x.Len() != y.Len() {
			return false
		}
		if ix, iy, keyed := k.Pair(x, y); keyed {
			for key, i := range ix {
				j, ok := iy[key]
				if !ok || !k.Equal(x.Items[i], y.Items[j]) {
					return false
				}
			}
			return true
		}
		for i := range x.Items {
			if !k.Equal(x.Items[i], y.Items[i]) {
				return false
			}
		}
		return true
	}
	return false
}
