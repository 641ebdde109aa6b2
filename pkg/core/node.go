package core

import (
	"fmt"
	"math"
)

// Kind 是文档节点的类别
type Kind string

const (
	KindObject Kind = "object"
	KindArray  Kind = "array"
	KindScalar Kind = "scalar"
)

// Node 是文档树中的一个节点
// 只有三种实现：*ObjectNode, *ArrayNode, *ScalarNode
// 使用者应当对具体类型做 type switch，而不是反射
type Node interface {
	Kind() Kind
	Clone() Node
	node()
}

// ObjectNode 是有序的 key -> Node 映射
// keys 记录插入顺序，fields 负责查找
type ObjectNode struct {
	keys   []string
	fields map[string]Node
}

func NewObject() *ObjectNode {
	return &ObjectNode{fields: make(map[string]Node)}
}

func (o *ObjectNode) Kind() Kind { return KindObject }
func (o *ObjectNode) node()      {}

// Keys 返回按插入顺序排列的 key 列表 (副本)
func (o *ObjectNode) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

func (o *ObjectNode) Len() int { return len(o.keys) }

func (o *ObjectNode) Get(key string) (Node, bool) {
	n, ok := o.fields[key]
	return n, ok
}

// Set 写入字段；新 key 追加到末尾，已有 key 原地替换
func (o *ObjectNode) Set(key string, n Node) {
	if _, exists := o.fields[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.fields[key] = n
}

// Delete 删除字段，返回是否真的删除了
func (o *ObjectNode) Delete(key string) bool {
	if _, exists := o.fields[key]; !exists {
		return false
	}
	delete(o.fields, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	return true
}

func (o *ObjectNode) Clone() Node {
	c := &ObjectNode{
		keys:   make([]string, len(o.keys)),
		fields: make(map[string]Node, len(o.fields)),
	}
	copy(c.keys, o.keys)
	for k, v := range o.fields {
		c.fields[k] = v.Clone()
	}
	return c
}

// ArrayNode 是有序的元素列表
type ArrayNode struct {
	Items []Node
}

func NewArray(items ...Node) *ArrayNode {
	return &ArrayNode{Items: items}
}

func (a *ArrayNode) Kind() Kind { return KindArray }
func (a *ArrayNode) node()      {}
func (a *ArrayNode) Len() int   { return len(a.Items) }

func (a *ArrayNode) Clone() Node {
	c := &ArrayNode{Items: make([]Node, len(a.Items))}
	for i, it := range a.Items {
		c.Items[i] = it.Clone()
	}
	return c
}

// ScalarNode 持有叶子值
// Value 只可能是 nil, bool, float64, string 四种之一
type ScalarNode struct {
	Value any
}

func (s *ScalarNode) Kind() Kind { return KindScalar }
func (s *ScalarNode) node()      {}

func (s *ScalarNode) Clone() Node {
	return &ScalarNode{Value: s.Value}
}

// Scalar 构造标量节点，数字统一归一化为 float64
// 传入不支持的类型会 panic (属于编程错误)
func Scalar(v any) *ScalarNode {
	n, err := normalizeScalar(v)
	if err != nil {
		panic(err)
	}
	return &ScalarNode{Value: n}
}

func Null() *ScalarNode { return &ScalarNode{} }

func normalizeScalar(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string:
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("non-finite number %v", x)
		}
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("unsupported scalar type %T", v)
	}
}

// Document 是一个版本化的元数据文档
type Document struct {
	Root Node
}

// NewDocument 用给定的根节点构造文档；nil 根节点视为空对象
func NewDocument(root Node) *Document {
	if root == nil {
		root = NewObject()
	}
	return &Document{Root: root}
}

func (d *Document) Clone() *Document {
	return &Document{Root: d.Root.Clone()}
}

// Lookup 按路径查找节点
func (d *Document) Lookup(p Path) (Node, bool) {
	return Lookup(d.Root, p)
}
