package core

import (
	"fmt"

	"metavault/pkg/types"
)

// wireNode 是文档节点在 CBOR 里的形状
// 对象用有序的 field 列表而不是 map，这样字段顺序也能被持久化
type wireNode struct {
	K Kind        `cbor:"k"`
	V any         `cbor:"v"`
	F []wireField `cbor:"f,omitempty"`
	I []wireNode  `cbor:"i,omitempty"`
}

type wireField struct {
	N string   `cbor:"n"`
	V wireNode `cbor:"v"`
}

func toWire(n Node) wireNode {
	switch x := n.(type) {
	case *ObjectNode:
		w := wireNode{K: KindObject, F: make([]wireField, 0, x.Len())}
		for _, k := range x.keys {
			w.F = append(w.F, wireField{N: k, V: toWire(x.fields[k])})
		}
		return w
	case *ArrayNode:
		w := wireNode{K: KindArray, I: make([]wireNode, 0, len(x.Items))}
		for _, it := range x.Items {
			w.I = append(w.I, toWire(it))
		}
		return w
	case *ScalarNode:
		return wireNode{K: KindScalar, V: x.Value}
	}
	return wireNode{K: KindScalar}
}

func fromWire(w wireNode) (Node, error) {
	switch w.K {
	case KindObject:
		obj := NewObject()
		for _, f := range w.F {
			if _, dup := obj.Get(f.N); dup {
				return nil, fmt.Errorf("%w: duplicate key %q in snapshot", ErrMalformedDocument, f.N)
			}
			c, err := fromWire(f.V)
			if err != nil {
				return nil, err
			}
			obj.Set(f.N, c)
		}
		return obj, nil
	case KindArray:
		arr := &ArrayNode{Items: make([]Node, 0, len(w.I))}
		for _, it := range w.I {
			c, err := fromWire(it)
			if err != nil {
				return nil, err
			}
			arr.Items = append(arr.Items, c)
		}
		return arr, nil
	case KindScalar:
		v, err := normalizeScalar(w.V)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}
		return &ScalarNode{Value: v}, nil
	}
	return nil, fmt.Errorf("%w: unknown node kind %q", ErrMalformedDocument, w.K)
}

// Snapshot 是文档内容的不可变对象，按内容寻址
// 相同内容 (含字段顺序) 的文档得到相同的 Hash，天然去重
type Snapshot struct {
	hash     types.Hash `cbor:"-"`
	rawBytes []byte     `cbor:"-"`
	doc      *Document  `cbor:"-"`

	TypeVal ObjectType `cbor:"t"`
	Root    wireNode   `cbor:"r"`
}

// NewSnapshot 序列化文档并计算 Hash
func NewSnapshot(doc *Document) (*Snapshot, error) {
	s := &Snapshot{
		TypeVal: TypeSnapshot,
		Root:    toWire(doc.Root),
		doc:     doc.Clone(),
	}
	h, b, err := CalculateHash(s)
	if err != nil {
		return nil, err
	}
	s.hash = h
	s.rawBytes = b
	return s, nil
}

// DecodeSnapshot 从存储字节还原快照
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := DecodeObject(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if s.TypeVal != TypeSnapshot {
		return nil, fmt.Errorf("object is a %q, not a snapshot", s.TypeVal)
	}
	root, err := fromWire(s.Root)
	if err != nil {
		return nil, err
	}
	s.doc = NewDocument(root)
	s.hash = CalculateBlobHash(data)
	s.rawBytes = data
	return &s, nil
}

func (s *Snapshot) Type() ObjectType { return TypeSnapshot }
func (s *Snapshot) ID() types.Hash   { return s.hash }
func (s *Snapshot) Bytes() []byte    { return s.rawBytes }

// Document 返回快照内容；快照不可变，调用方修改前需要 Clone
func (s *Snapshot) Document() *Document { return s.doc }
