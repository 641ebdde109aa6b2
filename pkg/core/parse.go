package core

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

var ErrMalformedDocument = errors.New("malformed document")

// ParseJSON 把 JSON 文本解析为文档
// 使用 gjson 逐个遍历对象字段，保留原始 key 顺序；重复 key 视为非法文档
func ParseJSON(data []byte) (*Document, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedDocument)
	}
	root, err := fromGJSON(gjson.ParseBytes(data), Root)
	if err != nil {
		return nil, err
	}
	return NewDocument(root), nil
}

func fromGJSON(r gjson.Result, at Path) (Node, error) {
	switch r.Type {
	case gjson.Null:
		return Null(), nil
	case gjson.False:
		return &ScalarNode{Value: false}, nil
	case gjson.True:
		return &ScalarNode{Value: true}, nil
	case gjson.Number:
		return &ScalarNode{Value: r.Num}, nil
	case gjson.String:
		return &ScalarNode{Value: r.Str}, nil
	}

	var err error
	switch {
	case r.IsObject():
		obj := NewObject()
		r.ForEach(func(key, value gjson.Result) bool {
			if _, dup := obj.Get(key.Str); dup {
				err = fmt.Errorf("%w: duplicate key %s", ErrMalformedDocument, at.Key(key.Str))
				return false
			}
			var c Node
			c, err = fromGJSON(value, at.Key(key.Str))
			if err != nil {
				return false
			}
			obj.Set(key.Str, c)
			return true
		})
		return obj, err
	case r.IsArray():
		arr := NewArray()
		i := 0
		r.ForEach(func(_, value gjson.Result) bool {
			var c Node
			c, err = fromGJSON(value, at.Index(i))
			if err != nil {
				return false
			}
			arr.Items = append(arr.Items, c)
			i++
			return true
		})
		return arr, err
	}
	return nil, fmt.Errorf("%w: unexpected json value at %s", ErrMalformedDocument, at)
}

// ParseYAML 把 YAML 文本解析为文档 (CLI 常用 YAML 编写元数据)
func ParseYAML(data []byte) (*Document, error) {
	var n yaml.Node
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if n.Kind == 0 {
		return NewDocument(nil), nil
	}
	root, err := fromYAML(&n, Root)
	if err != nil {
		return nil, err
	}
	return NewDocument(root), nil
}

func fromYAML(n *yaml.Node, at Path) (Node, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return NewObject(), nil
		}
		return fromYAML(n.Content[0], at)
	case yaml.AliasNode:
		return fromYAML(n.Alias, at)
	case yaml.MappingNode:
		obj := NewObject()
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if _, dup := obj.Get(key); dup {
				return nil, fmt.Errorf("%w: duplicate key %s", ErrMalformedDocument, at.Key(key))
			}
			c, err := fromYAML(n.Content[i+1], at.Key(key))
			if err != nil {
				return nil, err
			}
			obj.Set(key, c)
		}
		return obj, nil
	case yaml.SequenceNode:
		arr := NewArray()
		for i, it := range n.Content {
			c, err := fromYAML(it, at.Index(i))
			if err != nil {
				return nil, err
			}
			arr.Items = append(arr.Items, c)
		}
		return arr, nil
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return Null(), nil
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrMalformedDocument, at, err)
			}
			return &ScalarNode{Value: b}, nil
		case "!!int", "!!float":
			var f float64
			if err := n.Decode(&f); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrMalformedDocument, at, err)
			}
			return Scalar(f), nil
		default:
			return &ScalarNode{Value: n.Value}, nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported yaml node at %s", ErrMalformedDocument, at)
}

// FromValue 把 Go 原生值 (map[string]any / []any / 标量) 转为节点
// map 没有顺序，按 key 排序以保证确定性
func FromValue(v any) (Node, error) {
	switch x := v.(type) {
	case Node:
		return x.Clone(), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := NewObject()
		for _, k := range keys {
			c, err := FromValue(x[k])
			if err != nil {
				return nil, err
			}
			obj.Set(k, c)
		}
		return obj, nil
	case []any:
		arr := NewArray()
		for _, it := range x {
			c, err := FromValue(it)
			if err != nil {
				return nil, err
			}
			arr.Items = append(arr.Items, c)
		}
		return arr, nil
	default:
		s, err := normalizeScalar(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}
		return &ScalarNode{Value: s}, nil
	}
}

// MustFromValue 用于测试和常量
func MustFromValue(v any) Node {
	n, err := FromValue(v)
	if err != nil {
		panic(err)
	}
	return n
}

// ToValue 是 FromValue 的逆操作
func ToValue(n Node) any {
	switch x := n.(type) {
	case *ObjectNode:
		m := make(map[string]any, x.Len())
		for _, k := range x.keys {
			m[k] = ToValue(x.fields[k])
		}
		return m
	case *ArrayNode:
		out := make([]any, len(x.Items))
		for i, it := range x.Items {
			out[i] = ToValue(it)
		}
		return out
	case *ScalarNode:
		return x.Value
	}
	return nil
}
