package core

import (
	"errors"
	"fmt"
)

var ErrPathNotFound = errors.New("path not found")

// Lookup 从 root 出发按路径查找节点
func Lookup(root Node, p Path) (Node, bool) {
	cur := root
	for _, s := range p {
		next, _, ok := child(cur, s)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// child 返回 n 在 step 下的子节点；对数组同时返回下标
func child(n Node, s Step) (Node, int, bool) {
	switch x := n.(type) {
	case *ObjectNode:
		if s.Kind != StepKey {
			return nil, -1, false
		}
		c, ok := x.Get(s.Key)
		return c, -1, ok
	case *ArrayNode:
		switch s.Kind {
		case StepIndex:
			if s.Index < 0 || s.Index >= len(x.Items) {
				return nil, -1, false
			}
			return x.Items[s.Index], s.Index, true
		case StepElem:
			for i, it := range x.Items {
				if k, ok := elementKey(it, s.Field); ok && k == s.Key {
					return it, i, true
				}
			}
		}
	}
	return nil, -1, false
}

// SetAt 在路径处写入节点并返回新的根
// 父节点必须存在；数组下标等于长度时表示追加，带 key 的元素找不到时追加
func SetAt(root Node, p Path, v Node) (Node, error) {
	if p.IsRoot() {
		return v, nil
	}
	parent, ok := Lookup(root, p.Parent())
	if !ok {
		return nil, fmt.Errorf("%w: parent of %s", ErrPathNotFound, p)
	}
	s := p.Last()
	switch x := parent.(type) {
	case *ObjectNode:
		if s.Kind != StepKey {
			return nil, fmt.Errorf("%w: %s addresses an object with an array step", ErrInvalidPath, p)
		}
		x.Set(s.Key, v)
		return root, nil
	case *ArrayNode:
		switch s.Kind {
		case StepIndex:
			switch {
			case s.Index >= 0 && s.Index < len(x.Items):
				x.Items[s.Index] = v
			case s.Index == len(x.Items):
				x.Items = append(x.Items, v)
			default:
				return nil, fmt.Errorf("%w: index %d out of range (len %d) at %s", ErrPathNotFound, s.Index, len(x.Items), p)
			}
			return root, nil
		case StepElem:
			if _, i, found := child(x, s); found {
				x.Items[i] = v
			} else {
				x.Items = append(x.Items, v)
			}
			return root, nil
		}
	}
	return nil, fmt.Errorf("%w: %s does not address a container", ErrInvalidPath, p.Parent())
}

// RemoveAt 删除路径处的节点并返回新的根
// 位置数组删除后，后续元素前移
func RemoveAt(root Node, p Path) (Node, error) {
	if p.IsRoot() {
		return nil, fmt.Errorf("%w: cannot remove the document root", ErrInvalidPath)
	}
	parent, ok := Lookup(root, p.Parent())
	if !ok {
		return nil, fmt.Errorf("%w: parent of %s", ErrPathNotFound, p)
	}
	s := p.Last()
	switch x := parent.(type) {
	case *ObjectNode:
		if s.Kind == StepKey && x.Delete(s.Key) {
			return root, nil
		}
	case *ArrayNode:
		if _, i, found := child(x, s); found {
			x.Items = append(x.Items[:i], x.Items[i+1:]...)
			return root, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPathNotFound, p)
}

// elementKey 读取数组元素上的稳定 key
func elementKey(n Node, field string) (string, bool) {
	obj, ok := n.(*ObjectNode)
	if !ok {
		return "", false
	}
	v, ok := obj.Get(field)
	if !ok {
		return "", false
	}
	s, ok := v.(*ScalarNode)
	if !ok {
		return "", false
	}
	str, ok := s.Value.(string)
	if !ok || str == "" {
		return "", false
	}
	return str, true
}
