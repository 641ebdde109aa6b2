package core

import (
	"bytes"
	"encoding/json"
)

// MarshalNode 输出保持字段顺序的 JSON
func MarshalNode(n Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseNode 解析单个 JSON 值 (冲突解决值、评论锚点等场景)
func ParseNode(raw []byte) (Node, error) {
	doc, err := ParseJSON(raw)
	if err != nil {
		return nil, err
	}
	return doc.Root, nil
}

func writeJSON(buf *bytes.Buffer, n Node) error {
	switch x := n.(type) {
	case nil:
		buf.WriteString("null")
	case *ScalarNode:
		b, err := json.Marshal(x.Value)
		if err != nil {
			return err
		}
		buf.Write(b)
	case *ObjectNode:
		buf.WriteByte('{')
		for i, k := range x.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeJSON(buf, x.fields[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case *ArrayNode:
		buf.WriteByte('[')
		for i, it := range x.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, it); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	}
	return nil
}

func (d *Document) MarshalJSON() ([]byte, error) {
	return MarshalNode(d.Root)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	d.Root = parsed.Root
	return nil
}

// String 方便日志与测试输出
func (d *Document) String() string {
	b, err := d.MarshalJSON()
	if err != nil {
		return "<invalid>"
	}
	return string(b)
}
