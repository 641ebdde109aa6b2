package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"metavault/pkg/core"
	"metavault/pkg/storage"
	"metavault/pkg/types"

	"gopkg.in/yaml.v3"
)

// Format 是导出文档时的输出格式
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Exporter 直接从对象存储读取版本与快照，不经过元数据库
type Exporter struct {
	store storage.Store
}

func NewExporter(store storage.Store) *Exporter {
	return &Exporter{store: store}
}

// ExportVersion 把版本指向的快照按 format 写入 w
func (e *Exporter) ExportVersion(ctx context.Context, hash types.Hash, w io.Writer, format Format) error {
	v, err := storage.LoadVersion(ctx, e.store, hash)
	if err != nil {
		return fmt.Errorf("failed to load version %s: %w", hash.Short(), err)
	}
	snap, err := storage.LoadSnapshot(ctx, e.store, v.SnapshotCid.Hash)
	if err != nil {
		return fmt.Errorf("failed to load snapshot of %s: %w", hash.Short(), err)
	}
	return WriteDocument(w, snap.Document(), format)
}

// WriteDocument 按 format 输出文档，字段保持原有顺序
func WriteDocument(w io.Writer, doc *core.Document, format Format) error {
	switch format {
	case FormatJSON, "":
		raw, err := core.MarshalNode(doc.Root)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return err
		}
		buf.WriteByte('\n')
		_, err = w.Write(buf.Bytes())
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(toYAML(doc.Root)); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

func toYAML(n core.Node) *yaml.Node {
	switch x := n.(type) {
	case *core.ObjectNode:
		out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range x.Keys() {
			child, _ := x.Get(k)
			out.Content = append(out.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
				toYAML(child),
			)
		}
		return out
	case *core.ArrayNode:
		out := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, it := range x.Items {
			out.Content = append(out.Content, toYAML(it))
		}
		return out
	case *core.ScalarNode:
		return yamlScalar(x.Value)
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}

func yamlScalar(v any) *yaml.Node {
	switch x := v.(type) {
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(x)}
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(int64(x), 10)}
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(x, 'g', -1, 64)}
	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: x}
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}

// PrintObject 打印存储里任意对象的概要 (类似 git cat-file -p)
func (e *Exporter) PrintObject(ctx context.Context, hash types.Hash, w io.Writer) error {
	data, err := storage.ReadAll(ctx, e.store, hash)
	if err != nil {
		return err
	}
	typ, err := core.PeekType(data)
	if err != nil {
		return fmt.Errorf("object %s is not a metavault object: %w", hash.Short(), err)
	}

	switch typ {
	case core.TypeVersion:
		v, err := core.DecodeVersion(data)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Type:     Version\n")
		fmt.Fprintf(w, "Document: %s\n", v.DocumentID)
		fmt.Fprintf(w, "Branch:   %s\n", v.BranchID)
		fmt.Fprintf(w, "Snapshot: %s\n", v.SnapshotCid.Hash)
		for _, p := range v.ParentHashes() {
			fmt.Fprintf(w, "Parent:   %s\n", p)
		}
		fmt.Fprintf(w, "Author:   %s\n", v.Author)
		fmt.Fprintf(w, "Time:     %s\n", v.CreatedAt().Format(time.RFC3339))
		if v.Summary != "" {
			fmt.Fprintf(w, "Summary:  %s\n", v.Summary)
		}
		fmt.Fprintf(w, "\n%s\n", v.Message)
		return nil
	case core.TypeSnapshot:
		snap, err := core.DecodeSnapshot(data)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Type: Snapshot\nSize: %d bytes\n\n", len(data))
		return WriteDocument(w, snap.Document(), FormatJSON)
	default:
		return fmt.Errorf("unknown object type: %s", typ)
	}
}
