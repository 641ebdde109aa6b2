package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidPath = errors.New("invalid path")

// StepKind 区分路径中的三种寻址方式
type StepKind uint8

const (
	StepKey   StepKind = iota // 对象字段: .name
	StepIndex                 // 位置数组下标: [3]
	StepElem                  // 带稳定 key 的数组元素: [id=AN01]
)

// Step 是路径中的一步
type Step struct {
	Kind  StepKind
	Key   string // StepKey: 字段名; StepElem: 元素 key 的值
	Field string // StepElem: 元素 key 所在的字段名 (通常是 "id")
	Index int    // StepIndex: 下标
}

func KeyStep(key string) Step { return Step{Kind: StepKey, Key: key} }
func IndexStep(i int) Step    { return Step{Kind: StepIndex, Index: i} }

func ElemStep(field, key string) Step {
	return Step{Kind: StepElem, Field: field, Key: key}
}

// Path 是从根到某个节点的寻址序列，是跨版本识别“同一个字段”的唯一依据
type Path []Step

// Root 是空路径，指向文档根节点
var Root = Path{}

// Child 返回追加一步后的新路径 (不会与 p 共享底层数组)
func (p Path) Child(s Step) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, s)
}

func (p Path) Key(k string) Path  { return p.Child(KeyStep(k)) }
func (p Path) Index(i int) Path   { return p.Child(IndexStep(i)) }
func (p Path) IsRoot() bool       { return len(p) == 0 }
func (p Path) Last() Step         { return p[len(p)-1] }
func (p Path) Parent() Path       { return p[:len(p)-1:len(p)-1] }
func (p Path) Elem(f, k string) Path {
	return p.Child(ElemStep(f, k))
}

// HasPrefix 判断 q 是否是 p 的祖先路径 (或相等)
func (p Path) HasPrefix(q Path) bool {
	if len(q) > len(p) {
		return false
	}
	for i := range q {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

func (p Path) Equal(q Path) bool {
	return len(p) == len(q) && p.HasPrefix(q)
}

// ComparePaths 给出确定性的全序：逐步比较，前缀排在前面
// 同一数组下的下标按数值比较
func ComparePaths(a, b Path) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareSteps(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func compareSteps(a, b Step) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case StepIndex:
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		}
		return 0
	case StepElem:
		if c := strings.Compare(a.Field, b.Field); c != 0 {
			return c
		}
	}
	return strings.Compare(a.Key, b.Key)
}

// String 输出规范形式，例如 analyses[id=AN01].method.name
func (p Path) String() string {
	var sb strings.Builder
	for i, s := range p {
		switch s.Kind {
		case StepKey:
			if needsQuote(s.Key) {
				sb.WriteString("[")
				sb.WriteString(strconv.Quote(s.Key))
				sb.WriteString("]")
				continue
			}
			if i > 0 {
				sb.WriteByte('.')
			}
			sb.WriteString(s.Key)
		case StepIndex:
			sb.WriteString("[")
			sb.WriteString(strconv.Itoa(s.Index))
			sb.WriteString("]")
		case StepElem:
			sb.WriteString("[")
			sb.WriteString(s.Field)
			sb.WriteByte('=')
			if needsQuote(s.Key) {
				sb.WriteString(strconv.Quote(s.Key))
			} else {
				sb.WriteString(s.Key)
			}
			sb.WriteString("]")
		}
	}
	return sb.String()
}

func needsQuote(s string) bool {
	if s == "" {
		return true
	}
	return strings.ContainsAny(s, `.[]"=\ `)
}

// ParsePath 解析 String() 输出的规范形式
func ParsePath(s string) (Path, error) {
	p := Path{}
	i := 0
	for i < len(s) {
		switch s[i] {
		case '.':
			if len(p) == 0 {
				return nil, fmt.Errorf("%w: leading '.' in %q", ErrInvalidPath, s)
			}
			ident, next, err := scanIdent(s, i+1)
			if err != nil {
				return nil, err
			}
			p = append(p, KeyStep(ident))
			i = next
		case '[':
			step, next, err := scanBracket(s, i)
			if err != nil {
				return nil, err
			}
			p = append(p, step)
			i = next
		default:
			if len(p) != 0 {
				return nil, fmt.Errorf("%w: expected '.' or '[' at offset %d in %q", ErrInvalidPath, i, s)
			}
			ident, next, err := scanIdent(s, i)
			if err != nil {
				return nil, err
			}
			p = append(p, KeyStep(ident))
			i = next
		}
	}
	return p, nil
}

// MustParsePath 用于常量路径和测试
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func scanIdent(s string, i int) (string, int, error) {
	j := i
	for j < len(s) && s[j] != '.' && s[j] != '[' {
		if strings.IndexByte(`]"=\ `, s[j]) >= 0 {
			return "", 0, fmt.Errorf("%w: unexpected %q at offset %d in %q", ErrInvalidPath, s[j], j, s)
		}
		j++
	}
	if j == i {
		return "", 0, fmt.Errorf("%w: empty key at offset %d in %q", ErrInvalidPath, i, s)
	}
	return s[i:j], j, nil
}

func scanBracket(s string, i int) (Step, int, error) {
	j := i + 1
	if j >= len(s) {
		return Step{}, 0, fmt.Errorf("%w: unterminated '[' in %q", ErrInvalidPath, s)
	}

	// ["quoted key"]
	if s[j] == '"' {
		key, next, err := scanQuoted(s, j)
		if err != nil {
			return Step{}, 0, err
		}
		if next >= len(s) || s[next] != ']' {
			return Step{}, 0, fmt.Errorf("%w: expected ']' after quoted key in %q", ErrInvalidPath, s)
		}
		return KeyStep(key), next + 1, nil
	}

	// [3]
	if s[j] >= '0' && s[j] <= '9' {
		end := strings.IndexByte(s[j:], ']')
		if end < 0 {
			return Step{}, 0, fmt.Errorf("%w: unterminated index in %q", ErrInvalidPath, s)
		}
		idx, err := strconv.Atoi(s[j : j+end])
		if err != nil {
			return Step{}, 0, fmt.Errorf("%w: bad index %q", ErrInvalidPath, s[j:j+end])
		}
		return IndexStep(idx), j + end + 1, nil
	}

	// [field=value] 或 [field="value"]
	eq := strings.IndexByte(s[j:], '=')
	if eq <= 0 {
		return Step{}, 0, fmt.Errorf("%w: malformed element step in %q", ErrInvalidPath, s)
	}
	field := s[j : j+eq]
	k := j + eq + 1
	if k < len(s) && s[k] == '"' {
		key, next, err := scanQuoted(s, k)
		if err != nil {
			return Step{}, 0, err
		}
		if next >= len(s) || s[next] != ']' {
			return Step{}, 0, fmt.Errorf("%w: expected ']' in %q", ErrInvalidPath, s)
		}
		return ElemStep(field, key), next + 1, nil
	}
	end := strings.IndexByte(s[k:], ']')
	if end <= 0 {
		return Step{}, 0, fmt.Errorf("%w: malformed element step in %q", ErrInvalidPath, s)
	}
	return ElemStep(field, s[k:k+end]), k + end + 1, nil
}

func scanQuoted(s string, i int) (string, int, error) {
	j := i + 1
	for j < len(s) {
		if s[j] == '\\' {
			j += 2
			continue
		}
		if s[j] == '"' {
			break
		}
		j++
	}
	if j >= len(s) {
		return "", 0, fmt.Errorf("%w: unterminated quote in %q", ErrInvalidPath, s)
	}
	v, err := strconv.Unquote(s[i : j+1])
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return v, j + 1, nil
}
