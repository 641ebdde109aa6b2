package core

import (
	"errors"
	"fmt"
	"time"

	"metavault/pkg/types"
)

// MaxParents 普通提交一个父节点，合并提交两个父节点
const MaxParents = 2

var ErrTooManyParents = errors.New("a version has at most two parents")

// Version 是版本 DAG 的顶点，创建后不可变
type Version struct {
	hash     types.Hash `cbor:"-"`
	rawBytes []byte     `cbor:"-"`

	TypeVal ObjectType `cbor:"t"`

	DocumentID  types.DocumentID `cbor:"d"`
	BranchID    string           `cbor:"b"`
	SnapshotCid Link             `cbor:"s"`
	Parents     []Link           `cbor:"p"`

	Author  string `cbor:"a"`
	Message string `cbor:"m"`
	Summary string `cbor:"sm"`

	// Unix 纳秒，保证同一秒内的提交也能排序
	Timestamp int64 `cbor:"ts"`
}

// VersionHeader 描述一个新版本的元数据
type VersionHeader struct {
	DocumentID types.DocumentID
	BranchID   string
	Parents    []types.Hash
	Author     string
	Message    string
	Summary    string
	CreatedAt  time.Time
}

func NewVersion(snapshot types.Hash, h VersionHeader) (*Version, error) {
	if len(h.Parents) > MaxParents {
		return nil, ErrTooManyParents
	}
	parentLinks := make([]Link, len(h.Parents))
	for i, p := range h.Parents {
		parentLinks[i] = NewLink(p)
	}
	createdAt := h.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	v := &Version{
		TypeVal:     TypeVersion,
		DocumentID:  h.DocumentID,
		BranchID:    h.BranchID,
		SnapshotCid: NewLink(snapshot),
		Parents:     parentLinks,
		Author:      h.Author,
		Message:     h.Message,
		Summary:     h.Summary,
		Timestamp:   createdAt.UnixNano(),
	}

	hash, b, err := CalculateHash(v)
	if err != nil {
		return nil, err
	}
	v.hash = hash
	v.rawBytes = b
	return v, nil
}

// DecodeVersion 从存储字节还原版本对象
func DecodeVersion(data []byte) (*Version, error) {
	var v Version
	if err := DecodeObject(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode version: %w", err)
	}
	if v.TypeVal != TypeVersion {
		return nil, fmt.Errorf("object is a %q, not a version", v.TypeVal)
	}
	v.hash = CalculateBlobHash(data)
	v.rawBytes = data
	return &v, nil
}

func (v *Version) Type() ObjectType { return TypeVersion }
func (v *Version) ID() types.Hash   { return v.hash }
func (v *Version) Bytes() []byte    { return v.rawBytes }

func (v *Version) ParentHashes() []types.Hash {
	out := make([]types.Hash, len(v.Parents))
	for i, p := range v.Parents {
		out[i] = p.Hash
	}
	return out
}

func (v *Version) CreatedAt() time.Time {
	return time.Unix(0, v.Timestamp)
}
