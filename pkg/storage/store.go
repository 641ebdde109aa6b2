package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"metavault/pkg/apperr"
	"metavault/pkg/core"
	"metavault/pkg/types"
)

var (
	ErrNotFound      = fmt.Errorf("object %w", apperr.ErrNotFound)
	ErrAmbiguousHash = errors.New("ambiguous hash prefix")
)

// Store defines the interface for a storage backend.
// Implementations can be local disk, cloud storage, or a cache decorator.
type Store interface {
	// Put 将一个核心对象持久化 (幂等)
	// 它不需要返回 Hash，因为 Hash 已经在 core.Object 里了
	Put(ctx context.Context, obj core.Object) error

	// Get 根据 Hash 读取原始数据
	Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error)

	// Has 检查对象是否存在 (用于去重逻辑)
	Has(ctx context.Context, hash types.Hash) (bool, error)

	// Delete 删除对象，对象不存在时返回 ErrNotFound
	Delete(ctx context.Context, hash types.Hash) error

	// ExpandHash 把短 Hash 展开为完整 Hash
	ExpandHash(ctx context.Context, short types.HashPrefix) (types.Hash, error)
}

// ReadAll 读取对象的全部字节
func ReadAll(ctx context.Context, s Store, hash types.Hash) ([]byte, error) {
	rc, err := s.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", hash.Short(), err)
	}
	return data, nil
}

// LoadSnapshot 读取并解码快照，同时校验内容 Hash
func LoadSnapshot(ctx context.Context, s Store, hash types.Hash) (*core.Snapshot, error) {
	data, err := ReadAll(ctx, s, hash)
	if err != nil {
		return nil, err
	}
	snap, err := core.DecodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	if snap.ID() != hash {
		return nil, fmt.Errorf("snapshot %s is corrupted (content hash %s)", hash.Short(), snap.ID().Short())
	}
	return snap, nil
}

// LoadVersion 读取并解码版本对象，同时校验内容 Hash
func LoadVersion(ctx context.Context, s Store, hash types.Hash) (*core.Version, error) {
	data, err := ReadAll(ctx, s, hash)
	if err != nil {
		return nil, err
	}
	v, err := core.DecodeVersion(data)
	if err != nil {
		return nil, err
	}
	if v.ID() != hash {
		return nil, fmt.Errorf("version %s is corrupted (content hash %s)", hash.Short(), v.ID().Short())
	}
	return v, nil
}
