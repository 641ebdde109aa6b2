package meta

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"metavault/pkg/core"
	"metavault/pkg/types"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// -----------------------------------------------------------------------------

const testDoc types.DocumentID = "RE-001"

// setupTestRepo 构建隔离的测试环境
// 每个测试用自己的名字作为内存库名，互不干扰
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	metaDB := NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(Models()...))
	t.Cleanup(func() { _ = metaDB.Close() })

	return NewRepository(metaDB)
}

// mockHash 生成合法的测试用 Hash
func mockHash(input string) types.Hash {
	sum := sha256.Sum256([]byte(input))
	return types.Hash(hex.EncodeToString(sum[:]))
}

// mustNewVersion 创建 Version，如果失败直接终止测试
func mustNewVersion(t *testing.T, snapshot types.Hash, parents []types.Hash, author string, at time.Time, msgAndArgs ...any) *core.Version {
	t.Helper()
	v, err := core.NewVersion(snapshot, core.VersionHeader{
		DocumentID: testDoc,
		BranchID:   "branch-main",
		Parents:    parents,
		Author:     author,
		Message:    "msg from " + author,
		CreatedAt:  at,
	})
	require.NoError(t, err, msgAndArgs...)
	return v
}

// mustIndexVersion 强制索引 Version，失败则终止
func mustIndexVersion(t *testing.T, repo *Repository, v *core.Version, msgAndArgs ...any) {
	t.Helper()
	require.NoError(t, repo.IndexVersion(context.Background(), v), msgAndArgs...)
}

// mustCreateBranch 创建指向 head 的分支
func mustCreateBranch(t *testing.T, repo *Repository, id, name string, head types.Hash, msgAndArgs ...any) *Branch {
	t.Helper()
	b := &Branch{
		ID:            id,
		DocumentID:    testDoc,
		Name:          name,
		HeadVersionID: head,
		IsActive:      true,
		Revision:      1,
	}
	require.NoError(t, repo.CreateBranch(context.Background(), b), msgAndArgs...)
	return b
}
