package core

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"metavault/pkg/types"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 辅助工具
// -----------------------------------------------------------------------------

// mockHash 生成一个合法的 32 字节 Hex 字符串 (64字符长度)
// 用于满足 Link 对 Hex 格式的要求
func mockHash(input string) types.Hash {
	sum := sha256.Sum256([]byte(input))
	return types.Hash(hex.EncodeToString(sum[:]))
}

// mustParseJSON 解析测试文档，失败直接终止
func mustParseJSON(t *testing.T, raw string) *Document {
	t.Helper()
	doc, err := ParseJSON([]byte(raw))
	require.NoError(t, err)
	return doc
}

func mustNewVersion(t *testing.T, snapshot types.Hash, parents []types.Hash, author, msg string) *Version {
	t.Helper()
	v, err := NewVersion(snapshot, VersionHeader{
		DocumentID: "RE-001",
		BranchID:   "branch-main",
		Parents:    parents,
		Author:     author,
		Message:    msg,
	})
	require.NoError(t, err)
	return v
}
