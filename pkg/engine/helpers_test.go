package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"metavault/pkg/core"
	"metavault/pkg/meta"
	"metavault/pkg/metrics"
	"metavault/pkg/storage/disk"
	"metavault/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// -----------------------------------------------------------------------------

const testDoc types.DocumentID = "RE-001"

// fakeClock 每次读取前进一秒，保证版本时间戳严格递增
type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
}

type testEnv struct {
	eng     *Engine
	repo    *meta.Repository
	clock   *fakeClock
	metrics *metrics.Metrics
}

// setupEngine 构建隔离的测试环境：内存 SQLite + 临时目录对象存储
func setupEngine(t *testing.T) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	metaDB := meta.NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(meta.Models()...))
	t.Cleanup(func() { _ = metaDB.Close() })

	store, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)

	clock := &fakeClock{cur: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := metrics.New(prometheus.NewRegistry())
	repo := meta.NewRepository(metaDB)

	eng, err := New(repo, store, WithClock(clock.Now), WithMetrics(m), WithSnapshotCache(8))
	require.NoError(t, err)
	return &testEnv{eng: eng, repo: repo, clock: clock, metrics: m}
}

func mustDoc(t *testing.T, raw string) *core.Document {
	t.Helper()
	doc, err := core.ParseJSON([]byte(raw))
	require.NoError(t, err)
	return doc
}

// commit 在 branch 上提交 raw；branch 为空时初始化文档
func (env *testEnv) commit(t *testing.T, branch, raw, author, msg string) *Version {
	t.Helper()
	v, err := env.eng.CreateVersion(context.Background(), CreateVersionInput{
		DocumentID: testDoc,
		Branch:     branch,
		Document:   mustDoc(t, raw),
		Author:     author,
		Message:    msg,
	})
	require.NoError(t, err, "commit %q on %q", msg, branch)
	return v
}

func (env *testEnv) branch(t *testing.T, name, from string) *meta.Branch {
	t.Helper()
	b, err := env.eng.CreateBranch(context.Background(), CreateBranchInput{
		DocumentID:   testDoc,
		Name:         name,
		SourceBranch: from,
		CreatedBy:    "alice",
	})
	require.NoError(t, err)
	return b
}

func (env *testEnv) head(t *testing.T, branch string) *Version {
	t.Helper()
	info, err := env.eng.GetBranchInfo(context.Background(), testDoc, branch)
	require.NoError(t, err)
	v, err := env.eng.GetVersion(context.Background(), string(info.Head.ID))
	require.NoError(t, err)
	return v
}

func assertDoc(t *testing.T, want string, got *core.Document) {
	t.Helper()
	assert.True(t, core.Equal(mustDoc(t, want).Root, got.Root), "want %s, got %s", want, got)
}

func mustPath(t *testing.T, s string) core.Path {
	t.Helper()
	p, err := core.ParsePath(s)
	require.NoError(t, err)
	return p
}

func hashStrings(hs []types.Hash) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = string(h)
	}
	return out
}
