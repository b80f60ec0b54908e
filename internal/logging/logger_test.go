package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLog(t *testing.T, dir string, cat Category) string {
	t.Helper()
	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, ".factaudit", "logs", date+"_"+string(cat)+".log"))
	require.NoError(t, err)
	return string(data)
}

// TestAllCategoriesLog tests that all categories create log files when debug_mode is true
func TestAllCategoriesLog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, Settings{DebugMode: true, Level: "debug"}))
	defer CloseAll()

	for _, cat := range AllCategories {
		Get(cat).Info("hello from %s", cat)
	}
	CloseAll()

	for _, cat := range AllCategories {
		assert.Contains(t, readLog(t, dir, cat), "hello from "+string(cat))
	}
}

func TestDisabledWritesNothing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, Settings{DebugMode: false}))
	defer CloseAll()

	Store("should not appear")
	_, err := os.Stat(filepath.Join(dir, ".factaudit", "logs"))
	assert.True(t, os.IsNotExist(err))
}

func TestCategoryFilter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, Settings{
		DebugMode:  true,
		Categories: map[string]bool{"judge": false},
	}))
	defer CloseAll()

	assert.False(t, IsCategoryEnabled(CategoryJudge))
	assert.True(t, IsCategoryEnabled(CategoryStore))
	assert.Nil(t, Get(CategoryJudge).sugar)
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, Settings{DebugMode: true, Level: "warn"}))
	defer CloseAll()

	StoreDebug("debug-line")
	Store("info-line")
	Get(CategoryStore).Warn("warn-line")
	CloseAll()

	out := readLog(t, dir, CategoryStore)
	assert.NotContains(t, out, "debug-line")
	assert.NotContains(t, out, "info-line")
	assert.Contains(t, out, "warn-line")
}

func TestJSONFormat(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, Settings{DebugMode: true, JSONFormat: true}))
	defer CloseAll()

	Consensus("merged %d", 3)
	CloseAll()

	out := strings.TrimSpace(readLog(t, dir, CategoryConsensus))
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"msg":"merged 3"`)
	assert.Contains(t, out, `"cat":"consensus"`)
}

func TestConcurrentGet(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, Settings{DebugMode: true}))
	defer CloseAll()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			Judge("worker %d", n)
		}(i)
	}
	wg.Wait()

	loggersMu.RLock()
	defer loggersMu.RUnlock()
	assert.Len(t, loggers, 2) // boot + judge
}

func TestTimer(t *testing.T) {
	timer := StartTimer(CategoryStore, "op")
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), 2*time.Millisecond)
	assert.GreaterOrEqual(t, timer.StopWithThreshold(time.Hour), 2*time.Millisecond)
}

func TestInitializeRequiresWorkdir(t *testing.T) {
	assert.Error(t, Initialize("", Settings{}))
}
