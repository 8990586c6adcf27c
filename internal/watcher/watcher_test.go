package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDebounce = 50 * time.Millisecond

func startWatcher(t *testing.T, paths []string, calls *int32) *Watcher {
	t.Helper()
	w, err := New(paths, func() { atomic.AddInt32(calls, 1) }, WithDebounce(testDebounce))
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestFileWriteTriggersOnce(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "memories.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0600))

	var calls int32
	startWatcher(t, []string{file}, &calls)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(file, []byte(`{"memories":[]}`), 0600))
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(3 * testDebounce)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUnrelatedFileIgnored(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "history.jsonl")
	require.NoError(t, os.WriteFile(file, nil, 0600))

	var calls int32
	startWatcher(t, []string{file}, &calls)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0600))
	time.Sleep(4 * testDebounce)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestDirectoryEntryTriggers(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "workflows")
	require.NoError(t, os.Mkdir(dir, 0750))

	var calls int32
	startWatcher(t, []string{dir}, &calls)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "wf-1.json"), []byte("{}"), 0600))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestLateCreatedFileTriggers(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "memories.json")

	var calls int32
	startWatcher(t, []string{file}, &calls)

	require.NoError(t, os.WriteFile(file, []byte("{}"), 0600))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	w, err := New([]string{t.TempDir()}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestMissingPathDoesNotFailStart(t *testing.T) {
	w, err := New([]string{filepath.Join(t.TempDir(), "missing", "file.json")}, nil)
	require.NoError(t, err)
	assert.NoError(t, w.Start())
	assert.NoError(t, w.Stop())
}

func TestEmptyPathsSkipped(t *testing.T) {
	w, err := New([]string{"", "a.json"}, nil)
	require.NoError(t, err)
	defer w.Stop()
	assert.Len(t, w.targets, 1)
}
