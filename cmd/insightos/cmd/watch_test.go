package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajasaid/InsightOS/internal/config"
	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func documentCount(t *testing.T, dataDir string) int {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Paths.DataDir = dataDir
	info, err := collectStatus(context.Background(), cfg, nil)
	if err != nil {
		return -1
	}
	return info.Documents
}

// TS03: watch indexes at startup and picks up new files until cancelled
func TestWatch_IndexesChanges(t *testing.T) {
	// Given: a running watch over a directory with two documents
	dataDir := isolate(t)
	root := writeDocs(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := NewRootCmd()
	out := &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"watch", root, "--data-dir", dataDir, "--no-color",
		"--env-file", filepath.Join(t.TempDir(), "missing.env")})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	// Then: the startup scan indexes both
	require.Eventually(t, func() bool { return documentCount(t, dataDir) == 2 },
		10*time.Second, 50*time.Millisecond)

	// When: a new file appears
	require.NoError(t, os.WriteFile(filepath.Join(root, "todo.md"), []byte("# Todo\n\nRenew the passport before March.\n"), 0o644))

	// Then: it is indexed without a rescan request
	require.Eventually(t, func() bool { return documentCount(t, dataDir) == 3 },
		10*time.Second, 50*time.Millisecond)

	// When: cancelled
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop")
	}

	// Then: the summary is printed
	assert.Contains(t, out.String(), "Watching "+root)
	assert.Contains(t, out.String(), "Stopped: 3 documents")
}

func TestWatch_InvalidSchedule(t *testing.T) {
	dataDir := isolate(t)
	root := writeDocs(t)
	cfg := config.NewConfig()
	cfg.Paths.DataDir = dataDir
	cfg.Indexing.Schedule = "never"

	eng, err := openEngine(context.Background(), cfg, engineOptions{roots: []string{root}})
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	err = watchAndServe(context.Background(), cfg, eng, []string{root}, nil)
	assert.Equal(t, ierrors.ErrCodeConfigInvalid, ierrors.GetCode(err))
}

func TestServe_NoIndex(t *testing.T) {
	dataDir := isolate(t)
	_, _, err := run(t, "serve", "--data-dir", dataDir)
	assert.Equal(t, ierrors.ErrCodeStoreUnavailable, ierrors.GetCode(err))

	_, _, err = run(t, "serve", "--watch", "--data-dir", dataDir)
	assert.Equal(t, ierrors.ErrCodeInvalidInput, ierrors.GetCode(err))
}
