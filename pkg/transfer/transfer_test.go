package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/adbcli/pkg/match"
	"github.com/3leaps/adbcli/pkg/provider"
)

type memUploader struct {
	mu       sync.Mutex
	objects  map[string]string
	failures map[string][]error
}

func (m *memUploader) Upload(_ context.Context, key string, body io.ReadSeeker, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if errs := m.failures[key]; len(errs) > 0 {
		m.failures[key] = errs[1:]
		return errs[0]
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = map[string]string{}
	}
	m.objects[key] = string(b)
	return nil
}

func (m *memUploader) Close() error { return nil }

func stage(t *testing.T, files map[string]string) []match.File {
	t.Helper()
	root := t.TempDir()
	var out []match.File
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		out = append(out, match.File{Path: rel, Abs: p, Size: int64(len(body))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func TestTransfer_UploadsAll(t *testing.T) {
	files := stage(t, map[string]string{"a.txt": "aaa", "dir/b.csv": "bb", "dir/c.csv": "c"})
	dst := &memUploader{}

	var mu sync.Mutex
	var seen []string
	tr := New(dst, files, Config{Concurrency: 2}, nil, func(f match.File, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.NoError(t, err)
		seen = append(seen, f.Path)
	})

	sum, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.FilesUploaded)
	assert.Equal(t, int64(6), sum.BytesUploaded)
	assert.Zero(t, sum.Errors)
	assert.Equal(t, map[string]string{"a.txt": "aaa", "dir/b.csv": "bb", "dir/c.csv": "c"}, dst.objects)
	assert.Len(t, seen, 3)
}

func TestTransfer_RetriesThrottled(t *testing.T) {
	files := stage(t, map[string]string{"a.txt": "payload"})
	dst := &memUploader{failures: map[string][]error{
		"a.txt": {provider.ErrThrottled, provider.ErrProviderUnavailable},
	}}

	tr := New(dst, files, Config{Concurrency: 1, Retries: 2, RetryDelay: time.Millisecond}, nil, nil)
	sum, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.FilesUploaded)
	assert.Equal(t, "payload", dst.objects["a.txt"], "body is rewound between attempts")
}

func TestTransfer_ReportsFailures(t *testing.T) {
	files := stage(t, map[string]string{"a.txt": "a", "b.txt": "b"})
	dst := &memUploader{failures: map[string][]error{"b.txt": {provider.ErrAccessDenied}}}

	tr := New(dst, files, Config{Concurrency: 2, Retries: 3, RetryDelay: time.Millisecond}, nil, nil)
	sum, err := tr.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrAccessDenied)

	var fileErr *FileError
	require.ErrorAs(t, err, &fileErr)
	assert.Equal(t, "b.txt", fileErr.Path)
	assert.Equal(t, int64(1), sum.FilesUploaded)
	assert.Equal(t, int64(1), sum.Errors)
}

func TestTransfer_Cancelled(t *testing.T) {
	files := stage(t, map[string]string{"a.txt": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(&memUploader{}, files, Config{}, nil, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 3, cfg.Retries)
}
