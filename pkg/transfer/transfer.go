// Package transfer uploads selected staging files to an upload target
// with a bounded worker pool.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/adbcli/pkg/match"
	"github.com/3leaps/adbcli/pkg/provider"
)

// Config tunes the upload pool.
type Config struct {
	Concurrency int

	// Retries is the number of extra attempts for throttled or unavailable
	// responses.
	Retries int

	// RetryDelay is the initial backoff, doubled on each attempt.
	RetryDelay time.Duration
}

// DefaultConfig returns the default pool settings.
func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
		Retries:     3,
		RetryDelay:  500 * time.Millisecond,
	}
}

// Summary aggregates an upload run.
type Summary struct {
	FilesUploaded int64
	BytesUploaded int64
	Errors        int64
	Duration      time.Duration
}

// FileError records a failed file.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Progress is called after each file, from worker goroutines.
type Progress func(f match.File, err error)

// Transfer uploads a fixed file list.
type Transfer struct {
	dst      provider.Uploader
	files    []match.File
	cfg      Config
	logger   *zap.Logger
	progress Progress

	uploaded atomic.Int64
	bytes    atomic.Int64
	errors   atomic.Int64
}

// New prepares a transfer. logger and progress may be nil.
func New(dst provider.Uploader, files []match.File, cfg Config, logger *zap.Logger, progress Progress) *Transfer {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transfer{dst: dst, files: files, cfg: cfg, logger: logger, progress: progress}
}

// Run uploads every file. All files are attempted; failures are joined
// into the returned error.
func (t *Transfer) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	workCh := make(chan match.File)
	var (
		mu       sync.Mutex
		failures []error
		wg       sync.WaitGroup
	)

	for i := 0; i < t.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range workCh {
				err := t.uploadOne(ctx, f)
				if err != nil {
					t.errors.Add(1)
					mu.Lock()
					failures = append(failures, &FileError{Path: f.Path, Err: err})
					mu.Unlock()
				}
				if t.progress != nil {
					t.progress(f, err)
				}
			}
		}()
	}

feed:
	for _, f := range t.files {
		select {
		case workCh <- f:
		case <-ctx.Done():
			break feed
		}
	}
	close(workCh)
	wg.Wait()

	sum := &Summary{
		FilesUploaded: t.uploaded.Load(),
		BytesUploaded: t.bytes.Load(),
		Errors:        t.errors.Load(),
		Duration:      time.Since(start),
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, errors.Join(failures...)
}

func (t *Transfer) uploadOne(ctx context.Context, f match.File) error {
	fh, err := os.Open(f.Abs)
	if err != nil {
		return err
	}
	defer func() { _ = fh.Close() }()

	delay := t.cfg.RetryDelay
	for attempt := 0; ; attempt++ {
		if _, err := fh.Seek(0, io.SeekStart); err != nil {
			return err
		}
		err = t.dst.Upload(ctx, f.Path, fh, f.Size)
		if err == nil {
			break
		}
		if attempt >= t.cfg.Retries || !provider.IsRetryable(err) {
			return err
		}
		t.logger.Debug("Retrying upload", zap.String("path", f.Path), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}

	t.uploaded.Add(1)
	t.bytes.Add(f.Size)
	t.logger.Debug("Uploaded file", zap.String("path", f.Path), zap.Int64("bytes", f.Size))
	return nil
}
