package ctxstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// AppDirName is the per-user application directory name.
const AppDirName = "artifactdb-cli"

// ConfigFileName is the configuration document file name.
const ConfigFileName = "config"

// Backend loads and saves the whole configuration document.
type Backend interface {
	// Load returns the stored document. Implementations may create a
	// default document on first use.
	Load() (*Document, error)

	// Save overwrites the stored document in full.
	Save(doc *Document) error
}

// DefaultDir returns <user config dir>/artifactdb-cli.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, AppDirName), nil
}

// DefaultPath returns the default configuration file path.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// NewDocument returns an empty document stamped with now.
func NewDocument(now time.Time) *Document {
	return &Document{
		Contexts:         []Context{},
		LastModification: NewTimestamp(now),
	}
}

// FileBackend persists the document as YAML in a single file.
//
// Layout:
//
//	<dir>/config
//	<dir>/tokens/<context>.json
//
// Writes go through a temp file in the same directory followed by a
// rename, so a reader never observes a half-written document.
type FileBackend struct {
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// FileOption configures a FileBackend.
type FileOption func(*FileBackend)

// WithLogger sets the logger used for store notices.
func WithLogger(l *zap.Logger) FileOption {
	return func(b *FileBackend) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) FileOption {
	return func(b *FileBackend) {
		if now != nil {
			b.now = now
		}
	}
}

// NewFileBackend returns a backend reading and writing path.
func NewFileBackend(path string, opts ...FileOption) *FileBackend {
	b := &FileBackend{
		path:   strings.TrimSpace(path),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Path returns the configuration file path.
func (b *FileBackend) Path() string {
	return b.path
}

// Dir returns the directory holding the configuration file.
func (b *FileBackend) Dir() string {
	return filepath.Dir(b.path)
}

// Load reads the document. A missing file is replaced by a freshly
// persisted default document; an unparseable file is an error and is left
// untouched.
func (b *FileBackend) Load() (*Document, error) {
	if b.path == "" {
		return nil, fmt.Errorf("configuration path is empty")
	}

	data, err := os.ReadFile(b.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read configuration: %w", err)
		}
		b.logger.Info("No existing configuration file found, creating one", zap.String("path", b.path))
		doc := NewDocument(b.now())
		if err := b.Save(doc); err != nil {
			return nil, err
		}
		return doc, nil
	}

	doc, err := decodeDocument(data)
	if err != nil {
		return nil, &StorageCorruptError{Path: b.path, Err: err}
	}
	return doc, nil
}

func decodeDocument(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("file is empty")
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping at document root")
	}

	var doc Document
	if err := root.Content[0].Decode(&doc); err != nil {
		return nil, err
	}
	if doc.Contexts == nil {
		doc.Contexts = []Context{}
	}
	return &doc, nil
}

// Save serialises doc and overwrites the file.
func (b *FileBackend) Save(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("configuration document is nil")
	}
	if doc.Contexts == nil {
		doc.Contexts = []Context{}
	}

	dir := b.Dir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create configuration dir: %w", err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("marshal configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("marshal configuration: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ConfigFileName+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp configuration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp configuration: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("chmod temp configuration: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("rename configuration: %w", err)
	}

	b.logger.Debug("Saved configuration", zap.String("path", b.path), zap.Int("contexts", len(doc.Contexts)))
	return nil
}

// MemoryBackend keeps the document in memory. Load returns copies, so
// callers get the same read-modify-write semantics as with a file.
type MemoryBackend struct {
	mu    sync.Mutex
	doc   *Document
	saves int
	now   func() time.Time
}

// NewMemoryBackend returns a backend seeded with doc (nil means empty).
func NewMemoryBackend(doc *Document) *MemoryBackend {
	return &MemoryBackend{doc: doc.Clone(), now: time.Now}
}

// Load returns a copy of the stored document, creating a default one
// when empty.
func (m *MemoryBackend) Load() (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		m.doc = NewDocument(m.now())
		m.saves++
	}
	return m.doc.Clone(), nil
}

// Save replaces the stored document with a copy of doc.
func (m *MemoryBackend) Save(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("configuration document is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = doc.Clone()
	m.saves++
	return nil
}

// Saves returns the number of writes performed.
func (m *MemoryBackend) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
