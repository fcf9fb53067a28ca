package ctxstore

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Registry provides named-context operations on top of a Backend.
//
// Every mutation is a full Load/mutate/Save round trip.
type Registry struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used for registry notices.
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRegistryClock overrides the time source used for stamps.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry returns a registry backed by b.
func NewRegistry(b Backend, opts ...RegistryOption) *Registry {
	r := &Registry{
		backend: b,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Backend returns the underlying store.
func (r *Registry) Backend() Backend {
	return r.backend
}

// Now returns the registry clock's current time.
func (r *Registry) Now() time.Time {
	return r.now()
}

// ListContexts returns every stored context.
func (r *Registry) ListContexts() ([]Context, error) {
	doc, err := r.backend.Load()
	if err != nil {
		return nil, err
	}
	return doc.Contexts, nil
}

// ContextNames returns the sorted names of all contexts.
func (r *Registry) ContextNames() ([]string, error) {
	contexts, err := r.ListContexts()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(contexts))
	for _, c := range contexts {
		if c.Name != "" {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// FindContext returns the context called name.
func (r *Registry) FindContext(name string) (*Context, error) {
	doc, err := r.backend.Load()
	if err != nil {
		return nil, err
	}
	idx := indexOf(doc.Contexts, name)
	if idx < 0 {
		return nil, &NotFoundError{Name: name}
	}
	c := doc.Contexts[idx]
	return &c, nil
}

// CurrentContextName returns the active context name.
func (r *Registry) CurrentContextName() (string, error) {
	doc, err := r.backend.Load()
	if err != nil {
		return "", err
	}
	if doc.CurrentContext == nil || strings.TrimSpace(*doc.CurrentContext) == "" {
		return "", &NotFoundError{}
	}
	return *doc.CurrentContext, nil
}

// CurrentContext returns the active context. A pointer naming a context
// that no longer exists is reported as not found.
func (r *Registry) CurrentContext() (*Context, error) {
	name, err := r.CurrentContextName()
	if err != nil {
		return nil, err
	}
	return r.FindContext(name)
}

// SaveOptions controls SaveContext.
type SaveOptions struct {
	// Overwrite replaces an existing context with the same name.
	Overwrite bool

	// Quiet suppresses the overwrite notice.
	Quiet bool
}

// SaveContext stores c under name.
//
// An existing context is only replaced when opts.Overwrite is set; the
// replacement moves to the end of the context list.
func (r *Registry) SaveContext(name string, c Context, opts SaveOptions) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("context name is required")
	}

	doc, err := r.backend.Load()
	if err != nil {
		return err
	}

	c.Name = name
	if idx := indexOf(doc.Contexts, name); idx >= 0 {
		if !opts.Overwrite {
			return fmt.Errorf("%w: %q", ErrContextExists, name)
		}
		if !opts.Quiet {
			r.logger.Info(fmt.Sprintf("Overwriting existing context %q", name))
		}
		doc.Contexts = append(doc.Contexts[:idx], doc.Contexts[idx+1:]...)
	}
	doc.Contexts = append(doc.Contexts, c)
	doc.LastModification = NewTimestamp(r.now())

	return r.backend.Save(doc)
}

// SetCurrent makes name the active context.
func (r *Registry) SetCurrent(name string) error {
	doc, err := r.backend.Load()
	if err != nil {
		return err
	}
	if indexOf(doc.Contexts, name) < 0 {
		return &NotFoundError{Name: name}
	}
	current := name
	doc.CurrentContext = &current
	doc.LastModification = NewTimestamp(r.now())
	return r.backend.Save(doc)
}

func indexOf(contexts []Context, name string) int {
	for i, c := range contexts {
		if c.Name == name {
			return i
		}
	}
	return -1
}
