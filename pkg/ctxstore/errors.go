package ctxstore

import (
	"errors"
	"fmt"
)

// Sentinel errors for context registry operations.
var (
	// ErrContextNotFound indicates no context matches the requested name,
	// or no current context is set.
	ErrContextNotFound = errors.New("context not found")

	// ErrContextExists indicates a context with the same name is already
	// stored and overwrite was not requested.
	ErrContextExists = errors.New("context already exists")

	// ErrStorageCorrupt indicates the configuration file exists but could
	// not be parsed.
	ErrStorageCorrupt = errors.New("configuration store is corrupt")
)

// NotFoundError carries the context name that could not be resolved.
type NotFoundError struct {
	// Name is the requested context name, empty when the current context
	// pointer is unset.
	Name string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Name == "" {
		return "no current context found, `use` command to set one"
	}
	return fmt.Sprintf("context %q not found", e.Name)
}

// Is reports whether target is ErrContextNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrContextNotFound
}

// StorageCorruptError wraps a parse failure of the configuration file.
type StorageCorruptError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *StorageCorruptError) Error() string {
	return fmt.Sprintf("configuration file %s is unreadable: %v", e.Path, e.Err)
}

// Unwrap returns the underlying parse error.
func (e *StorageCorruptError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrStorageCorrupt.
func (e *StorageCorruptError) Is(target error) bool {
	return target == ErrStorageCorrupt
}

// IsNotFound returns true if err indicates a missing context.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrContextNotFound)
}

// IsCorrupt returns true if err indicates an unparseable configuration file.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrStorageCorrupt)
}
