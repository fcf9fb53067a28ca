// Package output renders command results.
//
// Documents (search hits, permissions, task listings) are printed through
// a Formatter chosen by name: yaml, json, or jsonl. The jsonl format wraps
// each result in a typed envelope so that a stream of job checks or search
// hits can be consumed line by line.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants for JSONL envelopes, following adb.<type>.v<version>.
const (
	// TypeDocument identifies a generic result document.
	TypeDocument = "adb.document.v1"

	// TypeJob identifies a job check result.
	TypeJob = "adb.job.v1"

	// TypeError identifies an error record.
	TypeError = "adb.error.v1"

	// TypeSummary identifies a closing summary.
	TypeSummary = "adb.summary.v1"
)

// Record is the envelope written for every JSONL line.
type Record struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`

	// Context names the ArtifactDB context the record belongs to.
	Context string `json:"context,omitempty"`

	Data json.RawMessage `json:"data"`
}

// JobRecord is the payload of a job check.
type JobRecord struct {
	JobID     string `json:"job_id"`
	Path      string `json:"path,omitempty"`
	Status    string `json:"status"`
	ProjectID string `json:"project_id,omitempty"`
	Version   string `json:"version,omitempty"`
	Purged    bool   `json:"purged,omitempty"`
	Pruned    bool   `json:"pruned,omitempty"`

	// Result is the task result or traceback reported by the server.
	Result any `json:"result,omitempty"`
}

// ErrorRecord is the payload of a non-fatal error.
type ErrorRecord struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeInvalidRecord = "INVALID_RECORD"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeInternal      = "INTERNAL"
)

// SummaryRecord closes a batch of job checks.
type SummaryRecord struct {
	Checked int `json:"checked"`
	Pruned  int `json:"pruned"`
	Kept    int `json:"kept"`
	Invalid int `json:"invalid,omitempty"`
}

var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")

	// ErrUnknownFormat is returned by Lookup for unregistered names.
	ErrUnknownFormat = errors.New("unknown output format")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // operation that failed: marshal_data, marshal_record, write
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
