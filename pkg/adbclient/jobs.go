package adbclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Remote job states reported by the API.
const (
	StatusPending = "PENDING"
	StatusRunning = "RUNNING"
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
	StatusUnknown = "UNKNOWN"
)

// JobStatus is the body of GET <job_url>.
//
// TaskID is absent when the server no longer knows the job (purged).
type JobStatus struct {
	Status    string `mapstructure:"status"`
	TaskID    string `mapstructure:"task_id"`
	Result    any    `mapstructure:"result"`
	Traceback string `mapstructure:"traceback"`

	// Document is the full response body, unknown keys included.
	Document map[string]any `mapstructure:"-"`
}

// Purged reports whether the response lacks a task reference.
func (s *JobStatus) Purged() bool {
	return s == nil || strings.TrimSpace(s.TaskID) == ""
}

// DecodeJobStatus converts a decoded JSON body into a JobStatus.
//
// Error-shaped bodies (null result, missing traceback) decode without
// failing; only type mismatches on known keys are rejected.
func DecodeJobStatus(doc map[string]any) (*JobStatus, error) {
	status := &JobStatus{Document: doc}
	if doc == nil {
		status.Document = map[string]any{}
		return status, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           status,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(doc); err != nil {
		return nil, fmt.Errorf("%w: job status: %v", ErrMalformedResponse, err)
	}
	return status, nil
}

// JobStatus fetches the current status of the job at jobURL.
func (c *Client) JobStatus(ctx context.Context, jobURL string) (*JobStatus, error) {
	var doc map[string]any
	if err := c.DoJSON(ctx, http.MethodGet, jobURL, nil, &doc); err != nil {
		return nil, err
	}
	return DecodeJobStatus(doc)
}
