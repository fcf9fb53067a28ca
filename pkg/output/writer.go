package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits typed records.
type Writer interface {
	WriteDocument(ctx context.Context, doc any) error
	WriteJob(ctx context.Context, job *JobRecord) error
	WriteError(ctx context.Context, rec *ErrorRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON envelopes.
//
// JSONLWriter is safe for concurrent use; each record is written as one
// complete line.
type JSONLWriter struct {
	w           io.Writer
	contextName string
	now         func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewJSONLWriter returns a writer that tags records with contextName.
func NewJSONLWriter(w io.Writer, contextName string) *JSONLWriter {
	return &JSONLWriter{w: w, contextName: contextName, now: time.Now}
}

// WriteDocument emits a result document.
func (jw *JSONLWriter) WriteDocument(ctx context.Context, doc any) error {
	return jw.writeRecord(ctx, TypeDocument, doc)
}

// WriteJob emits a job check result.
func (jw *JSONLWriter) WriteJob(ctx context.Context, job *JobRecord) error {
	return jw.writeRecord(ctx, TypeJob, job)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, rec *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, rec)
}

// WriteSummary emits a summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

// Close marks the writer closed. The underlying writer is not closed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.closed = true
	return nil
}

func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	recordBytes, err := json.Marshal(Record{
		Type:    recordType,
		TS:      jw.now().UTC(),
		Context: jw.contextName,
		Data:    dataBytes,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	if err := writeAll(jw.w, append(recordBytes, '\n')); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll writes p fully, looping over short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)
