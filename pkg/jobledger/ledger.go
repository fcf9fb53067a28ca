package jobledger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/3leaps/adbcli/pkg/adbclient"
	"github.com/3leaps/adbcli/pkg/ctxstore"
)

// Ledger reads and writes the job list embedded in each context.
type Ledger struct {
	registry *ctxstore.Registry
}

// New returns a ledger over registry.
func New(registry *ctxstore.Registry) *Ledger {
	return &Ledger{registry: registry}
}

// Registry returns the underlying context registry.
func (l *Ledger) Registry() *ctxstore.Registry {
	return l.registry
}

// RegisterJob appends a job to the named context's ledger, stamped with
// the current time. It is the only way new jobs enter a ledger.
func (l *Ledger) RegisterJob(contextName string, projectID, version *string, desc ctxstore.JobDescriptor) (*ctxstore.JobRecord, error) {
	c, err := l.registry.FindContext(contextName)
	if err != nil {
		return nil, err
	}

	created := ctxstore.NewTimestamp(l.registry.Now())
	d := desc
	rec := ctxstore.JobRecord{
		Job:       &d,
		ProjectID: projectID,
		Version:   version,
		CreatedAt: &created,
	}
	c.Jobs = append(c.Jobs, rec)

	if err := l.registry.SaveContext(contextName, *c, ctxstore.SaveOptions{Overwrite: true, Quiet: true}); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListJobs returns the context's ledger. Legacy entries were already
// coerced into full records when the document was decoded.
func ListJobs(c *ctxstore.Context) []ctxstore.JobRecord {
	if c == nil {
		return nil
	}
	return c.Jobs
}

// ReplaceLedger overwrites the named context's ledger with jobs.
func (l *Ledger) ReplaceLedger(contextName string, jobs []ctxstore.JobRecord) error {
	c, err := l.registry.FindContext(contextName)
	if err != nil {
		return err
	}
	c.Jobs = jobs
	return l.registry.SaveContext(contextName, *c, ctxstore.SaveOptions{Overwrite: true, Quiet: true})
}

// FindJob returns the first ledger record with jobID and its index, or
// (nil, -1).
func FindJob(c *ctxstore.Context, jobID string) (*ctxstore.JobRecord, int) {
	for i, rec := range ListJobs(c) {
		if rec.Job != nil && rec.Job.JobID == jobID {
			r := rec
			return &r, i
		}
	}
	return nil, -1
}

// JobIDs lists the ids of every non-degenerate record, in ledger order.
func JobIDs(c *ctxstore.Context) []string {
	var ids []string
	for _, rec := range ListJobs(c) {
		if id := rec.JobID(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// SyntheticRecord builds a record for a job id that is not in the ledger.
func SyntheticRecord(c *ctxstore.Context, jobID string) ctxstore.JobRecord {
	base := ""
	if c != nil {
		base = strings.TrimRight(c.URL, "/")
	}
	return ctxstore.JobRecord{
		Job: &ctxstore.JobDescriptor{
			JobID:  jobID,
			JobURL: fmt.Sprintf("%s/jobs/%s", base, jobID),
			Path:   "/jobs/" + jobID,
			Status: adbclient.StatusUnknown,
		},
	}
}

// WithJobURL fills in the status URL of a record that carries a job id
// but no URL, deriving it from the context the same way SyntheticRecord
// does. Other records are returned unchanged.
func WithJobURL(c *ctxstore.Context, rec ctxstore.JobRecord) ctxstore.JobRecord {
	if rec.Job == nil || rec.Job.JobURL != "" || rec.Job.JobID == "" {
		return rec
	}
	rec = rec.Clone()
	rec.Job.JobURL = SyntheticRecord(c, rec.Job.JobID).Job.JobURL
	return rec
}

// SortByCreation stably orders records by creation time. Records without
// a timestamp sort first.
func SortByCreation(records []ctxstore.JobRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].CreatedAt, records[j].CreatedAt
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(b.Time)
		}
	})
}

// DescriptorFromDocument converts a job document returned by a
// job-producing API call into a descriptor. Unknown keys land in Extra.
func DescriptorFromDocument(doc map[string]any) (ctxstore.JobDescriptor, error) {
	var desc ctxstore.JobDescriptor
	if len(doc) == 0 {
		return desc, fmt.Errorf("%w: empty job document", adbclient.ErrMalformedResponse)
	}

	var meta mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &desc,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		Metadata:         &meta,
	})
	if err != nil {
		return desc, err
	}
	if err := dec.Decode(doc); err != nil {
		return desc, fmt.Errorf("%w: job document: %v", adbclient.ErrMalformedResponse, err)
	}
	if desc.JobID == "" {
		return desc, fmt.Errorf("%w: job document has no job_id", adbclient.ErrMalformedResponse)
	}
	if len(meta.Unused) > 0 {
		desc.Extra = make(map[string]any, len(meta.Unused))
		for _, k := range meta.Unused {
			desc.Extra[k] = doc[k]
		}
	}
	return desc, nil
}
