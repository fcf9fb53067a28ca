package jobledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/adbcli/pkg/adbclient"
	"github.com/3leaps/adbcli/pkg/ctxstore"
)

// ErrInvalidRecord indicates a ledger entry without a usable job.
var ErrInvalidRecord = errors.New("invalid job record")

// StatusFetcher fetches the remote status of a job.
type StatusFetcher interface {
	JobStatus(ctx context.Context, jobURL string) (*adbclient.JobStatus, error)
}

// Reporter receives reconciliation events, typically to print them.
type Reporter interface {
	// JobChecked is called with the fresh status of a job.
	JobChecked(rec ctxstore.JobRecord, status *adbclient.JobStatus)

	// JobPurged is called when the server no longer knows the job.
	JobPurged(rec ctxstore.JobRecord)

	// InvalidRecord is called for degenerate ledger entries.
	InvalidRecord(index int, rec ctxstore.JobRecord)
}

// Outcome is the result of checking one job.
type Outcome struct {
	Record ctxstore.JobRecord
	Status *adbclient.JobStatus

	// Purged is set when the response carried no task reference.
	Purged bool

	// Pruned is set when the record leaves the ledger.
	Pruned bool
}

// EffectiveStatus returns the status the prune policy was evaluated on.
func (o Outcome) EffectiveStatus() string {
	if o.Purged {
		return StatusPurged
	}
	if o.Record.Job == nil {
		return ""
	}
	return o.Record.Job.Status
}

// Reconciler refreshes ledger records from the server and prunes them.
type Reconciler struct {
	ledger   *Ledger
	fetcher  StatusFetcher
	reporter Reporter
	logger   *zap.Logger
}

// NewReconciler returns a reconciler. reporter and logger may be nil.
func NewReconciler(ledger *Ledger, fetcher StatusFetcher, reporter Reporter, logger *zap.Logger) *Reconciler {
	if reporter == nil {
		reporter = nopReporter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{ledger: ledger, fetcher: fetcher, reporter: reporter, logger: logger}
}

// Check fetches the remote status of rec and evaluates the prune policy.
// A fetch error is returned as is; the caller must not touch the ledger.
func (r *Reconciler) Check(ctx context.Context, rec ctxstore.JobRecord, mode PruneMode) (Outcome, error) {
	if rec.Job == nil || rec.Job.JobURL == "" {
		return Outcome{}, ErrInvalidRecord
	}
	rec = rec.Clone()

	status, err := r.fetcher.JobStatus(ctx, rec.Job.JobURL)
	if err != nil {
		return Outcome{}, fmt.Errorf("check job %s: %w", rec.Job.JobID, err)
	}

	out := Outcome{Record: rec, Status: status}
	if status.Purged() {
		out.Purged = true
		r.reporter.JobPurged(rec)
	} else {
		out.Record.Job.Status = status.Status
		r.reporter.JobChecked(out.Record, status)
	}
	out.Pruned = ShouldPrune(out.EffectiveStatus(), mode)

	r.logger.Debug("Job checked",
		zap.String("job_id", rec.Job.JobID),
		zap.String("status", out.EffectiveStatus()),
		zap.Bool("pruned", out.Pruned))
	return out, nil
}

// CheckOne checks a single job by id. Ids missing from the ledger are
// checked through a synthetic record and only added when they survive
// pruning. A purged job is always removed and never added.
func (r *Reconciler) CheckOne(ctx context.Context, contextName, jobID string, mode PruneMode) (Outcome, error) {
	c, err := r.ledger.Registry().FindContext(contextName)
	if err != nil {
		return Outcome{}, err
	}

	existing, idx := FindJob(c, jobID)
	rec := SyntheticRecord(c, jobID)
	if existing != nil {
		rec = WithJobURL(c, *existing)
	}

	out, err := r.Check(ctx, rec, mode)
	if err != nil {
		return Outcome{}, err
	}

	jobs := append([]ctxstore.JobRecord(nil), c.Jobs...)
	switch {
	case out.Purged || out.Pruned:
		if idx < 0 {
			return out, nil
		}
		jobs = removeJob(jobs, jobID)
	case idx >= 0:
		jobs[idx] = out.Record
		jobs = dedupe(jobs, jobID, idx)
	default:
		jobs = append(jobs, out.Record)
	}

	if err := r.ledger.ReplaceLedger(contextName, jobs); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// CheckAll checks every job in the context's ledger in order and persists
// the surviving records with a single write. Records without a job payload
// are reported and dropped. Records with a payload that cannot be located
// on the server are kept untouched. Any fetch error aborts before the write.
func (r *Reconciler) CheckAll(ctx context.Context, contextName string, mode PruneMode) ([]Outcome, error) {
	c, err := r.ledger.Registry().FindContext(contextName)
	if err != nil {
		return nil, err
	}

	var (
		outcomes []Outcome
		kept     = make([]ctxstore.JobRecord, 0, len(c.Jobs))
	)
	for i, rec := range ListJobs(c) {
		if rec.Job == nil {
			r.reporter.InvalidRecord(i, rec)
			continue
		}
		rec = WithJobURL(c, rec)
		if rec.Job.JobURL == "" {
			r.logger.Warn("Job record has neither id nor URL, left unchecked", zap.Int("position", i))
			kept = append(kept, rec)
			continue
		}
		out, err := r.Check(ctx, rec, mode)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, out)
		if !out.Pruned {
			kept = append(kept, out.Record)
		}
	}

	if err := r.ledger.ReplaceLedger(contextName, kept); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func removeJob(jobs []ctxstore.JobRecord, jobID string) []ctxstore.JobRecord {
	out := jobs[:0]
	for _, j := range jobs {
		if j.JobID() != jobID {
			out = append(out, j)
		}
	}
	return out
}

// dedupe drops every record with jobID except the one at keep.
func dedupe(jobs []ctxstore.JobRecord, jobID string, keep int) []ctxstore.JobRecord {
	out := make([]ctxstore.JobRecord, 0, len(jobs))
	for i, j := range jobs {
		if i != keep && j.JobID() == jobID {
			continue
		}
		out = append(out, j)
	}
	return out
}

type nopReporter struct{}

func (nopReporter) JobChecked(ctxstore.JobRecord, *adbclient.JobStatus) {}
func (nopReporter) JobPurged(ctxstore.JobRecord)                        {}
func (nopReporter) InvalidRecord(int, ctxstore.JobRecord)               {}
