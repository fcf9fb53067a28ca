package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/adbcli/internal/config"
	"github.com/3leaps/adbcli/internal/observability"
	"github.com/3leaps/adbcli/pkg/adbclient"
	"github.com/3leaps/adbcli/pkg/ctxstore"
	"github.com/3leaps/adbcli/pkg/jobledger"
	"github.com/3leaps/adbcli/pkg/output"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage jobs (indexing, ...)",
	Long: `Manage server-side jobs recorded in the current context.

Commands that trigger asynchronous work (upload, permissions changes,
tasks) record the returned job in the current context. 'job check'
refreshes their status and prunes the ones matching --prune.`,
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs recorded in the current context, with last checked status",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runJobList,
}

var jobCheckCmd = &cobra.Command{
	Use:   "check [job_id]",
	Short: "Check status for all jobs, or the given job ID",
	Long: `Using the current context, check status for all recorded jobs, or the
given job ID. Statuses are updated each time they're checked.

A job ID that is not recorded in the context is checked as well, and
recorded unless it is pruned.

Prune modes: none, all, terminated (success or failure), success, failure,
pending, running, purged, unknown.

Example:
  adb job check
  adb job check --prune terminated
  adb job check 4a1f0c2e --format json`,
	Args:              usageArgs(cobra.MaximumNArgs(1)),
	ValidArgsFunction: completeJobIDs,
	RunE:              runJobCheck,
}

var (
	jobListVerbose  bool
	jobCheckFormat  string
	jobCheckPrune   string
	jobCheckVerbose bool
)

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobCheckCmd)

	jobListCmd.Flags().BoolVar(&jobListVerbose, "verbose", false, "Print all job information")
	jobCheckCmd.Flags().StringVar(&jobCheckFormat, "format", "", "Output format: human, yaml, json or jsonl (default from job.format)")
	jobCheckCmd.Flags().StringVar(&jobCheckPrune, "prune", "", "Prune jobs with the given status after reporting it (default from job.prune)")
	jobCheckCmd.Flags().BoolVar(&jobCheckVerbose, "verbose", false, "Display additional information about jobs (traceback, ...)")
	_ = jobCheckCmd.RegisterFlagCompletionFunc("prune", completePruneModes)
}

// jobListEntry is the display shape of a ledger record.
type jobListEntry struct {
	Job       map[string]any      `yaml:"job"`
	ProjectID *string             `yaml:"project_id"`
	Version   *string             `yaml:"version"`
	CreatedAt *ctxstore.Timestamp `yaml:"created_at,omitempty"`
}

func runJobList(cmd *cobra.Command, _ []string) error {
	c, err := currentContext(cmd)
	if err != nil {
		return err
	}
	jobs := jobledger.ListJobs(c)
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No jobs recorded in current context, nothing to list")
		return nil
	}
	jobledger.SortByCreation(jobs)

	entries := make([]jobListEntry, 0, len(jobs))
	for _, rec := range jobs {
		entries = append(entries, jobListEntry{
			Job:       descriptorView(rec.Job, jobListVerbose),
			ProjectID: rec.ProjectID,
			Version:   rec.Version,
			CreatedAt: rec.CreatedAt,
		})
	}
	return printYAML(cmd, entries)
}

func descriptorView(d *ctxstore.JobDescriptor, verbose bool) map[string]any {
	if d == nil {
		return nil
	}
	view := make(map[string]any, len(d.Extra)+4)
	for k, v := range d.Extra {
		view[k] = v
	}
	view["job_id"] = d.JobID
	view["status"] = d.Status
	if verbose {
		view["path"] = d.Path
		view["job_url"] = d.JobURL
	}
	return view
}

func runJobCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	settings := settingsFrom(ctx)

	modeName := jobCheckPrune
	if !cmd.Flags().Changed("prune") {
		modeName = settings.Job.Prune
	}
	mode, err := jobledger.ParsePruneMode(modeName)
	if err != nil {
		return exitError(exitUsage, "Invalid --prune value", err)
	}

	format := jobCheckFormat
	if !cmd.Flags().Changed("format") {
		format = settings.Job.Format
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = config.HumanFormat
	}

	c, err := currentContext(cmd)
	if err != nil {
		return err
	}

	jobID := ""
	if len(args) == 1 {
		jobID = strings.TrimSpace(args[0])
	}
	if jobID == "" && len(c.Jobs) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No jobs recorded in current context, nothing to check")
		return nil
	}

	reporter, err := newJobReporter(ctx, cmd.OutOrStdout(), format, c.Name, jobCheckVerbose)
	if err != nil {
		return exitError(exitUsage, "Invalid --format value", err)
	}

	client, err := contextClient(cmd, c)
	if err != nil {
		return err
	}
	reconciler := jobledger.NewReconciler(jobledger.New(registryFrom(ctx)), client, reporter, observability.CLILogger)

	if jobID != "" {
		out, err := reconciler.CheckOne(ctx, c.Name, jobID, mode)
		if err != nil {
			return commandError(fmt.Sprintf("Unable to check job %s", jobID), err)
		}
		return reporter.finish([]jobledger.Outcome{out})
	}

	outcomes, err := reconciler.CheckAll(ctx, c.Name, mode)
	if err != nil {
		return commandError("Unable to check jobs", err)
	}
	return reporter.finish(outcomes)
}

// jobReporter prints reconciliation events in one output format.
type jobReporter struct {
	ctx       context.Context
	out       io.Writer
	verbose   bool
	styler    *output.Styler
	formatter output.Formatter
	jsonl     *output.JSONLWriter
	invalid   int
	writeErr  error
}

func newJobReporter(ctx context.Context, w io.Writer, format, contextName string, verbose bool) (*jobReporter, error) {
	r := &jobReporter{ctx: ctx, out: w, verbose: verbose}
	switch format {
	case config.HumanFormat:
		r.styler = output.NewStyler(w)
	case string(output.FormatJSONL):
		r.jsonl = output.NewJSONLWriter(w, contextName)
	default:
		f, err := output.Lookup(format)
		if err != nil {
			return nil, err
		}
		r.formatter = f
	}
	return r, nil
}

func (r *jobReporter) JobChecked(rec ctxstore.JobRecord, status *adbclient.JobStatus) {
	switch {
	case r.styler != nil:
		r.printHuman(status)
	case r.formatter != nil:
		r.keep(r.formatter.Format(r.out, status.Document))
	}
}

func (r *jobReporter) JobPurged(rec ctxstore.JobRecord) {
	msg := fmt.Sprintf("Job %s was purged and is not available anymore (or is not running yet)", rec.JobID())
	switch {
	case r.styler != nil:
		_, _ = fmt.Fprintln(r.out, r.styler.Warn(msg))
	case r.formatter != nil:
		_, _ = fmt.Fprintln(r.out, msg)
	}
}

func (r *jobReporter) InvalidRecord(index int, rec ctxstore.JobRecord) {
	r.invalid++
	msg := fmt.Sprintf("Found invalid job definition at position %d, discarded", index)
	switch {
	case r.jsonl != nil:
		r.keep(r.jsonl.WriteError(r.ctx, &output.ErrorRecord{
			Code:    output.ErrCodeInvalidRecord,
			Message: msg,
			Details: rec,
		}))
	case r.styler != nil:
		_, _ = fmt.Fprintln(r.out, r.styler.Warn(msg))
	default:
		_, _ = fmt.Fprintln(r.out, msg)
	}
}

func (r *jobReporter) printHuman(status *adbclient.JobStatus) {
	_, _ = fmt.Fprintf(r.out, "Job %s\n", r.styler.Bold(fmt.Sprintf("%q", status.TaskID)))
	_, _ = fmt.Fprintln(r.out, r.styler.Status(status.Status))
	if status.Status == adbclient.StatusSuccess || status.Status == adbclient.StatusFailure {
		b, err := yaml.Marshal(status.Result)
		if err == nil {
			_, _ = io.WriteString(r.out, indent(string(b), " "))
		}
	}
	if r.verbose && status.Status == adbclient.StatusFailure && status.Traceback != "" {
		_, _ = io.WriteString(r.out, indent(status.Traceback, " "))
	}
}

// finish writes per-job records and the summary for jsonl output.
func (r *jobReporter) finish(outcomes []jobledger.Outcome) error {
	if r.jsonl == nil {
		if r.writeErr != nil {
			return commandError("Unable to write output", r.writeErr)
		}
		return nil
	}
	sum := output.SummaryRecord{Invalid: r.invalid}
	for _, o := range outcomes {
		rec := &output.JobRecord{
			JobID:     o.Record.JobID(),
			Status:    o.EffectiveStatus(),
			ProjectID: ctxstore.Deref(o.Record.ProjectID),
			Version:   ctxstore.Deref(o.Record.Version),
			Purged:    o.Purged,
			Pruned:    o.Pruned,
		}
		if o.Record.Job != nil {
			rec.Path = o.Record.Job.Path
		}
		if o.Status != nil && !o.Purged {
			rec.Result = o.Status.Result
			if r.verbose && o.Status.Status == adbclient.StatusFailure && o.Status.Traceback != "" {
				rec.Result = o.Status.Traceback
			}
		}
		r.keep(r.jsonl.WriteJob(r.ctx, rec))
		sum.Checked++
		if o.Pruned {
			sum.Pruned++
		} else {
			sum.Kept++
		}
	}
	r.keep(r.jsonl.WriteSummary(r.ctx, &sum))
	r.keep(r.jsonl.Close())
	if r.writeErr != nil {
		return commandError("Unable to write output", r.writeErr)
	}
	return nil
}

func (r *jobReporter) keep(err error) {
	if err != nil && r.writeErr == nil {
		r.writeErr = err
	}
}

func indent(s, pad string) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = pad + l
	}
	return strings.Join(lines, "\n") + "\n"
}

// registerJob records the job document returned by a job-producing call in
// context c. A document without a job id is reported and not recorded.
func registerJob(cmd *cobra.Command, c *ctxstore.Context, projectID, version *string, doc map[string]any) {
	desc, err := jobledger.DescriptorFromDocument(doc)
	if err != nil {
		observability.CLILogger.Warn("Response carries no usable job, nothing recorded", zap.Error(err))
		return
	}
	if _, err := jobledger.New(registryFrom(cmd.Context())).RegisterJob(c.Name, projectID, version, desc); err != nil {
		observability.CLILogger.Warn("Unable to record job", zap.String("job_id", desc.JobID), zap.Error(err))
		return
	}
	observability.CLILogger.Debug("Job recorded", zap.String("context", c.Name), zap.String("job_id", desc.JobID))
}
