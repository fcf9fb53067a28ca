package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/adbcli/internal/observability"
	"github.com/3leaps/adbcli/pkg/adbclient"
	"github.com/3leaps/adbcli/pkg/auth"
	"github.com/3leaps/adbcli/pkg/ctxstore"
	"github.com/3leaps/adbcli/pkg/match"
	"github.com/3leaps/adbcli/pkg/output"
	"github.com/3leaps/adbcli/pkg/provider"
	"github.com/3leaps/adbcli/pkg/provider/presigned"
	"github.com/3leaps/adbcli/pkg/provider/s3"
	"github.com/3leaps/adbcli/pkg/transfer"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <staging_dir>",
	Short: "Upload files to an ArtifactDB instance",
	Long: `Upload the files of a staging directory as a new project, a new version
of an existing project (--project-id), or a specific version (--version).

Once files are transferred, the instance indexes them. The indexing job is
recorded in the current context, follow it with 'adb job check'.

Example:
  adb upload ./staging
  adb upload ./staging --project-id PRJ000001 --viewers alice,bob --read-access viewers
  adb upload ./staging --upload-mode sts:boto3 --exclude '**/*.tmp' --expires-in 'in 3 days'`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: runUpload,
}

var (
	uploadProjectID     string
	uploadVersion       string
	uploadOwners        string
	uploadViewers       string
	uploadReadAccess    string
	uploadWriteAccess   string
	uploadMode          string
	uploadExpiresIn     string
	uploadCompletedBy   string
	uploadIncludes      []string
	uploadExcludes      []string
	uploadIncludeHidden bool
	uploadConfirm       bool
	uploadVerbose       bool
)

func init() {
	rootCmd.AddCommand(uploadCmd)

	f := uploadCmd.Flags()
	f.StringVar(&uploadProjectID, "project-id", "", "Upload as a new version of an existing project (a new project is created when omitted)")
	f.StringVar(&uploadVersion, "version", "", "Upload as this specific version (requires --project-id)")
	f.StringVar(&uploadOwners, "owners", "", "Comma-separated owners (defaults to the authenticated user)")
	f.StringVar(&uploadViewers, "viewers", "", "Comma-separated viewers")
	f.StringVar(&uploadReadAccess, "read-access", string(adbclient.AccessViewers), "Read-only access rule: owners, viewers, authenticated, public or none")
	f.StringVar(&uploadWriteAccess, "write-access", string(adbclient.AccessOwners), "Read-write access rule: owners, viewers, authenticated, public or none")
	f.StringVar(&uploadMode, "upload-mode", "", "presigned (one URL per file) or sts:boto3 (temporary S3 credentials) (default from upload.mode)")
	f.StringVar(&uploadExpiresIn, "expires-in", "", "Upload transient artifacts purged after this date (eg. 2026-12-25, 2026-12-25T00:00:00, 'in 3 days')")
	f.StringVar(&uploadCompletedBy, "completed-by", "", "Expire the upload job when not completed by this date")
	f.StringArrayVar(&uploadIncludes, "include", nil, "Glob of staging files to upload (repeatable, default all)")
	f.StringArrayVar(&uploadExcludes, "exclude", nil, "Glob of staging files to skip (repeatable)")
	f.BoolVar(&uploadIncludeHidden, "include-hidden", false, "Also upload dot files")
	f.BoolVar(&uploadConfirm, "confirm", false, "Ask for confirmation before proceeding with the upload")
	f.BoolVar(&uploadVerbose, "verbose", false, "Print a summary and per-file progress")

	for _, name := range []string{"read-access", "write-access"} {
		_ = uploadCmd.RegisterFlagCompletionFunc(name, completeRoleAccess)
	}
	_ = uploadCmd.RegisterFlagCompletionFunc("upload-mode", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{string(adbclient.UploadPresigned), string(adbclient.UploadSTS)}, cobra.ShellCompDirectiveNoFileComp
	})
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	settings := settingsFrom(ctx)
	out := cmd.OutOrStdout()

	if uploadVersion != "" && uploadProjectID == "" {
		return exitError(exitUsage, "Invalid usage", fmt.Errorf("--version requires --project-id"))
	}
	readAccess, err := adbclient.ParseRoleAccess(uploadReadAccess)
	if err != nil {
		return exitError(exitUsage, "Invalid --read-access value", err)
	}
	writeAccess, err := adbclient.ParseRoleAccess(uploadWriteAccess)
	if err != nil {
		return exitError(exitUsage, "Invalid --write-access value", err)
	}
	modeName := uploadMode
	if !cmd.Flags().Changed("upload-mode") {
		modeName = settings.Upload.Mode
	}
	mode, err := adbclient.ParseUploadMode(modeName)
	if err != nil {
		return exitError(exitUsage, "Invalid --upload-mode value", err)
	}

	now := time.Now()
	expiresIn, completedBy := "", ""
	var expiresAt time.Time
	if uploadCompletedBy != "" {
		at, err := parseWhen(uploadCompletedBy, now)
		if err != nil {
			return exitError(exitUsage, "Invalid --completed-by value", err)
		}
		completedBy = at.Format(time.RFC3339)
	}
	if uploadExpiresIn != "" {
		if expiresAt, err = parseWhen(uploadExpiresIn, now); err != nil {
			return exitError(exitUsage, "Invalid --expires-in value", err)
		}
		expiresIn = expiresAt.Format(time.RFC3339)
		// A transient upload expiring within a day must also be completed
		// by then.
		if expiresAt.Sub(now) < 24*time.Hour {
			completedBy = expiresIn
		}
	}

	staging := expandHome(args[0])
	matcher, err := match.New(match.Config{Includes: uploadIncludes, Excludes: uploadExcludes, IncludeHidden: uploadIncludeHidden})
	if err != nil {
		return exitError(exitUsage, "Invalid file pattern", err)
	}
	files, err := match.Collect(staging, matcher)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Unable to read staging directory", err)
	}
	if len(files) == 0 {
		return abort(fmt.Sprintf("No files to upload in %s", staging))
	}

	c, err := currentContext(cmd)
	if err != nil {
		return err
	}
	client, err := contextClient(cmd, c)
	if err != nil {
		return err
	}

	owners := splitUsers(uploadOwners)
	if len(owners) == 0 {
		if owner, err := defaultOwner(cmd, c); err != nil {
			observability.CLILogger.Warn("Unable to find an owner from current context", zap.Error(err))
		} else {
			owners = []string{owner}
		}
	}
	perms := adbclient.PermissionsInfo{
		Owners:      owners,
		Viewers:     splitUsers(uploadViewers),
		ReadAccess:  readAccess,
		WriteAccess: writeAccess,
	}

	if uploadVerbose {
		var total int64
		for _, f := range files {
			total += f.Size
		}
		styler := output.NewStyler(out)
		_, _ = fmt.Fprintln(out, styler.Bold("Summary"))
		_, _ = fmt.Fprintf(out, "Uploading %d files (%d bytes) from folder %s\n", len(files), total, staging)
		switch {
		case uploadProjectID != "" && uploadVersion != "":
			_, _ = fmt.Fprintf(out, "To project %s and version %s\n", uploadProjectID, uploadVersion)
		case uploadProjectID != "":
			_, _ = fmt.Fprintf(out, "As a new version within project %s\n", uploadProjectID)
		default:
			_, _ = fmt.Fprintln(out, "As a new project")
		}
		_, _ = fmt.Fprintf(out, "Using %s upload mode\n", mode)
		if expiresIn != "" {
			_, _ = fmt.Fprintf(out, "Expiring %q (%s)\n", uploadExpiresIn, expiresIn)
		}
		_, _ = fmt.Fprintln(out, "Setting following permissions:")
		if err := printYAML(cmd, perms); err != nil {
			return err
		}
	}
	if uploadConfirm {
		ok, err := confirm(cmd, "Proceed?", false)
		if err != nil {
			return commandError("Unable to read confirmation", err)
		}
		if !ok {
			return abort("")
		}
	}

	filenames := make([]string, len(files))
	for i, f := range files {
		filenames[i] = f.Path
	}
	sess, err := client.StartUpload(ctx, adbclient.UploadRequest{
		ProjectID:   uploadProjectID,
		Version:     uploadVersion,
		Filenames:   filenames,
		Mode:        mode,
		ExpiresIn:   expiresIn,
		CompletedBy: completedBy,
	})
	if err != nil {
		return commandError("Unable to start upload", err)
	}
	observability.CLILogger.Debug("Upload session opened",
		zap.String("project_id", sess.ProjectID), zap.String("version", sess.Version), zap.String("mode", string(mode)))

	if err := transferFiles(cmd, sess, mode, files); err != nil {
		// The session is cancelled even when the command context is.
		if aerr := client.AbortUpload(context.WithoutCancel(ctx), sess); aerr != nil {
			observability.CLILogger.Warn("Unable to abort upload session", zap.Error(aerr))
		}
		return err
	}

	job, err := client.CompleteUpload(ctx, sess, perms)
	if err != nil {
		return commandError("Unable to complete upload", err)
	}
	registerJob(cmd, c, optionalString(sess.ProjectID), optionalString(sess.Version), job)
	_, _ = fmt.Fprintf(out, "Job created for project %s@%s:\n", sess.ProjectID, sess.Version)
	return printYAML(cmd, job)
}

// transferFiles sends files to the target described by the session.
func transferFiles(cmd *cobra.Command, sess *adbclient.UploadSession, mode adbclient.UploadMode, files []match.File) error {
	ctx := cmd.Context()
	settings := settingsFrom(ctx)

	var (
		dst provider.Uploader
		err error
	)
	switch mode {
	case adbclient.UploadSTS:
		if sess.Credentials == nil {
			return commandError("Unable to upload", fmt.Errorf("%w: upload session has no STS credentials", adbclient.ErrMalformedResponse))
		}
		dst, err = s3.New(ctx, s3.Config{
			Bucket:          sess.Bucket,
			Prefix:          sess.Prefix,
			Region:          sess.Region,
			Endpoint:        sess.Endpoint,
			AccessKeyID:     sess.Credentials.AccessKeyID,
			SecretAccessKey: sess.Credentials.SecretAccessKey,
			SessionToken:    sess.Credentials.SessionToken,
			ForcePathStyle:  sess.Endpoint != "",
		})
		if err != nil {
			return commandError("Unable to configure S3 upload", err)
		}
	default:
		dst = presigned.New(sess.PresignedURLs, nil)
	}
	defer func() { _ = dst.Close() }()

	var progress transfer.Progress
	if uploadVerbose {
		out := cmd.OutOrStdout()
		styler := output.NewStyler(out)
		var mu sync.Mutex
		progress = func(f match.File, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				_, _ = fmt.Fprintf(out, "%s %s: %v\n", styler.Status(adbclient.StatusFailure), f.Path, err)
				return
			}
			_, _ = fmt.Fprintf(out, "%s %s\n", styler.Status(adbclient.StatusSuccess), f.Path)
		}
	}

	summary, err := transfer.New(dst, files, transfer.Config{
		Concurrency: settings.Upload.Concurrency,
		Retries:     settings.Upload.Retries,
		RetryDelay:  settings.Upload.RetryDelay,
	}, observability.CLILogger, progress).Run(ctx)
	if summary != nil {
		observability.CLILogger.Info("Transfer finished",
			zap.Int64("files", summary.FilesUploaded),
			zap.Int64("bytes", summary.BytesUploaded),
			zap.Int64("errors", summary.Errors),
			zap.Duration("duration", summary.Duration))
	}
	if err != nil {
		return commandError("Upload failed", err)
	}
	return nil
}

// defaultOwner returns the username carried by the context's token.
func defaultOwner(cmd *cobra.Command, c *ctxstore.Context) (string, error) {
	if c.Auth.Anonymous {
		return "", fmt.Errorf("context %q uses anonymous access", c.Name)
	}
	token, err := auth.NewSource(tokenCacheFrom(cmd.Context()), c.Name).Token(cmd.Context())
	if err != nil {
		return "", err
	}
	claims, err := auth.ParseClaims(token)
	if err != nil {
		return "", err
	}
	name := auth.Username(claims)
	if name == "" {
		return "", fmt.Errorf("token carries no username")
	}
	return name, nil
}

var relativeWhen = regexp.MustCompile(`^in\s+(\d+)\s+(minute|hour|day|week)s?$`)

// parseWhen accepts an RFC 3339 timestamp, a local date or date-time, or
// a relative "in N minutes|hours|days|weeks".
func parseWhen(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if m := relativeWhen.FindStringSubmatch(strings.ToLower(s)); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, err
		}
		unit := map[string]time.Duration{
			"minute": time.Minute,
			"hour":   time.Hour,
			"day":    24 * time.Hour,
			"week":   7 * 24 * time.Hour,
		}[m[2]]
		return now.Add(time.Duration(n) * unit), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly} {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("couldn't parse date %q", s)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
