package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/adbcli/internal/observability"
	"github.com/3leaps/adbcli/pkg/adbclient"
	"github.com/3leaps/adbcli/pkg/notation"
)

var downloadCmd = &cobra.Command{
	Use:   "download [what] [dest]",
	Short: "Download files from an ArtifactDB instance",
	Long: `Download artifacts into dest (current directory by default), under
<project_id>/<version>/<path>.

Use [project_id] to download all files of the latest version of a project,
[project_id@version] for a specific version, or an ArtifactDB ID
[project:path@version] for a single artifact. Alternately, --project-id,
--version and --id can be used, with dest as the only argument.

Example:
  adb download PRJ000001@3 ./data
  adb download PRJ000001:reports/summary.csv@3
  adb download --project-id PRJ000001 --version 3 ./data`,
	Args: usageArgs(cobra.MaximumNArgs(2)),
	RunE: runDownload,
}

var (
	downloadProjectID string
	downloadVersion   string
	downloadID        string
	downloadOverwrite bool
)

func init() {
	rootCmd.AddCommand(downloadCmd)

	f := downloadCmd.Flags()
	f.StringVar(&downloadProjectID, "project-id", "", "Download data from given project ID")
	f.StringVar(&downloadVersion, "version", "", "Version of the project (requires --project-id, latest when omitted)")
	f.StringVar(&downloadID, "id", "", "ArtifactDB ID of the file to download (not used with --project-id and --version)")
	f.BoolVar(&downloadOverwrite, "overwrite", false, "Overwrite existing local files")
}

func runDownload(cmd *cobra.Command, args []string) error {
	what, dest := "", "."
	optionsGiven := downloadProjectID != "" || downloadVersion != "" || downloadID != ""
	switch {
	case len(args) == 2:
		what, dest = args[0], args[1]
	case len(args) == 1 && optionsGiven:
		dest = args[0]
	case len(args) == 1:
		what = args[0]
	}

	id, err := notation.Parse(notation.Args{What: what, ProjectID: downloadProjectID, Version: downloadVersion, ID: downloadID})
	if err != nil {
		return commandError("Invalid identifier", err)
	}
	observability.CLILogger.Debug("Resolved download target",
		zap.String("project_id", id.ProjectID), zap.String("version", id.Version), zap.String("path", id.Path))

	c, err := currentContext(cmd)
	if err != nil {
		return err
	}
	client, err := contextClient(cmd, c)
	if err != nil {
		return err
	}

	if id.IsArtifact() {
		return downloadArtifact(cmd, client, id, dest)
	}
	return downloadAll(cmd, client, id, dest)
}

// downloadAll fetches every artifact of a project version found through
// metadata search.
func downloadAll(cmd *cobra.Command, client *adbclient.Client, id notation.Identifier, dest string) error {
	query := fmt.Sprintf("_extra.project_id:%q", id.ProjectID)
	if !id.Floating {
		query += fmt.Sprintf(" AND _extra.version:%q", id.Version)
	}
	it := client.Search(adbclient.SearchOptions{
		Query:    query,
		Fields:   []string{"_extra.id"},
		Latest:   id.Floating,
		PageSize: settingsFrom(cmd.Context()).Search.PageSize,
	})

	count := 0
	for {
		doc, err := it.Next(cmd.Context())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return commandError("Unable to search artifacts", err)
		}
		aid := artifactID(doc)
		if aid == "" {
			observability.CLILogger.Warn("Search result without artifact id, skipped")
			continue
		}
		art, err := notation.UnpackID(aid)
		if err != nil {
			observability.CLILogger.Warn("Skipping malformed artifact id", zap.String("id", aid), zap.Error(err))
			continue
		}
		if err := downloadArtifact(cmd, client, art, dest); err != nil {
			return err
		}
		count++
	}
	if count == 0 {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "No artifacts found for %s\n", id)
	}
	return nil
}

func artifactID(doc map[string]any) string {
	extra, _ := doc["_extra"].(map[string]any)
	aid, _ := extra["id"].(string)
	return aid
}

// downloadArtifact writes one artifact to dest/<project>/<version>/<path>
// through a temporary file, so an interrupted download leaves no partial
// target behind.
func downloadArtifact(cmd *cobra.Command, client *adbclient.Client, id notation.Identifier, dest string) error {
	rel := filepath.Join(id.ProjectID, id.Version, filepath.FromSlash(id.Path))
	if !filepath.IsLocal(rel) {
		return exitError(exitUsage, "Invalid artifact path", fmt.Errorf("%q escapes the destination directory", id.Path))
	}
	target := filepath.Join(dest, rel)
	if _, err := os.Stat(target); err == nil && !downloadOverwrite {
		return abort(fmt.Sprintf("'%s' exists, not overwriting", target))
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return exitError(foundry.ExitFileWriteError, "Unable to create directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.partial")
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Unable to create file", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	aid := notation.PackID(id)
	n, err := client.Download(cmd.Context(), aid, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		return exitError(foundry.ExitFileWriteError, "Unable to write file", cerr)
	}
	if err != nil {
		return commandError(fmt.Sprintf("Unable to download %s", aid), err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return exitError(foundry.ExitFileWriteError, "Unable to write file", err)
	}

	observability.CLILogger.Debug("Downloaded artifact", zap.String("id", aid), zap.Int64("bytes", n))
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", aid, target)
	return nil
}
