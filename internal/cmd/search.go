package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/3leaps/adbcli/internal/observability"
	"github.com/3leaps/adbcli/pkg/adbclient"
	"github.com/3leaps/adbcli/pkg/output"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search metadata documents, using the current context",
	Long: `Search metadata documents with an ElasticSearch query string, using the
current context. Results are displayed page by page.

Example:
  adb search 'path:myfile.txt AND title:"important"'
  adb search --project-id PRJ000001 --latest --fields path,_extra.permissions.owners`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: runSearch,
}

// Page size bounds accepted by the search endpoint.
const (
	minSearchSize = 1
	maxSearchSize = 100
)

var (
	searchFields    string
	searchProjectID string
	searchVersion   string
	searchLatest    bool
	searchSize      int
	searchFormat    string
)

func init() {
	rootCmd.AddCommand(searchCmd)

	f := searchCmd.Flags()
	f.StringVar(&searchFields, "fields", "", "Comma-separated fields to display, dot notation allowed (eg. _extra.permissions.owners)")
	f.StringVar(&searchProjectID, "project-id", "", `Search within a project (same as _extra.project_id:"<id>")`)
	f.StringVar(&searchVersion, "version", "", `Search within a version, requires --project-id (same as _extra.version:"<version>")`)
	f.BoolVar(&searchLatest, "latest", false, "Search for latest versions only")
	f.IntVar(&searchSize, "size", 0, "Number of results per page, 1 to 100 (default from search.page_size)")
	f.StringVar(&searchFormat, "format", string(output.DefaultFormat), "Output format: yaml or json")
	_ = searchCmd.RegisterFlagCompletionFunc("format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{string(output.FormatYAML), string(output.FormatJSON)}, cobra.ShellCompDirectiveNoFileComp
	})
}

func runSearch(cmd *cobra.Command, args []string) error {
	size := searchSize
	if !cmd.Flags().Changed("size") {
		size = settingsFrom(cmd.Context()).Search.PageSize
	}
	if size < minSearchSize || size > maxSearchSize {
		return exitError(exitUsage, "Invalid --size value", fmt.Errorf("%d is not in range %d-%d", size, minSearchSize, maxSearchSize))
	}
	if searchVersion != "" && searchProjectID == "" {
		return exitError(exitUsage, "Invalid usage", fmt.Errorf("--version requires --project-id"))
	}
	formatter, err := output.Lookup(searchFormat)
	if err != nil {
		return exitError(exitUsage, "Invalid --format value", err)
	}
	separate := output.Format(strings.ToLower(searchFormat)) == output.FormatJSON

	query := "*"
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		query = strings.TrimSpace(args[0])
	}
	if searchVersion != "" && searchLatest {
		observability.CLILogger.Warn("Using --version with --latest is not recommended")
	}
	if searchProjectID != "" {
		query += fmt.Sprintf(" AND _extra.project_id:%q", searchProjectID)
	}
	if searchVersion != "" {
		query += fmt.Sprintf(" AND _extra.version:%q", searchVersion)
	}
	var fields []string
	for _, field := range strings.Split(searchFields, ",") {
		if field = strings.TrimSpace(field); field != "" {
			fields = append(fields, field)
		}
	}

	c, err := currentContext(cmd)
	if err != nil {
		return err
	}
	client, err := contextClient(cmd, c)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	styler := output.NewStyler(out)
	it := client.Search(adbclient.SearchOptions{Query: query, Fields: fields, Latest: searchLatest, PageSize: size})
	found, count := false, 0
	for {
		doc, err := it.Next(cmd.Context())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return commandError("Search failed", err)
		}
		found = true
		if err := formatter.Format(out, doc); err != nil {
			return commandError("Unable to render result", err)
		}
		if separate {
			_, _ = fmt.Fprintln(out, "---")
		}
		count++
		if count == size {
			more, err := confirm(cmd, "More?", true)
			if err != nil {
				return commandError("Unable to read confirmation", err)
			}
			if !more {
				return abort("")
			}
			count = 0
		}
	}
	if found {
		_, _ = fmt.Fprintln(out, styler.Warn("No more results"))
	} else {
		_, _ = fmt.Fprintln(out, styler.Warn("No results"))
	}
	return nil
}
