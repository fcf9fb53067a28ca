package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/adbcli/pkg/adbclient"
	"github.com/3leaps/adbcli/pkg/output"
)

var schemasCmd = &cobra.Command{
	Use:   "schemas",
	Short: "Manage project schemas",
}

var schemasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List document types, or the versions of one document type",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runSchemasList,
}

var schemasGetCmd = &cobra.Command{
	Use:   "get <doc-type> <version>",
	Short: "Show the schema of a document type at a version",
	Args:  usageArgs(cobra.ExactArgs(2)),
	RunE:  runSchemasGet,
}

var schemasValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Validate a metadata document against its schema",
	Long: `Validate a metadata document against its schema.

The file holds a single JSON (or YAML) document.`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: runSchemasValidate,
}

var schemasDeleteCacheCmd = &cobra.Command{
	Use:   "delete-cache",
	Short: "Delete the server-side schema cache",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runSchemasDeleteCache,
}

var schemasClientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "List registered schema clients",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runSchemasClients,
}

var (
	schemasDocType  string
	schemasClient   string
	schemasChecksum bool
	schemasFormat   string
)

func init() {
	rootCmd.AddCommand(schemasCmd)
	schemasCmd.AddCommand(schemasListCmd)
	schemasCmd.AddCommand(schemasGetCmd)
	schemasCmd.AddCommand(schemasValidateCmd)
	schemasCmd.AddCommand(schemasDeleteCacheCmd)
	schemasCmd.AddCommand(schemasClientsCmd)

	schemasListCmd.Flags().StringVar(&schemasDocType, "doc-type", "", "Document type; lists its available versions")
	schemasListCmd.Flags().BoolVar(&schemasChecksum, "checksum", false, "Return schema checksums")
	for _, c := range []*cobra.Command{schemasListCmd, schemasGetCmd, schemasDeleteCacheCmd} {
		c.Flags().StringVar(&schemasClient, "client", "", "Name of the schema client")
	}
	schemasGetCmd.Flags().StringVar(&schemasFormat, "format", string(output.FormatYAML), "Output format (yaml or json)")
	_ = schemasGetCmd.RegisterFlagCompletionFunc("format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{string(output.FormatYAML), string(output.FormatJSON)}, cobra.ShellCompDirectiveNoFileComp
	})
}

func schemasClientFor(cmd *cobra.Command) (*adbclient.Client, error) {
	c, err := currentContext(cmd)
	if err != nil {
		return nil, err
	}
	return contextClient(cmd, c)
}

func runSchemasList(cmd *cobra.Command, _ []string) error {
	client, err := schemasClientFor(cmd)
	if err != nil {
		return err
	}

	if docType := strings.TrimSpace(schemasDocType); docType != "" {
		versions, err := client.SchemaVersions(cmd.Context(), docType, schemasClient)
		if err != nil {
			return commandError(fmt.Sprintf("Unable to list versions of %s", docType), err)
		}
		return printYAML(cmd, versions)
	}

	doc, err := client.Schemas(cmd.Context(), schemasClient, schemasChecksum)
	if err != nil {
		return commandError("Unable to list document types", err)
	}
	if schemasChecksum {
		return printYAML(cmd, doc)
	}
	return printYAML(cmd, adbclient.DocumentTypeNames(doc))
}

func runSchemasGet(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(strings.TrimSpace(schemasFormat))
	if format != string(output.FormatYAML) && format != string(output.FormatJSON) {
		return exitError(exitUsage, "Invalid --format value", fmt.Errorf("%q is not one of yaml, json", schemasFormat))
	}
	formatter, err := output.Lookup(format)
	if err != nil {
		return exitError(exitUsage, "Invalid --format value", err)
	}

	client, err := schemasClientFor(cmd)
	if err != nil {
		return err
	}
	schema, err := client.Schema(cmd.Context(), args[0], args[1], schemasClient)
	if err != nil {
		return commandError(fmt.Sprintf("Unable to fetch schema %s/%s", args[0], args[1]), err)
	}
	if err := formatter.Format(cmd.OutOrStdout(), schema); err != nil {
		return commandError("Unable to render output", err)
	}
	return nil
}

func runSchemasValidate(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}

	client, err := schemasClientFor(cmd)
	if err != nil {
		return err
	}
	res, err := client.ValidateDocuments(cmd.Context(), []any{doc})
	if err != nil {
		return commandError("Unable to validate document", err)
	}
	return printYAML(cmd, res)
}

// readDocument loads the single JSON or YAML document held in path.
func readDocument(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, commandError("Unable to read document", err)
	}
	defer func() { _ = f.Close() }()

	var doc map[string]any
	if err := yaml.NewDecoder(f).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("file is empty")
		}
		return nil, exitError(exitUsage, fmt.Sprintf("Invalid document %s", path), err)
	}
	return doc, nil
}

func runSchemasDeleteCache(cmd *cobra.Command, _ []string) error {
	client, err := schemasClientFor(cmd)
	if err != nil {
		return err
	}
	res, err := client.DeleteSchemaCache(cmd.Context(), schemasClient)
	if err != nil {
		return commandError("Unable to delete schema cache", err)
	}
	return printYAML(cmd, res)
}

func runSchemasClients(cmd *cobra.Command, _ []string) error {
	client, err := schemasClientFor(cmd)
	if err != nil {
		return err
	}
	clients, err := client.SchemaClients(cmd.Context())
	if err != nil {
		return commandError("Unable to list schema clients", err)
	}
	return printYAML(cmd, clients)
}
