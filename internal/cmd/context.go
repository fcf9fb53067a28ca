package cmd

import (
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/adbcli/internal/observability"
	"github.com/3leaps/adbcli/pkg/adbclient"
	"github.com/3leaps/adbcli/pkg/ctxstore"
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage ArtifactDB contexts (connections, clients, ...)",
}

var contextCreateCmd = &cobra.Command{
	Use:   "create <url>",
	Short: "Create a new context with connection details",
	Long: `Create a new ArtifactDB context pointing at a REST API root endpoint.

Missing details are prefilled from the instance information when it is
exposed (name, client ids, project prefixes) and asked interactively.

Example:
  adb context create https://adb.example.org/api --auth-url https://sso.example.org/realms/adb
  adb context create https://adb.example.org/api --auth-url ... --auth-service-account-id svc-1 --name prod --force`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: runContextCreate,
}

var contextListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available contexts",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runContextList,
}

var contextShowCmd = &cobra.Command{
	Use:               "show [name]",
	Short:             "Show context details (current one by default)",
	Args:              usageArgs(cobra.MaximumNArgs(1)),
	ValidArgsFunction: completeContextNames,
	RunE:              runContextShow,
}

var contextUseCmd = &cobra.Command{
	Use:               "use <name>",
	Short:             "Set the given context as the current one",
	Args:              usageArgs(cobra.ExactArgs(1)),
	ValidArgsFunction: completeContextNames,
	RunE:              runContextUse,
}

var (
	contextAuthURL          string
	contextName             string
	contextAuthClientID     string
	contextAuthUsername     string
	contextServiceAccountID string
	contextProjectPrefix    string
	contextForce            bool
)

func init() {
	rootCmd.AddCommand(contextCmd)
	contextCmd.AddCommand(contextCreateCmd)
	contextCmd.AddCommand(contextListCmd)
	contextCmd.AddCommand(contextShowCmd)
	contextCmd.AddCommand(contextUseCmd)

	f := contextCreateCmd.Flags()
	f.StringVar(&contextAuthURL, "auth-url", "", "Identity provider URL, realm included (required)")
	f.StringVar(&contextName, "name", "", "Context name (defaults to the instance name)")
	f.StringVar(&contextAuthClientID, "auth-client-id", "", "Client ID used for authentication (defaults to the instance's main client)")
	f.StringVar(&contextAuthUsername, "auth-username", "", "Username used for authentication (defaults to the current user)")
	f.StringVar(&contextServiceAccountID, "auth-service-account-id", "", "Create a context for a service account instead of the current user")
	f.StringVar(&contextProjectPrefix, "project-prefix", "", "Project prefix used in this context")
	f.BoolVar(&contextForce, "force", false, "Don't ask for confirmation before creating the context")
	_ = contextCreateCmd.MarkFlagRequired("auth-url")
}

func runContextCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	registry := registryFrom(ctx)
	apiURL := strings.TrimRight(strings.TrimSpace(args[0]), "/")

	if (contextAuthClientID != "" || contextAuthUsername != "") && contextServiceAccountID != "" {
		return exitError(exitUsage, "Invalid combination of options",
			fmt.Errorf("--auth-service-account-id cannot be used with --auth-client-id or --auth-username, choose either service account or end-user authentication"))
	}

	client, err := newClient(cmd, apiURL, "", true)
	if err != nil {
		return err
	}
	info, err := client.Info(ctx)
	if err != nil {
		observability.CLILogger.Warn("Instance information unavailable, continuing without defaults",
			zap.String("url", apiURL), zap.Error(err))
		info = &adbclient.InstanceInfo{}
	}

	name := strings.TrimSpace(contextName)
	if name == "" {
		if name, err = ask(cmd, "What is the name of the context to create?", info.DefaultContextName(), nil); err != nil {
			return commandError("Unable to read context name", err)
		}
	}

	clientID, username := contextAuthClientID, contextAuthUsername
	if contextServiceAccountID == "" {
		if clientID == "" {
			var choices []string
			if info.Auth.Main != "" {
				choices = append([]string{info.Auth.Main}, info.Auth.Others...)
			}
			if clientID, err = ask(cmd, "Select the client ID that will be used for authentication", info.Auth.Main, choices); err != nil {
				return commandError("Unable to read client ID", err)
			}
		}
		if username == "" {
			if username, err = ask(cmd, "What is the username used during authentication", currentUsername(), nil); err != nil {
				return commandError("Unable to read username", err)
			}
		}
	}

	prefix := strings.TrimSpace(contextProjectPrefix)
	if prefix == "" {
		if len(info.Sequences) == 0 {
			_, _ = fmt.Fprintln(out, "ArtifactDB instance didn't provide project prefix information, the default one will be used (or use --project-prefix)")
		} else {
			var choices []string
			def := ""
			for _, seq := range info.Sequences {
				choices = append(choices, seq.Prefix)
				if seq.Default {
					def = seq.Prefix
				}
			}
			if prefix, err = ask(cmd, "Select a project prefix", def, choices); err != nil {
				return commandError("Unable to read project prefix", err)
			}
		}
	}

	_, err = registry.FindContext(name)
	switch {
	case err == nil:
		replace, cerr := confirm(cmd, fmt.Sprintf("Context %q already exists, do you want to replace it?", name), false)
		if cerr != nil {
			return commandError("Unable to read confirmation", cerr)
		}
		if !replace {
			return abort("")
		}
		_, _ = fmt.Fprintln(out, "Replacing context:")
	case ctxstore.IsNotFound(err):
		_, _ = fmt.Fprintln(out, "Create new context:")
	default:
		return commandError("Unable to load contexts", err)
	}

	newCtx := ctxstore.Context{
		Name: name,
		URL:  apiURL,
		Auth: ctxstore.Auth{
			URL:              strings.TrimSpace(contextAuthURL),
			ClientID:         clientID,
			ServiceAccountID: contextServiceAccountID,
			Username:         username,
		},
	}
	if prefix != "" {
		newCtx.ProjectPrefix = ctxstore.StringPtr(prefix)
	}
	if err := printYAML(cmd, newCtx); err != nil {
		return err
	}

	if !contextForce {
		ok, cerr := confirm(cmd, "Confirm creation?", false)
		if cerr != nil {
			return commandError("Unable to read confirmation", cerr)
		}
		if !ok {
			return abort("")
		}
	}

	if err := registry.SaveContext(name, newCtx, ctxstore.SaveOptions{Overwrite: true, Quiet: true}); err != nil {
		return commandError("Unable to save context", err)
	}
	if _, err := registry.CurrentContextName(); ctxstore.IsNotFound(err) {
		if err := registry.SetCurrent(name); err != nil {
			return commandError("Unable to select context", err)
		}
		_, _ = fmt.Fprintf(out, "Switched to context %q\n", name)
	}
	return nil
}

func runContextList(cmd *cobra.Command, _ []string) error {
	registry := registryFrom(cmd.Context())
	names, err := registry.ContextNames()
	if err != nil {
		return commandError("Unable to load contexts", err)
	}
	current, _ := registry.CurrentContextName()

	out := cmd.OutOrStdout()
	if len(names) == 0 {
		_, _ = fmt.Fprintln(out, "No contexts, create one with 'adb context create'")
		return nil
	}
	for _, name := range names {
		marker := " "
		if name == current {
			marker = "*"
		}
		_, _ = fmt.Fprintf(out, "%s %s\n", marker, name)
	}
	return nil
}

func runContextShow(cmd *cobra.Command, args []string) error {
	registry := registryFrom(cmd.Context())
	var (
		c   *ctxstore.Context
		err error
	)
	if len(args) == 1 {
		c, err = registry.FindContext(args[0])
	} else {
		c, err = registry.CurrentContext()
	}
	if err != nil {
		return commandError("Unable to find context", err)
	}
	return printYAML(cmd, c)
}

func runContextUse(cmd *cobra.Command, args []string) error {
	registry := registryFrom(cmd.Context())
	name := strings.TrimSpace(args[0])
	if err := registry.SetCurrent(name); err != nil {
		return commandError(fmt.Sprintf("Context %q doesn't exist", name), err)
	}
	c, err := registry.FindContext(name)
	if err != nil {
		return commandError("Unable to find context", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Switched to context %q: %s\n", name, c.URL)
	return nil
}

// printYAML renders v as a single YAML document on the command output.
func printYAML(cmd *cobra.Command, v any) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return commandError("Unable to render output", err)
	}
	if err := enc.Close(); err != nil {
		return commandError("Unable to render output", err)
	}
	return nil
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
