package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/3leaps/adbcli/pkg/ctxstore"
	"github.com/3leaps/adbcli/pkg/jobledger"
)

// usageArgs tags cobra argument validation failures as usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return exitError(exitUsage, "Invalid usage", err)
		}
		return nil
	}
}

// completionRegistry opens the contexts file for shell completion, which
// may run before setupCommand.
func completionRegistry(cmd *cobra.Command) *ctxstore.Registry {
	if ctx := cmd.Context(); ctx != nil {
		if r := registryFrom(ctx); r != nil {
			return r
		}
	}
	path := rootConfigPath
	if path == "" {
		path = os.Getenv("ADB_CONFIG_FILE")
	}
	if path == "" {
		var err error
		if path, err = ctxstore.DefaultPath(); err != nil {
			return nil
		}
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return ctxstore.NewRegistry(ctxstore.NewFileBackend(path))
}

func completeContextNames(cmd *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	registry := completionRegistry(cmd)
	if registry == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	names, err := registry.ContextNames()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

func completeJobIDs(cmd *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	registry := completionRegistry(cmd)
	if registry == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	c, err := registry.CurrentContext()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return jobledger.JobIDs(c), cobra.ShellCompDirectiveNoFileComp
}

func completePruneModes(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	modes := jobledger.PruneModes()
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = string(m)
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
