package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/3leaps/adbcli/pkg/output"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage backend tasks (core & plugins)",
	Long: `Manage backend tasks (core & plugins).

Most commands require admin permissions on the instance.`,
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered backend tasks",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runTasksList,
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show task information (arguments, etc...)",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE:  runTasksShow,
}

var tasksLogsCmd = &cobra.Command{
	Use:   "logs [name]",
	Short: "Show logs for recent task executions",
	Args:  usageArgs(cobra.MaximumNArgs(1)),
	RunE:  runTasksLogs,
}

var tasksRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Trigger the execution of a task, with its parameters (if any)",
	Long: `Trigger the execution of a task. The returned job is recorded in the
current context and can be followed with 'adb job check'.

Example:
  adb tasks run purge_expired
  adb tasks run reindex --params '{"project_id": "PRJ000001", "dryrun": false}'`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: runTasksRun,
}

// Task types accepted by --type.
const (
	taskTypeCore   = "core"
	taskTypePlugin = "plugin"
)

var (
	tasksListType string
	tasksLogClear bool
	tasksParams   string
)

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksShowCmd)
	tasksCmd.AddCommand(tasksLogsCmd)
	tasksCmd.AddCommand(tasksRunCmd)

	tasksListCmd.Flags().StringVar(&tasksListType, "type", "", "List tasks with given type (core or plugin)")
	_ = tasksListCmd.RegisterFlagCompletionFunc("type", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{taskTypeCore, taskTypePlugin}, cobra.ShellCompDirectiveNoFileComp
	})
	tasksLogsCmd.Flags().BoolVar(&tasksLogClear, "clear", false, "Clear the cache storing recent task execution logs")
	tasksRunCmd.Flags().StringVar(&tasksParams, "params", "", `JSON object of named parameters, ex: '{"param1": "value1", "param2": false}'`)
}

func runTasksList(cmd *cobra.Command, _ []string) error {
	kind := strings.ToLower(strings.TrimSpace(tasksListType))
	if kind != "" && kind != taskTypeCore && kind != taskTypePlugin {
		return exitError(exitUsage, "Invalid --type value", fmt.Errorf("%q is not one of %s, %s", tasksListType, taskTypeCore, taskTypePlugin))
	}

	c, err := currentContext(cmd)
	if err != nil {
		return err
	}
	client, err := contextClient(cmd, c)
	if err != nil {
		return err
	}
	tasks, err := client.Tasks(cmd.Context())
	if err != nil {
		return commandError("Unable to list tasks", err)
	}

	names := make([]string, 0, len(tasks))
	for _, task := range tasks {
		core, _ := task["core"].(bool)
		if (kind == taskTypeCore && !core) || (kind == taskTypePlugin && core) {
			continue
		}
		if name, ok := task["name"].(string); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return printYAML(cmd, names)
}

func runTasksShow(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	c, err := currentContext(cmd)
	if err != nil {
		return err
	}
	client, err := contextClient(cmd, c)
	if err != nil {
		return err
	}
	tasks, err := client.Tasks(cmd.Context())
	if err != nil {
		return commandError("Unable to list tasks", err)
	}
	for _, task := range tasks {
		if task["name"] == name {
			return printYAML(cmd, task)
		}
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No such task")
	return nil
}

func runTasksLogs(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) == 1 {
		name = strings.TrimSpace(args[0])
	}
	if tasksLogClear && name != "" {
		return abort("Clearing logs for a specific task is not supported")
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

	if tasksLogClear {
		if _, err := client.ResetTaskLogs(cmd.Context()); err != nil {
			return commandError("Unable to clear logs", err)
		}
		_, _ = fmt.Fprintln(out, "Logs cache cleared")
		return nil
	}

	logs, err := client.TaskLogs(cmd.Context())
	if err != nil {
		return commandError("Unable to fetch logs", err)
	}
	var view any = logs
	if name != "" {
		view = logs[name]
	}
	if isEmpty(view) {
		_, _ = fmt.Fprintln(out, output.NewStyler(out).Warn("No logs found"))
		return nil
	}
	return printYAML(cmd, view)
}

func runTasksRun(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	params := map[string]any{}
	if strings.TrimSpace(tasksParams) != "" {
		if err := json.Unmarshal([]byte(tasksParams), &params); err != nil {
			return exitError(exitUsage, "Invalid --params value, expected a JSON object", err)
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
	job, err := client.RunTask(cmd.Context(), name, params)
	if err != nil {
		return commandError(fmt.Sprintf("Unable to run task %q", name), err)
	}
	registerJob(cmd, c, nil, nil, job)
	return printYAML(cmd, job)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case string:
		return t == ""
	}
	return false
}
