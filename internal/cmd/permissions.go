package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/3leaps/adbcli/pkg/adbclient"
	"github.com/3leaps/adbcli/pkg/ctxstore"
	"github.com/3leaps/adbcli/pkg/notation"
	"github.com/3leaps/adbcli/pkg/output"
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Manage project's permissions",
	Long: `Manage project and version permissions.

Identifiers use the [project_id] or [project_id@version] notation, or the
--project-id and --version options. Without an explicit version the
project-level permissions are targeted.`,
}

var permissionsShowCmd = &cobra.Command{
	Use:   "show [what]",
	Short: "Show current permissions for a project or version",
	Long: `Show current permissions for a given project or version. Permissions
of a version may inherit from the project itself: the scope field tells
whether they are project or version specific.`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: runPermissionsShow,
}

var permissionsSetCmd = &cobra.Command{
	Use:   "set [what]",
	Short: "Replace existing permissions or create new ones",
	Long: `Replace existing permissions or create new ones. A full permissions
document can be passed with --permissions, or individual parts with the
other options. Existing permissions are used as a base unless --merge=false.

Example:
  adb permissions set PRJ000001 --public
  adb permissions set PRJ000001@2 --add-viewers alice,bob
  adb permissions set --project-id PRJ000001 --permissions '{"read_access": "authenticated"}'`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: runPermissionsSet,
}

var permissionsDeleteCmd = &cobra.Command{
	Use:   "delete [what]",
	Short: "Delete the permissions profile of a project or version",
	Long: `Delete the permissions profile of a project or version. Permissions are
then inherited from the upper scope (version > project > global). When
nothing can be inherited, the project or version becomes unavailable to
everyone except admins.`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: runPermissionsDelete,
}

// Default access rules completing a partial permissions document.
const (
	defaultReadAccess  = adbclient.AccessViewers
	defaultWriteAccess = adbclient.AccessOwners
)

const (
	scopeProject = "project"
	scopeVersion = "version"
)

var (
	permProjectID   string
	permVersion     string
	permConfirm     bool
	permVerbose     bool
	permDocument    string
	permMerge       bool
	permReadAccess  string
	permWriteAccess string
	permViewers     string
	permAddViewers  string
	permOwners      string
	permAddOwners   string
	permPublic      bool
	permPrivate     bool
	permHide        bool
)

func init() {
	rootCmd.AddCommand(permissionsCmd)
	permissionsCmd.AddCommand(permissionsShowCmd)
	permissionsCmd.AddCommand(permissionsSetCmd)
	permissionsCmd.AddCommand(permissionsDeleteCmd)

	for _, c := range []*cobra.Command{permissionsShowCmd, permissionsSetCmd, permissionsDeleteCmd} {
		c.Flags().StringVar(&permProjectID, "project-id", "", "Project ID")
		c.Flags().StringVar(&permVersion, "version", "", "Version of the project (requires --project-id)")
	}
	for _, c := range []*cobra.Command{permissionsSetCmd, permissionsDeleteCmd} {
		c.Flags().BoolVar(&permConfirm, "confirm", true, "Ask for confirmation before changing existing permissions")
		c.Flags().BoolVar(&permVerbose, "verbose", false, "Show existing permissions before changing them")
	}

	f := permissionsSetCmd.Flags()
	f.StringVar(&permDocument, "permissions", "", "New permissions as a JSON document, completed with default values")
	f.BoolVar(&permMerge, "merge", true, "Merge new permissions on top of existing ones")
	f.StringVar(&permReadAccess, "read-access", "", "Read access rule")
	f.StringVar(&permWriteAccess, "write-access", "", "Write access rule")
	f.StringVar(&permViewers, "viewers", "", "Replace viewers with a comma-separated list (empty removes all)")
	f.StringVar(&permAddViewers, "add-viewers", "", "Add comma-separated viewers to existing ones")
	f.StringVar(&permOwners, "owners", "", "Replace owners with a comma-separated list (empty removes all)")
	f.StringVar(&permAddOwners, "add-owners", "", "Add comma-separated owners to existing ones")
	f.BoolVar(&permPublic, "public", false, "Make the project publicly readable (--read-access public)")
	f.BoolVar(&permPrivate, "private", false, "Restrict read access to viewers (--read-access viewers)")
	f.BoolVar(&permHide, "hide", false, "Hide the project from anyone except admins (--read-access none --write-access none)")
	for _, name := range []string{"read-access", "write-access"} {
		_ = permissionsSetCmd.RegisterFlagCompletionFunc(name, completeRoleAccess)
	}
}

func completeRoleAccess(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	names := make([]string, len(adbclient.RoleAccessValues))
	for i, v := range adbclient.RoleAccessValues {
		names[i] = string(v)
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

// permissionsTarget resolves the project and version whose permissions
// are managed. A version defaulted to latest targets the project.
func permissionsTarget(args []string) (notation.Identifier, string, error) {
	what := ""
	if len(args) == 1 {
		what = args[0]
	}
	id, err := notation.Parse(notation.Args{What: what, ProjectID: permProjectID, Version: permVersion})
	if err != nil {
		if errors.Is(err, notation.ErrMissingArgument) {
			return id, "", abort("Missing argument: provide a project ID, and an optional version")
		}
		return id, "", commandError("Invalid identifier", err)
	}
	if id.IsArtifact() {
		return id, "", exitError(exitConflict, "Invalid identifier", fmt.Errorf("permissions apply to projects and versions, not to artifact %s", id))
	}
	return id, id.ExplicitVersion(), nil
}

func runPermissionsShow(cmd *cobra.Command, args []string) error {
	id, version, err := permissionsTarget(args)
	if err != nil {
		return err
	}
	c, err := currentContext(cmd)
	if err != nil {
		return err
	}
	client, err := contextClient(cmd, c)
	if err != nil {
		return err
	}
	perms, err := client.Permissions(cmd.Context(), id.ProjectID, version)
	if err != nil {
		return commandError("Unable to fetch permissions", err)
	}
	out := cmd.OutOrStdout()
	if perms == nil {
		_, _ = fmt.Fprintln(out, "No permissions found")
		return nil
	}
	if err := printYAML(cmd, perms); err != nil {
		return err
	}
	if version != "" && perms["scope"] == scopeProject {
		_, _ = fmt.Fprintln(out, "Permissions requested for a version, but inherit from permissions defined at project level")
	}
	return nil
}

func runPermissionsSet(cmd *cobra.Command, args []string) error {
	id, version, err := permissionsTarget(args)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	switch {
	case flags.Changed("viewers") && flags.Changed("add-viewers"):
		return exitError(exitConflict, "Invalid combination of arguments", fmt.Errorf("--viewers cannot be used with --add-viewers"))
	case flags.Changed("owners") && flags.Changed("add-owners"):
		return exitError(exitConflict, "Invalid combination of arguments", fmt.Errorf("--owners cannot be used with --add-owners"))
	case flags.Changed("read-access") && (permPublic || permPrivate):
		return exitError(exitConflict, "Invalid combination of arguments", fmt.Errorf("--public and --private cannot be used with --read-access"))
	case permPublic && permPrivate:
		return exitError(exitConflict, "Invalid combination of arguments", fmt.Errorf("--public cannot be used with --private"))
	case permHide && (flags.Changed("read-access") || flags.Changed("write-access")):
		return exitError(exitConflict, "Invalid combination of arguments", fmt.Errorf("--hide cannot be used with --read-access or --write-access"))
	}

	c, err := currentContext(cmd)
	if err != nil {
		return err
	}
	client, err := contextClient(cmd, c)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	existing, err := client.Permissions(ctx, id.ProjectID, version)
	if err != nil {
		return commandError("Unable to fetch permissions", err)
	}

	parts, err := permissionParts(flags.Changed, existing)
	if err != nil {
		return err
	}
	if strings.TrimSpace(permDocument) != "" && len(parts) > 0 {
		return exitError(exitConflict, "Invalid combination of arguments",
			fmt.Errorf("--permissions cannot be used in addition to individual parts: %s", strings.Join(slices.Sorted(maps.Keys(parts)), ", ")))
	}

	out := cmd.OutOrStdout()
	passed := map[string]any{}
	if strings.TrimSpace(permDocument) != "" {
		if err := json.Unmarshal([]byte(permDocument), &passed); err != nil {
			return exitError(exitConflict, "Expected JSON document for --permissions", err)
		}
	}
	perms := maps.Clone(passed)
	maps.Copy(perms, parts)
	if permMerge && len(existing) > 0 {
		_, _ = fmt.Fprintln(out, "Merging with existing permissions")
		merged := maps.Clone(existing)
		maps.Copy(merged, perms)
		perms = merged
	}
	if err := completePermissions(perms, version, passed); err != nil {
		return err
	}

	if perms["read_access"] == string(adbclient.AccessNone) && perms["write_access"] == string(adbclient.AccessNone) {
		_, _ = fmt.Fprintln(out, output.NewStyler(out).Warn("After applying permissions, the project (or version) will be hidden and inaccessible to users (except admins)"))
		if permConfirm {
			ok, err := confirm(cmd, "Are you sure you want to hide this project/version?", false)
			if err != nil {
				return commandError("Unable to read confirmation", err)
			}
			if !ok {
				return abort("")
			}
		}
	}

	if len(existing) > 0 {
		if permVerbose {
			_, _ = fmt.Fprintln(out, "Existing permissions found:")
			if err := printYAML(cmd, existing); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, "New permissions to apply:")
			if err := printYAML(cmd, perms); err != nil {
				return err
			}
		}
		if samePermissions(existing, perms) {
			_, _ = fmt.Fprintln(out, "Existing and new permissions are the same, nothing to do")
			return nil
		}
		if permConfirm {
			ok, err := confirm(cmd, "Replace existing permissions?", false)
			if err != nil {
				return commandError("Unable to read confirmation", err)
			}
			if !ok {
				return abort("")
			}
		}
	} else if permVerbose {
		_, _ = fmt.Fprintln(out, "No existing permissions found")
	}

	job, err := client.SetPermissions(ctx, id.ProjectID, version, perms)
	if err != nil {
		return commandError("Unable to set permissions", err)
	}
	registerJob(cmd, c, ctxstore.StringPtr(id.ProjectID), optionalString(version), job)
	_, _ = fmt.Fprintln(out, "Indexing job created, new permissions will be active once done:")
	return printYAML(cmd, job)
}

// permissionParts collects individual permission options. changed reports
// whether a flag was given on the command line.
func permissionParts(changed func(string) bool, existing map[string]any) (map[string]any, error) {
	parts := map[string]any{}
	for flag, raw := range map[string]string{"read-access": permReadAccess, "write-access": permWriteAccess} {
		if !changed(flag) {
			continue
		}
		access, err := adbclient.ParseRoleAccess(raw)
		if err != nil {
			return nil, exitError(exitConflict, "Invalid --"+flag+" value", err)
		}
		parts[strings.ReplaceAll(flag, "-", "_")] = string(access)
	}
	if changed("viewers") {
		parts["viewers"] = splitUsers(permViewers)
	}
	if changed("owners") {
		parts["owners"] = splitUsers(permOwners)
	}
	if changed("add-viewers") {
		parts["viewers"] = unionUsers(existing["viewers"], splitUsers(permAddViewers))
	}
	if changed("add-owners") {
		parts["owners"] = unionUsers(existing["owners"], splitUsers(permAddOwners))
	}
	if permHide {
		parts["read_access"] = string(adbclient.AccessNone)
		parts["write_access"] = string(adbclient.AccessNone)
	}
	if permPublic {
		parts["read_access"] = string(adbclient.AccessPublic)
	}
	if permPrivate {
		parts["read_access"] = string(adbclient.AccessViewers)
	}
	return parts, nil
}

// completePermissions fills defaults and checks the scope against the
// targeted version. passed is the document given with --permissions.
func completePermissions(perms map[string]any, version string, passed map[string]any) error {
	if _, ok := passed["scope"]; !ok {
		if version != "" {
			perms["scope"] = scopeVersion
		} else {
			perms["scope"] = scopeProject
		}
	}
	if version != "" && perms["scope"] != scopeVersion {
		return exitError(exitConflict, "Invalid scope", fmt.Errorf("when a version is specified, the scope must be %q", scopeVersion))
	}
	for key, def := range map[string]adbclient.RoleAccess{"read_access": defaultReadAccess, "write_access": defaultWriteAccess} {
		raw, ok := perms[key]
		if !ok || raw == nil {
			perms[key] = string(def)
			continue
		}
		s, _ := raw.(string)
		access, err := adbclient.ParseRoleAccess(s)
		if err != nil {
			return exitError(exitConflict, "Unable to parse permissions, incorrect format", err)
		}
		perms[key] = string(access)
	}
	for _, key := range []string{"viewers", "owners"} {
		users, err := toUsers(perms[key])
		if err != nil {
			return exitError(exitConflict, "Unable to parse permissions, incorrect format", fmt.Errorf("%s: %w", key, err))
		}
		perms[key] = users
	}
	return nil
}

func runPermissionsDelete(cmd *cobra.Command, args []string) error {
	id, version, err := permissionsTarget(args)
	if err != nil {
		return err
	}
	c, err := currentContext(cmd)
	if err != nil {
		return err
	}
	client, err := contextClient(cmd, c)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	existing, err := client.Permissions(ctx, id.ProjectID, version)
	if err != nil {
		return commandError("Unable to fetch permissions", err)
	}

	out := cmd.OutOrStdout()
	if len(existing) == 0 {
		_, _ = fmt.Fprintln(out, "No existing permissions found, nothing to do")
		return nil
	}
	if permVerbose {
		_, _ = fmt.Fprintln(out, "Existing permissions found:")
		if err := printYAML(cmd, existing); err != nil {
			return err
		}
	}
	if permConfirm {
		ok, err := confirm(cmd, "Are you sure you want to delete these permissions?", false)
		if err != nil {
			return commandError("Unable to read confirmation", err)
		}
		if !ok {
			return abort("")
		}
	}

	job, err := client.DeletePermissions(ctx, id.ProjectID, version)
	if err != nil {
		return commandError("Unable to delete permissions", err)
	}
	registerJob(cmd, c, ctxstore.StringPtr(id.ProjectID), optionalString(version), job)
	_, _ = fmt.Fprintln(out, "Indexing job created, new inherited permissions will be active once done:")
	return printYAML(cmd, job)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return ctxstore.StringPtr(s)
}

// splitUsers parses a comma-separated list, dropping blanks.
func splitUsers(s string) []string {
	users := []string{}
	for _, u := range strings.Split(s, ",") {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, u)
		}
	}
	return users
}

func unionUsers(existing any, add []string) []string {
	current, _ := toUsers(existing)
	for _, u := range add {
		if !slices.Contains(current, u) {
			current = append(current, u)
		}
	}
	slices.Sort(current)
	return current
}

func toUsers(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return t, nil
	case []any:
		users := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected a list of user names, got %v", e)
			}
			users = append(users, s)
		}
		return users, nil
	}
	return nil, fmt.Errorf("expected a list of user names, got %T", v)
}

// samePermissions compares documents after normalising user lists.
func samePermissions(existing, perms map[string]any) bool {
	normalised := maps.Clone(existing)
	for _, key := range []string{"viewers", "owners"} {
		if users, err := toUsers(normalised[key]); err == nil {
			normalised[key] = users
		}
	}
	return reflect.DeepEqual(normalised, perms)
}
