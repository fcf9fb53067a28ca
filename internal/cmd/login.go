package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/adbcli/pkg/auth"
	"github.com/3leaps/adbcli/pkg/ctxstore"
	"github.com/3leaps/adbcli/pkg/output"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Cache an access token and switch to authenticated access",
	Long: `Cache an access token for the current context and switch it to
authenticated access.

The token is read from --token, or prompted for (without echo when the
input is a terminal). Setting ADB_TOKEN overrides any cached token.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Switch the current context to anonymous access",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show data about the authenticated user",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runWhoami,
}

var (
	loginToken    string
	logoutPurge   bool
	whoamiRaw     bool
	whoamiDecoded bool
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)

	loginCmd.Flags().StringVar(&loginToken, "token", "", "Access token (prompted when omitted)")
	logoutCmd.Flags().BoolVar(&logoutPurge, "purge", false, "Delete cached credentials; the next login requires a new token")
	whoamiCmd.Flags().BoolVar(&whoamiRaw, "raw", false, "Print the raw token")
	whoamiCmd.Flags().BoolVar(&whoamiDecoded, "decoded", false, "Print the decoded token (headers and claims)")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	c, err := currentContext(cmd)
	if err != nil {
		return err
	}

	token := strings.TrimSpace(loginToken)
	if token == "" {
		if token, err = askSecret(cmd, "Access token"); err != nil {
			return commandError("Unable to read token", err)
		}
	}
	if token == "" {
		return exitError(exitUsage, "Missing argument", fmt.Errorf("an access token is required"))
	}

	entry, err := tokenCacheFrom(cmd.Context()).Store(c.Name, token)
	if err != nil {
		return exitError(exitUsage, "Invalid token", err)
	}

	c.Auth.Anonymous = false
	if err := registryFrom(cmd.Context()).SaveContext(c.Name, *c, ctxstore.SaveOptions{Overwrite: true, Quiet: true}); err != nil {
		return commandError("Unable to save context", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Authenticated access enabled for context %q\n", c.Name)
	if claims, err := auth.ParseClaims(entry.AccessToken); err == nil {
		if name := auth.Username(claims); name != "" {
			_, _ = fmt.Fprintf(out, "Logged in as %s\n", name)
		}
	}
	if !entry.ExpiresAt.IsZero() {
		_, _ = fmt.Fprintf(out, "Token expires %s\n", entry.ExpiresAt.Local().Format(time.DateTime))
	}
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	c, err := currentContext(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if logoutPurge {
		removed, err := tokenCacheFrom(cmd.Context()).Purge(c.Name)
		if err != nil {
			return commandError("Unable to remove cached credentials", err)
		}
		if removed {
			_, _ = fmt.Fprintln(out, "Removing cached credentials")
		}
	}

	c.Auth.Anonymous = true
	if err := registryFrom(cmd.Context()).SaveContext(c.Name, *c, ctxstore.SaveOptions{Overwrite: true, Quiet: true}); err != nil {
		return commandError("Unable to save context", err)
	}
	_, _ = fmt.Fprintln(out, "Anonymous access enabled")
	return nil
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	c, err := currentContext(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if c.Auth.Anonymous {
		_, _ = fmt.Fprintln(out, "Anonymous mode - no token set.")
		return nil
	}

	token, err := auth.NewSource(tokenCacheFrom(cmd.Context()), c.Name).Token(cmd.Context())
	if err != nil {
		return commandError("Unable to get token", err)
	}
	header, claims, err := auth.Decode(token)
	if err != nil {
		return commandError("Unable to decode token", err)
	}

	if whoamiRaw {
		_, _ = fmt.Fprintln(out, token)
	}
	if whoamiDecoded {
		_, _ = fmt.Fprintln(out, "Headers:")
		if err := printYAML(cmd, header); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, "Claims:")
		if err := printYAML(cmd, map[string]any(claims)); err != nil {
			return err
		}
	}
	if whoamiRaw || whoamiDecoded {
		return nil
	}

	styler := output.NewStyler(out)
	label := func(s string) string { return styler.Warn(s + ":") }
	for _, field := range []struct{ key, title string }{
		{"name", "Name"},
		{"preferred_username", "Username"},
		{"email", "Email"},
	} {
		if v, ok := claims[field.key]; ok {
			_, _ = fmt.Fprintf(out, "%s %v\n", label(field.title), v)
		}
	}
	if ra, ok := claims["resource_access"]; ok {
		_, _ = fmt.Fprintln(out, label("Clients"))
		if b, err := yaml.Marshal(ra); err == nil {
			_, _ = fmt.Fprint(out, indent(string(b), "  "))
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		_, _ = fmt.Fprintf(out, "%s %s\n", label("Token expiration date"), exp.Local().Format(time.DateTime))
	}
	issuer, _ := claims["iss"].(string)
	if issuer == "" {
		issuer, _ = header["iss"].(string)
	}
	if issuer != "" {
		_, _ = fmt.Fprintf(out, "%s %s\n", label("Issuer"), issuer)
	}
	return nil
}
