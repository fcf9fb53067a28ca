package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/adbcli/internal/config"
	"github.com/3leaps/adbcli/internal/observability"
	"github.com/3leaps/adbcli/pkg/adbclient"
	"github.com/3leaps/adbcli/pkg/auth"
	"github.com/3leaps/adbcli/pkg/ctxstore"
	"github.com/3leaps/adbcli/pkg/jobledger"
	"github.com/3leaps/adbcli/pkg/notation"
	"github.com/3leaps/adbcli/pkg/provider"
)

// Exit codes not covered by foundry. exitAbort is reserved for declined
// prompts and missing or duplicate contexts; failures never use it.
const (
	exitAbort    = 1
	exitUsage    = 2
	exitFailure  = 70
	exitIOError  = 74
	exitCorrupt  = 78
	exitConflict = 255
)

// VersionInfo describes the build.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// AppIdentity names the application on disk and in the environment.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	AppDir     string
}

var (
	versionInfo = VersionInfo{Version: "dev", Commit: "HEAD", BuildDate: "unknown"}
	appIdentity *AppIdentity
)

var (
	rootConfigPath string
	rootDebug      bool
	rootLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "adb",
	Short: "ArtifactDB command line client",
	Long: `adb talks to ArtifactDB instances: upload, download and search
artifacts, manage project permissions and backend tasks.

Connection details are stored as named contexts. Server-side work such as
indexing after an upload is tracked as jobs recorded in the current
context; use 'adb job check' to follow them until completion.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupCommand,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Path to the contexts file (default <user config dir>/artifactdb-cli/config)")
	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "Enable debug diagnostics on stderr")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Diagnostics level (debug, info, warn, error)")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return exitError(exitUsage, "Invalid usage", err)
	})
	setDefaults()
}

// setDefaults registers global settings defaults surfaced by `adb version`
// and shell completion before the full settings load.
func setDefaults() {
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("job.prune", string(jobledger.DefaultPruneMode))
	viper.SetDefault("job.format", config.HumanFormat)
	viper.SetDefault("search.page_size", 50)
	viper.SetDefault("upload.mode", string(adbclient.UploadPresigned))
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the identity set up by the root command, or nil
// before any command ran.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

// Execute runs the CLI and exits the process with the mapped exit code.
func Execute() {
	os.Exit(run(context.Background(), rootCmd.ErrOrStderr()))
}

func run(ctx context.Context, stderr io.Writer) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	return reportError(stderr, err)
}

// reportError prints err for the user and returns its exit code.
func reportError(w io.Writer, err error) int {
	code := exitCodeOf(err)
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			_, _ = fmt.Fprintf(w, "Error: %s: %v\n", exitErr.Message, exitErr.Err)
		} else if exitErr.Message != "" {
			_, _ = fmt.Fprintln(w, exitErr.Message)
		}
	} else {
		_, _ = fmt.Fprintf(w, "Error: %v\n", err)
	}
	if code == exitAbort {
		_, _ = fmt.Fprintln(w, "Aborted!")
	}
	return code
}

// setupCommand loads settings, initialises logging and injects the
// context registry into the command context.
func setupCommand(cmd *cobra.Command, _ []string) error {
	if appIdentity == nil {
		appIdentity = &AppIdentity{BinaryName: "adb", EnvPrefix: "ADB_", AppDir: ctxstore.AppDirName}
	}

	observability.InitCLILogger(appIdentity.BinaryName, rootDebug)

	overrides := map[string]any{}
	if rootConfigPath != "" {
		overrides["config_file"] = rootConfigPath
	}
	if rootLogLevel != "" {
		overrides["logging"] = map[string]any{"level": rootLogLevel}
	}
	settings, err := config.Load(cmd.Context(), overrides)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return commandError("Unable to read settings", err)
		}
		return exitError(exitUsage, "Invalid settings", err)
	}
	if !rootDebug && !observability.SetLevel(settings.Logging.Level) {
		observability.CLILogger.Warn("Unknown log level, keeping info", zap.String("level", settings.Logging.Level))
	}

	path := settings.ConfigFile
	if path == "" {
		path, err = ctxstore.DefaultPath()
		if err != nil {
			return exitError(foundry.ExitFileNotFound, "Cannot locate configuration directory", err)
		}
	}
	backend := ctxstore.NewFileBackend(path, ctxstore.WithLogger(observability.CLILogger))
	registry := ctxstore.NewRegistry(backend, ctxstore.WithRegistryLogger(observability.CLILogger))

	observability.CLILogger.Debug("Using contexts file", zap.String("path", path))

	ctx := withRegistry(cmd.Context(), registry)
	ctx = withSettings(ctx, settings)
	ctx = withTokenCache(ctx, auth.NewCache(filepath.Dir(path)))
	cmd.SetContext(ctx)
	return nil
}

type ctxKey int

const (
	registryKey ctxKey = iota
	settingsKey
	tokenCacheKey
)

func withRegistry(ctx context.Context, r *ctxstore.Registry) context.Context {
	return context.WithValue(ctx, registryKey, r)
}

// registryFrom returns the registry injected by setupCommand.
func registryFrom(ctx context.Context) *ctxstore.Registry {
	r, _ := ctx.Value(registryKey).(*ctxstore.Registry)
	return r
}

func withSettings(ctx context.Context, s *config.Config) context.Context {
	return context.WithValue(ctx, settingsKey, s)
}

func settingsFrom(ctx context.Context) *config.Config {
	if s, ok := ctx.Value(settingsKey).(*config.Config); ok && s != nil {
		return s
	}
	if s := config.GetConfig(); s != nil {
		return s
	}
	return &config.Config{}
}

func withTokenCache(ctx context.Context, c *auth.Cache) context.Context {
	return context.WithValue(ctx, tokenCacheKey, c)
}

func tokenCacheFrom(ctx context.Context) *auth.Cache {
	c, _ := ctx.Value(tokenCacheKey).(*auth.Cache)
	return c
}

// currentContext resolves the active context or fails with an abort.
func currentContext(cmd *cobra.Command) (*ctxstore.Context, error) {
	c, err := registryFrom(cmd.Context()).CurrentContext()
	if err != nil {
		return nil, commandError("No usable context, create one with 'adb context create' or select one with 'adb context use'", err)
	}
	return c, nil
}

// contextClient builds an API client for c using the loaded settings.
func contextClient(cmd *cobra.Command, c *ctxstore.Context) (*adbclient.Client, error) {
	return newClient(cmd, c.URL, c.Name, c.Auth.Anonymous)
}

func newClient(cmd *cobra.Command, baseURL, contextName string, anonymous bool) (*adbclient.Client, error) {
	s := settingsFrom(cmd.Context())
	var tokens adbclient.TokenSource
	if !anonymous && contextName != "" {
		if cache := tokenCacheFrom(cmd.Context()); cache != nil {
			tokens = auth.NewSource(cache, contextName)
		}
	}
	userAgent := s.HTTP.UserAgent
	if userAgent == "" {
		userAgent = "adb/" + versionInfo.Version
	}
	client, err := adbclient.New(adbclient.Config{
		BaseURL:   baseURL,
		Tokens:    tokens,
		Anonymous: anonymous,
		Timeout:   s.HTTP.Timeout,
		RateLimit: s.HTTP.RateLimit,
		Burst:     s.HTTP.Burst,
		UserAgent: userAgent,
		Logger:    observability.CLILogger,
	})
	if err != nil {
		return nil, exitError(exitUsage, "Invalid context URL", err)
	}
	return client, nil
}

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// abort ends a command on a user decline.
func abort(message string) error {
	return &ExitError{Code: exitAbort, Message: message}
}

// commandError picks the exit code for err from its kind.
func commandError(message string, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return exitError(codeFor(err), message, err)
}

func codeFor(err error) int {
	var (
		apiErr  *adbclient.APIError
		urlErr  *url.Error
		pathErr *fs.PathError
		linkErr *os.LinkError
	)
	switch {
	case ctxstore.IsCorrupt(err):
		return exitCorrupt
	case ctxstore.IsNotFound(err), errors.Is(err, ctxstore.ErrContextExists):
		return exitAbort
	case errors.Is(err, notation.ErrConflictingArguments):
		return exitConflict
	case errors.Is(err, notation.ErrMalformedID),
		errors.Is(err, notation.ErrReservedSeparator),
		errors.Is(err, notation.ErrEmptyVersion),
		errors.Is(err, notation.ErrMissingArgument):
		return exitUsage
	case errors.Is(err, context.Canceled):
		return foundry.ExitSignalInt
	case errors.As(err, &apiErr),
		errors.As(err, &urlErr),
		errors.Is(err, adbclient.ErrUnauthorized),
		errors.Is(err, adbclient.ErrMalformedResponse),
		errors.Is(err, provider.ErrProviderUnavailable),
		errors.Is(err, provider.ErrThrottled):
		return foundry.ExitExternalServiceUnavailable
	case errors.As(err, &pathErr), errors.As(err, &linkErr):
		return exitIOError
	default:
		return exitFailure
	}
}

func exitCodeOf(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if isUsageError(err) {
		return exitUsage
	}
	return codeFor(err)
}

// isUsageError recognises cobra's argument and command errors, which are
// plain errors.
func isUsageError(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"unknown command", "accepts ", "requires at least", "requires at most", "requires exactly", "unknown flag", "unknown shorthand flag"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}
