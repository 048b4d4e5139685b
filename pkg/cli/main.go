// Package cli builds the rabbitqueue command tree: queue and offset
// administration, the jobs worker, health checks and configuration commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/rabbitqueue/pkg/config"
	"github.com/nimburion/rabbitqueue/pkg/jobs"
	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
	queuefactory "github.com/nimburion/rabbitqueue/pkg/queue/factory"
	"github.com/nimburion/rabbitqueue/pkg/version"
)

const (
	policiesAnnotationPrefix = "policies."
	defaultPolicyContext     = "run"
)

// CommandPolicy defines the supported command policy values.
type CommandPolicy string

const (
	PolicyAlways    CommandPolicy = "always"
	PolicyRun       CommandPolicy = "run"
	PolicyManual    CommandPolicy = "manual"
	PolicyOnDemand  CommandPolicy = "on_demand"
	PolicyScheduled CommandPolicy = "scheduled"
)

// ServiceCommandOptions defines callbacks for service-specific logic.
type ServiceCommandOptions struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Optional: custom config validation (runs after the built-in validation)
	ValidateConfig func(cfg *config.Config) error

	// Optional: registers job handlers for the "jobs worker" command.
	ConfigureJobs func(cfg *config.Config, log logger.Logger, manager *jobs.Manager) error

	// Optional: extra options for every queue built by the commands (tests inject dialers and stores here).
	QueueOptions []queuefactory.Option

	// Optional: additional custom commands
	CustomCommands []*cobra.Command
}

// rootState carries the persistent flags to the subcommands.
type rootState struct {
	opts                ServiceCommandOptions
	cfgPath             string
	secretFilePath      string
	serviceNameOverride string
}

func (s *rootState) loadConfig() (*config.Config, logger.Logger, error) {
	return LoadConfigAndLogger(
		s.cfgPath,
		s.opts.EnvPrefix,
		s.secretFilePath,
		s.opts.ValidateConfig,
		s.opts.Name,
		s.serviceNameOverride,
	)
}

// openQueues loads configuration and builds the queue set; the returned cleanup
// closes the queues and flushes the logger.
func (s *rootState) openQueues() (*config.Config, logger.Logger, *queuefactory.Queues, func(), error) {
	cfg, log, err := s.loadConfig()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	qs, err := queuefactory.New(cfg, log, s.opts.QueueOptions...)
	if err != nil {
		closeLogger(log)
		return nil, nil, nil, nil, fmt.Errorf("create queues: %w", err)
	}
	cleanup := func() {
		if closeErr := qs.Close(); closeErr != nil {
			log.Error("failed to close queues", "error", closeErr)
		}
		closeLogger(log)
	}
	return cfg, log, qs, cleanup, nil
}

// NewServiceCommand creates the CLI with queue, offset, jobs, scheduler, healthcheck, config and version subcommands.
func NewServiceCommand(opts ServiceCommandOptions) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "rabbitqueue"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = config.DefaultEnvPrefix
	}
	state := &rootState{opts: opts}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	SetCommandPolicies(rootCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	rootCmd.PersistentFlags().StringVarP(&state.cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&state.secretFilePath, "secret-file", "", "path to secrets file (sets <PREFIX>_SECRETS_FILE)")
	rootCmd.PersistentFlags().StringVar(&state.serviceNameOverride, "service-name", "", "service name override")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(opts.Name)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
		},
	}
	SetCommandPolicies(versionCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddCommand(newQueueCommand(state))
	rootCmd.AddCommand(newOffsetCommand(state))
	rootCmd.AddCommand(newJobsCommand(state))
	rootCmd.AddCommand(newSchedulerCommand(state))
	rootCmd.AddCommand(newHealthcheckCommand(state))
	rootCmd.AddCommand(newConfigCommand(state))

	for _, customCmd := range opts.CustomCommands {
		ensureDefaultPolicy(customCmd)
		rootCmd.AddCommand(customCmd)
	}

	rootCmd.CompletionOptions.DisableDefaultCmd = false
	rootCmd.InitDefaultCompletionCmd()
	for _, subCmd := range rootCmd.Commands() {
		if subCmd != nil && subCmd.Name() == "completion" {
			SetCommandPolicies(subCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
			break
		}
	}

	return rootCmd
}

func newConfigCommand(state *rootState) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}
	SetCommandPolicies(configCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, err := state.loadConfig()
			if err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}
			closeLogger(log)
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}
	SetCommandPolicies(validateCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	configCmd.AddCommand(validateCmd)

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applySecretFileFlag(state.opts.EnvPrefix, state.secretFilePath); err != nil {
				return err
			}
			settings, err := config.NewViperLoader(state.cfgPath, state.opts.EnvPrefix).Settings()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			settings = setServiceNameSetting(settings, resolveServiceNameValue(
				serviceNameFromSettings(settings), state.opts.Name, state.serviceNameOverride))
			if !showSecrets {
				settings = redactSettingsMap(settings)
			}
			formatted, err := formatSettings(settings)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatted)
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	SetCommandPolicies(showCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	configCmd.AddCommand(showCmd)

	return configCmd
}

// SetCommandPolicies stores policies as a map[string]string on command annotations using the "policies." prefix.
func SetCommandPolicies(cmd *cobra.Command, policies map[string]CommandPolicy) {
	if cmd == nil {
		return
	}
	if cmd.Annotations == nil {
		cmd.Annotations = make(map[string]string)
	}
	for _, key := range policyAnnotationKeys(cmd.Annotations) {
		delete(cmd.Annotations, key)
	}
	for context, policy := range policies {
		trimmedContext := strings.TrimSpace(context)
		if trimmedContext == "" {
			continue
		}
		cmd.Annotations[policiesAnnotationPrefix+trimmedContext] = string(policy)
	}
}

// GetCommandPolicies returns command policies from annotations.
func GetCommandPolicies(cmd *cobra.Command) map[string]string {
	out := map[string]string{}
	if cmd == nil {
		return out
	}
	for key, value := range cmd.Annotations {
		if !strings.HasPrefix(key, policiesAnnotationPrefix) {
			continue
		}
		context := strings.TrimPrefix(key, policiesAnnotationPrefix)
		if strings.TrimSpace(context) == "" {
			continue
		}
		out[context] = value
	}
	return out
}

func ensureDefaultPolicy(cmd *cobra.Command) {
	if cmd == nil {
		return
	}
	if len(GetCommandPolicies(cmd)) == 0 {
		SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	}
}

func policyAnnotationKeys(annotations map[string]string) []string {
	keys := make([]string, 0, len(annotations))
	for key := range annotations {
		if strings.HasPrefix(key, policiesAnnotationPrefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// LoadConfigAndLogger loads and validates configuration, then builds the logger it describes.
// Logs go to stderr so command output on stdout stays machine readable.
func LoadConfigAndLogger(
	cfgPath,
	envPrefix,
	secretFilePath string,
	customValidator func(*config.Config) error,
	defaultServiceName string,
	serviceNameOverride string,
) (*config.Config, logger.Logger, error) {
	if envPrefix == "" {
		envPrefix = config.DefaultEnvPrefix
	}
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, err
	}
	cfg, err := config.NewViperLoader(cfgPath, envPrefix).Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	applyResolvedServiceName(cfg, defaultServiceName, serviceNameOverride)

	if customValidator != nil {
		if err := customValidator(cfg); err != nil {
			return nil, nil, fmt.Errorf("custom validation failed: %w", err)
		}
	}

	base, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Observability.LogLevel),
		Format: logger.LogFormat(cfg.Observability.LogFormat),
		Output: os.Stderr,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	log := logger.WrapAsync(base.With("service", cfg.Service.Name), logger.AsyncConfig{
		Enabled:      cfg.Observability.AsyncLogging.Enabled,
		QueueSize:    cfg.Observability.AsyncLogging.QueueSize,
		WorkerCount:  cfg.Observability.AsyncLogging.WorkerCount,
		DropWhenFull: cfg.Observability.AsyncLogging.DropWhenFull,
	})

	logConfigIfDebug(log, cfg)
	return cfg, log, nil
}

func closeLogger(log logger.Logger) {
	if closer, ok := log.(interface{ Close() }); ok {
		closer.Close()
	}
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func formatSettings(settings map[string]any) (string, error) {
	if settings == nil {
		return "{}\n", nil
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

var secretSettingKeys = map[string]struct{}{
	"password":          {},
	"secret_access_key": {},
	"session_token":     {},
}

// redactSettingsMap masks credential keys and the password part of connection URLs.
func redactSettingsMap(settings map[string]any) map[string]any {
	if len(settings) == 0 {
		return settings
	}
	out := make(map[string]any, len(settings))
	for key, value := range settings {
		out[key] = redactSettingValue(key, value)
	}
	return out
}

func redactSettingValue(key string, value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactSettingsMap(typed)
	case []any:
		items := make([]any, len(typed))
		for idx, item := range typed {
			items[idx] = redactSettingValue(key, item)
		}
		return items
	case string:
		if _, secret := secretSettingKeys[strings.ToLower(key)]; secret && typed != "" {
			return "***"
		}
		if strings.EqualFold(key, "url") {
			return redactURL(typed)
		}
		return typed
	default:
		return value
	}
}

func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw
	}
	if _, hasPassword := parsed.User.Password(); !hasPassword {
		return raw
	}
	parsed.User = url.UserPassword(parsed.User.Username(), "***")
	return parsed.String()
}

// Execute runs the command and exits with appropriate code.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func logConfigIfDebug(log logger.Logger, cfg *config.Config) {
	if log == nil || cfg == nil {
		return
	}
	if !strings.EqualFold(cfg.Observability.LogLevel, string(logger.DebugLevel)) {
		return
	}
	log.Debug("effective configuration", "queues", cfg.QueueNames(), "offset_store", cfg.OffsetStore.Backend)
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return config.DefaultEnvPrefix
	}
	return strings.ToUpper(trimmed)
}

func applyResolvedServiceName(cfg *config.Config, defaultServiceName, serviceNameOverride string) {
	if cfg == nil {
		return
	}
	cfg.Service.Name = resolveServiceNameValue(cfg.Service.Name, defaultServiceName, serviceNameOverride)
}

func resolveServiceNameValue(currentConfigName, defaultServiceName, serviceNameOverride string) string {
	if override := strings.TrimSpace(serviceNameOverride); override != "" {
		return override
	}
	if configured := strings.TrimSpace(currentConfigName); configured != "" {
		return configured
	}
	if fallback := strings.TrimSpace(defaultServiceName); fallback != "" {
		return fallback
	}
	return "rabbitqueue"
}

func serviceNameFromSettings(settings map[string]any) string {
	service, _ := settings["service"].(map[string]any)
	name, _ := service["name"].(string)
	return name
}

func setServiceNameSetting(settings map[string]any, serviceName string) map[string]any {
	if settings == nil {
		settings = map[string]any{}
	}
	service, ok := settings["service"].(map[string]any)
	if !ok || service == nil {
		service = map[string]any{}
	}
	service["name"] = serviceName
	settings["service"] = service
	return settings
}

// requireQueueFlag trims and validates a --queue value.
func requireQueueFlag(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errors.New("--queue is required")
	}
	return trimmed, nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
