package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MacJediWizard/netdev-automount/internal/fstab"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// NETDEV_AUTOMOUNT_COMMAND_TIMEOUT=10s or NETDEV_AUTOMOUNT_COMMANDS_MOUNT=/sbin/mount.
const EnvPrefix = "NETDEV_AUTOMOUNT"

// DefaultDispatcherDir is where NetworkManager looks for dispatcher scripts.
const DefaultDispatcherDir = "/etc/NetworkManager/dispatcher.d"

// Settings holds the tool's own operating parameters.
//
// Sources, highest precedence first: command-line flags, NETDEV_AUTOMOUNT_*
// environment variables, the optional settings file, defaults.
type Settings struct {
	FstabPath     string `mapstructure:"fstab_path" validate:"required"`
	HostsPath     string `mapstructure:"hosts_path" validate:"required"`
	DispatcherDir string `mapstructure:"dispatcher_dir" validate:"required"`

	// CommandTimeout bounds every probe, mount and umount invocation.
	CommandTimeout time.Duration `mapstructure:"command_timeout" validate:"gt=0"`
	// RetryBackoff is the pause between reachability attempts.
	RetryBackoff time.Duration `mapstructure:"retry_backoff" validate:"gte=0"`

	// DirectTries is the reachability attempt count for direct runs.
	DirectTries int `mapstructure:"direct_tries" validate:"gte=0"`
	// DispatcherTries is the reachability attempt count for "up" events.
	DispatcherTries int `mapstructure:"dispatcher_tries" validate:"gte=0"`

	Commands CommandSettings `mapstructure:"commands"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json console"`

	// MetricsFile, when set, receives a Prometheus textfile after each run.
	MetricsFile string `mapstructure:"metrics_file"`
	DryRun      bool   `mapstructure:"dry_run"`
}

// CommandSettings names the external programs.
type CommandSettings struct {
	Resolver   string `mapstructure:"resolver" validate:"required"`
	Pinger     string `mapstructure:"pinger" validate:"required"`
	Mountpoint string `mapstructure:"mountpoint" validate:"required"`
	Mount      string `mapstructure:"mount" validate:"required"`
	Umount     string `mapstructure:"umount" validate:"required"`
}

var validate = validator.New()

// NewViper returns a viper instance with defaults and environment overrides
// configured. Callers may bind flags before calling LoadSettings.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fstab_path", fstab.DefaultPath)
	v.SetDefault("hosts_path", DefaultHostsPath)
	v.SetDefault("dispatcher_dir", DefaultDispatcherDir)
	v.SetDefault("command_timeout", 5*time.Second)
	v.SetDefault("retry_backoff", 3*time.Second)
	v.SetDefault("direct_tries", 1)
	v.SetDefault("dispatcher_tries", 5)
	v.SetDefault("commands.resolver", "getent")
	v.SetDefault("commands.pinger", "ping")
	v.SetDefault("commands.mountpoint", "mountpoint")
	v.SetDefault("commands.mount", "mount")
	v.SetDefault("commands.umount", "umount")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("metrics_file", "")
	v.SetDefault("dry_run", false)
}

// LoadSettings reads settingsFile (YAML or TOML, optional) into v and
// decodes and validates the merged result.
func LoadSettings(v *viper.Viper, settingsFile string) (*Settings, error) {
	if settingsFile != "" {
		v.SetConfigFile(settingsFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings file: %w", err)
		}
	}

	var s Settings
	if err := decode(v.AllSettings(), &s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	s.LogLevel = strings.ToLower(strings.TrimSpace(s.LogLevel))
	s.LogFormat = strings.ToLower(strings.TrimSpace(s.LogFormat))
	for _, cmd := range []*string{
		&s.Commands.Resolver, &s.Commands.Pinger, &s.Commands.Mountpoint,
		&s.Commands.Mount, &s.Commands.Umount,
	} {
		*cmd = strings.TrimSpace(*cmd)
	}

	if err := Validate(&s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}

// decode converts viper's merged map into Settings. Environment values
// arrive as strings, so durations and numbers are converted weakly.
func decode(input map[string]any, out *Settings) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// Validate checks settings against their struct tags.
func Validate(s *Settings) error {
	if err := validate.Struct(s); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError reports the first failing field.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
