// Package config resolves runtime settings with the usual priority:
// command-line flags over FK_* environment variables over an optional
// YAML config file over built-in defaults.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "FK"

// Settings is the resolved configuration the CLI hands to the engine
// and its sources.
type Settings struct {
	// DataFile is the strategy log.
	DataFile string
	// Username is the local acting identity; FullName is the display
	// name used when the log is bootstrapped.
	Username string
	FullName string

	// Watch enables incremental replay of external file changes.
	Watch bool
	// IgnoreErrors makes replay and import lenient about bad lines.
	IgnoreErrors bool
	// IgnoreInvalidSequence accepts sequence gaps on incoming strategies.
	IgnoreInvalidSequence bool

	// Passphrase enables per-line encryption when non-empty.
	Passphrase string

	// Remote sync, active when URL is non-empty.
	RemoteURL         string
	RemoteToken       string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// CacheDir enables the snapshot/redo-log layer when non-empty.
	CacheDir string

	// LogFile mirrors diagnostics into a rotating file when non-empty.
	LogFile  string
	LogLevel string
}

// Init wires defaults, environment and the config file into viper.
// Pass an empty path to search ~/.flowkeeper and the working directory.
func Init(configFile string) error {
	viper.SetDefault("data-file", defaultDataFile())
	viper.SetDefault("username", "user@local.host")
	viper.SetDefault("full-name", "Local User")
	viper.SetDefault("watch", true)
	viper.SetDefault("ignore-errors", false)
	viper.SetDefault("ignore-invalid-sequence", false)
	viper.SetDefault("heartbeat-interval", 5*time.Second)
	viper.SetDefault("heartbeat-timeout", 2*time.Second)
	viper.SetDefault("log-level", "info")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		return viper.ReadInConfig()
	}
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".flowkeeper"))
	}
	viper.AddConfigPath(".")
	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// BindFlags lets explicitly set flags win over everything else.
func BindFlags(flags *pflag.FlagSet) error {
	return viper.BindPFlags(flags)
}

// Load materializes the resolved settings.
func Load() Settings {
	return Settings{
		DataFile:              viper.GetString("data-file"),
		Username:              viper.GetString("username"),
		FullName:              viper.GetString("full-name"),
		Watch:                 viper.GetBool("watch"),
		IgnoreErrors:          viper.GetBool("ignore-errors"),
		IgnoreInvalidSequence: viper.GetBool("ignore-invalid-sequence"),
		Passphrase:            viper.GetString("passphrase"),
		RemoteURL:             viper.GetString("remote-url"),
		RemoteToken:           viper.GetString("remote-token"),
		HeartbeatInterval:     viper.GetDuration("heartbeat-interval"),
		HeartbeatTimeout:      viper.GetDuration("heartbeat-timeout"),
		CacheDir:              viper.GetString("cache-dir"),
		LogFile:               viper.GetString("log-file"),
		LogLevel:              viper.GetString("log-level"),
	}
}

func defaultDataFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "flowkeeper-data.txt"
	}
	return filepath.Join(home, ".flowkeeper", "flowkeeper-data.txt")
}
