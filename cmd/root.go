// Package cmd wires the seshat command line interface together.
package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/lepinkainen/humanlog"
	"github.com/spf13/viper"

	"github.com/lepinkainen/seshat/cmd/dups"
	"github.com/lepinkainen/seshat/cmd/update"
	"github.com/lepinkainen/seshat/internal/cache"
	"github.com/lepinkainen/seshat/internal/config"
)

// CLI is the complete command structure for the seshat application.
// Update is the default command, so a bare `seshat` runs an update.
type CLI struct {
	Config string `short:"c" help:"Path to the config file" type:"path" placeholder:"PATH"`

	Update update.Cmd `cmd:"" default:"1" help:"Update and embed metadata for the whole library"`
	Dups   dups.Cmd   `cmd:"" help:"Find duplicate book files by content"`
	Cache  cache.Cmd  `cmd:"" help:"Manage the metadata fetch cache"`
}

// Execute runs the Kong-based CLI.
func Execute() {
	initLogging()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("seshat"),
		kong.Description("Bulk metadata updater and duplicate finder for Calibre libraries."),
		kong.UsageOnError(),
	)

	initConfig(cli.Config)
	applyLogLevel()

	if err := ctx.Run(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// initConfig loads the config file and environment bindings. When no config
// file exists yet, one with the defaults is written and the program exits so
// the user can review it before the first run.
func initConfig(configFile string) {
	config.SetDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SESHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// Credentials are expected from the environment rather than the file.
	for key, env := range map[string]string{
		"library.username": "SESHAT_LIBRARY_USERNAME",
		"library.password": "SESHAT_LIBRARY_PASSWORD",
		"logging.level":    "SESHAT_LOG_LEVEL",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			slog.Error("Failed to bind environment variable", "key", key, "error", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("seshat")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if configDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(configDir + "/seshat")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && configFile == "" {
			slog.Info("Config file not found, writing default config file...")
			if err := viper.SafeWriteConfig(); err != nil {
				slog.Error("Error writing config file", "error", err)
			}
			os.Exit(0)
		}
		slog.Error("Fatal error reading config file", "error", err)
		os.Exit(1)
	}
}

func initLogging() {
	handler := humanlog.NewHandler(os.Stdout, &humanlog.Options{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))
}

// applyLogLevel re-installs the log handler with the configured level.
// Runs after initConfig so both the file and SESHAT_LOG_LEVEL are honored.
func applyLogLevel() {
	level := parseLogLevel(viper.GetString("logging.level"))
	if level == slog.LevelInfo {
		return
	}
	handler := humanlog.NewHandler(os.Stdout, &humanlog.Options{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
