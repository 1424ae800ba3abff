package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/irrigation-dashboard/internal/poll"
	"procodus.dev/irrigation-dashboard/pkg/logger"
)

// InitConfig initializes Viper configuration.
// Values come from flags, IRRIGATION_* environment variables (a .env file in
// the working directory is loaded first) and config.yaml, in that order.
func InitConfig(cfgFile string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory and /etc/irrigation-dashboard/
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/irrigation-dashboard/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Environment variables
	viper.SetEnvPrefix("IRRIGATION")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			// Config file not found; rely on env vars and defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// GetLogger creates a slog.Logger based on configuration.
func GetLogger() *slog.Logger {
	return logger.New(&logger.Config{
		Level:  logger.ParseLevel(viper.GetString("log.level")),
		Format: logger.ParseFormat(viper.GetString("log.format")),
	})
}

// policy reads an interval/jitter/max_backoff triple under prefix.
func policy(prefix string) poll.Policy {
	return poll.Policy{
		Interval:   viper.GetDuration(prefix + ".interval"),
		Jitter:     viper.GetDuration(prefix + ".jitter"),
		MaxBackoff: viper.GetDuration(prefix + ".max_backoff"),
	}
}

// bindFlags returns a PreRunE that binds the running command's flags to their
// viper keys. Commands sharing a key each bind only when they run, so the
// flag given on the command line is the one that is read.
func bindFlags(keys map[string]string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		for key, name := range keys {
			if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
				return fmt.Errorf("failed to bind --%s: %w", name, err)
			}
		}
		return nil
	}
}
