package main

import (
	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/irrigation_session/internal/config"
	"github.com/LeonardoBeccarini/irrigation_session/internal/log"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// load reads the configuration and configures logging from it.
func (o *RootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "irrigationd"})
	return cfg, nil
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "irrigationd",
		Short:         "Irrigation session engine",
		Long:          "Guides field operators through daily irrigation over MQTT and records the applied water once per plot and day.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewDispatchCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))

	return cmd
}
