// Package cli implements the travelbot command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/langgraph-travel/internal/config"
	"github.com/dshills/langgraph-travel/internal/log"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	Store      string // checkpoint backend override

	// Config is loaded before any subcommand runs.
	Config *config.Config
}

// NewRootCommand creates the root command for the travelbot CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "travelbot",
		Short: "Travelbot - a customer support assistant for travel bookings",
		Long: `Travelbot answers questions about flights, hotels, car rentals and
excursions, and asks for confirmation before changing a booking.

It also serves an agentic retrieval pipeline over a fixed set of blog posts.`,
		SilenceUsage:  true,
		SilenceErrors: true, // main prints the error
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Store, "store", "", "checkpoint backend (memory|sqlite|mysql|redis|badger)")

	cmd.AddCommand(NewChatCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewDBCommand(opts))
	cmd.AddCommand(NewRAGCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// load reads the configuration, applies flag overrides and configures the
// logger.
func (o *RootOptions) load() error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.Store != "" {
		cfg.Checkpoint.Backend = o.Store
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	log.SetFormat(cfg.Log.Format)
	log.SetLevel(cfg.Log.Level)
	o.Config = cfg
	return nil
}
