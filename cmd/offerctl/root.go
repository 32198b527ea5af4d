package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/azizikri/flash-offer-claims/internal/config"
	"github.com/azizikri/flash-offer-claims/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var validFormats = []string{"text", "json"}

type rootOptions struct {
	Format   string
	LogLevel string
	Server   string
	cfg      *config.Config
	log      *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "offerctl",
		Short:         "Operate and exercise the flash-offer claim service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			opts.cfg = config.Load()
			level := opts.LogLevel
			if level == "" {
				level = opts.cfg.LogLevel
			}
			log, err := logger.New(level, true)
			if err != nil {
				return err
			}
			opts.log = log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (defaults to LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "http://localhost:8080", "claim service base URL")

	cmd.AddCommand(newSweepCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newClaimCommand(opts))
	return cmd
}

// emit writes v as one JSON line, or as text through the supplied formatter.
func (o *rootOptions) emit(w io.Writer, v any, text func() string) error {
	if o.Format == "json" {
		return json.NewEncoder(w).Encode(v)
	}
	_, err := fmt.Fprintln(w, text())
	return err
}
