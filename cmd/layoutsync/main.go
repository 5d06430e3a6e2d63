package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/a-essam23/layoutsync/pkg/config"
	"github.com/a-essam23/layoutsync/pkg/logging"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configName string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "layoutsync",
		Short:        "Collaborative event layout relay and client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.configName, "config", "config", "config file name (without extension) in the working directory")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(a.serveCommand())
	root.AddCommand(a.snapshotCommand())
	root.AddCommand(a.seedCommand())
	root.AddCommand(a.addCommand())
	return root
}

func (a *app) init() error {
	// config problems are reported at the default level
	bootLogger := logging.New(os.Stderr, "info")
	cfg, err := config.Load(bootLogger, a.configName)
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	a.cfg = cfg
	a.logger = logging.New(os.Stderr, level)
	slog.SetDefault(a.logger)
	return nil
}
