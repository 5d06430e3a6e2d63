package main

import (
	"log/slog"

	"github.com/a-essam23/layoutsync/internal/server"
	"github.com/a-essam23/layoutsync/pkg/bus"
	"github.com/spf13/cobra"
)

func (a *app) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		Long:  "Run the WebSocket relay. When redis.addr is set, rooms are federated with every relay on the same Redis.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if addr != "" {
				a.cfg.Server.Address = addr
			}

			var b bus.Bus
			if a.cfg.Redis.Addr != "" {
				rb, err := bus.DialRedis(ctx, a.cfg.Redis.Addr, a.cfg.Redis.ChannelPrefix, a.logger)
				if err != nil {
					return err
				}
				defer rb.Close()
				a.logger.Info("Federating rooms over Redis", slog.String("addr", a.cfg.Redis.Addr))
				b = rb
			}

			relay := server.NewApp(a.logger, ctx, a.cfg, b)
			if err := relay.Run(); err != nil {
				a.logger.Error("Application run failed", slog.Any("error", err))
				return err
			}
			a.logger.Info("Application shut down successfully.")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return cmd
}
