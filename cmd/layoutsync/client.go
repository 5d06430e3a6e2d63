package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/a-essam23/layoutsync/pkg/canvas"
	"github.com/a-essam23/layoutsync/pkg/catalog"
	"github.com/a-essam23/layoutsync/pkg/geometry"
	"github.com/a-essam23/layoutsync/pkg/layout"
	"github.com/a-essam23/layoutsync/pkg/seed"
	"github.com/a-essam23/layoutsync/pkg/syncclient"
	"github.com/a-essam23/layoutsync/pkg/transport"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// session is a short-lived collaborator: it joins a room, waits for the
// relay's state and leaves once the command is done.
type session struct {
	doc      *layout.Document
	provider *syncclient.Provider
}

func (a *app) openSession(ctx context.Context, room, peer string) (*session, error) {
	if room == "" {
		return nil, errors.New("--room is required")
	}
	if a.cfg.Client.URL == "" {
		return nil, errors.New("client.url is not configured")
	}
	if peer == "" {
		peer = "cli-" + uuid.NewString()[:8]
	}

	doc := layout.NewDocument(peer)
	p := syncclient.New(doc.Map(), syncclient.Options{
		URL:         a.cfg.Client.URL,
		Room:        room,
		DialTimeout: a.cfg.Client.DialTimeout,
		Backoff: syncclient.BackoffOptions{
			Initial:    a.cfg.Client.Backoff.Initial,
			Max:        a.cfg.Client.Backoff.Max,
			Multiplier: a.cfg.Client.Backoff.Multiplier,
		},
		Transport: transport.ConnectionConfig(a.cfg.Transport),
		Logger:    a.logger,
	})
	if err := p.Connect(ctx); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.cfg.Client.DialTimeout*3)
	defer cancel()
	if err := p.WaitStatus(waitCtx, syncclient.StatusConnected); err != nil {
		p.Close()
		return nil, fmt.Errorf("could not reach relay at %s: %w", a.cfg.Client.URL, err)
	}
	return &session{doc: doc, provider: p}, nil
}

// close flushes pending updates before leaving.
func (s *session) close() {
	s.provider.Close()
}

func (a *app) snapshotCommand() *cobra.Command {
	var room string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print a room's current items as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context(), room, "")
			if err != nil {
				return err
			}
			defer s.close()

			items := s.doc.Items()
			if items == nil {
				items = []layout.Item{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room id")
	return cmd
}

func (a *app) seedCommand() *cobra.Command {
	var (
		room      string
		tables    int
		file      string
		rearrange bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate an empty room from an AI venue recommendation",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := seed.Recommendation{Tables: tables}
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read recommendation: %w", err)
				}
				rec, err = seed.ParseRecommendation(data)
				if err != nil {
					return err
				}
				if tables > 0 {
					rec.Tables = tables
				}
			}

			s, err := a.openSession(cmd.Context(), room, "")
			if err != nil {
				return err
			}
			defer s.close()

			if rearrange {
				if err := seed.Rearrange(s.doc, rec); err != nil {
					return err
				}
				a.logger.Info("Layout rearranged", slog.String("roomID", room))
				return nil
			}
			seeded, err := seed.Apply(s.doc, rec)
			if err != nil {
				return err
			}
			if !seeded {
				a.logger.Warn("Room already has items, not seeding", slog.String("roomID", room), slog.Int("items", s.doc.Len()))
				return nil
			}
			a.logger.Info("Room seeded", slog.String("roomID", room), slog.Int("items", s.doc.Len()))
			return nil
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room id")
	cmd.Flags().IntVar(&tables, "tables", 0, "number of tables (default 6)")
	cmd.Flags().StringVar(&file, "file", "", "recommendation JSON file")
	cmd.Flags().BoolVar(&rearrange, "rearrange", false, "overwrite the planned items even if the room is not empty")
	return cmd
}

func (a *app) addCommand() *cobra.Command {
	var room, typ string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Place a new item from the catalog in a room",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := catalog.Parse(typ)
			if err != nil {
				return err
			}
			s, err := a.openSession(cmd.Context(), room, "")
			if err != nil {
				return err
			}
			defer s.close()

			c := canvas.New(s.doc, a.canvasOptions())
			defer c.Close()
			item, err := c.AddItem(t)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(item)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room id")
	cmd.Flags().StringVar(&typ, "type", string(catalog.Table), "item type")
	return cmd
}

func (a *app) canvasOptions() canvas.Options {
	cc := a.cfg.Canvas
	return canvas.Options{
		GridUnit:        cc.GridUnit,
		MinSize:         cc.MinSize,
		RotationStep:    cc.RotationStep,
		NudgeMultiplier: cc.NudgeMultiplier,
		Bounds:          geometry.Rect{Width: cc.Width, Height: cc.Height},
		Logger:          a.logger,
	}
}
