// ABOUTME: serve subcommand running the driver, clock tree and websocket server
// ABOUTME: Runs every part in one errgroup and stops on SIGINT or SIGTERM
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/playclock/internal/config"
	"github.com/Resonate-Protocol/playclock/internal/metrics"
	"github.com/Resonate-Protocol/playclock/internal/server"
	"github.com/Resonate-Protocol/playclock/internal/ui"
	"github.com/Resonate-Protocol/playclock/pkg/playback"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var tui bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Drive a clock tree and publish it to followers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts, tui)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&tui, "tui", false, "show the clock monitor")
	flags.Int("port", 0, "websocket port")
	flags.String("name", "", "server name advertised to followers")
	flags.Bool("mdns", true, "advertise the server via mDNS")
	flags.String("mode", "", "driver mode: manual, realtime, realtime-scaled, stepping")
	flags.Float64("scale", 0, "time scale for realtime-scaled mode")
	flags.Duration("step", 0, "master step per tick in stepping mode")
	flags.Duration("interval", 0, "driver tick interval")

	bind := map[string]string{
		"server.port":     "port",
		"server.name":     "name",
		"server.mdns":     "mdns",
		"driver.mode":     "mode",
		"driver.scale":    "scale",
		"driver.step":     "step",
		"driver.interval": "interval",
	}
	for key, flag := range bind {
		_ = opts.v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

func runServe(cmd *cobra.Command, opts *rootOptions, tui bool) error {
	cfg, logger, closer, err := opts.setup(cmd, tui)
	if err != nil {
		return err
	}
	defer closer.Close()

	pc, err := cfg.Driver.Playback()
	if err != nil {
		return err
	}
	pc.Logger = logger
	ctl, err := playback.New(pc)
	if err != nil {
		return fmt.Errorf("create driver: %w", err)
	}

	nodes, err := config.BuildTree(ctl.Clock(), cfg.Clocks)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Server.Metrics {
		m = metrics.New()
		ctl.AddTicker(m)
	}

	srv, err := server.New(server.Config{
		Port:         cfg.Server.Port,
		Name:         cfg.Server.Name,
		EnableMDNS:   cfg.Server.MDNS,
		DefaultClock: config.RootClock,
		TickInterval: cfg.Server.TickInterval,
		ForwardDelay: cfg.Driver.ForwardDelay,
		Metrics:      m,
		Logger:       logger,
	}, nodes)
	if err != nil {
		return err
	}
	ctl.AddTicker(srv)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if ctl.Mode() != playback.ModeManual || cfg.Driver.Interval > 0 {
		g.Go(func() error {
			return ctl.Run(gctx, cfg.Driver.Interval)
		})
	}

	g.Go(func() error {
		return srv.Run(gctx)
	})

	if tui {
		g.Go(func() error {
			defer stop()
			return ui.Run(gctx, ui.Config{
				Title:        fmt.Sprintf("%s :%d", cfg.Server.Name, cfg.Server.Port),
				Root:         ctl.Clock(),
				ForwardDelay: cfg.Driver.ForwardDelay,
			})
		})
	}

	logger.Info().
		Stringer("mode", ctl.Mode()).
		Int("clocks", len(nodes)).
		Int("port", cfg.Server.Port).
		Msg("playclock serving")
	return g.Wait()
}
