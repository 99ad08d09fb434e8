// ABOUTME: follow subcommand mirroring a remote clock
// ABOUTME: Finds a server via mDNS or an address, then logs or shows the mirrored clock
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/playclock/internal/client"
	"github.com/Resonate-Protocol/playclock/internal/discovery"
	"github.com/Resonate-Protocol/playclock/internal/ui"
	"github.com/Resonate-Protocol/playclock/pkg/playclock"
)

// errConnectionLost is returned when the server goes away.
var errConnectionLost = errors.New("connection to server lost")

type followOptions struct {
	server   string
	clock    string
	name     string
	discover time.Duration
	tui      bool
}

// statusReport paces the follower status log line.
const statusReport = 10 * time.Second

func newFollowCmd(opts *rootOptions) *cobra.Command {
	fo := &followOptions{}

	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Mirror a clock published by a playclock server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFollow(cmd, opts, fo)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&fo.server, "server", "s", "", "server host:port or ws:// URL (default: discover via mDNS)")
	flags.StringVar(&fo.clock, "clock", "", "clock to follow (default: the server's root)")
	flags.StringVar(&fo.name, "name", "", "follower name (default: hostname)")
	flags.DurationVar(&fo.discover, "discover-timeout", 10*time.Second, "how long to browse for a server")
	flags.BoolVar(&fo.tui, "tui", false, "show the clock monitor")
	return cmd
}

func runFollow(cmd *cobra.Command, opts *rootOptions, fo *followOptions) error {
	_, logger, closer, err := opts.setup(cmd, fo.tui)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fo.server
	if addr == "" {
		info, err := discoverServer(ctx, logger, fo.discover)
		if err != nil {
			return err
		}
		addr = info.URL()
	}

	name := fo.name
	if name == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		name = host + "-follower"
	}

	c := client.NewClient(client.Config{
		ServerAddr: addr,
		Name:       name,
		Clock:      fo.clock,
		Logger:     logger,
	})
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()

	hello := c.Hello()
	mirror := c.Mirror()
	mirror.AddListener(playclock.NewEventSink(func(e playclock.Event) {
		logger.Info().Str("clock", hello.Clock).Stringer("event", e).Msg("clock transition")
	}))

	if fo.tui {
		go func() {
			<-c.Done()
			stop()
		}()
		return ui.Run(ctx, ui.Config{
			Title:  fmt.Sprintf("%s / %s", hello.Name, hello.Clock),
			Root:   mirror,
			Remote: c.Remote(),
		})
	}

	report := time.NewTicker(statusReport)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return errConnectionLost
		case <-report.C:
			logger.Info().
				Int64("master", c.Master().Micros()).
				Int64("mirror", mirror.Micros()).
				Bool("playing", mirror.IsPlaying()).
				Stringer("rate", mirror.Rate()).
				Msg("follower status")
		}
	}
}

// discoverServer browses mDNS and returns the first server found.
func discoverServer(ctx context.Context, logger zerolog.Logger, timeout time.Duration) (*discovery.ServerInfo, error) {
	mgr := discovery.NewManager(discovery.Config{Logger: logger})
	if err := mgr.Browse(); err != nil {
		return nil, fmt.Errorf("browse: %w", err)
	}
	defer mgr.Stop()

	logger.Info().Dur("timeout", timeout).Msg("looking for a playclock server")

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case info := <-mgr.Servers():
		logger.Info().Str("server", info.Name).Str("url", info.URL()).Msg("found server")
		return info, nil
	case <-timer.C:
		return nil, fmt.Errorf("no playclock server found within %s", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
