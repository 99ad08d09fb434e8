// ABOUTME: Root cobra command for the playclock binary
// ABOUTME: Wires global flags, viper-backed configuration and logger setup
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Resonate-Protocol/playclock/internal/config"
	"github.com/Resonate-Protocol/playclock/internal/logging"
	"github.com/Resonate-Protocol/playclock/internal/version"
)

// defaultTUILog receives logs while the monitor owns the terminal.
const defaultTUILog = "playclock.log"

// rootOptions carries state shared by every subcommand.
type rootOptions struct {
	configFile string
	v          *viper.Viper
}

// NewRootCmd builds the command tree. Each call gets its own viper instance.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.NewViper()}

	cmd := &cobra.Command{
		Use:   "playclock",
		Short: "Hierarchical media playback clocks",
		Long: `playclock drives trees of media clocks from a master time source and
publishes them to followers over websockets.

Each clock plays, stops, seeks and changes rate relative to its parent, and
every transition carries the master time at which it takes effect.`,
		Version:      version.Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default ./playclock.yaml)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-file", "", "also write JSON logs to this file")
	_ = opts.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = opts.v.BindPFlag("log.file", flags.Lookup("log-file"))

	cmd.AddCommand(
		newServeCmd(opts),
		newFollowCmd(opts),
		newFracCmd(),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the configuration.
func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.v, o.configFile)
}

// setup loads the configuration and builds the logger. When tui is set the
// console stays clean and logs go to a file.
func (o *rootOptions) setup(cmd *cobra.Command, tui bool) (*config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}

	logOpts := logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: !tui,
	}
	if tui && logOpts.File == "" {
		logOpts.File = defaultTUILog
	}
	if w := cmd.ErrOrStderr(); w != os.Stderr {
		logOpts.Writer = w
	}

	logger, closer, err := logging.New(logOpts)
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	return cfg, logger, closer, nil
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
