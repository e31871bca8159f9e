package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-sdlog/internal/config"
)

// app is the state shared by all commands of one invocation.
type app struct {
	cfgPath  string
	sim      bool
	logLevel string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "sdlog",
		Short:         "Operate an SD card used as a circular byte log",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "YAML configuration file")
	root.PersistentFlags().BoolVar(&a.sim, "sim", false, "use the simulated card whatever the configuration says")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug|info|warn|error (overrides the configuration)")

	root.AddCommand(
		newInfoCmd(a),
		newWriteCmd(a),
		newReadCmd(a),
		newEraseCmd(a),
		newStatusCmd(a),
	)
	return root
}

// setup loads and validates the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.cfgPath != "" {
		loaded, err := config.Load(a.cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if a.sim {
		cfg.Transport.Kind = config.TransportSim
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = newLogger(cmd.ErrOrStderr(), cfg.Log)
	return nil
}
