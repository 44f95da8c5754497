package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/tankmon/pkg/daemon"
	"github.com/charlie0129/tankmon/pkg/version"
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	opts := daemon.Options{
		ConfigDir:   "/etc/tankmon",
		Addr:        ":80",
		SimDistance: 50,
	}

	cmd := &cobra.Command{
		Use:     "daemon",
		Short:   "Run tankmon daemon in the foreground",
		GroupID: gAdvanced,
		Long: `Run tankmon daemon in the foreground.

Send SIGUSR1 to toggle the network mode, as the mode button does, and
SIGHUP to reload the tank calibration from the config store.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("tankmon daemon starting")
			return daemon.Run(opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ConfigDir, "config-dir", opts.ConfigDir, "directory with one JSON file per config record")
	f.StringVar(&opts.DBPath, "db", opts.DBPath, "bbolt config database; overrides --config-dir when set")
	f.StringVar(&opts.Addr, "listen", opts.Addr, "HTTP listen address")
	f.BoolVar(&opts.SimRadio, "sim-radio", false, "use a simulated radio instead of NetworkManager")
	f.BoolVar(&opts.SimSensor, "sim-sensor", false, "use a simulated distance sensor")
	f.Float64Var(&opts.SimDistance, "sim-distance", opts.SimDistance, "distance in cm reported by the simulated sensor")

	return cmd
}
