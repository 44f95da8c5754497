package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/charlie0129/tankmon/pkg/client"
)

const envPrefix = "TANKMON_"

var (
	logLevel   = "info"
	daemonAddr = "127.0.0.1:80"
	envFile    = ".env"
)

var (
	gBasic        = "Basic:"
	gAdvanced     = "Advanced:"
	commandGroups = []string{
		gBasic,
		gAdvanced,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

// envName maps a flag name to its environment variable, e.g. daemon-addr
// to TANKMON_DAEMON_ADDR.
func envName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// applyEnv sets every flag not given on the command line from its
// environment variable, if present.
func applyEnv(flags *pflag.FlagSet) error {
	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		v, ok := os.LookupEnv(envName(f.Name))
		if !ok {
			return
		}
		if err := flags.Set(f.Name, v); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", envName(f.Name), err))
		}
	})
	return errors.Join(errs...)
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: tankmon daemon is not running")
		fmt.Fprintf(os.Stderr, "Is the daemon running at %s? Use --daemon-addr or %s to point at it.\n", daemonAddr, envName("daemon-addr"))
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tankmon",
		Short: "tankmon monitors the liquid level of a tank",
		Long: `tankmon monitors the liquid level of a tank with an ultrasonic sensor.

The daemon serves its own access point for setup, or joins your network
as a station, and broadcasts the tank state to every listener.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is fine.
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to load %s: %w", envFile, err)
			}
			if err := applyEnv(cmd.Flags()); err != nil {
				return err
			}
			if err := setupLogger(); err != nil {
				return err
			}
			apiClient = client.NewClient(daemonAddr)
			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&daemonAddr, "daemon-addr", daemonAddr, "tankmon daemon address")
	globalFlags.StringVar(&envFile, "env-file", envFile, "file with "+envPrefix+"* overrides")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewStatusCommand(),
		NewWatchCommand(),
		NewModeCommand(),
		NewCalibrateCommand(),
		NewConfigCommand(),
		NewTasksCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}
