package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/tankmon/pkg/events"
	"github.com/charlie0129/tankmon/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)

			v, err := apiClient.GetVersion()
			if err != nil {
				logrus.WithError(err).Debug("daemon version unavailable")
				return
			}
			cmd.Printf("daemon: %s %s\n", v.Version, v.Commit)
			if v.Version != version.Version {
				logrus.WithFields(logrus.Fields{
					"clientVersion": version.Version,
					"daemonVersion": v.Version,
				}).Warn("version mismatch between client and daemon")
			}
		},
	}
}

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		GroupID: gBasic,
		Short:   "Print every tank state the daemon broadcasts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err := apiClient.Watch(ctx, func(st events.TankStateEvent) {
				cmd.Println(formatBroadcast(st))
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

func formatBroadcast(st events.TankStateEvent) string {
	at := time.UnixMilli(st.Ts).Format(time.TimeOnly)
	return fmt.Sprintf("%s  %s  %6.1f cm  %8.2f L  [%s]",
		at, bold("%5.1f%%", st.Percentage), st.Depth, st.VolumeLitres, st.Mode)
}

func NewModeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mode",
		GroupID: gBasic,
		Short:   "Get or toggle the network mode",
		Long: `Get or toggle the network mode.

In AP mode the device serves its own access point and the setup page. In
STA mode it joins the configured network and serves the monitor page. A
station that cannot connect falls back to AP until the next toggle or
restart.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetMode()
			if err != nil {
				return err
			}
			cmd.Printf("%s on %s\n", modeText(*st), bold("%s", st.SSID))
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "toggle",
		Short: "Switch between AP and STA mode",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := apiClient.ToggleMode(); err != nil {
				return err
			}
			logrus.Info("network mode toggle requested; the connection to the daemon will drop while it switches")
			return nil
		},
	})

	return cmd
}

func NewTasksCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "tasks",
		GroupID: gAdvanced,
		Short:   "List the daemon's scheduled tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tasks, err := apiClient.GetTasks()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, color.New(color.Bold).Sprint("SLOT\tNAME\tINTERVAL\tFIRED"))
			for _, t := range tasks {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", t.Slot, t.Name, t.Interval, humanize.Comma(int64(t.Fired)))
			}
			return w.Flush()
		},
	}
}
