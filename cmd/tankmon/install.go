package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	daemonutils "github.com/charlie0129/tankmon/pkg/utils/daemon"
)

var gInstallation = "Installation:"

func init() {
	commandGroups = append(commandGroups, gInstallation)
}

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "install [-- daemon flags]",
		Short:   "Install tankmon as a systemd service",
		GroupID: gInstallation,
		Long: `Install tankmon daemon as a systemd service.

This makes tankmon run in the background and automatically start on boot.
Arguments after -- are passed to "tankmon daemon". You must run this
command as root.`,
		Example: `  tankmon install -- --db /var/lib/tankmon/config.db --listen :80`,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := daemonutils.Install(context.Background(), args)
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("systemd will use current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run `tankmon install' again.\n", exePath)

			return nil
		},
	}

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall",
		Short:   "Uninstall the tankmon systemd service",
		GroupID: gInstallation,
		Long: `Uninstall tankmon daemon from systemd.

This stops tankmon and removes its unit. The config records are kept.

You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := daemonutils.Uninstall(context.Background())
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			cmd.Println("successfully uninstalled")
			return nil
		},
	}
}
