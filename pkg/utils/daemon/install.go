// Package daemon installs tankmon as a systemd service.
package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	sdbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/coreos/go-systemd/v22/unit"
	"github.com/sirupsen/logrus"
)

const UnitName = "tankmon.service"

var unitPath = "/etc/systemd/system/" + UnitName

// UnitOptions returns the service unit that runs exePath with args.
func UnitOptions(exePath string, args []string) []*unit.UnitOption {
	execStart := exePath + " daemon"
	for _, a := range args {
		execStart += " " + a
	}
	return []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "tankmon liquid tank monitor"),
		unit.NewUnitOption("Unit", "Wants", "NetworkManager.service"),
		unit.NewUnitOption("Unit", "After", "NetworkManager.service"),
		unit.NewUnitOption("Service", "Type", "notify"),
		unit.NewUnitOption("Service", "ExecStart", execStart),
		unit.NewUnitOption("Service", "ExecReload", "/bin/kill -HUP $MAINPID"),
		unit.NewUnitOption("Service", "Restart", "on-failure"),
		unit.NewUnitOption("Service", "WatchdogSec", "30"),
		unit.NewUnitOption("Install", "WantedBy", "multi-user.target"),
	}
}

// Install writes the unit for the current executable, enables it and
// starts it. args are passed to "tankmon daemon".
func Install(ctx context.Context, args []string) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}

	err = os.Chmod(exePath, 0755)
	if err != nil {
		return fmt.Errorf("failed to chmod the current executable to 0755: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)

	// warn if the file already exists
	if _, err := os.Stat(unitPath); err == nil {
		logrus.Warnf("%s already exists, overwriting", unitPath)
	}

	b, err := io.ReadAll(unit.Serialize(UnitOptions(exePath, args)))
	if err != nil {
		return fmt.Errorf("failed to render unit: %w", err)
	}
	logrus.Infof("writing %s", unitPath)
	if err := os.WriteFile(unitPath, b, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", unitPath, err)
	}

	conn, err := sdbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("failed to reload systemd: %w", err)
	}
	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{unitPath}, false, true); err != nil {
		return fmt.Errorf("failed to enable %s: %w", UnitName, err)
	}

	logrus.Infof("starting tankmon")

	done := make(chan string, 1)
	if _, err := conn.RestartUnitContext(ctx, UnitName, "replace", done); err != nil {
		return fmt.Errorf("failed to start %s: %w", UnitName, err)
	}
	if result := <-done; result != "done" {
		return fmt.Errorf("failed to start %s: job %s", UnitName, result)
	}

	return nil
}

// Uninstall stops and disables the service and removes its unit.
func Uninstall(ctx context.Context) error {
	conn, err := sdbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	logrus.Infof("stopping tankmon")

	done := make(chan string, 1)
	if _, err := conn.StopUnitContext(ctx, UnitName, "replace", done); err != nil {
		logrus.WithError(err).Warnf("failed to stop %s", UnitName)
	} else {
		<-done
	}

	if _, err := conn.DisableUnitFilesContext(ctx, []string{UnitName}, false); err != nil {
		logrus.WithError(err).Warnf("failed to disable %s", UnitName)
	}

	logrus.Infof("removing %s", unitPath)

	// if the file doesn't exist, we don't need to remove it
	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w. Are you root?", unitPath, err)
	}

	return conn.ReloadContext(ctx)
}
