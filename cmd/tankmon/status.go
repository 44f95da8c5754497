package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/tankmon/pkg/client"
	"github.com/charlie0129/tankmon/pkg/network"
	"github.com/charlie0129/tankmon/pkg/server"
	"github.com/charlie0129/tankmon/pkg/tank"
)

var apiClient = client.NewClient(daemonAddr)

func NewStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current tank level and network mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetState()
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStatus(cmd.OutOrStdout(), st, time.Now())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw state as JSON")

	return cmd
}

func printStatus(w io.Writer, st *server.State, now time.Time) {
	fmt.Fprintln(w, bold("Tank status:"))
	if !st.Tank.HasReading {
		fmt.Fprintf(w, "  %s\n", color.YellowString("No sensor reading yet."))
	} else {
		fmt.Fprintf(w, "  Level: %s %s\n", levelBar(st.Tank.Percentage, 20), bold("%.1f%%", st.Tank.Percentage))
		fmt.Fprintf(w, "  Depth: %s\n", bold("%.1f cm", st.Tank.Depth))
		fmt.Fprintf(w, "  Volume: %s (%s cm³)\n", bold("%.2f L", st.Tank.VolumeLitres), humanize.Commaf(roundTo(st.Tank.Volume, 1)))
		fmt.Fprintf(w, "  Sensor distance: %s\n", bold("%.1f cm", st.Tank.Distance))
		fmt.Fprintf(w, "  Updated: %s\n", humanize.RelTime(st.Tank.UpdatedAt, now, "ago", "from now"))
	}
	fmt.Fprintln(w)

	n := st.Network
	fmt.Fprintln(w, bold("Network:"))
	fmt.Fprintf(w, "  Mode: %s\n", modeText(n))
	fmt.Fprintf(w, "  SSID: %s\n", bold("%s", n.SSID))
	if n.Mode == network.Station || n.Attempts > 0 {
		fmt.Fprintf(w, "  Connect attempts: %d\n", n.Attempts)
	}
	fmt.Fprintf(w, "  Fallback access point: %s\n", bool2Text(n.Fallback))
	if n.LastError != "" {
		fmt.Fprintf(w, "  Last error: %s\n", color.RedString(n.LastError))
	}
}

func printCalibration(w io.Writer, cal *tank.Calibration) {
	fmt.Fprintln(w, bold("Tank calibration:"))
	fmt.Fprintf(w, "  Depth: %s\n", bold("%.1f cm", cal.Depth))
	fmt.Fprintf(w, "  Cross-section area: %s\n", bold("%s cm²", humanize.Commaf(roundTo(cal.CrossSectionArea, 2))))
	fmt.Fprintf(w, "  Full capacity: %s (%s cm³)\n", bold("%.2f L", cal.FullCapacity*tank.Cm3ToLitre), humanize.Commaf(roundTo(cal.FullCapacity, 1)))
	fmt.Fprintf(w, "  Sensor offset: %s\n", bold("%.1f cm", cal.SensorOffset))
	fmt.Fprintf(w, "  Height error margin: %s\n", bold("%.1f cm", cal.HeightErrorMargin))
}

func modeText(n network.Status) string {
	switch {
	case n.Mode == network.Station && n.Phase == network.Connected:
		return color.GreenString("STA (connected)")
	case n.Mode == network.Station:
		return color.YellowString("STA (%s)", n.Phase)
	case n.Fallback:
		return color.YellowString("AP (fallback)")
	default:
		return "AP"
	}
}

// levelBar draws percentage as a bar of width cells.
func levelBar(percentage float64, width int) string {
	filled := int(percentage/100*float64(width) + 0.5)
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return "[" + color.CyanString(strings.Repeat("#", filled)) + strings.Repeat(".", width-filled) + "]"
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
