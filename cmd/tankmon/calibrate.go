package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/tankmon/pkg/tank"
)

func NewCalibrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calibrate",
		GroupID: gBasic,
		Short:   "Get or set the tank calibration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cal, err := apiClient.GetCalibration()
			if err != nil {
				return err
			}
			printCalibration(cmd.OutOrStdout(), cal)
			return nil
		},
	}

	cmd.AddCommand(newCalibrateSetCommand())

	return cmd
}

func newCalibrateSetCommand() *cobra.Command {
	var cal tank.Calibration

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the tank calibration",
		Long: `Replace the tank calibration.

Lengths are in cm, the area in cm² and the capacity in cm³. Give the
cross-section area, the full capacity or both; the missing one is derived
from the depth. Both must agree within 0.1 cm³ when given together. Flags
left out start from the current calibration.`,
		Example: `  tankmon calibrate set --depth 120 --area 2500
  tankmon calibrate set --depth 120 --capacity 300000 --offset 4`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cur, err := apiClient.GetCalibration()
			if err != nil {
				return err
			}
			next := mergeCalibration(*cur, cal, func(name string) bool { return cmd.Flags().Changed(name) })
			if next == *cur {
				return fmt.Errorf("nothing to change, set at least one flag")
			}

			applied, err := apiClient.SetCalibration(next)
			if err != nil {
				return err
			}
			logrus.Info("tank calibration updated")
			printCalibration(cmd.OutOrStdout(), applied)
			return nil
		},
	}

	f := cmd.Flags()
	f.Float64Var(&cal.Depth, "depth", 0, "tank depth in cm")
	f.Float64Var(&cal.CrossSectionArea, "area", 0, "cross-section area in cm²")
	f.Float64Var(&cal.FullCapacity, "capacity", 0, "full tank capacity in cm³")
	f.Float64Var(&cal.SensorOffset, "offset", 0, "distance from the sensor to the brim in cm")
	f.Float64Var(&cal.HeightErrorMargin, "margin", 0, "depth in cm below which the tank reads empty")

	return cmd
}

// mergeCalibration applies the flags that were set to cur. Changing the
// depth or one of area or capacity clears the other of the pair unless it
// was set too, so the daemon derives it again.
func mergeCalibration(cur, flags tank.Calibration, changed func(string) bool) tank.Calibration {
	next := cur
	if changed("depth") {
		next.Depth = flags.Depth
	}
	if changed("offset") {
		next.SensorOffset = flags.SensorOffset
	}
	if changed("margin") {
		next.HeightErrorMargin = flags.HeightErrorMargin
	}

	area, capacity := changed("area"), changed("capacity")
	switch {
	case area && capacity:
		next.CrossSectionArea = flags.CrossSectionArea
		next.FullCapacity = flags.FullCapacity
	case area:
		next.CrossSectionArea = flags.CrossSectionArea
		next.FullCapacity = 0
	case capacity:
		next.FullCapacity = flags.FullCapacity
		next.CrossSectionArea = 0
	case changed("depth"):
		next.FullCapacity = 0
	}
	return next
}
