// Package tank converts raw distance readings from a sensor mounted above a
// tank into liquid depth, volume and fill percentage.
//
// Lengths are in centimetres, areas in cm² and volumes in cm³ unless a name
// says otherwise.
package tank

import (
	"errors"
	"math"
	"time"

	"github.com/charlie0129/tankmon/pkg/config"
)

// CapacityTolerance is how far area*depth may stray from a supplied full
// capacity before the calibration is rejected.
const CapacityTolerance = 0.1

// Cm3ToLitre converts cubic centimetres to litres.
const Cm3ToLitre = 0.001

// Calibration validation errors.
var (
	ErrNonPositiveDepth         = errors.New("tank depth must be positive and finite")
	ErrNegativeOffset           = errors.New("sensor offset and height error margin must be finite and not negative")
	ErrInconsistentAreaCapacity = errors.New("cross-section area times depth does not match full capacity")
	ErrMissingAreaOrCapacity    = errors.New("either cross-section area or full capacity is required")
)

// IsValidationError reports whether err is one of the calibration
// validation errors.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNonPositiveDepth) ||
		errors.Is(err, ErrNegativeOffset) ||
		errors.Is(err, ErrInconsistentAreaCapacity) ||
		errors.Is(err, ErrMissingAreaOrCapacity)
}

// Calibration describes the tank geometry and sensor mounting.
type Calibration struct {
	Depth             float64 `json:"tank_depth"`
	CrossSectionArea  float64 `json:"tank_cross_section_area"`
	FullCapacity      float64 `json:"full_tank_capacity"`
	SensorOffset      float64 `json:"sensor_offset"`
	HeightErrorMargin float64 `json:"height_error_margin"`
}

// Validate checks the calibration and returns it with the missing one of
// area or capacity derived from the other. Non-positive area or capacity
// counts as not supplied. Every value must be finite.
func (c Calibration) Validate() (Calibration, error) {
	if !(c.Depth > 0) || math.IsInf(c.Depth, 0) {
		return c, ErrNonPositiveDepth
	}
	if !(c.SensorOffset >= 0) || !(c.HeightErrorMargin >= 0) ||
		math.IsInf(c.SensorOffset, 0) || math.IsInf(c.HeightErrorMargin, 0) {
		return c, ErrNegativeOffset
	}

	hasArea := c.CrossSectionArea > 0 && !math.IsInf(c.CrossSectionArea, 0)
	hasCapacity := c.FullCapacity > 0 && !math.IsInf(c.FullCapacity, 0)

	switch {
	case hasArea && hasCapacity:
		if math.Abs(c.CrossSectionArea*c.Depth-c.FullCapacity) > CapacityTolerance {
			return c, ErrInconsistentAreaCapacity
		}
	case hasArea:
		c.FullCapacity = c.CrossSectionArea * c.Depth
	case hasCapacity:
		c.CrossSectionArea = c.FullCapacity / c.Depth
	default:
		return c, ErrMissingAreaOrCapacity
	}

	return c, nil
}

// FromRecord builds a calibration from a resolved tank record, deriving the
// capacity when only the area is known. No validation happens here: a bad
// record still loads and simply yields zero readings.
func FromRecord(t config.Tank) Calibration {
	c := Calibration{
		Depth:             t.TankDepth,
		CrossSectionArea:  t.CrossSectionArea,
		FullCapacity:      t.FullCapacity,
		SensorOffset:      t.SensorOffset,
		HeightErrorMargin: t.HeightErrorMargin,
	}
	if c.FullCapacity <= 0 && c.CrossSectionArea > 0 && c.Depth > 0 {
		c.FullCapacity = c.CrossSectionArea * c.Depth
	}
	if c.CrossSectionArea <= 0 && c.FullCapacity > 0 && c.Depth > 0 {
		c.CrossSectionArea = c.FullCapacity / c.Depth
	}
	return c
}

// Record returns the tank record for c.
func (c Calibration) Record() config.Tank {
	return config.Tank{
		TankDepth:         c.Depth,
		CrossSectionArea:  c.CrossSectionArea,
		FullCapacity:      c.FullCapacity,
		SensorOffset:      c.SensorOffset,
		HeightErrorMargin: c.HeightErrorMargin,
	}
}

// State is a read-only snapshot of the derived tank readings.
type State struct {
	Distance     float64   `json:"distance"`
	Depth        float64   `json:"depth"`
	Volume       float64   `json:"volume"`
	VolumeLitres float64   `json:"volume_litres"`
	Percentage   float64   `json:"percentage"`
	HasReading   bool      `json:"has_reading"`
	UpdatedAt    time.Time `json:"updated_at"`
}
