package tank

import (
	"math"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/tankmon/pkg/config"
)

// Engine holds the tank calibration and the latest sensor reading. Derived
// values are computed when asked for, so repeated reads between two updates
// always agree. Engine is not safe for concurrent use.
type Engine struct {
	store config.Store
	cal   Calibration

	distance   float64
	hasReading bool
	updatedAt  time.Time

	now func() time.Time
}

// NewEngine creates an engine and loads its calibration from store. A
// missing or malformed record is not an error: the defaults are used.
func NewEngine(store config.Store) *Engine {
	e := &Engine{
		store: store,
		now:   time.Now,
	}
	e.Reload()
	return e
}

// Reload replaces the calibration with the persisted record, or with the
// defaults if the record cannot be read.
func (e *Engine) Reload() {
	raw, err := config.LoadOrEmpty[config.RawTank](e.store, config.TankRecord)
	if err != nil {
		if config.IsMissing(err) {
			logrus.WithError(err).Warn("tank calibration not found, using defaults")
		} else {
			logrus.WithError(err).Error("failed to load tank calibration, using defaults")
		}
	}
	e.cal = FromRecord(raw.Resolve())

	logrus.WithFields(logrus.Fields{
		"depth":        e.cal.Depth,
		"area":         e.cal.CrossSectionArea,
		"capacity":     e.cal.FullCapacity,
		"sensorOffset": e.cal.SensorOffset,
		"errorMargin":  e.cal.HeightErrorMargin,
	}).Info("tank calibration loaded")
}

// Calibration returns the active calibration.
func (e *Engine) Calibration() Calibration {
	return e.cal
}

// Update records a new distance reading from the sensor to the liquid
// surface.
func (e *Engine) Update(distance float64) {
	e.distance = distance
	e.hasReading = true
	e.updatedAt = e.now()
}

// Distance returns the latest raw reading.
func (e *Engine) Distance() float64 {
	return e.distance
}

// LiquidDepth returns the liquid depth in [0, tank depth]. Readings within
// the height error margin of the bottom count as empty, and readings
// closer than the sensor offset are clamped to full.
func (e *Engine) LiquidDepth() float64 {
	depth := e.cal.Depth
	if !(depth > 0) || math.IsNaN(e.distance) {
		return 0
	}

	raw := depth - (e.distance - e.cal.SensorOffset)
	switch {
	case raw <= e.cal.HeightErrorMargin:
		return 0
	case raw > depth:
		return depth
	default:
		return raw
	}
}

// LiquidVolume returns the liquid volume in cm³.
func (e *Engine) LiquidVolume() float64 {
	if !(e.cal.CrossSectionArea > 0) {
		return 0
	}
	return e.LiquidDepth() * e.cal.CrossSectionArea
}

// LiquidVolumeLitres returns the liquid volume in litres.
func (e *Engine) LiquidVolumeLitres() float64 {
	return e.LiquidVolume() * Cm3ToLitre
}

// LiquidPercentage returns the fill level in [0, 100].
func (e *Engine) LiquidPercentage() float64 {
	depth := e.cal.Depth
	if !(depth > 0) {
		return 0
	}
	p := e.LiquidDepth() / depth * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// FullVolume returns the volume of a full tank in cm³.
func (e *Engine) FullVolume() float64 {
	return e.cal.FullCapacity
}

// Snapshot returns all derived readings at once.
func (e *Engine) Snapshot() State {
	return State{
		Distance:     e.distance,
		Depth:        e.LiquidDepth(),
		Volume:       e.LiquidVolume(),
		VolumeLitres: e.LiquidVolumeLitres(),
		Percentage:   e.LiquidPercentage(),
		HasReading:   e.hasReading,
		UpdatedAt:    e.updatedAt,
	}
}

// ApplyCalibrationUpdate validates candidate, persists it and makes it the
// active calibration. If validation or persisting fails, both the active
// calibration and the stored record are left as they were.
func (e *Engine) ApplyCalibrationUpdate(candidate Calibration) (Calibration, error) {
	validated, err := candidate.Validate()
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"depth":    candidate.Depth,
			"area":     candidate.CrossSectionArea,
			"capacity": candidate.FullCapacity,
		}).Warn("rejected tank calibration")
		return e.cal, err
	}

	if err := e.store.Save(config.TankRecord, config.RawFromTank(validated.Record())); err != nil {
		return e.cal, pkgerrors.Wrap(err, "failed to persist tank calibration")
	}

	e.cal = validated
	logrus.WithFields(logrus.Fields{
		"depth":    validated.Depth,
		"area":     validated.CrossSectionArea,
		"capacity": validated.FullCapacity,
	}).Info("tank calibration updated")

	return validated, nil
}
