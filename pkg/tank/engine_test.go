package tank

import (
	"errors"
	"math"
	"testing"

	"github.com/charlie0129/tankmon/pkg/config"
	"github.com/charlie0129/tankmon/pkg/utils/ptr"
)

func newTestEngine(t *testing.T, cal Calibration) *Engine {
	t.Helper()
	store := config.NewMemoryStore()
	if err := store.Save(config.TankRecord, config.RawFromTank(cal.Record())); err != nil {
		t.Fatal(err)
	}
	return NewEngine(store)
}

func TestLiquidDepthExamples(t *testing.T) {
	e := newTestEngine(t, Calibration{Depth: 100, CrossSectionArea: 50, SensorOffset: 5, HeightErrorMargin: 2})

	tests := []struct {
		distance float64
		want     float64
	}{
		{distance: 10, want: 95},
		{distance: 103, want: 0},   // raw 2 is within the margin
		{distance: 102.5, want: 2.5},
		{distance: -50, want: 100}, // raw 155 is clamped
		{distance: 5, want: 100},
		{distance: 500, want: 0},
	}

	for _, tt := range tests {
		e.Update(tt.distance)
		if got := e.LiquidDepth(); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("LiquidDepth(%v) = %v, want %v", tt.distance, got, tt.want)
		}
	}
}

func TestLiquidDepthMonotonicAndBounded(t *testing.T) {
	e := newTestEngine(t, Calibration{Depth: 180, CrossSectionArea: 1200, SensorOffset: 7.5, HeightErrorMargin: 3})

	prev := math.Inf(1)
	for d := -400.0; d <= 600; d += 0.25 {
		e.Update(d)
		depth := e.LiquidDepth()
		if depth < 0 || depth > 180 {
			t.Fatalf("depth %v out of [0, 180] at distance %v", depth, d)
		}
		if depth > prev {
			t.Fatalf("depth increased from %v to %v at distance %v", prev, depth, d)
		}
		prev = depth

		p := e.LiquidPercentage()
		if p < 0 || p > 100 {
			t.Fatalf("percentage %v out of range at distance %v", p, d)
		}
	}
}

func TestPercentageExtremeReadings(t *testing.T) {
	e := newTestEngine(t, Calibration{Depth: 100, CrossSectionArea: 50, SensorOffset: 5, HeightErrorMargin: 2})

	for _, d := range []float64{-math.MaxFloat64, -1e12, 0, 1e12, math.MaxFloat64, math.Inf(1), math.Inf(-1), math.NaN()} {
		e.Update(d)
		if p := e.LiquidPercentage(); p < 0 || p > 100 || math.IsNaN(p) {
			t.Fatalf("percentage %v out of range for distance %v", p, d)
		}
		if depth := e.LiquidDepth(); depth < 0 || depth > 100 || math.IsNaN(depth) {
			t.Fatalf("depth %v out of range for distance %v", depth, d)
		}
	}
}

func TestVolumeAndPercentage(t *testing.T) {
	e := newTestEngine(t, Calibration{Depth: 100, CrossSectionArea: 50, SensorOffset: 5, HeightErrorMargin: 2})
	e.Update(55) // depth 50

	if got := e.LiquidVolume(); got != 2500 {
		t.Fatalf("LiquidVolume = %v, want 2500", got)
	}
	if got := e.LiquidVolumeLitres(); math.Abs(got-2.5) > 1e-9 {
		t.Fatalf("LiquidVolumeLitres = %v, want 2.5", got)
	}
	if got := e.LiquidPercentage(); got != 50 {
		t.Fatalf("LiquidPercentage = %v, want 50", got)
	}
	if got := e.FullVolume(); got != 5000 {
		t.Fatalf("FullVolume = %v, want 5000", got)
	}

	s := e.Snapshot()
	if !s.HasReading || s.Depth != 50 || s.Volume != 2500 || s.Percentage != 50 || s.Distance != 55 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
}

func TestInvalidCalibrationReadsZero(t *testing.T) {
	store := config.NewMemoryStore()
	if err := store.Save(config.TankRecord, config.RawTank{
		TankDepth:        ptr.To(0.0),
		CrossSectionArea: ptr.To(-5.0),
	}); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(store)
	e.Update(10)

	if e.LiquidDepth() != 0 || e.LiquidVolume() != 0 || e.LiquidPercentage() != 0 {
		t.Fatalf("expected zero readings for invalid calibration, got %+v", e.Snapshot())
	}
}

func TestEngineDefaultsWhenRecordMissing(t *testing.T) {
	store := config.NewMemoryStore()
	store.SetRaw(config.TankRecord, []byte("garbage"))
	e := NewEngine(store)

	cal := e.Calibration()
	if cal.Depth != config.DefaultTankDepth || cal.CrossSectionArea != config.DefaultCrossSectionArea {
		t.Fatalf("expected defaults, got %+v", cal)
	}
	if cal.FullCapacity != config.DefaultTankDepth*config.DefaultCrossSectionArea {
		t.Fatalf("expected derived capacity, got %v", cal.FullCapacity)
	}

	e2 := NewEngine(config.NewMemoryStore())
	if e2.Calibration() != cal {
		t.Fatalf("missing record should resolve like a malformed one: %+v vs %+v", e2.Calibration(), cal)
	}
}

func TestCalibrationValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      Calibration
		want    Calibration
		wantErr error
	}{
		{
			name: "derive capacity",
			in:   Calibration{CrossSectionArea: 50, Depth: 100, SensorOffset: 3},
			want: Calibration{CrossSectionArea: 50, Depth: 100, FullCapacity: 5000, SensorOffset: 3},
		},
		{
			name: "derive area",
			in:   Calibration{FullCapacity: 8000, Depth: 200, HeightErrorMargin: 1},
			want: Calibration{CrossSectionArea: 40, Depth: 200, FullCapacity: 8000, HeightErrorMargin: 1},
		},
		{
			name: "consistent within tolerance",
			in:   Calibration{CrossSectionArea: 50, Depth: 100, FullCapacity: 5000.05},
			want: Calibration{CrossSectionArea: 50, Depth: 100, FullCapacity: 5000.05},
		},
		{
			name:    "inconsistent",
			in:      Calibration{CrossSectionArea: 50, Depth: 100, FullCapacity: 4000, SensorOffset: 3},
			wantErr: ErrInconsistentAreaCapacity,
		},
		{
			name:    "zero depth",
			in:      Calibration{CrossSectionArea: 50},
			wantErr: ErrNonPositiveDepth,
		},
		{
			name:    "negative depth",
			in:      Calibration{CrossSectionArea: 50, Depth: -1},
			wantErr: ErrNonPositiveDepth,
		},
		{
			name:    "negative offset",
			in:      Calibration{CrossSectionArea: 50, Depth: 100, SensorOffset: -0.5},
			wantErr: ErrNegativeOffset,
		},
		{
			name:    "negative margin",
			in:      Calibration{CrossSectionArea: 50, Depth: 100, HeightErrorMargin: -2},
			wantErr: ErrNegativeOffset,
		},
		{
			name:    "neither area nor capacity",
			in:      Calibration{Depth: 100},
			wantErr: ErrMissingAreaOrCapacity,
		},
		{
			name:    "infinite depth",
			in:      Calibration{CrossSectionArea: 50, Depth: math.Inf(1)},
			wantErr: ErrNonPositiveDepth,
		},
		{
			name:    "infinite offset",
			in:      Calibration{CrossSectionArea: 50, Depth: 100, SensorOffset: math.Inf(1)},
			wantErr: ErrNegativeOffset,
		},
		{
			name:    "NaN margin",
			in:      Calibration{CrossSectionArea: 50, Depth: 100, HeightErrorMargin: math.NaN()},
			wantErr: ErrNegativeOffset,
		},
		{
			name:    "infinite area only",
			in:      Calibration{CrossSectionArea: math.Inf(1), Depth: 100},
			wantErr: ErrMissingAreaOrCapacity,
		},
		{
			name: "infinite area ignored when capacity given",
			in:   Calibration{CrossSectionArea: math.Inf(1), Depth: 100, FullCapacity: 5000},
			want: Calibration{CrossSectionArea: 50, Depth: 100, FullCapacity: 5000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Validate()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if !IsValidationError(err) {
					t.Fatalf("expected %v to be a validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate returned error: %v", err)
			}
			if math.Abs(got.CrossSectionArea-tt.want.CrossSectionArea) > 1e-9 ||
				math.Abs(got.FullCapacity-tt.want.FullCapacity) > 1e-9 ||
				got.Depth != tt.want.Depth || got.SensorOffset != tt.want.SensorOffset ||
				got.HeightErrorMargin != tt.want.HeightErrorMargin {
				t.Fatalf("Validate = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestApplyCalibrationUpdate(t *testing.T) {
	store := config.NewMemoryStore()
	e := NewEngine(store)
	before := e.Calibration()

	// Rejected: nothing changes in memory or in the store.
	_, err := e.ApplyCalibrationUpdate(Calibration{CrossSectionArea: 50, Depth: 100, FullCapacity: 4000, SensorOffset: 3})
	if !errors.Is(err, ErrInconsistentAreaCapacity) {
		t.Fatalf("expected ErrInconsistentAreaCapacity, got %v", err)
	}
	if e.Calibration() != before {
		t.Fatalf("calibration changed after rejected update")
	}
	if _, ok := store.Raw(config.TankRecord); ok {
		t.Fatalf("rejected update must not be persisted")
	}

	// Accepted: capacity derived and persisted.
	got, err := e.ApplyCalibrationUpdate(Calibration{CrossSectionArea: 50, Depth: 100, SensorOffset: 3})
	if err != nil {
		t.Fatalf("ApplyCalibrationUpdate returned error: %v", err)
	}
	if got.FullCapacity != 5000 || e.Calibration().FullCapacity != 5000 {
		t.Fatalf("expected derived capacity 5000, got %v", got.FullCapacity)
	}

	var raw config.RawTank
	if err := store.Load(config.TankRecord, &raw); err != nil {
		t.Fatalf("expected persisted record: %v", err)
	}
	if rec := raw.Resolve(); rec.FullCapacity != 5000 || rec.SensorOffset != 3 || rec.CrossSectionArea != 50 {
		t.Fatalf("unexpected persisted record %+v", rec)
	}

	// A reload reads back the same calibration.
	e.Reload()
	if e.Calibration() != got {
		t.Fatalf("reload produced %+v, want %+v", e.Calibration(), got)
	}
}

type failingStore struct {
	*config.MemoryStore
}

func (failingStore) Save(string, any) error { return errors.New("flash full") }

func TestApplyCalibrationUpdatePersistFailure(t *testing.T) {
	e := NewEngine(failingStore{config.NewMemoryStore()})
	before := e.Calibration()

	_, err := e.ApplyCalibrationUpdate(Calibration{CrossSectionArea: 10, Depth: 10})
	if err == nil {
		t.Fatalf("expected persist error")
	}
	if IsValidationError(err) {
		t.Fatalf("persist failure should not look like a validation error: %v", err)
	}
	if e.Calibration() != before {
		t.Fatalf("calibration must not change when persisting fails")
	}
}
