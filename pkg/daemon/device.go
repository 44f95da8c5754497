package daemon

import (
	"context"
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/tankmon/pkg/broadcast"
	"github.com/charlie0129/tankmon/pkg/config"
	"github.com/charlie0129/tankmon/pkg/events"
	"github.com/charlie0129/tankmon/pkg/metrics"
	"github.com/charlie0129/tankmon/pkg/network"
	"github.com/charlie0129/tankmon/pkg/scheduler"
	"github.com/charlie0129/tankmon/pkg/sensor"
	"github.com/charlie0129/tankmon/pkg/server"
	"github.com/charlie0129/tankmon/pkg/tank"
	"github.com/charlie0129/tankmon/pkg/utils/ptr"
)

const (
	historySize     = 3600
	cleanupInterval = time.Second
)

// Device ties the core components together. Everything except the loop
// field itself must only be touched from the loop goroutine; the Backend
// methods take care of that.
type Device struct {
	loop  *Loop
	sched *scheduler.Scheduler

	store   config.Store
	system  config.System
	engine  *tank.Engine
	ctrl    *network.Controller
	sensor  sensor.Sensor
	out     broadcast.Broadcaster
	hub     *events.EventHub
	metrics *metrics.Metrics
	history *tank.History

	// Called by the cleanup task; usually Listeners.Cleanup.
	cleanup func() int

	lastSensorErr error
	now           func() time.Time
}

type DeviceOptions struct {
	Store     config.Store
	System    config.System
	Scheduler *scheduler.Scheduler
	Sensor    sensor.Sensor
	Out       broadcast.Broadcaster
	Hub       *events.EventHub
	Metrics   *metrics.Metrics
	Cleanup   func() int
}

var _ server.Backend = &Device{}

func NewDevice(opts DeviceOptions) *Device {
	d := &Device{
		sched:   opts.Scheduler,
		store:   opts.Store,
		system:  opts.System,
		engine:  tank.NewEngine(opts.Store),
		sensor:  opts.Sensor,
		out:     opts.Out,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		history: tank.NewHistory(historySize),
		cleanup: opts.Cleanup,
		now:     time.Now,
	}
	if d.sched == nil {
		d.sched = scheduler.New(scheduler.DefaultCapacity, nil)
	}
	if d.out == nil {
		d.out = broadcast.Multi{}
	}
	d.loop = NewLoop(d.sched, DefaultYield)
	return d
}

// SetController attaches the network controller. It must be called before
// RegisterTasks.
func (d *Device) SetController(c *network.Controller) {
	d.ctrl = c
}

func (d *Device) Loop() *Loop {
	return d.loop
}

func (d *Device) Engine() *tank.Engine {
	return d.engine
}

// RegisterTasks fills the scheduler. A task that does not fit is logged
// and skipped; the others still run.
func (d *Device) RegisterTasks(extra ...NamedTask) {
	tasks := []NamedTask{
		{Name: "sample", Interval: d.system.MeasurementInterval, Run: d.sample},
		{Name: "publish", Interval: d.system.PublishInterval, Run: d.publish},
		{Name: "network", Interval: network.DefaultRetrySpacing, Run: d.pollNetwork},
		{Name: "cleanup", Interval: cleanupInterval, Run: d.cleanupListeners},
	}
	tasks = append(tasks, extra...)

	for _, t := range tasks {
		if _, err := d.sched.Register(t.Name, d.instrument(t), t.Interval); err != nil {
			logrus.WithError(err).WithField("task", t.Name).Error("failed to register task")
		}
	}
}

// NamedTask is a task waiting to be registered.
type NamedTask struct {
	Name     string
	Interval time.Duration
	Run      func()
}

func (d *Device) instrument(t NamedTask) scheduler.Task {
	if d.metrics == nil {
		return scheduler.TaskFunc(t.Run)
	}
	return scheduler.TaskFunc(func() {
		d.metrics.TaskRan(t.Name)
		t.Run()
	})
}

func (d *Device) sample() {
	distance, err := d.sensor.ReadDistance()
	if err != nil {
		if d.metrics != nil {
			d.metrics.SensorError()
		}
		// Log only when the error changes, the sensor is read every second.
		if d.lastSensorErr == nil || d.lastSensorErr.Error() != err.Error() {
			logrus.WithError(err).Warn("failed to read sensor")
		}
		d.lastSensorErr = err
		return
	}
	if d.lastSensorErr != nil {
		logrus.Info("sensor readings resumed")
		d.lastSensorErr = nil
	}

	d.engine.Update(distance)
	st := d.engine.Snapshot()
	if d.metrics != nil {
		d.metrics.ObserveTank(st)
	}

	gap := d.history.Add(st, d.now())
	if interval := d.system.MeasurementInterval; gap >= 2*interval {
		logrus.WithFields(logrus.Fields{
			"gap":      gap,
			"interval": interval,
		}).Info("possibly missed sensor samples")
	}

	logrus.WithFields(logrus.Fields{
		"distance":   st.Distance,
		"depth":      st.Depth,
		"percentage": st.Percentage,
	}).Trace("sensor sampled")
}

func (d *Device) publish() {
	st := d.engine.Snapshot()
	if !st.HasReading {
		return
	}

	ev := d.stateEvent(st)
	b, err := json.Marshal(ev)
	if err != nil {
		logrus.WithError(err).Error("failed to encode tank state")
		return
	}
	d.out.BroadcastText(string(b))
	d.hub.Publish(events.TankState, ev)
}

func (d *Device) stateEvent(st tank.State) events.TankStateEvent {
	mode := network.AccessPoint
	if d.ctrl != nil {
		mode = d.ctrl.CurrentMode()
	}
	return events.TankStateEvent{
		Depth:        st.Depth,
		Volume:       st.Volume,
		VolumeLitres: st.VolumeLitres,
		Percentage:   st.Percentage,
		Distance:     st.Distance,
		Mode:         mode.String(),
		Ts:           d.now().UnixMilli(),
	}
}

func (d *Device) pollNetwork() {
	if d.ctrl == nil {
		return
	}
	if err := d.ctrl.Poll(); err != nil {
		logrus.WithError(err).Error("network poll failed")
	}
}

func (d *Device) cleanupListeners() {
	if d.cleanup != nil {
		d.cleanup()
	}
}

// OnModeChange publishes a network.mode event.
func (d *Device) OnModeChange(s network.Status) {
	if d.metrics != nil {
		d.metrics.ObserveStation(s.Mode == network.Station)
	}
	d.hub.Publish(events.NetworkMode, events.NetworkModeEvent{
		Mode:     s.Mode.String(),
		SSID:     s.SSID,
		Fallback: s.Fallback,
		Error:    s.LastError,
		Ts:       d.now().UnixMilli(),
	})
}

// Toggle flips the network mode on the loop goroutine.
func (d *Device) toggle() {
	if d.ctrl == nil {
		return
	}
	if err := d.ctrl.ToggleMode(); err != nil {
		logrus.WithError(err).Error("network mode toggle failed")
	}
}

// Reload re-reads the tank calibration from the store.
func (d *Device) Reload() error {
	return d.loop.Post(d.engine.Reload)
}

func (d *Device) State(ctx context.Context) (server.State, error) {
	var st server.State
	err := d.loop.Do(ctx, func() {
		st.Tank = d.engine.Snapshot()
		if d.ctrl != nil {
			st.Network = d.ctrl.Status()
		}
	})
	return st, err
}

func (d *Device) ToggleMode() error {
	return d.loop.Post(d.toggle)
}

func (d *Device) Calibration(ctx context.Context) (tank.Calibration, error) {
	var cal tank.Calibration
	err := d.loop.Do(ctx, func() { cal = d.engine.Calibration() })
	return cal, err
}

func (d *Device) ApplyCalibration(ctx context.Context, c tank.Calibration) (tank.Calibration, error) {
	var (
		applied tank.Calibration
		err     error
	)
	if doErr := d.loop.Do(ctx, func() { applied, err = d.engine.ApplyCalibrationUpdate(c) }); doErr != nil {
		return applied, doErr
	}
	return applied, err
}

func (d *Device) Records(ctx context.Context) (map[string]any, error) {
	recs := make(map[string]any, len(config.RecordNames))
	err := d.loop.Do(ctx, func() {
		for _, name := range config.RecordNames {
			recs[name] = d.resolvedRecord(name)
		}
	})
	return recs, err
}

func (d *Device) Record(ctx context.Context, name string) (any, error) {
	if !knownRecord(name) {
		return nil, pkgerrors.Wrapf(config.ErrNotFound, "unknown record %s", name)
	}
	var rec any
	err := d.loop.Do(ctx, func() { rec = d.resolvedRecord(name) })
	return rec, err
}

func (d *Device) SaveRecord(ctx context.Context, name string, patch []byte) (any, error) {
	if !knownRecord(name) {
		return nil, pkgerrors.Wrapf(config.ErrNotFound, "unknown record %s", name)
	}
	var (
		rec any
		err error
	)
	if doErr := d.loop.Do(ctx, func() { rec, err = d.saveRecord(name, patch) }); doErr != nil {
		return nil, doErr
	}
	return rec, err
}

func (d *Device) Tasks(ctx context.Context) ([]scheduler.TaskStats, error) {
	var stats []scheduler.TaskStats
	err := d.loop.Do(ctx, func() { stats = d.sched.Stats() })
	return stats, err
}

func (d *Device) History(_ context.Context, since time.Time) ([]tank.Sample, error) {
	return d.history.Since(since), nil
}

func knownRecord(name string) bool {
	for _, n := range config.RecordNames {
		if n == name {
			return true
		}
	}
	return false
}

// resolvedRecord returns the named record with defaults applied. The tank
// record is the active calibration.
func (d *Device) resolvedRecord(name string) any {
	switch name {
	case config.NetworkRecord:
		raw, err := config.LoadOrEmpty[config.RawNetwork](d.store, name)
		if err != nil {
			return config.FallbackNetwork
		}
		return raw.Resolve()
	case config.TankRecord:
		return d.engine.Calibration().Record()
	case config.PinsRecord:
		raw, _ := config.LoadOrEmpty[config.RawPins](d.store, name)
		return raw.Resolve()
	case config.SystemRecord:
		raw, _ := config.LoadOrEmpty[config.RawSystem](d.store, name)
		return raw.Resolve()
	}
	return nil
}

func (d *Device) saveRecord(name string, patch []byte) (any, error) {
	switch name {
	case config.TankRecord:
		var p config.RawTank
		if err := decodePatch(patch, &p); err != nil {
			return nil, err
		}
		cur := config.RawFromTank(d.engine.Calibration().Record())
		// Area and capacity are tied by depth. Whichever one the patch does
		// not set is derived again from the other.
		switch {
		case p.FullCapacity == nil && (p.TankDepth != nil || p.CrossSectionArea != nil):
			cur.FullCapacity = ptr.To(0.0)
		case p.CrossSectionArea == nil && p.FullCapacity != nil:
			cur.CrossSectionArea = ptr.To(0.0)
		}
		config.Merge(&cur, &p)
		applied, err := d.engine.ApplyCalibrationUpdate(tank.FromRecord(cur.Resolve()))
		if err != nil {
			return nil, err
		}
		return applied.Record(), nil
	case config.NetworkRecord:
		return mergeSave(d.store, name, patch, config.RawNetwork.Resolve)
	case config.PinsRecord:
		return mergeSave(d.store, name, patch, config.RawPins.Resolve)
	case config.SystemRecord:
		return mergeSave(d.store, name, patch, config.RawSystem.Resolve)
	}
	return nil, pkgerrors.Wrapf(config.ErrNotFound, "unknown record %s", name)
}

// mergeSave loads the record, merges the patch into it and saves it. A
// missing or malformed stored record is replaced.
func mergeSave[T any, R any](s config.Store, name string, patch []byte, resolve func(T) R) (R, error) {
	var zero R
	var p T
	if err := decodePatch(patch, &p); err != nil {
		return zero, err
	}

	cur, err := config.LoadOrEmpty[T](s, name)
	if err != nil && !config.IsMissing(err) {
		logrus.WithError(err).WithField("record", name).Warn("replacing unreadable record")
	}
	config.Merge(&cur, &p)

	if err := s.Save(name, cur); err != nil {
		return zero, pkgerrors.Wrapf(err, "failed to save record %s", name)
	}
	logrus.WithField("record", name).Info("record updated, takes effect on next mode switch or restart")
	return resolve(cur), nil
}

func decodePatch(patch []byte, v any) error {
	if err := json.Unmarshal(patch, v); err != nil {
		return pkgerrors.Wrapf(config.ErrParse, "invalid request body: %v", err)
	}
	return nil
}
