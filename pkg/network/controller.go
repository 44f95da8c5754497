package network

import (
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/tankmon/pkg/config"
	"github.com/charlie0129/tankmon/pkg/radio"
	"github.com/charlie0129/tankmon/pkg/utils/ptr"
)

var (
	ErrConnectExhausted    = errors.New("station connect attempts exhausted")
	ErrNoStationCredential = errors.New("no station ssid configured")
)

const (
	DefaultMaxAttempts  = 30
	DefaultRetrySpacing = 500 * time.Millisecond
	DefaultSettleDelay  = 100 * time.Millisecond
)

// Serving is the layer that answers clients once the radio is up. It is
// stopped before every mode switch and started again afterwards.
type Serving interface {
	Start() error
	Stop() error
}

type Options struct {
	MaxAttempts  int
	RetrySpacing time.Duration
	SettleDelay  time.Duration

	// Blocking makes StartMode wait for the station connect to settle.
	// Otherwise the caller drives it with Poll every RetrySpacing.
	Blocking bool

	Sleep        func(time.Duration)
	OnModeChange func(Status)
}

func (o *Options) setDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetrySpacing <= 0 {
		o.RetrySpacing = DefaultRetrySpacing
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
}

// Status is a snapshot of the controller.
type Status struct {
	Mode      Mode   `json:"mode"`
	Phase     Phase  `json:"phase"`
	Attempts  int    `json:"attempts"`
	SSID      string `json:"ssid"`
	Fallback  bool   `json:"fallback"`
	LastError string `json:"last_error,omitempty"`
}

// Controller owns the radio and the serving layer. Exactly one mode is
// active at a time. It is not safe for concurrent use; all calls must come
// from the same goroutine.
type Controller struct {
	store   config.Store
	radio   radio.Radio
	serving Serving
	opts    Options

	connector *Connector

	mode     Mode
	creds    config.Network
	fallback bool
	lastErr  error
}

func NewController(store config.Store, r radio.Radio, serving Serving, opts Options) *Controller {
	opts.setDefaults()
	return &Controller{
		store:     store,
		radio:     r,
		serving:   serving,
		opts:      opts,
		connector: NewConnector(r, opts.MaxAttempts),
		creds:     config.FallbackNetwork,
	}
}

// Begin brings up the persisted mode. A missing or malformed network
// record starts the access point with the built-in credentials.
func (c *Controller) Begin() error {
	c.loadCredentials()
	return c.StartMode(ParseMode(c.creds.Mode))
}

// StartMode switches the radio to mode. A station that cannot connect
// falls back to the access point; the fallback is not persisted.
func (c *Controller) StartMode(mode Mode) error {
	return c.startMode(mode, false, nil)
}

func (c *Controller) startMode(mode Mode, fallback bool, cause error) error {
	logrus.WithField("mode", mode).Info("starting network mode")

	if err := c.serving.Stop(); err != nil {
		logrus.WithError(err).Warn("failed to stop serving layer")
	}
	if err := c.radio.Off(); err != nil {
		logrus.WithError(err).Warn("failed to turn radio off")
	}
	c.opts.Sleep(c.opts.SettleDelay)

	c.loadCredentials()
	c.connector.Reset()
	c.fallback = fallback
	c.lastErr = cause

	if mode == AccessPoint {
		return c.startAccessPoint()
	}

	if c.creds.STASSID == "" {
		logrus.Warn("no station network configured, falling back to access point")
		c.fallback = true
		c.lastErr = ErrNoStationCredential
		return c.startAccessPoint()
	}

	c.mode = Station
	if err := c.radio.StartStation(c.creds.STASSID, c.creds.STAPassword); err != nil {
		logrus.WithError(err).WithField("ssid", c.creds.STASSID).Error("failed to start station")
		return c.startMode(AccessPoint, true, pkgerrors.Wrap(err, "failed to start station"))
	}
	c.connector.Begin()

	logrus.WithFields(logrus.Fields{
		"ssid":     c.creds.STASSID,
		"attempts": c.opts.MaxAttempts,
		"blocking": c.opts.Blocking,
	}).Info("connecting to network")

	if !c.opts.Blocking {
		return nil
	}
	for {
		c.opts.Sleep(c.opts.RetrySpacing)
		if phase := c.connector.Poll(); phase != Connecting {
			return c.settle(phase)
		}
	}
}

// Poll advances a non-blocking station connect by one check. It does
// nothing unless a connect is in progress.
func (c *Controller) Poll() error {
	if c.connector.Phase() != Connecting {
		return nil
	}
	phase := c.connector.Poll()
	if phase == Connecting {
		logrus.WithField("attempt", c.connector.Attempts()).Debug("still connecting")
		return nil
	}
	return c.settle(phase)
}

// ToggleMode flips the mode, persists it and starts it.
func (c *Controller) ToggleMode() error {
	next := c.mode.Toggle()

	var persistErr error
	if err := c.persistMode(next); err != nil {
		persistErr = err
		logrus.WithError(err).Error("failed to persist network mode")
	}

	if err := c.StartMode(next); err != nil {
		return err
	}
	return persistErr
}

func (c *Controller) CurrentMode() Mode {
	return c.mode
}

// Connecting reports whether a station connect is in progress.
func (c *Controller) Connecting() bool {
	return c.connector.Phase() == Connecting
}

func (c *Controller) Status() Status {
	s := Status{
		Mode:     c.mode,
		Phase:    c.connector.Phase(),
		Attempts: c.connector.Attempts(),
		Fallback: c.fallback,
		SSID:     c.creds.APSSID,
	}
	if c.mode == Station {
		s.SSID = c.creds.STASSID
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func (c *Controller) settle(phase Phase) error {
	if phase == Exhausted {
		logrus.WithFields(logrus.Fields{
			"ssid":     c.creds.STASSID,
			"attempts": c.connector.Attempts(),
		}).Warn("failed to connect to network, falling back to access point")
		return c.startMode(AccessPoint, true, ErrConnectExhausted)
	}

	logrus.WithFields(logrus.Fields{
		"ssid":     c.creds.STASSID,
		"attempts": c.connector.Attempts(),
	}).Info("connected to network")
	c.startServing()
	return nil
}

func (c *Controller) startAccessPoint() error {
	c.mode = AccessPoint
	if err := c.radio.StartAP(c.creds.APSSID, c.creds.APPassword); err != nil {
		c.lastErr = pkgerrors.Wrap(err, "failed to start access point")
		logrus.WithError(err).WithField("ssid", c.creds.APSSID).Error("failed to start access point")
		return c.lastErr
	}
	logrus.WithField("ssid", c.creds.APSSID).Info("access point started")
	c.startServing()
	return nil
}

func (c *Controller) startServing() {
	if err := c.serving.Start(); err != nil {
		c.lastErr = pkgerrors.Wrap(err, "failed to start serving layer")
		logrus.WithError(err).Error("failed to start serving layer")
	}
	if c.opts.OnModeChange != nil {
		c.opts.OnModeChange(c.Status())
	}
}

func (c *Controller) loadCredentials() {
	raw, err := config.LoadOrEmpty[config.RawNetwork](c.store, config.NetworkRecord)
	if err != nil {
		logrus.WithError(err).Warn("network record unavailable, using fallback access point")
		c.creds = config.FallbackNetwork
		return
	}
	c.creds = raw.Resolve()
}

// persistMode rewrites only the mode field of the network record. A missing
// or malformed record is seeded with the credentials in use so the access
// point keeps them. Any other load error leaves the record alone.
func (c *Controller) persistMode(mode Mode) error {
	raw, err := config.LoadOrEmpty[config.RawNetwork](c.store, config.NetworkRecord)
	if err != nil {
		if !config.IsMissing(err) {
			return pkgerrors.Wrap(err, "failed to load network record")
		}
		raw = config.RawNetwork{
			APSSID:     ptr.To(c.creds.APSSID),
			APPassword: ptr.To(c.creds.APPassword),
		}
	}
	config.Merge(&raw, &config.RawNetwork{Mode: ptr.To(mode.String())})

	if err := c.store.Save(config.NetworkRecord, raw); err != nil {
		return pkgerrors.Wrap(err, "failed to save network record")
	}
	logrus.WithField("mode", mode).Info("network mode saved")
	return nil
}
