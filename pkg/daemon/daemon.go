package daemon

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/tankmon/pkg/broadcast"
	"github.com/charlie0129/tankmon/pkg/config"
	"github.com/charlie0129/tankmon/pkg/events"
	"github.com/charlie0129/tankmon/pkg/metrics"
	"github.com/charlie0129/tankmon/pkg/network"
	"github.com/charlie0129/tankmon/pkg/radio"
	"github.com/charlie0129/tankmon/pkg/scheduler"
	"github.com/charlie0129/tankmon/pkg/sensor"
	"github.com/charlie0129/tankmon/pkg/server"
)

type Options struct {
	// ConfigDir holds one JSON file per record. Ignored if DBPath is set.
	ConfigDir string
	// DBPath selects the bbolt store.
	DBPath string
	Addr   string

	// SimRadio and SimSensor replace the hardware, for running on a
	// desktop.
	SimRadio    bool
	SimSensor   bool
	SimDistance float64
}

// Run starts the device and blocks until SIGINT or SIGTERM.
//
// SIGUSR1 toggles the network mode (the physical button) and SIGHUP
// reloads the tank calibration.
func Run(opts Options) error {
	store, closeStore, err := openStore(opts)
	if err != nil {
		return err
	}
	defer closeStore()

	rawPins, err := config.LoadOrEmpty[config.RawPins](store, config.PinsRecord)
	if err != nil {
		logrus.WithError(err).Info("using default pins")
	}
	pins := rawPins.Resolve()
	rawSystem, err := config.LoadOrEmpty[config.RawSystem](store, config.SystemRecord)
	if err != nil {
		logrus.WithError(err).Info("using default system settings")
	}
	system := rawSystem.Resolve()

	logrus.WithFields(logrus.Fields{
		"sensor_port":          pins.SensorPort,
		"wifi_interface":       pins.WifiInterface,
		"measurement_interval": system.MeasurementInterval,
		"publish_interval":     system.PublishInterval,
		"blocking_connect":     system.BlockingConnect,
		"mqtt_broker":          system.MQTTBroker,
	}).Info("settings loaded")

	r, closeRadio, err := openRadio(opts, store, pins)
	if err != nil {
		return err
	}
	defer closeRadio()

	s, closeSensor, err := openSensor(opts, pins, system)
	if err != nil {
		return err
	}
	defer closeSensor()

	m := metrics.New()
	hub := events.NewEventHub()
	listeners := server.NewListeners()
	listeners.OnChange = m.SetListeners

	out := broadcast.Multi{listeners}
	if system.MQTTBroker != "" {
		mq := broadcast.NewMQTT(system.MQTTBroker, system.MQTTTopic)
		defer mq.Close()
		out = append(out, mq)
	}

	dev := NewDevice(DeviceOptions{
		Store:     store,
		System:    system,
		Scheduler: scheduler.New(scheduler.DefaultCapacity, scheduler.NewSystemClock()),
		Sensor:    s,
		Out:       out,
		Hub:       hub,
		Metrics:   m,
		Cleanup:   listeners.Cleanup,
	})

	srv := server.New(dev, listeners, server.Options{
		Addr:    opts.Addr,
		Hub:     hub,
		Metrics: m.Handler(),
	})

	ctrl := network.NewController(store, r, srv, network.Options{
		Blocking:     system.BlockingConnect,
		OnModeChange: dev.OnModeChange,
	})
	dev.SetController(ctrl)

	var extra []NamedTask
	if interval, err := sddaemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		logrus.WithField("interval", interval/2).Info("systemd watchdog enabled")
		extra = append(extra, NamedTask{Name: "watchdog", Interval: interval / 2, Run: notifyWatchdog})
	}
	dev.RegisterTasks(extra...)

	// Runs before the loop starts, so it is still the only writer.
	if err := ctrl.Begin(); err != nil {
		logrus.WithError(err).Error("failed to bring up network")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- dev.Loop().Run(ctx)
	}()

	if _, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady); err != nil {
		logrus.WithError(err).Debug("failed to notify systemd")
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigc)

wait:
	for {
		select {
		case sig := <-sigc:
			switch sig {
			case syscall.SIGHUP:
				if err := dev.Reload(); err != nil {
					logrus.WithError(err).Error("failed to reload calibration")
					continue
				}
				logrus.Info("calibration reload requested")
			case syscall.SIGUSR1:
				if err := dev.ToggleMode(); err != nil {
					logrus.WithError(err).Error("failed to toggle network mode")
				}
			default:
				logrus.Infof("caught signal \"%s\": shutting down.", sig)
				break wait
			}
		case err := <-loopDone:
			// Only ends early if something is badly wrong.
			logrus.WithError(err).Error("controller loop exited unexpectedly")
			loopDone <- err
			break wait
		}
	}

	_, _ = sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)

	cancel()
	<-loopDone

	// The loop is gone, so the radio and server are free to touch here.
	logrus.Info("shutting down http server")
	if err := srv.Stop(); err != nil {
		logrus.WithError(err).Error("failed to shutdown http server")
	}
	if err := r.Off(); err != nil {
		logrus.WithError(err).Error("failed to turn radio off")
	}

	logrus.Info("exiting")
	return nil
}

func notifyWatchdog() {
	if _, err := sddaemon.SdNotify(false, sddaemon.SdNotifyWatchdog); err != nil {
		logrus.WithError(err).Debug("failed to notify systemd watchdog")
	}
}

func openStore(opts Options) (config.Store, func(), error) {
	if opts.DBPath != "" {
		s, err := config.NewBoltStore(opts.DBPath)
		if err != nil {
			return nil, nil, pkgerrors.Wrapf(err, "failed to open config db %s", opts.DBPath)
		}
		logrus.WithField("path", opts.DBPath).Info("using bolt config store")
		return s, closer("config db", s), nil
	}

	s, err := config.NewFileStore(opts.ConfigDir)
	if err != nil {
		return nil, nil, pkgerrors.Wrapf(err, "failed to open config dir %s", opts.ConfigDir)
	}
	logrus.WithField("dir", opts.ConfigDir).Info("using file config store")
	return s, func() {}, nil
}

func openRadio(opts Options, store config.Store, pins config.Pins) (radio.Radio, func(), error) {
	if opts.SimRadio {
		// The configured station network is the only one in range.
		sim := radio.NewSim()
		raw, _ := config.LoadOrEmpty[config.RawNetwork](store, config.NetworkRecord)
		if n := raw.Resolve(); n.STASSID != "" {
			sim.AddNetwork(n.STASSID, n.STAPassword)
		}
		logrus.Warn("using simulated radio")
		return sim, func() {}, nil
	}
	nm, err := radio.NewNetworkManager(pins.WifiInterface)
	if err != nil {
		return nil, nil, pkgerrors.Wrapf(err, "failed to open wifi interface %s", pins.WifiInterface)
	}
	return nm, closer("radio", nm), nil
}

func openSensor(opts Options, pins config.Pins, system config.System) (sensor.Sensor, func(), error) {
	if opts.SimSensor {
		logrus.WithField("distance", opts.SimDistance).Warn("using simulated sensor")
		return sensor.NewSim(opts.SimDistance), func() {}, nil
	}
	s, err := sensor.OpenSerial(pins.SensorPort, pins.SensorBaud, system.ResponseTimeout)
	if err != nil {
		return nil, nil, pkgerrors.Wrapf(err, "failed to open sensor on %s", pins.SensorPort)
	}
	return s, closer("sensor", s), nil
}

func closer(what string, c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			logrus.WithError(err).Errorf("failed to close %s", what)
		}
	}
}
