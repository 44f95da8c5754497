package radio

import (
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	nmDest           = "org.freedesktop.NetworkManager"
	nmPath           = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmIface          = "org.freedesktop.NetworkManager"
	nmDeviceIface    = "org.freedesktop.NetworkManager.Device"
	nmConnectionIntf = "org.freedesktop.NetworkManager.Settings.Connection"

	// NM_DEVICE_STATE_UNAVAILABLE and NM_DEVICE_STATE_ACTIVATED
	deviceStateUnavailable = 20
	deviceStateActivated   = 100

	// How long activate waits for the device after enabling wireless. Same
	// as the controller's settle delay.
	deviceReadyTimeout = 100 * time.Millisecond
	deviceReadyPoll    = 10 * time.Millisecond

	connectionID = "tankmon"
)

var _ Radio = &NetworkManager{}

// NetworkManager controls a Wi-Fi interface through NetworkManager on the
// system D-Bus. Each Start call creates a throwaway connection profile that
// the next Off removes again.
type NetworkManager struct {
	mu sync.Mutex

	conn  *dbus.Conn
	iface string

	device  dbus.ObjectPath
	profile dbus.ObjectPath
}

// NewNetworkManager connects to the system bus and resolves iface to a
// NetworkManager device.
func NewNetworkManager(iface string) (*NetworkManager, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to connect to system bus")
	}

	var device dbus.ObjectPath
	err = conn.Object(nmDest, nmPath).Call(nmIface+".GetDeviceByIpIface", 0, iface).Store(&device)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to find network device %s", iface)
	}

	logrus.WithFields(logrus.Fields{
		"iface":  iface,
		"device": device,
	}).Info("using NetworkManager radio")

	return &NetworkManager{
		conn:   conn,
		iface:  iface,
		device: device,
	}, nil
}

func (n *NetworkManager) Off() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.profile != "" {
		err := n.conn.Object(nmDest, n.profile).Call(nmConnectionIntf+".Delete", 0).Err
		if err != nil {
			logrus.WithError(err).WithField("profile", n.profile).Warn("failed to delete connection profile")
		}
		n.profile = ""
	}

	err := n.conn.Object(nmDest, nmPath).SetProperty(nmIface+".WirelessEnabled", dbus.MakeVariant(false))
	if err != nil {
		return pkgerrors.Wrap(err, "failed to disable wireless")
	}
	return nil
}

func (n *NetworkManager) StartAP(ssid, password string) error {
	return n.activate(connectionSettings(true, ssid, password))
}

func (n *NetworkManager) StartStation(ssid, password string) error {
	return n.activate(connectionSettings(false, ssid, password))
}

func (n *NetworkManager) Connected() bool {
	state, err := n.deviceState()
	if err != nil {
		logrus.WithError(err).Debug("failed to read device state")
		return false
	}
	return state == deviceStateActivated
}

func (n *NetworkManager) deviceState() (uint32, error) {
	v, err := n.conn.Object(nmDest, n.device).GetProperty(nmDeviceIface + ".State")
	if err != nil {
		return 0, err
	}
	state, ok := v.Value().(uint32)
	if !ok {
		return 0, pkgerrors.Errorf("unexpected device state type %T", v.Value())
	}
	return state, nil
}

// Close releases the bus connection.
func (n *NetworkManager) Close() error {
	return n.conn.Close()
}

func (n *NetworkManager) activate(settings map[string]map[string]dbus.Variant) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	nm := n.conn.Object(nmDest, nmPath)
	if err := nm.SetProperty(nmIface+".WirelessEnabled", dbus.MakeVariant(true)); err != nil {
		return pkgerrors.Wrap(err, "failed to enable wireless")
	}
	// The device stays unavailable for a moment after wireless comes back.
	if !waitDeviceReady(n.deviceState, int(deviceReadyTimeout/deviceReadyPoll), time.Sleep) {
		logrus.WithField("iface", n.iface).Warn("device still unavailable, activating anyway")
	}

	var profile, active dbus.ObjectPath
	err := nm.Call(nmIface+".AddAndActivateConnection", 0, settings, n.device, dbus.ObjectPath("/")).Store(&profile, &active)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to activate connection on %s", n.iface)
	}
	n.profile = profile

	logrus.WithFields(logrus.Fields{
		"profile": profile,
		"active":  active,
	}).Debug("connection activated")
	return nil
}

// waitDeviceReady polls state until the device is past unavailable, sleeping
// between at most polls retries.
func waitDeviceReady(state func() (uint32, error), polls int, sleep func(time.Duration)) bool {
	for i := 0; ; i++ {
		s, err := state()
		if err == nil && s > deviceStateUnavailable {
			return true
		}
		if i >= polls {
			return false
		}
		sleep(deviceReadyPoll)
	}
}

// connectionSettings builds the a{sa{sv}} argument of
// AddAndActivateConnection. An empty password yields an open network.
func connectionSettings(ap bool, ssid, password string) map[string]map[string]dbus.Variant {
	mode, ipv4 := "infrastructure", "auto"
	if ap {
		mode, ipv4 = "ap", "shared"
	}

	s := map[string]map[string]dbus.Variant{
		"connection": {
			"id":          dbus.MakeVariant(connectionID + "-" + mode),
			"type":        dbus.MakeVariant("802-11-wireless"),
			"autoconnect": dbus.MakeVariant(false),
		},
		"802-11-wireless": {
			"ssid": dbus.MakeVariant([]byte(ssid)),
			"mode": dbus.MakeVariant(mode),
		},
		"ipv4": {
			"method": dbus.MakeVariant(ipv4),
		},
		"ipv6": {
			"method": dbus.MakeVariant("ignore"),
		},
	}
	if password != "" {
		s["802-11-wireless-security"] = map[string]dbus.Variant{
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(password),
		}
	}
	return s
}
