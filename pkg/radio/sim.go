package radio

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var ErrRadioOn = errors.New("radio must be turned off first")

var _ Radio = &Sim{}

// Sim is an in-process radio. Networks added with AddNetwork become
// joinable; a station connects after ConnectAfter polls of Connected.
type Sim struct {
	mu sync.Mutex

	networks     map[string]string
	ConnectAfter int

	on        bool
	ap        bool
	ssid      string
	reachable bool
	polls     int

	calls []string
}

func NewSim() *Sim {
	return &Sim{networks: make(map[string]string)}
}

// AddNetwork makes ssid joinable with password.
func (s *Sim) AddNetwork(ssid, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networks[ssid] = password
}

// RemoveNetwork makes ssid unreachable. A station already joined to it
// loses its link.
func (s *Sim) RemoveNetwork(ssid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.networks, ssid)
	if !s.ap && s.ssid == ssid {
		s.reachable = false
	}
}

func (s *Sim) Off() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "off")
	s.on = false
	s.ap = false
	s.ssid = ""
	s.reachable = false
	s.polls = 0
	return nil
}

func (s *Sim) StartAP(ssid, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "ap:"+ssid)
	if s.on {
		return ErrRadioOn
	}
	s.on = true
	s.ap = true
	s.ssid = ssid
	logrus.WithField("ssid", ssid).Debug("sim radio: access point up")
	return nil
}

func (s *Sim) StartStation(ssid, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "sta:"+ssid)
	if s.on {
		return ErrRadioOn
	}
	s.on = true
	s.ap = false
	s.ssid = ssid
	s.polls = 0
	pass, ok := s.networks[ssid]
	s.reachable = ok && pass == password
	logrus.WithFields(logrus.Fields{
		"ssid":      ssid,
		"reachable": s.reachable,
	}).Debug("sim radio: joining network")
	return nil
}

func (s *Sim) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.on || s.ap || !s.reachable {
		return false
	}
	s.polls++
	return s.polls > s.ConnectAfter
}

// Calls returns the commands the radio received, oldest first.
func (s *Sim) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// SSID returns the network the radio is serving or joining.
func (s *Sim) SSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ssid
}

// AccessPoint reports whether the radio is up in AP mode.
func (s *Sim) AccessPoint() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on && s.ap
}
