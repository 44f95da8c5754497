package radio

import (
	"errors"
	"testing"
	"time"
)

func TestSimStation(t *testing.T) {
	s := NewSim()
	s.AddNetwork("home", "pass1234")
	s.ConnectAfter = 2

	if err := s.StartStation("home", "pass1234"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if s.Connected() {
			t.Fatalf("connected too early on poll %d", i+1)
		}
	}
	if !s.Connected() {
		t.Fatalf("expected connection on third poll")
	}

	s.RemoveNetwork("home")
	if s.Connected() {
		t.Fatalf("expected link loss after network removal")
	}
}

func TestSimRejects(t *testing.T) {
	s := NewSim()
	s.AddNetwork("home", "pass1234")

	if err := s.StartStation("home", "wrong"); err != nil {
		t.Fatal(err)
	}
	if s.Connected() {
		t.Fatalf("wrong password must not connect")
	}

	if err := s.StartAP("tank", "12345678"); err != ErrRadioOn {
		t.Fatalf("expected ErrRadioOn, got %v", err)
	}

	_ = s.Off()
	if err := s.StartAP("tank", "12345678"); err != nil {
		t.Fatal(err)
	}
	if !s.AccessPoint() || s.SSID() != "tank" || s.Connected() {
		t.Fatalf("unexpected AP state: ap=%v ssid=%s", s.AccessPoint(), s.SSID())
	}

	want := []string{"sta:home", "ap:tank", "off", "ap:tank"}
	got := s.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}

func TestConnectionSettings(t *testing.T) {
	tests := []struct {
		name     string
		ap       bool
		password string
		mode     string
		ipv4     string
		secured  bool
	}{
		{name: "ap", ap: true, password: "12345678", mode: "ap", ipv4: "shared", secured: true},
		{name: "station", password: "pw", mode: "infrastructure", ipv4: "auto", secured: true},
		{name: "open station", mode: "infrastructure", ipv4: "auto"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := connectionSettings(tt.ap, "net", tt.password)

			if got := s["802-11-wireless"]["mode"].Value(); got != tt.mode {
				t.Errorf("mode = %v, want %s", got, tt.mode)
			}
			if got := string(s["802-11-wireless"]["ssid"].Value().([]byte)); got != "net" {
				t.Errorf("ssid = %q", got)
			}
			if got := s["ipv4"]["method"].Value(); got != tt.ipv4 {
				t.Errorf("ipv4 method = %v, want %s", got, tt.ipv4)
			}
			sec, ok := s["802-11-wireless-security"]
			if ok != tt.secured {
				t.Fatalf("security section present = %v, want %v", ok, tt.secured)
			}
			if ok && sec["psk"].Value() != tt.password {
				t.Errorf("psk = %v", sec["psk"].Value())
			}
		})
	}
}

func TestWaitDeviceReady(t *testing.T) {
	errBus := errors.New("bus gone")
	tests := []struct {
		name      string
		states    []uint32
		errs      []error
		polls     int
		want      bool
		wantSleep int
	}{
		{name: "already disconnected", states: []uint32{30}, polls: 10, want: true},
		{name: "unavailable then ready", states: []uint32{20, 20, 30}, polls: 10, want: true, wantSleep: 2},
		{name: "unmanaged never ready", states: []uint32{10}, polls: 3, want: false, wantSleep: 3},
		{name: "bus error then ready", states: []uint32{0, 100}, errs: []error{errBus, nil}, polls: 3, want: true, wantSleep: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			state := func() (uint32, error) {
				i := calls
				calls++
				var err error
				if i < len(tt.errs) {
					err = tt.errs[i]
				}
				if i >= len(tt.states) {
					i = len(tt.states) - 1
				}
				return tt.states[i], err
			}
			sleeps := 0
			sleep := func(d time.Duration) {
				if d != deviceReadyPoll {
					t.Errorf("sleep(%v), want %v", d, deviceReadyPoll)
				}
				sleeps++
			}

			if got := waitDeviceReady(state, tt.polls, sleep); got != tt.want {
				t.Errorf("waitDeviceReady() = %v, want %v", got, tt.want)
			}
			if sleeps != tt.wantSleep {
				t.Errorf("sleeps = %d, want %d", sleeps, tt.wantSleep)
			}
		})
	}
}
