package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/charlie0129/tankmon/pkg/scheduler"
	"github.com/charlie0129/tankmon/pkg/utils/ptr"
)

// Network mode values as persisted.
const (
	ModeAP  = "AP"
	ModeSTA = "STA"
)

// Defaults used when a field is absent from the persisted network record.
const (
	DefaultAPSSID     = "Liquid_Level_Monitor"
	DefaultAPPassword = "12345678"
)

// Credentials used when the network record is missing or malformed.
const (
	FallbackAPSSID     = "ESP32-Fallback-AP"
	FallbackAPPassword = "12345678"
)

// RawNetwork is the persisted network record.
type RawNetwork struct {
	Mode        *string `json:"mode,omitempty"`
	APSSID      *string `json:"ap_ssid,omitempty"`
	APPassword  *string `json:"ap_password,omitempty"`
	STASSID     *string `json:"sta_ssid,omitempty"`
	STAPassword *string `json:"sta_password,omitempty"`
}

// Network is a network record with defaults applied.
type Network struct {
	Mode        string `json:"mode"`
	APSSID      string `json:"ap_ssid"`
	APPassword  string `json:"ap_password"`
	STASSID     string `json:"sta_ssid"`
	STAPassword string `json:"sta_password"`
}

// FallbackNetwork is what the device runs with when it cannot read its
// network record at all.
var FallbackNetwork = Network{
	Mode:       ModeAP,
	APSSID:     FallbackAPSSID,
	APPassword: FallbackAPPassword,
}

func (r RawNetwork) Resolve() Network {
	mode := ModeAP
	if strings.EqualFold(ptr.Deref(r.Mode, ModeAP), ModeSTA) {
		mode = ModeSTA
	}
	return Network{
		Mode:        mode,
		APSSID:      ptr.Deref(r.APSSID, DefaultAPSSID),
		APPassword:  ptr.Deref(r.APPassword, DefaultAPPassword),
		STASSID:     ptr.Deref(r.STASSID, ""),
		STAPassword: ptr.Deref(r.STAPassword, ""),
	}
}

// Tank calibration defaults, in centimetres.
const (
	DefaultTankDepth         = 100.0
	DefaultCrossSectionArea  = 500.0
	DefaultSensorOffset      = 5.0
	DefaultHeightErrorMargin = 2.0
)

// RawTank is the persisted tank calibration record. Lengths are in cm,
// area in cm² and capacity in cm³.
type RawTank struct {
	TankDepth         *float64 `json:"tank_depth,omitempty"`
	CrossSectionArea  *float64 `json:"tank_cross_section_area,omitempty"`
	FullCapacity      *float64 `json:"full_tank_capacity,omitempty"`
	SensorOffset      *float64 `json:"sensor_offset,omitempty"`
	HeightErrorMargin *float64 `json:"height_error_margin,omitempty"`
}

// Tank is a tank record with defaults applied. A zero FullCapacity means
// "not supplied".
type Tank struct {
	TankDepth         float64 `json:"tank_depth"`
	CrossSectionArea  float64 `json:"tank_cross_section_area"`
	FullCapacity      float64 `json:"full_tank_capacity"`
	SensorOffset      float64 `json:"sensor_offset"`
	HeightErrorMargin float64 `json:"height_error_margin"`
}

func (r RawTank) Resolve() Tank {
	return Tank{
		TankDepth:         ptr.Deref(r.TankDepth, DefaultTankDepth),
		CrossSectionArea:  ptr.Deref(r.CrossSectionArea, DefaultCrossSectionArea),
		FullCapacity:      ptr.Deref(r.FullCapacity, 0),
		SensorOffset:      ptr.Deref(r.SensorOffset, DefaultSensorOffset),
		HeightErrorMargin: ptr.Deref(r.HeightErrorMargin, DefaultHeightErrorMargin),
	}
}

// RawFromTank converts a resolved tank record back to its persisted form
// with every field set.
func RawFromTank(t Tank) RawTank {
	return RawTank{
		TankDepth:         ptr.To(t.TankDepth),
		CrossSectionArea:  ptr.To(t.CrossSectionArea),
		FullCapacity:      ptr.To(t.FullCapacity),
		SensorOffset:      ptr.To(t.SensorOffset),
		HeightErrorMargin: ptr.To(t.HeightErrorMargin),
	}
}

// Hardware wiring defaults.
const (
	DefaultSensorPort    = "/dev/ttyS0"
	DefaultSensorBaud    = 9600
	DefaultWifiInterface = "wlan0"
)

// RawPins is the persisted hardware wiring record.
type RawPins struct {
	SensorPort    *string `json:"sensor_port,omitempty"`
	SensorBaud    *int    `json:"sensor_baud,omitempty"`
	WifiInterface *string `json:"wifi_interface,omitempty"`
}

type Pins struct {
	SensorPort    string `json:"sensor_port"`
	SensorBaud    int    `json:"sensor_baud"`
	WifiInterface string `json:"wifi_interface"`
}

func (r RawPins) Resolve() Pins {
	return Pins{
		SensorPort:    ptr.Deref(r.SensorPort, DefaultSensorPort),
		SensorBaud:    ptr.Deref(r.SensorBaud, DefaultSensorBaud),
		WifiInterface: ptr.Deref(r.WifiInterface, DefaultWifiInterface),
	}
}

// System defaults.
const (
	DefaultMeasurementInterval = time.Second
	DefaultResponseTimeout     = 200 * time.Millisecond
	DefaultPublishInterval     = time.Second
	DefaultMQTTTopic           = "tankmon/state"
)

// RawSystem is the persisted system settings record.
type RawSystem struct {
	MeasurementInterval *Duration `json:"measurement_interval,omitempty"`
	ResponseTimeout     *Duration `json:"response_timeout,omitempty"`
	PublishInterval     *Duration `json:"publish_interval,omitempty"`
	BlockingConnect     *bool     `json:"blocking_connect,omitempty"`
	MQTTBroker          *string   `json:"mqtt_broker,omitempty"`
	MQTTTopic           *string   `json:"mqtt_topic,omitempty"`
}

type System struct {
	MeasurementInterval time.Duration `json:"measurement_interval"`
	ResponseTimeout     time.Duration `json:"response_timeout"`
	PublishInterval     time.Duration `json:"publish_interval"`
	BlockingConnect     bool          `json:"blocking_connect"`
	MQTTBroker          string        `json:"mqtt_broker"`
	MQTTTopic           string        `json:"mqtt_topic"`
}

func (r RawSystem) Resolve() System {
	return System{
		MeasurementInterval: time.Duration(ptr.Deref(r.MeasurementInterval, Duration(DefaultMeasurementInterval))),
		ResponseTimeout:     time.Duration(ptr.Deref(r.ResponseTimeout, Duration(DefaultResponseTimeout))),
		PublishInterval:     time.Duration(ptr.Deref(r.PublishInterval, Duration(DefaultPublishInterval))),
		BlockingConnect:     ptr.Deref(r.BlockingConnect, false),
		MQTTBroker:          ptr.Deref(r.MQTTBroker, ""),
		MQTTTopic:           ptr.Deref(r.MQTTTopic, DefaultMQTTTopic),
	}
}

// Duration is a positive interval. It is persisted as a number of
// milliseconds and also accepts anything scheduler.ParseInterval does when
// given as a string.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Milliseconds())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		v, err := scheduler.ParseInterval(str)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}

	var ms float64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("interval must be a number of milliseconds or a string: %w", err)
	}
	if ms < 1 {
		return fmt.Errorf("interval must be at least 1ms, got %v", ms)
	}
	*d = Duration(time.Duration(ms * float64(time.Millisecond)))
	return nil
}

// Merge copies every non-nil pointer field of patch into dst. Both must be
// pointers to the same record struct. It is the read-modify-write half of
// a partial update: load the record, merge the patch, save.
func Merge[T any](dst *T, patch *T) {
	if dst == nil || patch == nil {
		return
	}
	dv := reflect.ValueOf(dst).Elem()
	pv := reflect.ValueOf(patch).Elem()
	for i := 0; i < pv.NumField(); i++ {
		f := pv.Field(i)
		if f.Kind() == reflect.Pointer && !f.IsNil() && dv.Field(i).CanSet() {
			dv.Field(i).Set(f)
		}
	}
}

// LoadOrEmpty loads a record into a fresh T. When the record is missing or
// malformed it returns the zero T together with the error, so the caller
// can log and continue with defaults.
func LoadOrEmpty[T any](s Store, name string) (T, error) {
	var v T
	if err := s.Load(name, &v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
