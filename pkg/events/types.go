package events

import "encoding/json"

const (
	TankState   = "tank.state"
	NetworkMode = "network.mode"
)

// Event is one server-sent event.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// TankStateEvent is the payload of tank.state and of every broadcast sent
// to listeners.
type TankStateEvent struct {
	Depth        float64 `json:"depth"`
	Volume       float64 `json:"volume"`
	VolumeLitres float64 `json:"volume_litres"`
	Percentage   float64 `json:"percentage"`
	Distance     float64 `json:"distance"`
	Mode         string  `json:"mode"`
	Ts           int64   `json:"ts"`
}

// NetworkModeEvent is the payload of network.mode.
type NetworkModeEvent struct {
	Mode     string `json:"mode"`
	SSID     string `json:"ssid"`
	Fallback bool   `json:"fallback"`
	Error    string `json:"error,omitempty"`
	Ts       int64  `json:"ts"`
}

// DecodeAs unmarshals the event payload into T. An empty payload yields
// the zero T.
//
//	st, err := events.DecodeAs[events.TankStateEvent](ev)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
