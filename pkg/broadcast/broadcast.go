// Package broadcast delivers the periodic tank state to whoever is
// listening: WebSocket clients, an MQTT broker, or both.
package broadcast

// Broadcaster sends a text payload to all connected listeners. It must not
// block on slow listeners.
type Broadcaster interface {
	BroadcastText(msg string)
}

// Func adapts a function to Broadcaster.
type Func func(msg string)

func (f Func) BroadcastText(msg string) { f(msg) }

// Multi sends every message to each of its members in order.
type Multi []Broadcaster

func (m Multi) BroadcastText(msg string) {
	for _, b := range m {
		if b != nil {
			b.BroadcastText(msg)
		}
	}
}
