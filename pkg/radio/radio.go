// Package radio drives the device's Wi-Fi interface, either as an access
// point or as a station joining an existing network.
package radio

// Radio is the narrow contract the network controller needs from the Wi-Fi
// hardware. StartStation only begins joining; Connected reports when the
// link is up.
type Radio interface {
	Off() error
	StartAP(ssid, password string) error
	StartStation(ssid, password string) error
	Connected() bool
}
