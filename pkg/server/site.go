package server

import (
	_ "embed"
)

type site struct {
	name string
	body []byte
}

var (
	//go:embed web/config.html
	configHTML []byte
	//go:embed web/monitor.html
	monitorHTML []byte

	configPage  = site{name: "config", body: configHTML}
	monitorPage = site{name: "monitor", body: monitorHTML}
)
