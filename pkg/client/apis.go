package client

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/tankmon/pkg/events"
	"github.com/charlie0129/tankmon/pkg/network"
	"github.com/charlie0129/tankmon/pkg/scheduler"
	"github.com/charlie0129/tankmon/pkg/server"
	"github.com/charlie0129/tankmon/pkg/tank"
)

func (c *Client) GetState() (*server.State, error) {
	ret, err := c.Get("/api/state")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get state")
	}

	var st server.State
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal state")
	}
	return &st, nil
}

func (c *Client) GetMode() (*network.Status, error) {
	ret, err := c.Get("/api/mode")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get network mode")
	}

	var st network.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal network mode")
	}
	return &st, nil
}

// ToggleMode asks the daemon to switch network mode. The daemon answers
// before it switches, and the connection drops while it does.
func (c *Client) ToggleMode() error {
	if _, err := c.Post("/api/mode/toggle", ""); err != nil {
		return pkgerrors.Wrapf(err, "failed to toggle network mode")
	}
	return nil
}

func (c *Client) GetCalibration() (*tank.Calibration, error) {
	ret, err := c.Get("/api/tank/calibration")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get tank calibration")
	}

	var cal tank.Calibration
	if err := json.Unmarshal([]byte(ret), &cal); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal tank calibration")
	}
	return &cal, nil
}

// SetCalibration replaces the whole calibration and returns what the
// daemon applied.
func (c *Client) SetCalibration(cal tank.Calibration) (*tank.Calibration, error) {
	payload, err := json.Marshal(cal)
	if err != nil {
		return nil, err
	}
	ret, err := c.Post("/api/update-tank", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set tank calibration")
	}

	var applied tank.Calibration
	if err := json.Unmarshal([]byte(ret), &applied); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal tank calibration")
	}
	return &applied, nil
}

// GetConfigs returns every record, keyed by name.
func (c *Client) GetConfigs() (map[string]json.RawMessage, error) {
	ret, err := c.Get("/api/get-configs")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get configs")
	}

	var recs map[string]json.RawMessage
	if err := json.Unmarshal([]byte(ret), &recs); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal configs")
	}
	return recs, nil
}

func (c *Client) GetRecord(name string) (json.RawMessage, error) {
	ret, err := c.Get("/api/" + url.PathEscape(name))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get record %s", name)
	}
	return json.RawMessage(ret), nil
}

// SaveRecord sends a partial record. Fields left out keep their value.
func (c *Client) SaveRecord(name string, patch json.RawMessage) (json.RawMessage, error) {
	ret, err := c.Post("/api/save/"+url.PathEscape(name), string(patch))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to save record %s", name)
	}
	return json.RawMessage(ret), nil
}

func (c *Client) GetTasks() ([]scheduler.TaskStats, error) {
	ret, err := c.Get("/api/scheduler")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get scheduler tasks")
	}

	var tasks []scheduler.TaskStats
	if err := json.Unmarshal([]byte(ret), &tasks); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal scheduler tasks")
	}
	return tasks, nil
}

func (c *Client) GetHistory(window time.Duration) ([]tank.Sample, error) {
	ret, err := c.Get("/api/history?window=" + url.QueryEscape(window.String()))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get history")
	}

	var samples []tank.Sample
	if err := json.Unmarshal([]byte(ret), &samples); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal history")
	}
	return samples, nil
}

type Version struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

func (c *Client) GetVersion() (*Version, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get version")
	}

	var v Version
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal version")
	}
	return &v, nil
}

// Watch connects to the broadcast WebSocket and calls fn for every tank
// state until ctx is done or the daemon goes away.
func (c *Client) Watch(ctx context.Context, fn func(events.TankStateEvent)) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to connect to %s", wsURL)
	}
	defer conn.Close()

	// Unblocks ReadMessage.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return pkgerrors.Wrap(err, "failed to read tank state")
		}

		var st events.TankStateEvent
		if err := json.Unmarshal(msg, &st); err != nil {
			return pkgerrors.Wrap(err, "failed to unmarshal tank state")
		}
		fn(st)
	}
}
