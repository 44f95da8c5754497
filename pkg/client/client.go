// Package client talks to a running tankmon daemon over its HTTP API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultTimeout = 10 * time.Second

// Client is a struct for communicating with the tankmon daemon
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the daemon at addr, either host:port or
// a full http:// URL.
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
					conn, err := dialer.DialContext(ctx, network, address)
					if err != nil {
						if errors.Is(err, syscall.ECONNREFUSED) {
							return nil, ErrDaemonNotRunning
						}
						logrus.Errorf("failed to connect to daemon: %v", err)
						return nil, err
					}
					return conn, nil
				},
			},
		},
	}
}

// BaseURL returns the daemon URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Send is a method for sending a request to the tankmon daemon
func (c *Client) Send(method string, path string, data string) (string, error) {
	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"data":   data,
		"url":    c.baseURL,
	}).Debug("sending request")

	var body io.Reader
	if data != "" {
		body = strings.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if data != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, ErrDaemonNotRunning) {
			return "", ErrDaemonNotRunning
		}
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorMessage(b)
		switch resp.StatusCode {
		case http.StatusNotFound:
			return "", fmt.Errorf("%w: %s", ErrNotFound, msg)
		case http.StatusBadRequest:
			return "", fmt.Errorf("%w: %s", ErrBadRequest, msg)
		}
		return "", fmt.Errorf("got %d: %s", resp.StatusCode, msg)
	}

	return string(b), nil
}

// Get is a method for sending a GET request to the tankmon daemon
func (c *Client) Get(path string) (string, error) {
	return c.Send(http.MethodGet, path, "")
}

// Post is a method for sending a POST request to the tankmon daemon
func (c *Client) Post(path string, data string) (string, error) {
	return c.Send(http.MethodPost, path, data)
}

// errorMessage extracts the message from an {"error": "..."} body, or
// returns the body as is.
func errorMessage(b []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(b))
}
