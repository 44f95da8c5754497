// Package server is the device's serving layer: the HTTP API, the
// configuration and monitoring pages and the WebSocket broadcast endpoint.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/tankmon/pkg/events"
	"github.com/charlie0129/tankmon/pkg/network"
	"github.com/charlie0129/tankmon/pkg/scheduler"
	"github.com/charlie0129/tankmon/pkg/tank"
)

const shutdownTimeout = 2 * time.Second

// State is what GET /api/state returns.
type State struct {
	Tank    tank.State     `json:"tank"`
	Network network.Status `json:"network"`
}

// Backend gives the server access to the device. Every method may be
// called from any goroutine.
type Backend interface {
	State(ctx context.Context) (State, error)
	// ToggleMode schedules a mode switch and returns without waiting
	// for it: the switch restarts the server handling the request.
	ToggleMode() error
	Calibration(ctx context.Context) (tank.Calibration, error)
	ApplyCalibration(ctx context.Context, c tank.Calibration) (tank.Calibration, error)
	Records(ctx context.Context) (map[string]any, error)
	Record(ctx context.Context, name string) (any, error)
	// SaveRecord merges the JSON patch into the named record and returns
	// the resolved result.
	SaveRecord(ctx context.Context, name string, patch []byte) (any, error)
	Tasks(ctx context.Context) ([]scheduler.TaskStats, error)
	History(ctx context.Context, since time.Time) ([]tank.Sample, error)
}

type Options struct {
	Addr    string
	Hub     *events.EventHub
	Metrics http.Handler
}

var _ network.Serving = &Server{}

// Server is restartable: it can be stopped and started any number of
// times, as the network controller does around each mode switch.
type Server struct {
	opts      Options
	backend   Backend
	listeners *Listeners
	router    *gin.Engine

	mu     sync.Mutex
	srv    *http.Server
	cancel context.CancelFunc
	addr   net.Addr
}

func New(backend Backend, listeners *Listeners, opts Options) *Server {
	s := &Server{
		opts:      opts,
		backend:   backend,
		listeners: listeners,
	}
	s.router = s.setupRoutes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Listeners() *Listeners {
	return s.listeners
}

// Start listens on the configured address and serves in the background.
// Starting a running server is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	l, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.srv, s.cancel, s.addr = srv, cancel, l.Addr()

	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("http server failed")
		}
	}()
	return nil
}

// Stop disconnects all listeners, ends streaming requests and shuts the
// server down. Stopping a stopped server is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv, cancel := s.srv, s.cancel
	s.srv, s.cancel, s.addr = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.listeners.CloseAll()
	cancel()

	ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("http server did not shut down in time, closing")
		return srv.Close()
	}
	logrus.Info("http server stopped")
	return nil
}

// Addr returns the address the server listens on, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))

	router.GET("/", s.getSite)
	router.GET("/ws", s.serveWebSocket)
	router.GET("/version", getVersion)
	if s.opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}

	api := router.Group("/api")
	api.GET("/state", s.getState)
	api.GET("/mode", s.getMode)
	api.POST("/mode/toggle", s.toggleMode)
	api.GET("/tank/calibration", s.getCalibration)
	api.POST("/update-tank", s.updateTank)
	api.GET("/get-configs", s.getConfigs)
	for _, name := range recordRoutes {
		api.GET("/"+name, s.getRecord(name))
	}
	api.POST("/save/:name", s.saveRecord)
	api.GET("/scheduler", s.getTasks)
	api.GET("/history", s.getHistory)
	api.GET("/events", s.streamEvents)

	return router
}
