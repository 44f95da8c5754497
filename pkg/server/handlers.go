package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/tankmon/pkg/config"
	"github.com/charlie0129/tankmon/pkg/network"
	"github.com/charlie0129/tankmon/pkg/tank"
	"github.com/charlie0129/tankmon/pkg/version"
)

var recordRoutes = config.RecordNames

// statusFor maps backend errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case tank.IsValidationError(err), errors.Is(err, config.ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, config.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, gin.H{"error": err.Error()})
	_ = c.AbortWithError(code, err)
}

func (s *Server) getSite(c *gin.Context) {
	st, err := s.backend.State(c.Request.Context())
	if err != nil {
		abort(c, statusFor(err), err)
		return
	}

	page := monitorPage
	if st.Network.Mode == network.AccessPoint {
		page = configPage
	}
	c.Header("X-Tankmon-Site", page.name)
	c.Data(http.StatusOK, "text/html; charset=utf-8", page.body)
}

func (s *Server) serveWebSocket(c *gin.Context) {
	if err := s.listeners.Serve(c.Writer, c.Request); err != nil {
		// Upgrade has already written the error response.
		logrus.WithError(err).Debug("websocket upgrade failed")
	}
}

func (s *Server) getState(c *gin.Context) {
	st, err := s.backend.State(c.Request.Context())
	if err != nil {
		abort(c, statusFor(err), err)
		return
	}
	c.IndentedJSON(http.StatusOK, st)
}

func (s *Server) getMode(c *gin.Context) {
	st, err := s.backend.State(c.Request.Context())
	if err != nil {
		abort(c, statusFor(err), err)
		return
	}
	c.IndentedJSON(http.StatusOK, st.Network)
}

func (s *Server) toggleMode(c *gin.Context) {
	if err := s.backend.ToggleMode(); err != nil {
		abort(c, statusFor(err), err)
		return
	}
	logrus.Info("network mode toggle requested")
	c.IndentedJSON(http.StatusAccepted, "toggling network mode")
}

func (s *Server) getCalibration(c *gin.Context) {
	cal, err := s.backend.Calibration(c.Request.Context())
	if err != nil {
		abort(c, statusFor(err), err)
		return
	}
	c.IndentedJSON(http.StatusOK, cal)
}

func (s *Server) updateTank(c *gin.Context) {
	var cal tank.Calibration
	if err := c.ShouldBindJSON(&cal); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	applied, err := s.backend.ApplyCalibration(c.Request.Context(), cal)
	if err != nil {
		abort(c, statusFor(err), err)
		return
	}
	c.IndentedJSON(http.StatusCreated, applied)
}

func (s *Server) getConfigs(c *gin.Context) {
	recs, err := s.backend.Records(c.Request.Context())
	if err != nil {
		abort(c, statusFor(err), err)
		return
	}
	c.IndentedJSON(http.StatusOK, recs)
}

func (s *Server) getRecord(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := s.backend.Record(c.Request.Context(), name)
		if err != nil {
			abort(c, statusFor(err), err)
			return
		}
		c.IndentedJSON(http.StatusOK, rec)
	}
}

func (s *Server) saveRecord(c *gin.Context) {
	name := c.Param("name")
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	rec, err := s.backend.SaveRecord(c.Request.Context(), name, body)
	if err != nil {
		abort(c, statusFor(err), err)
		return
	}
	logrus.WithField("record", name).Info("record saved")
	c.IndentedJSON(http.StatusCreated, rec)
}

func (s *Server) getTasks(c *gin.Context) {
	tasks, err := s.backend.Tasks(c.Request.Context())
	if err != nil {
		abort(c, statusFor(err), err)
		return
	}
	c.IndentedJSON(http.StatusOK, tasks)
}

// getHistory returns the samples of the last ?window (a duration,
// default 10m).
func (s *Server) getHistory(c *gin.Context) {
	window := 10 * time.Minute
	if w := c.Query("window"); w != "" {
		d, err := time.ParseDuration(w)
		if err != nil || d <= 0 {
			abort(c, http.StatusBadRequest, fmt.Errorf("invalid window %q", w))
			return
		}
		window = d
	}

	samples, err := s.backend.History(c.Request.Context(), time.Now().Add(-window))
	if err != nil {
		abort(c, statusFor(err), err)
		return
	}
	c.IndentedJSON(http.StatusOK, samples)
}

// streamEvents sends hub events as server-sent events until the client
// disconnects or the server stops.
func (s *Server) streamEvents(c *gin.Context) {
	if s.opts.Hub == nil {
		abort(c, http.StatusNotFound, errors.New("event stream disabled"))
		return
	}

	ch := s.opts.Hub.Subscribe()
	defer s.opts.Hub.Unsubscribe(ch)

	ctx := c.Request.Context()
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{
		"version": version.Version,
		"commit":  version.GitCommit,
	})
}
