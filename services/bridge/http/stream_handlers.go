package http

import (
	_ "embed"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/02loveslollipop/detection-relay/services/bridge/fanout"
)

//go:embed index.html
var indexHTML []byte

var (
	frameOpen  = []byte("data: ")
	frameClose = []byte("\n\n")
	keepAlive  = []byte(": keep-alive\n\n")
)

// handleIndex serves the landing page
// GET /
func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

// handleStream relays every payload broadcast after the client connected,
// one `data:` frame per payload, until the client goes away.
// GET /stream
func (s *Server) handleStream(c *gin.Context) {
	sub := s.hub.Subscribe()
	defer sub.Close()
	s.metrics.Connections.Inc()

	log := s.log.With("subscriber", sub.ID(), "remote", c.ClientIP())
	log.Info("stream opened", "clients", s.hub.Len())
	defer log.Info("stream closed")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		payload, err := sub.Next(ctx, s.cfg.StreamIdleTimeout)
		switch {
		case errors.Is(err, fanout.ErrIdle):
			if _, err := c.Writer.Write(keepAlive); err != nil {
				return
			}
			c.Writer.Flush()
			continue
		case err != nil:
			return
		}

		if len(payload) == 0 {
			continue
		}
		if err := writeFrame(c.Writer, payload); err != nil {
			log.Warn("stream write failed", "error", err)
			return
		}
		c.Writer.Flush()
		s.metrics.Frames.Inc()
	}
}

func writeFrame(w io.Writer, payload []byte) error {
	for _, part := range [][]byte{frameOpen, payload, frameClose} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}
