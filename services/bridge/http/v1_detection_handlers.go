package http

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/02loveslollipop/detection-relay/services/bridge/db"
)

// handleV1LatestDetections returns the newest snapshot per device
// GET /api/v1/detections/latest
func (s *Server) handleV1LatestDetections(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	latest, err := s.store.LatestDetections(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": latest,
		"meta": gin.H{
			"count":        len(latest),
			"generated_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// handleV1ListDetections returns paginated history, newest first
// GET /api/v1/detections?device=<id>&page=1&limit=50&start=<RFC3339>&end=<RFC3339>
func (s *Server) handleV1ListDetections(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is disabled"})
		return
	}

	page := 1
	if p := c.Query("page"); p != "" {
		val, err := strconv.Atoi(p)
		if err != nil || val <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
			return
		}
		page = val
	}

	limit := s.cfg.DefaultLimit
	if l := c.Query("limit"); l != "" {
		val, err := strconv.Atoi(l)
		if err != nil || val <= 0 || val > s.cfg.MaxLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = val
	}

	if page-1 > math.MaxInt/limit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page out of range"})
		return
	}

	q := db.DetectionQuery{
		DeviceID: c.Query("device"),
		Limit:    limit,
		Offset:   (page - 1) * limit,
	}

	if start := c.Query("start"); start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start time format, expected RFC3339"})
			return
		}
		tt := t.UTC()
		q.Since = &tt
	}
	if end := c.Query("end"); end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end time format, expected RFC3339"})
			return
		}
		tt := t.UTC()
		q.Until = &tt
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	result, err := s.store.ListDetections(ctx, q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	totalPages := (result.TotalCount + limit - 1) / limit
	c.JSON(http.StatusOK, gin.H{
		"data": result.Detections,
		"meta": gin.H{
			"page":        page,
			"limit":       limit,
			"total_count": result.TotalCount,
			"total_pages": totalPages,
			"device":      q.DeviceID,
		},
	})
}
