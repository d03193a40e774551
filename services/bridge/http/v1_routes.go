package http

import "github.com/gin-gonic/gin"

// registerV1Routes sets up the history API
// Groups: /api/v1/detections
func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/api/v1")
	v1.Use(apiVersionMiddleware()) // Add X-API-Version: v1 header

	if s.cfg.BearerToken != "" {
		v1.Use(bearerAuthMiddleware(s.cfg.BearerToken))
	}

	detections := v1.Group("/detections")
	{
		detections.GET("", s.handleV1ListDetections)
		detections.GET("/latest", s.handleV1LatestDetections)
	}
}

func apiVersionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-API-Version", "v1")
		c.Next()
	}
}
