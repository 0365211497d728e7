package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.String(200, "OK")
	})

	gatherer := s.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	g := router.Group("/api/v1")
	g.GET("/attacks", s.getAttacks)
	g.GET("/attacks/stats", s.getAttackStats)
	g.GET("/opportunities", s.getOpportunities)
	g.GET("/status", s.getStatus)
	g.POST("/slippage", s.postSlippage)
	g.POST("/bundles/simulate", s.postSimulate)
	g.POST("/bundles/optimize", s.postOptimize)
	g.POST("/private-tx", s.postPrivateTx)

	return router
}

// requestMiddleware records a metric and a debug log line per request
func (s *Server) requestMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		handler := c.FullPath()
		if handler == "" {
			handler = "unmatched"
		}
		duration := time.Since(start)
		s.metrics.RecordHTTPRequest(handler, c.Request.Method, c.Writer.Status(), duration.Seconds())
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", handler,
			"status", c.Writer.Status(),
			"duration", duration,
		)
	}
}
