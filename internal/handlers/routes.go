package handlers

import (
	"github.com/alimgiray/repopulse/internal/middleware"
	"github.com/alimgiray/repopulse/internal/repositories"
	"github.com/alimgiray/repopulse/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NewRouter builds the read-only metrics API.
func NewRouter(db Pinger, store *repositories.Store, metricsService *services.MetricsService, log *logrus.Entry) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(log))

	healthHandler := NewHealthHandler(db)
	metricsHandler := NewMetricsHandler(metricsService, log)
	syncHandler := NewSyncHandler(store, log)
	notFoundHandler := NewNotFoundHandler()

	router.GET("/health", healthHandler.HealthCheck)

	api := router.Group("/api")
	{
		api.GET("/metrics", metricsHandler.Report)
		api.GET("/metrics/pull-requests", metricsHandler.PullRequests)
		api.GET("/metrics/issues", metricsHandler.Issues)
		api.GET("/metrics/trends", metricsHandler.Trends)
		api.GET("/sync/status", syncHandler.Status)
	}

	router.NoRoute(notFoundHandler.NotFound)
	return router
}
