package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/alimgiray/repopulse/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DefaultWindowDays is the window used when no days parameter is given.
const DefaultWindowDays = 30

type MetricsHandler struct {
	metricsService *services.MetricsService
	log            *logrus.Entry
}

func NewMetricsHandler(metricsService *services.MetricsService, log *logrus.Entry) *MetricsHandler {
	return &MetricsHandler{
		metricsService: metricsService,
		log:            log,
	}
}

// Report returns every metric group for the requested window
func (h *MetricsHandler) Report(c *gin.Context) {
	h.respond(c, func(days *int) (interface{}, error) {
		return h.metricsService.BuildReport(days)
	})
}

// PullRequests returns pull request metrics for the requested window
func (h *MetricsHandler) PullRequests(c *gin.Context) {
	h.respond(c, func(days *int) (interface{}, error) {
		return h.metricsService.PullRequests(days)
	})
}

// Issues returns issue metrics for the requested window
func (h *MetricsHandler) Issues(c *gin.Context) {
	h.respond(c, func(days *int) (interface{}, error) {
		return h.metricsService.Issues(days)
	})
}

// Trends returns the backlog, churn and release series for the requested window
func (h *MetricsHandler) Trends(c *gin.Context) {
	h.respond(c, func(days *int) (interface{}, error) {
		return h.metricsService.Trends(days)
	})
}

func (h *MetricsHandler) respond(c *gin.Context, compute func(days *int) (interface{}, error)) {
	days, err := ParseDays(c.Query("days"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := compute(days)
	if err != nil {
		h.log.WithError(err).WithField("path", c.Request.URL.Path).Error("Failed to compute metrics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute metrics"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ParseDays reads a window size: empty means the default window, "all"
// means no window, anything else must be a positive integer.
func ParseDays(raw string) (*int, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	switch raw {
	case "":
		days := DefaultWindowDays
		return &days, nil
	case "all":
		return nil, nil
	}

	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return nil, fmt.Errorf("invalid days %q: expected a positive integer or \"all\"", raw)
	}
	return &days, nil
}
