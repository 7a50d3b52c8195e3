// api/handlers/analytics_handlers.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"printshop/analytics/analytics"
	"printshop/analytics/models"
	"printshop/analytics/utils"
)

const (
	defaultStatsDays   = 7
	maxStatsDays       = 365
	defaultRecentLimit = 20
	maxListLimit       = 100
	maxActiveWindow    = 24 * 60 * 60
)

type AnalyticsHandlers struct {
	Service *analytics.Service
	Engine  *analytics.Engine
	logger  *zap.Logger
}

func NewAnalyticsHandlers(service *analytics.Service, engine *analytics.Engine, logger *zap.Logger) *AnalyticsHandlers {
	return &AnalyticsHandlers{
		Service: service,
		Engine:  engine,
		logger:  logger,
	}
}

// bindBody decodes a JSON body regardless of Content-Type. Beacon requests
// arrive as text/plain and carry the same JSON document.
func bindBody(c *gin.Context, obj any) bool {
	if err := c.ShouldBindWith(obj, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return false
	}
	return true
}

func requestMeta(c *gin.Context) analytics.RequestMeta {
	return analytics.RequestMeta{
		UserAgent: c.Request.UserAgent(),
		IP:        c.ClientIP(),
	}
}

// fail maps domain errors onto status codes. Only validation messages reach
// the caller; anything unexpected is logged and answered generically.
func (h *AnalyticsHandlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	default:
		_ = c.Error(err)
		h.logger.Error("analytics request failed",
			zap.String("route", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func (h *AnalyticsHandlers) StartSession(c *gin.Context) {
	var req models.SessionRequest
	if !bindBody(c, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	result, err := h.Service.ResumeOrCreate(ctx, req, requestMeta(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AnalyticsHandlers) RecordPageView(c *gin.Context) {
	var req models.PageViewRequest
	if !bindBody(c, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	result, err := h.Service.RecordPageView(ctx, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AnalyticsHandlers) Heartbeat(c *gin.Context) {
	var req models.HeartbeatRequest
	if !bindBody(c, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	ended, err := h.Service.Heartbeat(ctx, req)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := gin.H{"success": true}
	if ended {
		resp["ended"] = true
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AnalyticsHandlers) TrackEvent(c *gin.Context) {
	var req models.EventRequest
	if !bindBody(c, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.Service.TrackEvent(ctx, req, requestMeta(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AnalyticsHandlers) GetSession(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	detail, err := h.Service.SessionDetail(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// GetStats serves the dashboard. The window always ends now and starts at
// UTC midnight days-1 days ago, so a daily series has exactly days buckets.
func (h *AnalyticsHandlers) GetStats(c *gin.Context) {
	days, ok := utils.BoundedInt(c.Query("days"), defaultStatsDays, maxStatsDays)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'days' parameter. Must be a positive integer."})
		return
	}

	includeBots := false
	if raw := c.Query("includeBots"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'includeBots' parameter. Must be true or false."})
			return
		}
		includeBots = v
	}

	end := time.Now().UTC()
	start := end.Truncate(24*time.Hour).AddDate(0, 0, -(days - 1))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	switch statsType := c.DefaultQuery("type", "overview"); statsType {
	case "overview":
		topN, ok := utils.BoundedInt(c.Query("limit"), analytics.DefaultTopN, maxListLimit)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		overview, err := h.Engine.Overview(ctx, start, end, analytics.OverviewOptions{
			TopN:        topN,
			ExcludeBots: !includeBots,
		})
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, overview)

	case "daily":
		series, err := h.Engine.DailySeries(ctx, start, end, !includeBots)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"days": days, "series": series})

	case "active":
		seconds, ok := utils.BoundedInt(c.Query("window"), int(analytics.DefaultActiveWindow/time.Second), maxActiveWindow)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'window' parameter. Must be a positive number of seconds."})
			return
		}
		sessions, err := h.Engine.ActiveNow(ctx, time.Duration(seconds)*time.Second)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": len(sessions), "sessions": sessions})

	case "recent":
		limit, ok := utils.BoundedInt(c.Query("limit"), defaultRecentLimit, maxListLimit)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		sessions, err := h.Engine.Recent(ctx, limit)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})

	case "events":
		interval := c.DefaultQuery("interval", "Day")
		counts, err := h.Engine.EventCounts(ctx, interval, start, end, c.Query("eventName"))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"interval": interval, "counts": counts})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'type' parameter. Use overview, daily, active, recent or events."})
	}
}
