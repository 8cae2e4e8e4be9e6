package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/provalivre/exam-engine/internal/config"
	"github.com/provalivre/exam-engine/internal/middleware"
	"github.com/provalivre/exam-engine/internal/model"
	"github.com/provalivre/exam-engine/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second
)

// MonitorHandler streams live attempt activity of an application to staff.
type MonitorHandler struct {
	rdb                *redis.Client
	applicationService *service.ApplicationService
	log                zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(rdb *redis.Client, applicationService *service.ApplicationService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:                rdb,
		applicationService: applicationService,
		log:                log.With().Str("component", "monitor_handler").Logger(),
	}
}

// monitorStats counts attempts by derived status.
type monitorStats struct {
	Attempts int                             `json:"attempts"`
	ByStatus map[model.ApplicationStatus]int `json:"by_status"`
}

func summarize(results []service.AttemptSummary) monitorStats {
	stats := monitorStats{Attempts: len(results), ByStatus: map[model.ApplicationStatus]int{}}
	for _, r := range results {
		stats.ByStatus[r.Status]++
	}
	return stats
}

// MonitorApplicationSSE godoc
// GET /api/v1/staff/applications/:application_id/monitor
// Sends a snapshot of all attempts, then every lifecycle event as it happens,
// with periodic stat refreshes while there is activity.
func (h *MonitorHandler) MonitorApplicationSSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	appID, ok := paramInt(c, "application_id")
	if !ok {
		return
	}

	reqCtx := c.Request.Context()
	app, err := h.applicationService.Get(reqCtx, claims.CompanyID, appID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	results, err := h.applicationService.Results(reqCtx, claims.CompanyID, app.ID)
	if err != nil {
		h.log.Warn().Err(err).Int("application_id", app.ID).Msg("Initial monitor snapshot failed")
		results = []service.AttemptSummary{}
	}
	c.SSEvent("message", gin.H{
		"type": "snapshot",
		"data": gin.H{
			"application": app,
			"stats":       summarize(results),
			"attempts":    results,
		},
	})
	c.Writer.Flush()

	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.ApplicationMonitorChannel(app.ID))
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()
	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Refreshes are skipped until an event shows someone is active.
	active := false
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	h.log.Info().Int("application_id", app.ID).Msg("Staff attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Int("application_id", app.ID).Msg("Staff disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Payloads are already JSON events; forward them untouched.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
			active = true

		case <-refreshTicker.C:
			if !active {
				continue
			}
			h.sendRefresh(c, reqCtx, claims.CompanyID, app.ID)

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, companyID, appID int) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	results, err := h.applicationService.Results(ctx, companyID, appID)
	if err != nil {
		h.log.Warn().Err(err).Int("application_id", appID).Msg("Failed to refresh monitor stats")
		return
	}

	c.SSEvent("message", gin.H{
		"type":  "refresh",
		"stats": summarize(results),
	})
	c.Writer.Flush()
}
