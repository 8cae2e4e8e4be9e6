package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/provalivre/exam-engine/internal/config"
	"github.com/provalivre/exam-engine/internal/response"
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports dependency status and the autosave backlog.
type HealthHandler struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(pool *pgxpool.Pool, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{pool: pool, rdb: rdb}
}

// Health godoc
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{"database": "ok", "redis": "ok"}

	if err := h.pool.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	var backlog int64
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		backlog, _ = h.rdb.LLen(ctx, config.WorkerKey.PersistAnswersQueue).Result()
	}

	response.Success(c, status, gin.H{
		"status":          map[bool]string{true: "ok", false: "degraded"}[status == http.StatusOK],
		"checks":          checks,
		"autosave_queued": backlog,
	})
}
