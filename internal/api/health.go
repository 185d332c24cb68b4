package api

import (
	"atlas_trader/internal/store" // Balance Store
	"context"                     // Ping timeout
	"net/http"                    // HTTP status codes
	"time"                        // Ping timeout

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
)

// HealthHandler reports whether the database and Redis answer.
// The database is required; Redis only degrades the service.
func HealthHandler(st *store.Store, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		checks := gin.H{"database": "ok", "redis": "ok"}
		status := http.StatusOK
		if sqlDB, err := st.DB().DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			checks["database"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unavailable" // Caches and live push are degraded
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
	}
}
