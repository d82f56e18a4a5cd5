package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the connection pool snapshot reported by /health.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Checker is a named dependency probe reported by HealthHandler.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// PoolChecker probes Postgres.
func PoolChecker(pool *pgxpool.Pool) Checker {
	return Checker{Name: "postgres", Check: pool.Ping}
}

// HealthHandler pings every checker and reports pool stats when a pool is
// given. Any failing checker makes the endpoint return 503.
func HealthHandler(pool *pgxpool.Pool, checkers ...Checker) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checkers))
		for _, ch := range checkers {
			if err := ch.Check(ctx); err != nil {
				deps[ch.Name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[ch.Name] = "ok"
		}

		body := map[string]interface{}{"status": "healthy", "dependencies": deps}
		if status != http.StatusOK {
			body["status"] = "unhealthy"
		}
		if pool != nil {
			stats := GetPoolStats(pool)
			if status != http.StatusOK {
				stats.Healthy = false
			}
			body["pool"] = stats
		}
		return c.JSON(status, body)
	}
}
