package db

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
)

type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	EmptyAcquires   int64  `json:"empty_acquires"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		EmptyAcquires:   stat.EmptyAcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Check pings one dependency. *pgxpool.Pool's Ping and the cache's Health
// both fit.
type Check func(ctx context.Context) error

type CheckResult struct {
	Status  string `json:"status"`
	Latency string `json:"latency"`
	Error   string `json:"error,omitempty"`
}

// ReadinessHandler runs every check concurrently under one timeout and answers
// 200 only when all of them pass. stats may be nil.
func ReadinessHandler(checks map[string]Check, stats func() *PoolStats) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		var (
			mu      sync.Mutex
			results = make(map[string]CheckResult, len(checks))
			ready   = true
		)
		g, gctx := errgroup.WithContext(ctx)
		for name, check := range checks {
			g.Go(func() error {
				start := time.Now()
				err := check(gctx)
				res := CheckResult{Status: "up", Latency: time.Since(start).String()}
				if err != nil {
					res.Status = "down"
					res.Error = err.Error()
				}

				mu.Lock()
				defer mu.Unlock()
				results[name] = res
				ready = ready && err == nil
				return nil
			})
		}
		_ = g.Wait()

		body := map[string]any{"checks": results}
		if stats != nil {
			body["pool"] = stats()
		}
		if !ready {
			body["status"] = "unavailable"
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		body["status"] = "ready"
		return c.JSON(http.StatusOK, body)
	}
}
