package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the JSON view of pgxpool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
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
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck configures the database readiness probe. Stats and Schema are
// optional.
type HealthCheck struct {
	DB    Pinger
	Stats func() *PoolStats
	// Schema reports applied and latest migration versions; see Migrator.Versions.
	Schema  func(ctx context.Context) (applied, latest int, err error)
	Timeout time.Duration
}

type schemaState struct {
	Applied int  `json:"applied"`
	Latest  int  `json:"latest"`
	Pending bool `json:"pending"`
}

type healthBody struct {
	Status string       `json:"status"`
	Error  string       `json:"error,omitempty"`
	Pool   *PoolStats   `json:"pool,omitempty"`
	Schema *schemaState `json:"schema,omitempty"`
}

// HealthHandler answers 200 when the database responds and the schema is up
// to date, 503 otherwise.
func HealthHandler(hc HealthCheck) echo.HandlerFunc {
	timeout := hc.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()

		body := healthBody{Status: "healthy"}
		if hc.Stats != nil {
			body.Pool = hc.Stats()
		}
		unhealthy := func(msg string) error {
			body.Status = "unhealthy"
			body.Error = msg
			return c.JSON(http.StatusServiceUnavailable, body)
		}

		if err := hc.DB.Ping(ctx); err != nil {
			return unhealthy(err.Error())
		}
		if hc.Schema != nil {
			applied, latest, err := hc.Schema(ctx)
			if err != nil {
				return unhealthy("schema check: " + err.Error())
			}
			body.Schema = &schemaState{Applied: applied, Latest: latest, Pending: applied < latest}
			if body.Schema.Pending {
				return unhealthy("migrations pending")
			}
		}
		return c.JSON(http.StatusOK, body)
	}
}
