package monitor

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"slowpress/internal/types"
)

// probeTimeout bounds a single dependency probe.
const probeTimeout = 2 * time.Second

// Probe checks one external dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// PostgresProbe pings the primary database pool.
func PostgresProbe(pool *pgxpool.Pool) Probe {
	return Probe{
		Name: "postgres",
		Check: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
	}
}

// RedisProbe pings the rate-limit counter store.
func RedisProbe(client *redis.Client) Probe {
	return Probe{
		Name: "redis",
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

// SQLiteProbe pings the offline queue store.
func SQLiteProbe(db *sql.DB) Probe {
	return Probe{
		Name: "offline_store",
		Check: func(ctx context.Context) error {
			return db.PingContext(ctx)
		},
	}
}

// RunProbes executes each probe with a bounded timeout and records the
// outcome as a component health check. A failed probe marks the component
// unhealthy; it never aborts the remaining probes.
func (s *Service) RunProbes(ctx context.Context, probes ...Probe) {
	for _, p := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.Check(probeCtx)
		cancel()

		check := types.HealthCheck{
			Name:   p.Name,
			Status: types.HealthHealthy,
		}
		if err != nil {
			check.Status = types.HealthUnhealthy
			check.Message = err.Error()
		}
		s.UpdateHealthCheck(ctx, check)
	}
}
