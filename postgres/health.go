package postgres

import (
	"context"
	"fmt"
	"time"
)

const defaultHealthCheckTimeout = 5 * time.Second

// HealthCheck pings the pool and runs a trivial query within a bounded time.
func (p *Postgres) HealthCheck(ctx context.Context) error {
	if p.DBPool == nil {
		return ErrConnectionPoolNil
	}

	healthCtx, cancel := context.WithTimeout(ctx, defaultHealthCheckTimeout)
	defer cancel()

	if err := p.DBPool.Ping(healthCtx); err != nil {
		return fmt.Errorf("postgres: health check ping failed: %w", err)
	}

	var result int
	if err := p.DBPool.QueryRow(healthCtx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("postgres: health check query failed: %w", err)
	}

	return nil
}

func (p *Postgres) IsHealthy(ctx context.Context) bool {
	return p.HealthCheck(ctx) == nil
}
