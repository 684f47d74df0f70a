package services

import (
	"context"
	"sync"
	"time"

	"datachat/config"
	"datachat/gateway"
	"datachat/web/types"

	"go.uber.org/zap"
)

// HealthGateway is the slice of the backend gateway the poller needs.
type HealthGateway interface {
	Health(ctx context.Context) (*gateway.Health, error)
}

// HealthService polls the backend's /health endpoint on a fixed interval and
// keeps the latest snapshot. It only ever writes its own status field, so it
// cannot race with chat or file state.
type HealthService struct {
	gw       HealthGateway
	logger   *zap.Logger
	interval time.Duration

	mu       sync.RWMutex
	snapshot types.HealthSnapshot
}

func NewHealthService(gw HealthGateway, cfg *config.Config, logger *zap.Logger) *HealthService {
	interval := cfg.HealthPollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthService{
		gw:       gw,
		logger:   logger,
		interval: interval,
	}
}

// Start runs the poll loop until the context is cancelled. Call it on its own
// goroutine.
func (hs *HealthService) Start(ctx context.Context) {
	hs.logger.Info("Starting backend health poller",
		zap.Duration("interval", hs.interval))

	hs.Poll(ctx)

	ticker := time.NewTicker(hs.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.logger.Info("Stopping backend health poller")
			return
		case <-ticker.C:
			hs.Poll(ctx)
		}
	}
}

// Poll performs one health check and updates the snapshot.
func (hs *HealthService) Poll(ctx context.Context) {
	health, err := hs.gw.Health(ctx)

	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.snapshot.CheckedAt = time.Now()
	if err != nil {
		if hs.snapshot.Reachable {
			hs.logger.Warn("Backend health check failed", zap.Error(err))
		}
		hs.snapshot.Reachable = false
		return
	}
	hs.snapshot.Reachable = true
	hs.snapshot.Ollama = health.Ollama
	hs.snapshot.LLMModel = health.LLMModel
	hs.snapshot.Postgres = health.PostgreSQL.Connected
	hs.snapshot.PGTables = health.PostgreSQL.Tables
	hs.snapshot.FilesKnown = health.DuckDB.TotalFiles
}

// Snapshot returns the most recent health observation.
func (hs *HealthService) Snapshot() types.HealthSnapshot {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return hs.snapshot
}
