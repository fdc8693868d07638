package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/tenex/internal/observability"
)

// DefaultRetention is how long an untouched conversation is kept.
const DefaultRetention = 30 * 24 * time.Hour

// CleanerConfig configures the retention sweep.
type CleanerConfig struct {
	// Retention is the age past which untouched conversations are deleted.
	// Defaults to 30 days.
	Retention time.Duration

	// Schedule is a cron spec for the sweep. Defaults to "@every 24h".
	Schedule string

	// Logger for sweep events.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *observability.Metrics
}

// Cleaner runs the conversation retention sweep once at startup and then
// on a fixed schedule. Sweeps serialise with strategy writes through the
// store's per-id locks.
type Cleaner struct {
	store   Store
	config  CleanerConfig
	logger  *slog.Logger
	metrics *observability.Metrics

	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewCleaner creates a retention sweeper for the given store.
func NewCleaner(store Store, config CleanerConfig) *Cleaner {
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	if config.Schedule == "" {
		config.Schedule = "@every 24h"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Cleaner{
		store:   store,
		config:  config,
		logger:  logger.With("component", "store-cleaner"),
		metrics: config.Metrics,
	}
}

// Start runs one sweep immediately and schedules the recurring sweep.
func (c *Cleaner) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.mu.Unlock()

	c.sweep(ctx)

	c.cron = cron.New()
	if _, err := c.cron.AddFunc(c.config.Schedule, func() {
		c.sweep(context.Background())
	}); err != nil {
		return err
	}
	c.cron.Start()

	c.logger.Info("retention sweep scheduled",
		"schedule", c.config.Schedule,
		"retention", c.config.Retention)
	return nil
}

// Stop halts the recurring sweep, waiting for an in-flight run.
func (c *Cleaner) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
}

func (c *Cleaner) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-c.config.Retention)
	removed, err := c.store.Cleanup(ctx, cutoff)
	if err != nil {
		c.logger.Error("retention sweep failed", "error", err)
		c.metrics.RecordError("store", "cleanup")
		return
	}
	if removed > 0 {
		c.logger.Info("retention sweep removed conversations",
			"removed", removed,
			"older_than", cutoff)
	} else {
		c.logger.Debug("retention sweep found nothing to remove")
	}
}
