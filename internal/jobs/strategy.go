package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/content-scheduler/content-scheduler/internal/config"
)

// Strategy names accepted by dispatch.strategy
const (
	StrategyTimer   = "timer"
	StrategyPolling = "polling"
)

// Strategy decides when the Dispatcher runs for each post.
type Strategy interface {
	Name() string
	// Start begins dispatching. It does not block.
	Start(ctx context.Context) error
	// Schedule registers postID to be dispatched at fireAt, replacing any
	// earlier registration for the same post.
	Schedule(ctx context.Context, postID uuid.UUID, fireAt time.Time) error
	// Cancel removes any registration for postID.
	Cancel(ctx context.Context, postID uuid.UUID) error
	// Shutdown stops dispatching and waits for in-flight deliveries.
	Shutdown()
}

// NewStrategy builds the strategy selected in cfg
func NewStrategy(cfg config.DispatchConfig, dispatcher *Dispatcher, posts PostStore, jobStore JobStore) (Strategy, error) {
	switch cfg.Strategy {
	case StrategyTimer, "":
		return NewTimerScheduler(jobStore, dispatcher, cfg.MisfireGrace), nil
	case StrategyPolling:
		return NewPoller(posts, dispatcher, cfg.PollInterval, cfg.BatchSize), nil
	default:
		return nil, fmt.Errorf("unknown dispatch strategy %q", cfg.Strategy)
	}
}
