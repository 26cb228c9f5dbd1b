// poller.go implements Poller, the fixed-interval dispatch strategy. It keeps
// no registrations; each sweep reads due posts straight from the database.
package jobs

import (
	"context"
	"log"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/content-scheduler/content-scheduler/internal/safego"
	"github.com/content-scheduler/content-scheduler/internal/telemetry"
)

// Poller periodically dispatches every due post
type Poller struct {
	posts      PostStore
	dispatcher *Dispatcher
	interval   time.Duration
	batchSize  int
	now        func() time.Time

	stopChan  chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
	done      chan struct{}
	started   atomic.Bool
}

// NewPoller creates a polling strategy. interval defaults to 60s and
// batchSize to 100.
func NewPoller(posts PostStore, dispatcher *Dispatcher, interval time.Duration, batchSize int) *Poller {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Poller{
		posts:      posts,
		dispatcher: dispatcher,
		interval:   interval,
		batchSize:  batchSize,
		now:        time.Now,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Name returns StrategyPolling
func (p *Poller) Name() string {
	return StrategyPolling
}

// Start launches the sweep loop. The first sweep runs immediately. Later
// calls are no-ops.
func (p *Poller) Start(ctx context.Context) error {
	p.startOnce.Do(func() {
		p.started.Store(true)
		safego.Go("dispatch-poller", func() { p.run(ctx) })
	})
	return nil
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Printf("Dispatch polling strategy started (interval: %v, batch size: %d)", p.interval, p.batchSize)

	p.Sweep(ctx)

	for {
		select {
		case <-ticker.C:
			p.Sweep(ctx)
		case <-p.stopChan:
			log.Println("Dispatch polling strategy stopped")
			return
		case <-ctx.Done():
			log.Println("Dispatch polling strategy context cancelled")
			return
		}
	}
}

// Sweep dispatches every post that is due now, oldest first, and returns how
// many were published.
func (p *Poller) Sweep(ctx context.Context) int {
	start := time.Now()
	defer func() {
		telemetry.PollSweepDuration.Observe(time.Since(start).Seconds())
	}()

	due, err := p.posts.ListDue(ctx, p.dispatcher.DispatchableStatuses(), p.now(), p.batchSize)
	if err != nil {
		slog.Error("poll sweep: failed to list due posts", "error", err)
		return 0
	}

	posted := 0
	for _, post := range due {
		select {
		case <-p.stopChan:
			return posted
		default:
		}
		outcome, err := p.dispatcher.Dispatch(ctx, post.ID, StrategyPolling)
		if err != nil {
			slog.Error("poll sweep: dispatch attempt failed", "post_id", post.ID, "error", err)
			continue
		}
		if outcome == OutcomePosted {
			posted++
		}
	}

	if len(due) > 0 {
		slog.Info("poll sweep complete", "due", len(due), "posted", posted)
	}
	return posted
}

// Schedule is a no-op; the sweep reads scheduled times from the post rows.
func (p *Poller) Schedule(_ context.Context, _ uuid.UUID, _ time.Time) error {
	return nil
}

// Cancel is a no-op; cancelled posts no longer match the sweep query.
func (p *Poller) Cancel(_ context.Context, _ uuid.UUID) error {
	return nil
}

// Shutdown stops the loop and waits for the current sweep to finish
func (p *Poller) Shutdown() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	if p.started.Load() {
		<-p.done
	}
}
