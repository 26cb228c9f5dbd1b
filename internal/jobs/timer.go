// timer.go implements TimerScheduler, the exact-fire dispatch strategy. Each
// scheduled post has one persisted DispatchJob and one in-process timer; jobs
// are reloaded and re-armed on Start so registrations survive restarts.
package jobs

import (
	"context"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/content-scheduler/content-scheduler/internal/safego"
	"github.com/content-scheduler/content-scheduler/internal/telemetry"
)

// defaultRetryDelay is how long a timer waits before retrying a dispatch that
// could not read or write state.
const defaultRetryDelay = 30 * time.Second

type armedTimer struct {
	timer  *time.Timer
	fireAt time.Time
}

// TimerScheduler dispatches each post at its registered fire time
type TimerScheduler struct {
	jobs         JobStore
	dispatcher   *Dispatcher
	misfireGrace time.Duration
	retryDelay   time.Duration
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	timers map[uuid.UUID]*armedTimer
	closed bool
	wg     sync.WaitGroup
}

// NewTimerScheduler creates a timer strategy. A zero misfireGrace fires every
// overdue job on Start no matter how late.
func NewTimerScheduler(jobStore JobStore, dispatcher *Dispatcher, misfireGrace time.Duration) *TimerScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &TimerScheduler{
		jobs:         jobStore,
		dispatcher:   dispatcher,
		misfireGrace: misfireGrace,
		retryDelay:   defaultRetryDelay,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
		timers:       make(map[uuid.UUID]*armedTimer),
	}
}

// Name returns StrategyTimer
func (s *TimerScheduler) Name() string {
	return StrategyTimer
}

// Start reloads persisted jobs and arms a timer for each. Jobs that are
// overdue by more than the misfire grace fail their post instead of firing.
func (s *TimerScheduler) Start(ctx context.Context) error {
	jobs, err := s.jobs.List(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	armed, missed := 0, 0
	for _, job := range jobs {
		if s.misfireGrace > 0 && now.Sub(job.FireAt) > s.misfireGrace {
			missed++
			if err := s.dispatcher.Fail(ctx, job.PostID, ReasonMissedSchedule, StrategyTimer); err != nil {
				slog.Error("failed to mark missed post", "post_id", job.PostID, "error", err)
				continue
			}
			if err := s.jobs.Delete(ctx, job.PostID); err != nil {
				slog.Error("failed to remove missed dispatch job", "post_id", job.PostID, "error", err)
			}
			continue
		}
		s.arm(job.PostID, job.FireAt, job.FireAt.Sub(now))
		armed++
	}

	log.Printf("Dispatch timer strategy started (%d job(s) armed, %d missed)", armed, missed)
	return nil
}

// Schedule persists the registration and arms its timer, replacing any
// existing one for the post.
func (s *TimerScheduler) Schedule(ctx context.Context, postID uuid.UUID, fireAt time.Time) error {
	job, err := s.jobs.Upsert(ctx, postID, fireAt)
	if err != nil {
		return err
	}
	s.arm(postID, job.FireAt, job.FireAt.Sub(s.now()))
	return nil
}

// Cancel disarms the post's timer and deletes its registration
func (s *TimerScheduler) Cancel(ctx context.Context, postID uuid.UUID) error {
	s.mu.Lock()
	if t, ok := s.timers[postID]; ok {
		t.timer.Stop()
		delete(s.timers, postID)
	}
	telemetry.ArmedDispatchJobs.Set(float64(len(s.timers)))
	s.mu.Unlock()

	return s.jobs.Delete(ctx, postID)
}

// Shutdown disarms every timer and waits for running dispatches
func (s *TimerScheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, id)
	}
	telemetry.ArmedDispatchJobs.Set(0)
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()
	log.Println("Dispatch timer strategy stopped")
}

// Armed reports the fire time currently armed for postID
func (s *TimerScheduler) Armed(postID uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[postID]
	if !ok {
		return time.Time{}, false
	}
	return t.fireAt, true
}

func (s *TimerScheduler) arm(postID uuid.UUID, fireAt time.Time, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if existing, ok := s.timers[postID]; ok {
		existing.timer.Stop()
	}
	s.timers[postID] = &armedTimer{
		timer:  time.AfterFunc(delay, func() { s.fire(postID, fireAt) }),
		fireAt: fireAt,
	}
	telemetry.ArmedDispatchJobs.Set(float64(len(s.timers)))
}

func (s *TimerScheduler) fire(postID uuid.UUID, fireAt time.Time) {
	s.mu.Lock()
	current, ok := s.timers[postID]
	if s.closed || !ok || !current.fireAt.Equal(fireAt) {
		// Replaced or cancelled after this timer was already running.
		s.mu.Unlock()
		return
	}
	delete(s.timers, postID)
	telemetry.ArmedDispatchJobs.Set(float64(len(s.timers)))
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	safego.Run("dispatch-timer", func() {
		if _, err := s.dispatcher.Dispatch(s.ctx, postID, StrategyTimer); err != nil {
			slog.Error("dispatch attempt failed, will retry", "post_id", postID, "retry_in", s.retryDelay, "error", err)
			s.arm(postID, fireAt, s.retryDelay)
			return
		}
		if err := s.jobs.DeleteIfFireAt(s.ctx, postID, fireAt); err != nil {
			slog.Error("failed to remove fired dispatch job", "post_id", postID, "error", err)
		}
	})
}
