// dispatcher.go implements Dispatcher, the callback both dispatch strategies run
// for a due post. It re-reads the post under a status guard, resolves content,
// publisher and credentials, delivers through a per-platform circuit breaker
// with a timeout, and records the outcome with a conditional status update.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/google/uuid"

	"github.com/content-scheduler/content-scheduler/internal/config"
	"github.com/content-scheduler/content-scheduler/internal/db/models"
	"github.com/content-scheduler/content-scheduler/internal/db/repositories"
	"github.com/content-scheduler/content-scheduler/internal/social"
	"github.com/content-scheduler/content-scheduler/internal/telemetry"
)

// Outcome is what a dispatch attempt did to the post
type Outcome string

const (
	OutcomePosted  Outcome = "posted"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Failure reasons recorded on the post
const (
	ReasonContentMissing = "content not found"
	ReasonMissedSchedule = "missed scheduled time"
)

// Dispatcher publishes a single due post
type Dispatcher struct {
	posts      PostStore
	contents   ContentStore
	creds      CredentialResolver
	publishers *social.Registry

	gated            bool
	deliveryTimeout  time.Duration
	breakerThreshold uint
	breakerDelay     time.Duration

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
	breakers map[string]circuitbreaker.CircuitBreaker[*social.PublishResult]
}

// NewDispatcher creates a dispatcher. When gated is true posts must be paid
// before they are published; otherwise the dispatcher claims pending posts itself.
func NewDispatcher(
	posts PostStore,
	contents ContentStore,
	creds CredentialResolver,
	publishers *social.Registry,
	cfg config.DispatchConfig,
	gated bool,
) *Dispatcher {
	threshold := cfg.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	delay := cfg.BreakerDelay
	if delay <= 0 {
		delay = time.Minute
	}
	return &Dispatcher{
		posts:            posts,
		contents:         contents,
		creds:            creds,
		publishers:       publishers,
		gated:            gated,
		deliveryTimeout:  cfg.DeliveryTimeout,
		breakerThreshold: threshold,
		breakerDelay:     delay,
		inFlight:         make(map[uuid.UUID]struct{}),
		breakers:         make(map[string]circuitbreaker.CircuitBreaker[*social.PublishResult]),
	}
}

// ExpectedStatus is the status a newly scheduled post must hold to be
// registered for dispatch.
func (d *Dispatcher) ExpectedStatus() models.PostStatus {
	if d.gated {
		return models.PostStatusPaid
	}
	return models.PostStatusPending
}

// DispatchableStatuses lists every status Dispatch will act on. Ungated, a
// post left in paid by an attempt that claimed it but could not record the
// outcome is resumed rather than stranded.
func (d *Dispatcher) DispatchableStatuses() []models.PostStatus {
	if d.gated {
		return []models.PostStatus{models.PostStatusPaid}
	}
	return []models.PostStatus{models.PostStatusPending, models.PostStatusPaid}
}

func (d *Dispatcher) dispatchable(status models.PostStatus) bool {
	return slices.Contains(d.DispatchableStatuses(), status)
}

// Dispatch runs one delivery attempt for postID. source labels metrics with
// the strategy that triggered it. A non-nil error means the attempt could not
// read or write state; the post stays in a dispatchable status for a later retry.
func (d *Dispatcher) Dispatch(ctx context.Context, postID uuid.UUID, source string) (Outcome, error) {
	if !d.acquire(postID) {
		return OutcomeSkipped, nil
	}
	defer d.release(postID)

	logger := slog.With("post_id", postID, "strategy", source)

	post, err := d.posts.GetByID(ctx, postID)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("failed to load post: %w", err)
	}
	if post == nil || !d.dispatchable(post.Status) {
		status := "missing"
		if post != nil {
			status = string(post.Status)
		}
		logger.Debug("dispatch skipped", "status", status)
		telemetry.DispatchOutcomesTotal.WithLabelValues(source, "", string(OutcomeSkipped)).Inc()
		return OutcomeSkipped, nil
	}
	logger = logger.With("platform", post.Platform)
	current := post.Status

	content, err := d.contents.GetByID(ctx, post.ContentID)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("failed to load content: %w", err)
	}
	if content == nil {
		return d.finish(ctx, logger, post, current, source, nil, errors.New(ReasonContentMissing))
	}

	publisher, err := d.publishers.Get(post.Platform)
	if err != nil {
		return d.finish(ctx, logger, post, current, source, nil, err)
	}

	creds, err := d.creds.Resolve(ctx, post)
	if err != nil {
		if !errors.Is(err, social.ErrMissingCredentials) {
			return OutcomeSkipped, fmt.Errorf("failed to resolve credentials: %w", err)
		}
		return d.finish(ctx, logger, post, current, source, nil, err)
	}

	if current == models.PostStatusPending {
		claimed, err := d.posts.TransitionStatus(ctx, post.ID, models.PostStatusPending, models.PostStatusPaid, repositories.TransitionDetails{})
		if err != nil {
			return OutcomeSkipped, fmt.Errorf("failed to claim post: %w", err)
		}
		if !claimed {
			logger.Debug("dispatch skipped, claim lost")
			telemetry.DispatchOutcomesTotal.WithLabelValues(source, post.Platform, string(OutcomeSkipped)).Inc()
			return OutcomeSkipped, nil
		}
		current = models.PostStatusPaid
	}

	result, deliverErr := d.deliver(ctx, publisher, creds, content.Body)
	return d.finish(ctx, logger, post, current, source, result, deliverErr)
}

// Fail moves a non-terminal post to failed with reason, used when a post can
// no longer be delivered on time.
func (d *Dispatcher) Fail(ctx context.Context, postID uuid.UUID, reason, source string) error {
	post, err := d.posts.GetByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("failed to load post: %w", err)
	}
	if post == nil || !models.CanTransition(post.Status, models.PostStatusFailed) {
		return nil
	}
	_, err = d.finish(ctx, slog.With("post_id", postID, "strategy", source, "platform", post.Platform),
		post, post.Status, source, nil, errors.New(reason))
	return err
}

// deliver calls the publisher under the platform's circuit breaker and the
// delivery timeout, converting panics into errors.
func (d *Dispatcher) deliver(ctx context.Context, publisher social.Publisher, creds social.Credentials, body string) (*social.PublishResult, error) {
	if d.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.deliveryTimeout)
		defer cancel()
	}

	platform := publisher.Platform()
	start := time.Now()
	defer func() {
		telemetry.DeliveryDuration.WithLabelValues(platform).Observe(time.Since(start).Seconds())
	}()

	return failsafe.With[*social.PublishResult](d.breaker(platform)).WithContext(ctx).Get(func() (res *social.PublishResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("publisher panicked: %v", r)
			}
		}()
		return publisher.Publish(ctx, creds, body)
	})
}

func (d *Dispatcher) breaker(platform string) circuitbreaker.CircuitBreaker[*social.PublishResult] {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cb, ok := d.breakers[platform]; ok {
		return cb
	}
	cb := circuitbreaker.NewBuilder[*social.PublishResult]().
		HandleIf(func(_ *social.PublishResult, err error) bool { return countsAgainstPlatform(err) }).
		WithFailureThreshold(d.breakerThreshold).
		WithDelay(d.breakerDelay).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("delivery circuit breaker state change",
				"platform", platform, "from", fmt.Sprint(e.OldState), "to", fmt.Sprint(e.NewState))
		}).
		Build()
	d.breakers[platform] = cb
	return cb
}

// countsAgainstPlatform reports whether err suggests the platform itself is
// unhealthy, as opposed to a problem with this one post.
func countsAgainstPlatform(err error) bool {
	if err == nil || errors.Is(err, social.ErrMissingCredentials) || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *social.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}
	return true
}

// finish writes the terminal status for a post currently in from.
func (d *Dispatcher) finish(
	ctx context.Context,
	logger *slog.Logger,
	post *models.ScheduledPost,
	from models.PostStatus,
	source string,
	result *social.PublishResult,
	deliverErr error,
) (Outcome, error) {
	to := models.PostStatusPosted
	details := repositories.TransitionDetails{}
	if deliverErr != nil {
		to = models.PostStatusFailed
		details.FailureReason = failureReason(deliverErr)
	} else if result != nil {
		details.ExternalID = result.ExternalID
	}

	// The delivery context may have expired; the outcome must still be recorded.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	applied, err := d.posts.TransitionStatus(writeCtx, post.ID, from, to, details)
	if err != nil {
		logger.Error("failed to record dispatch outcome", "to", to, "error", err)
		return OutcomeSkipped, fmt.Errorf("failed to record outcome: %w", err)
	}
	if !applied {
		logger.Warn("dispatch outcome not recorded, post changed concurrently", "to", to)
		telemetry.DispatchOutcomesTotal.WithLabelValues(source, post.Platform, string(OutcomeSkipped)).Inc()
		return OutcomeSkipped, nil
	}

	outcome := OutcomePosted
	if to == models.PostStatusFailed {
		outcome = OutcomeFailed
		logger.Warn("post failed", "reason", details.FailureReason)
	} else {
		logger.Info("post published", "external_id", details.ExternalID)
	}
	telemetry.DispatchOutcomesTotal.WithLabelValues(source, post.Platform, string(outcome)).Inc()
	return outcome, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "platform temporarily unavailable (circuit open)"
	case errors.Is(err, context.DeadlineExceeded):
		return "delivery timed out"
	default:
		return err.Error()
	}
}

func (d *Dispatcher) acquire(postID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[postID]; busy {
		return false
	}
	d.inFlight[postID] = struct{}{}
	return true
}

func (d *Dispatcher) release(postID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, postID)
}
