package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/content-scheduler/content-scheduler/internal/db/models"
	"github.com/content-scheduler/content-scheduler/internal/social"
)

func newTestDispatcher(posts *fakePosts, contents fakeContents, creds CredentialResolver, pub *fakePublisher, gated bool) *Dispatcher {
	return NewDispatcher(posts, contents, creds, social.NewRegistry(pub), testDispatchConfig(), gated)
}

// ---------------------------------------------------------------------------
// Gated mode (payments enabled)
// ---------------------------------------------------------------------------

func TestDispatch_PaidPostIsPosted(t *testing.T) {
	post := newPost(models.PostStatusPaid, time.Now())
	posts := newFakePosts(post)
	pub := &fakePublisher{platform: "twitter"}
	d := newTestDispatcher(posts, contentsFor(post), validCreds, pub, true)

	outcome, err := d.Dispatch(context.Background(), post.ID, StrategyTimer)
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, outcome)
	assert.Equal(t, models.PostStatusPosted, posts.status(post.ID))
	assert.Equal(t, int32(1), pub.calls.Load())

	got := posts.post(post.ID)
	require.NotNil(t, got.ExternalID)
	assert.Equal(t, "ext-body-"+post.ID.String()[:8], *got.ExternalID)
}

func TestDispatch_NotInExpectedStateIsNoop(t *testing.T) {
	for _, status := range []models.PostStatus{
		models.PostStatusPending, models.PostStatusPosted, models.PostStatusFailed, models.PostStatusCancelled,
	} {
		t.Run(string(status), func(t *testing.T) {
			post := newPost(status, time.Now())
			posts := newFakePosts(post)
			pub := &fakePublisher{platform: "twitter"}
			d := newTestDispatcher(posts, contentsFor(post), validCreds, pub, true)

			outcome, err := d.Dispatch(context.Background(), post.ID, StrategyTimer)
			require.NoError(t, err)
			assert.Equal(t, OutcomeSkipped, outcome)
			assert.Equal(t, status, posts.status(post.ID))
			assert.Zero(t, pub.calls.Load())
			assert.Empty(t, posts.transitions)
		})
	}
}

func TestDispatch_MissingPostIsNoop(t *testing.T) {
	pub := &fakePublisher{platform: "twitter"}
	d := newTestDispatcher(newFakePosts(), fakeContents{}, validCreds, pub, true)

	outcome, err := d.Dispatch(context.Background(), uuid.New(), StrategyPolling)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Zero(t, pub.calls.Load())
}

func TestDispatch_FiringTwiceDeliversOnce(t *testing.T) {
	post := newPost(models.PostStatusPaid, time.Now())
	posts := newFakePosts(post)
	pub := &fakePublisher{platform: "twitter"}
	d := newTestDispatcher(posts, contentsFor(post), validCreds, pub, true)

	first, _ := d.Dispatch(context.Background(), post.ID, StrategyTimer)
	second, _ := d.Dispatch(context.Background(), post.ID, StrategyPolling)
	assert.Equal(t, OutcomePosted, first)
	assert.Equal(t, OutcomeSkipped, second)
	assert.Equal(t, int32(1), pub.calls.Load())
}

func TestDispatch_MissingContentFails(t *testing.T) {
	post := newPost(models.PostStatusPaid, time.Now())
	posts := newFakePosts(post)
	pub := &fakePublisher{platform: "twitter"}
	d := newTestDispatcher(posts, fakeContents{}, validCreds, pub, true)

	outcome, err := d.Dispatch(context.Background(), post.ID, StrategyTimer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, ReasonContentMissing, *posts.post(post.ID).FailureReason)
	assert.Zero(t, pub.calls.Load())
}

func TestDispatch_UnknownPlatformFails(t *testing.T) {
	post := newPost(models.PostStatusPaid, time.Now())
	post.Platform = "friendster"
	posts := newFakePosts(post)
	pub := &fakePublisher{platform: "twitter"}
	d := newTestDispatcher(posts, contentsFor(post), validCreds, pub, true)

	outcome, err := d.Dispatch(context.Background(), post.ID, StrategyTimer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Contains(t, *posts.post(post.ID).FailureReason, "unknown social platform")
	assert.Zero(t, pub.calls.Load())
}

func TestDispatch_NoCredentialsFailsWithoutNetworkCall(t *testing.T) {
	post := newPost(models.PostStatusPaid, time.Now())
	posts := newFakePosts(post)
	pub := &fakePublisher{platform: "twitter"}
	d := newTestDispatcher(posts, contentsFor(post), fakeCreds{err: social.ErrMissingCredentials}, pub, true)

	outcome, err := d.Dispatch(context.Background(), post.ID, StrategyTimer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, models.PostStatusFailed, posts.status(post.ID))
	assert.Zero(t, pub.calls.Load())
}

func TestDispatch_CredentialLookupErrorLeavesPost(t *testing.T) {
	post := newPost(models.PostStatusPaid, time.Now())
	posts := newFakePosts(post)
	pub := &fakePublisher{platform: "twitter"}
	d := newTestDispatcher(posts, contentsFor(post), fakeCreds{err: errors.New("db down")}, pub, true)

	_, err := d.Dispatch(context.Background(), post.ID, StrategyTimer)
	assert.Error(t, err)
	assert.Equal(t, models.PostStatusPaid, posts.status(post.ID))
}

func TestDispatch_LoadErrorLeavesPost(t *testing.T) {
	post := newPost(models.PostStatusPaid, time.Now())
	posts := newFakePosts(post)
	posts.getErrs = 1
	pub := &fakePublisher{platform: "twitter"}
	d := newTestDispatcher(posts, contentsFor(post), validCreds, pub, true)

	_, err := d.Dispatch(context.Background(), post.ID, StrategyTimer)
	assert.Error(t, err)
	assert.Equal(t, models.PostStatusPaid, posts.status(post.ID))
	assert.Zero(t, pub.calls.Load())
}

func TestDispatch_PublishErrorFails(t *testing.T) {
	post := newPost(models.PostStatusPaid, time.Now())
	posts := newFakePosts(post)
	pub := &fakePublisher{platform: "twitter", err: &social.APIError{StatusCode: 403, Message: "duplicate content"}}
	d := newTestDispatcher(posts, contentsFor(post), validCreds, pub, true)

	outcome, err := d.Dispatch(context.Background(), post.ID, StrategyTimer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Contains(t, *posts.post(post.ID).FailureReason, "duplicate content")
}

func TestDispatch_PublisherPanicFails(t *testing.T) {
	post := newPost(models.PostStatusPaid, time.Now())
	posts := newFakePosts(post)
	pub := &fakePublisher{platform: "twitter", panicMsg: "nil map"}
	d := newTestDispatcher(posts, contentsFor(post), validCreds, pub, true)

	outcome, err := d.Dispatch(context.Background(), post.ID, StrategyTimer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Contains(t, *posts.post(post.ID).FailureReason, "panicked")
}

func TestDispatch_DeliveryTimeout(t *testing.T) {
	post := newPost(models.PostStatusPaid, time.Now())
	posts := newFakePosts(post)
	pub := &fakePublisher{platform: "twitter", waitCtx: true}
	cfg := testDispatchConfig()
	cfg.DeliveryTimeout = 20 * time.Millisecond
	d := NewDispatcher(posts, contentsFor(post), validCreds, social.NewRegistry(pub), cfg, true)

	outcome, err := d.Dispatch(context.Background(), post.ID, StrategyTimer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, "delivery timed out", *posts.post(post.ID).FailureReason)
}

func TestDispatch_CircuitOpensAfterPlatformFailures(t *testing.T) {
	var all []*models.ScheduledPost
	for i := 0; i < 3; i++ {
		all = append(all, newPost(models.PostStatusPaid, time.Now()))
	}
	posts := newFakePosts(all...)
	pub := &fakePublisher{platform: "twitter", err: &social.APIError{StatusCode: 503, Message: "over capacity"}}
	cfg := testDispatchConfig()
	cfg.BreakerFailureThreshold = 2
	d := NewDispatcher(posts, contentsFor(all...), validCreds, social.NewRegistry(pub), cfg, true)

	for _, p := range all {
		outcome, err := d.Dispatch(context.Background(), p.ID, StrategyPolling)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, outcome)
	}
	assert.Equal(t, int32(2), pub.calls.Load(), "third delivery must be short-circuited")
	assert.True(t, strings.Contains(*posts.post(all[2].ID).FailureReason, "circuit open"))
}

func TestDispatch_ConcurrentSamePostDeliversOnce(t *testing.T) {
	post := newPost(models.PostStatusPaid, time.Now())
	posts := newFakePosts(post)
	pub := &fakePublisher{platform: "twitter", block: make(chan struct{})}
	d := newTestDispatcher(posts, contentsFor(post), validCreds, pub, true)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		outcomes[0], _ = d.Dispatch(context.Background(), post.ID, StrategyTimer)
	}()
	eventually(t, time.Second, func() bool { return pub.calls.Load() == 1 }, "first delivery started")

	outcomes[1], _ = d.Dispatch(context.Background(), post.ID, StrategyPolling)
	close(pub.block)
	wg.Wait()

	assert.Equal(t, OutcomePosted, outcomes[0])
	assert.Equal(t, OutcomeSkipped, outcomes[1])
	assert.Equal(t, int32(1), pub.calls.Load())
}

// ---------------------------------------------------------------------------
// Ungated mode (payments disabled)
// ---------------------------------------------------------------------------

func TestDispatch_UngatedClaimsPendingThenPosts(t *testing.T) {
	post := newPost(models.PostStatusPending, time.Now())
	posts := newFakePosts(post)
	pub := &fakePublisher{platform: "twitter"}
	d := newTestDispatcher(posts, contentsFor(post), validCreds, pub, false)

	assert.Equal(t, models.PostStatusPending, d.ExpectedStatus())
	outcome, err := d.Dispatch(context.Background(), post.ID, StrategyTimer)
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, outcome)

	require.Len(t, posts.transitions, 2)
	assert.Equal(t, models.PostStatusPending, posts.transitions[0].from)
	assert.Equal(t, models.PostStatusPaid, posts.transitions[0].to)
	assert.Equal(t, models.PostStatusPaid, posts.transitions[1].from)
	assert.Equal(t, models.PostStatusPosted, posts.transitions[1].to)
}

func TestDispatch_UngatedNoCredentialsFailsFromPending(t *testing.T) {
	post := newPost(models.PostStatusPending, time.Now())
	posts := newFakePosts(post)
	pub := &fakePublisher{platform: "twitter"}
	d := newTestDispatcher(posts, contentsFor(post), fakeCreds{err: social.ErrMissingCredentials}, pub, false)

	outcome, err := d.Dispatch(context.Background(), post.ID, StrategyPolling)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	require.Len(t, posts.transitions, 1)
	assert.Equal(t, models.PostStatusPending, posts.transitions[0].from)
	assert.Equal(t, models.PostStatusFailed, posts.transitions[0].to)
	assert.Zero(t, pub.calls.Load())
}

func TestDispatch_UngatedResumesClaimedPost(t *testing.T) {
	post := newPost(models.PostStatusPaid, time.Now())
	posts := newFakePosts(post)
	pub := &fakePublisher{platform: "twitter"}
	d := newTestDispatcher(posts, contentsFor(post), validCreds, pub, false)

	assert.Equal(t, []models.PostStatus{models.PostStatusPending, models.PostStatusPaid}, d.DispatchableStatuses())
	outcome, err := d.Dispatch(context.Background(), post.ID, StrategyTimer)
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, outcome)

	// Already claimed: no second pending -> paid transition
	require.Len(t, posts.transitions, 1)
	assert.Equal(t, models.PostStatusPaid, posts.transitions[0].from)
	assert.Equal(t, models.PostStatusPosted, posts.transitions[0].to)
}

func TestDispatch_UngatedOutcomeWriteFailureIsRetried(t *testing.T) {
	post := newPost(models.PostStatusPending, time.Now())
	posts := newFakePosts(post)
	posts.failTo, posts.failToCount = models.PostStatusPosted, 1
	pub := &fakePublisher{platform: "twitter"}
	d := newTestDispatcher(posts, contentsFor(post), validCreds, pub, false)

	outcome, err := d.Dispatch(context.Background(), post.ID, StrategyPolling)
	require.Error(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, models.PostStatusPaid, posts.status(post.ID))

	outcome, err = d.Dispatch(context.Background(), post.ID, StrategyPolling)
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, outcome)
	assert.Equal(t, models.PostStatusPosted, posts.status(post.ID))
}

func TestDispatch_GatedIgnoresPendingPosts(t *testing.T) {
	post := newPost(models.PostStatusPending, time.Now())
	posts := newFakePosts(post)
	pub := &fakePublisher{platform: "twitter"}
	d := newTestDispatcher(posts, contentsFor(post), validCreds, pub, true)

	assert.Equal(t, []models.PostStatus{models.PostStatusPaid}, d.DispatchableStatuses())
	outcome, err := d.Dispatch(context.Background(), post.ID, StrategyTimer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Zero(t, pub.calls.Load())
}

// ---------------------------------------------------------------------------
// Fail
// ---------------------------------------------------------------------------

func TestFail(t *testing.T) {
	pending := newPost(models.PostStatusPending, time.Now())
	posted := newPost(models.PostStatusPosted, time.Now())
	posts := newFakePosts(pending, posted)
	d := newTestDispatcher(posts, fakeContents{}, validCreds, &fakePublisher{platform: "twitter"}, true)

	require.NoError(t, d.Fail(context.Background(), pending.ID, ReasonMissedSchedule, StrategyTimer))
	assert.Equal(t, models.PostStatusFailed, posts.status(pending.ID))
	assert.Equal(t, ReasonMissedSchedule, *posts.post(pending.ID).FailureReason)

	require.NoError(t, d.Fail(context.Background(), posted.ID, ReasonMissedSchedule, StrategyTimer))
	assert.Equal(t, models.PostStatusPosted, posts.status(posted.ID))

	require.NoError(t, d.Fail(context.Background(), uuid.New(), ReasonMissedSchedule, StrategyTimer))
}

func TestCountsAgainstPlatform(t *testing.T) {
	assert.False(t, countsAgainstPlatform(nil))
	assert.False(t, countsAgainstPlatform(social.ErrMissingCredentials))
	assert.False(t, countsAgainstPlatform(context.Canceled))
	assert.False(t, countsAgainstPlatform(&social.APIError{StatusCode: 403}))
	assert.True(t, countsAgainstPlatform(&social.APIError{StatusCode: 503}))
	assert.True(t, countsAgainstPlatform(&social.APIError{StatusCode: 429}))
	assert.True(t, countsAgainstPlatform(errors.New("connection refused")))
}
