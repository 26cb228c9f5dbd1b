package jobs

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/content-scheduler/content-scheduler/internal/config"
	"github.com/content-scheduler/content-scheduler/internal/db/models"
	"github.com/content-scheduler/content-scheduler/internal/db/repositories"
	"github.com/content-scheduler/content-scheduler/internal/social"
)

// ---------------------------------------------------------------------------
// In-memory stores
// ---------------------------------------------------------------------------

type transition struct {
	id       uuid.UUID
	from, to models.PostStatus
	details  repositories.TransitionDetails
}

type fakePosts struct {
	mu          sync.Mutex
	posts       map[uuid.UUID]*models.ScheduledPost
	transitions []transition
	getErrs     int // number of GetByID calls that fail before succeeding
	listErr     error

	// failTo makes the next failToCount transitions into that status fail.
	failTo      models.PostStatus
	failToCount int
}

func newFakePosts(posts ...*models.ScheduledPost) *fakePosts {
	f := &fakePosts{posts: make(map[uuid.UUID]*models.ScheduledPost)}
	for _, p := range posts {
		f.posts[p.ID] = p
	}
	return f
}

func (f *fakePosts) GetByID(_ context.Context, id uuid.UUID) (*models.ScheduledPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErrs > 0 {
		f.getErrs--
		return nil, errors.New("connection reset")
	}
	p, ok := f.posts[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakePosts) ListDue(_ context.Context, statuses []models.PostStatus, now time.Time, limit int) ([]models.ScheduledPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	due := []models.ScheduledPost{}
	for _, p := range f.posts {
		if slices.Contains(statuses, p.Status) && !p.ScheduledTime.After(now) {
			due = append(due, *p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledTime.Before(due[j].ScheduledTime) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakePosts) TransitionStatus(_ context.Context, id uuid.UUID, from, to models.PostStatus, details repositories.TransitionDetails) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, models.ErrInvalidTransition
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failToCount > 0 && to == f.failTo {
		f.failToCount--
		return false, errors.New("connection reset")
	}
	p, ok := f.posts[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	if details.FailureReason != "" {
		p.FailureReason = &details.FailureReason
	}
	if details.ExternalID != "" {
		p.ExternalID = &details.ExternalID
	}
	f.transitions = append(f.transitions, transition{id: id, from: from, to: to, details: details})
	return true, nil
}

func (f *fakePosts) status(id uuid.UUID) models.PostStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts[id].Status
}

func (f *fakePosts) post(id uuid.UUID) models.ScheduledPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.posts[id]
}

type fakeContents map[uuid.UUID]*models.Content

func (f fakeContents) GetByID(_ context.Context, id uuid.UUID) (*models.Content, error) {
	return f[id], nil
}

type fakeCreds struct {
	creds social.Credentials
	err   error
}

func (f fakeCreds) Resolve(context.Context, *models.ScheduledPost) (social.Credentials, error) {
	return f.creds, f.err
}

type fakeJobs struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]models.DispatchJob
	upserts int
}

func newFakeJobs(jobs ...models.DispatchJob) *fakeJobs {
	f := &fakeJobs{jobs: make(map[uuid.UUID]models.DispatchJob)}
	for _, j := range jobs {
		f.jobs[j.PostID] = j
	}
	return f
}

func (f *fakeJobs) Upsert(_ context.Context, postID uuid.UUID, fireAt time.Time) (*models.DispatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := models.DispatchJob{ID: models.DispatchJobID(postID), PostID: postID, FireAt: fireAt}
	f.jobs[postID] = job
	f.upserts++
	return &job, nil
}

func (f *fakeJobs) List(context.Context) ([]models.DispatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.DispatchJob{}
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeJobs) Delete(_ context.Context, postID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, postID)
	return nil
}

func (f *fakeJobs) DeleteIfFireAt(_ context.Context, postID uuid.UUID, fireAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[postID]; ok && j.FireAt.Equal(fireAt) {
		delete(f.jobs, postID)
	}
	return nil
}

func (f *fakeJobs) has(postID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[postID]
	return ok
}

// ---------------------------------------------------------------------------
// Publisher double
// ---------------------------------------------------------------------------

type fakePublisher struct {
	platform string
	calls    atomic.Int32
	err      error
	panicMsg string
	block    chan struct{} // when set, Publish waits for it or ctx
	waitCtx  bool          // when set, Publish blocks until ctx is done

	mu       sync.Mutex
	bodies   []string
	callTime []time.Time
}

func (p *fakePublisher) Platform() string { return p.platform }

func (p *fakePublisher) Publish(ctx context.Context, _ social.Credentials, body string) (*social.PublishResult, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.bodies = append(p.bodies, body)
	p.callTime = append(p.callTime, time.Now())
	p.mu.Unlock()

	if p.panicMsg != "" {
		panic(p.panicMsg)
	}
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.waitCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	return &social.PublishResult{ExternalID: "ext-" + body, Text: body}, nil
}

func (p *fakePublisher) firstCall() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.callTime) == 0 {
		return time.Time{}
	}
	return p.callTime[0]
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

var validCreds = fakeCreds{creds: social.Credentials{Token: "t", Secret: "s"}}

func testDispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		DeliveryTimeout:         time.Second,
		BreakerFailureThreshold: 5,
		BreakerDelay:            time.Minute,
	}
}

func newPost(status models.PostStatus, at time.Time) *models.ScheduledPost {
	owner := uuid.New()
	return &models.ScheduledPost{
		ID:            uuid.New(),
		ContentID:     uuid.New(),
		UserID:        &owner,
		ScheduledTime: at,
		Platform:      "twitter",
		Status:        status,
	}
}

func contentsFor(posts ...*models.ScheduledPost) fakeContents {
	c := fakeContents{}
	for _, p := range posts {
		c[p.ContentID] = &models.Content{ID: p.ContentID, Body: "body-" + p.ID.String()[:8]}
	}
	return c
}

// eventually polls cond until it is true or the timeout elapses.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
