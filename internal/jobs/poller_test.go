package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/content-scheduler/content-scheduler/internal/db/models"
	"github.com/content-scheduler/content-scheduler/internal/social"
)

func TestPoller_SweepDispatchesDuePostsOnce(t *testing.T) {
	due := []*models.ScheduledPost{
		newPost(models.PostStatusPaid, time.Now().Add(-3*time.Minute)),
		newPost(models.PostStatusPaid, time.Now().Add(-2*time.Minute)),
		newPost(models.PostStatusPaid, time.Now().Add(-time.Minute)),
	}
	future := newPost(models.PostStatusPaid, time.Now().Add(time.Hour))
	unpaid := newPost(models.PostStatusPending, time.Now().Add(-time.Hour))

	all := append(append([]*models.ScheduledPost{}, due...), future, unpaid)
	posts := newFakePosts(all...)
	pub := &fakePublisher{platform: "twitter"}
	d := NewDispatcher(posts, contentsFor(all...), validCreds, social.NewRegistry(pub), testDispatchConfig(), true)
	p := NewPoller(posts, d, time.Hour, 100)

	assert.Equal(t, 3, p.Sweep(context.Background()))
	assert.Equal(t, 0, p.Sweep(context.Background()))
	assert.Equal(t, int32(3), pub.calls.Load())

	for _, post := range due {
		assert.Equal(t, models.PostStatusPosted, posts.status(post.ID))
	}
	assert.Equal(t, models.PostStatusPaid, posts.status(future.ID))
	assert.Equal(t, models.PostStatusPending, posts.status(unpaid.ID))
}

func TestPoller_BatchSizeBoundsSweep(t *testing.T) {
	var all []*models.ScheduledPost
	for i := 0; i < 5; i++ {
		all = append(all, newPost(models.PostStatusPaid, time.Now().Add(-time.Duration(i+1)*time.Minute)))
	}
	posts := newFakePosts(all...)
	pub := &fakePublisher{platform: "twitter"}
	d := NewDispatcher(posts, contentsFor(all...), validCreds, social.NewRegistry(pub), testDispatchConfig(), true)
	p := NewPoller(posts, d, time.Hour, 2)

	assert.Equal(t, 2, p.Sweep(context.Background()))
	// Oldest first.
	assert.Equal(t, models.PostStatusPosted, posts.status(all[4].ID))
	assert.Equal(t, models.PostStatusPosted, posts.status(all[3].ID))
	assert.Equal(t, models.PostStatusPaid, posts.status(all[0].ID))
}

func TestPoller_ListErrorIsLogged(t *testing.T) {
	posts := newFakePosts()
	posts.listErr = errors.New("db down")
	d := NewDispatcher(posts, fakeContents{}, validCreds, social.NewRegistry(), testDispatchConfig(), true)

	assert.Equal(t, 0, NewPoller(posts, d, time.Hour, 10).Sweep(context.Background()))
}

func TestPoller_StartSweepsImmediately(t *testing.T) {
	post := newPost(models.PostStatusPending, time.Now().Add(-time.Second))
	posts := newFakePosts(post)
	pub := &fakePublisher{platform: "twitter"}
	d := NewDispatcher(posts, contentsFor(post), validCreds, social.NewRegistry(pub), testDispatchConfig(), false)
	p := NewPoller(posts, d, time.Hour, 10)

	require.NoError(t, p.Start(context.Background()))
	eventually(t, 2*time.Second, func() bool { return posts.status(post.ID) == models.PostStatusPosted }, "first sweep ran")

	done := make(chan struct{})
	go func() {
		p.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return")
	}
}

func TestPoller_DefaultsAndNoops(t *testing.T) {
	p := NewPoller(newFakePosts(), nil, 0, 0)
	assert.Equal(t, 60*time.Second, p.interval)
	assert.Equal(t, 100, p.batchSize)
	assert.Equal(t, StrategyPolling, p.Name())
	assert.NoError(t, p.Schedule(context.Background(), uuid.New(), time.Now()))
	assert.NoError(t, p.Cancel(context.Background(), uuid.New()))
	p.Shutdown() // never started
}

func TestPoller_UngatedSweepResumesClaimedPosts(t *testing.T) {
	pending := newPost(models.PostStatusPending, time.Now().Add(-2*time.Minute))
	claimed := newPost(models.PostStatusPaid, time.Now().Add(-time.Minute))
	posts := newFakePosts(pending, claimed)
	pub := &fakePublisher{platform: "twitter"}
	d := NewDispatcher(posts, contentsFor(pending, claimed), validCreds, social.NewRegistry(pub), testDispatchConfig(), false)

	assert.Equal(t, 2, NewPoller(posts, d, time.Hour, 10).Sweep(context.Background()))
	assert.Equal(t, models.PostStatusPosted, posts.status(pending.ID))
	assert.Equal(t, models.PostStatusPosted, posts.status(claimed.ID))
}

func TestPoller_StartTwiceRunsOneLoop(t *testing.T) {
	posts := newFakePosts()
	d := NewDispatcher(posts, fakeContents{}, validCreds, social.NewRegistry(), testDispatchConfig(), true)
	p := NewPoller(posts, d, time.Hour, 10)

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		p.Shutdown()
		p.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return")
	}
}
