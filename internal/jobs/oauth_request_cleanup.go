// oauth_request_cleanup.go implements OAuthRequestCleanup, which purges OAuth1
// request tokens whose handshake was abandoned before the callback.
package jobs

import (
	"context"
	"log"
	"time"
)

// OAuthRequestPurger deletes request tokens created before a cutoff
type OAuthRequestPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// OAuthRequestCleanup periodically removes stale OAuth1 request tokens.
type OAuthRequestCleanup struct {
	requests OAuthRequestPurger
	interval time.Duration
	maxAge   time.Duration
	stopChan chan struct{}
}

// NewOAuthRequestCleanup creates the job. Tokens older than maxAge (default 1h)
// are removed every interval (default 15m).
func NewOAuthRequestCleanup(requests OAuthRequestPurger, interval, maxAge time.Duration) *OAuthRequestCleanup {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &OAuthRequestCleanup{
		requests: requests,
		interval: interval,
		maxAge:   maxAge,
		stopChan: make(chan struct{}),
	}
}

// Start runs the cleanup loop until ctx is cancelled or Stop is called.
// It runs once immediately.
func (c *OAuthRequestCleanup) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	log.Printf("OAuth request cleanup started (interval: %v, max age: %v)", c.interval, c.maxAge)

	c.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			c.runOnce(ctx)
		case <-c.stopChan:
			log.Println("OAuth request cleanup stopped")
			return
		case <-ctx.Done():
			log.Println("OAuth request cleanup context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit.
func (c *OAuthRequestCleanup) Stop() {
	close(c.stopChan)
}

func (c *OAuthRequestCleanup) runOnce(ctx context.Context) {
	removed, err := c.requests.DeleteOlderThan(ctx, time.Now().Add(-c.maxAge))
	if err != nil {
		log.Printf("OAuth request cleanup: failed to purge stale requests: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("OAuth request cleanup: removed %d stale request token(s)", removed)
	}
}
