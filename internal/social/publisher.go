// Package social defines the delivery boundary to social platforms: the
// Publisher interface each platform adapter implements, the registry the
// dispatcher resolves adapters from, and the OAuth1 account linking contract.
package social

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrUnknownPlatform is returned when no publisher is registered for a platform name.
	ErrUnknownPlatform = errors.New("unknown social platform")
	// ErrMissingCredentials is returned before any network call when the owner has
	// no linked account or the platform's application keys are not configured.
	ErrMissingCredentials = errors.New("missing social credentials")
)

// Credentials is a user's OAuth1 access token pair for one platform
type Credentials struct {
	Token  string
	Secret string
}

// Empty reports whether either half of the pair is missing.
func (c Credentials) Empty() bool {
	return c.Token == "" || c.Secret == ""
}

// PublishResult describes a successfully published post
type PublishResult struct {
	ExternalID string
	Text       string
}

// Publisher posts text to one platform on behalf of a user.
type Publisher interface {
	Platform() string
	Publish(ctx context.Context, creds Credentials, body string) (*PublishResult, error)
}

// APIError represents a non-success response from a platform API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform API returned %d: %s", e.StatusCode, e.Message)
}

// Truncate shortens s to at most limit runes. Strings within the limit are
// returned unchanged.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
