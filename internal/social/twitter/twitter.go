// Package twitter implements social.Publisher and social.Linker for Twitter/X.
// Requests are signed with OAuth1 user context; tweets are created through the
// v2 API and the account link uses the three-legged request/authorize/access
// token flow.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dghubble/oauth1"

	"github.com/content-scheduler/content-scheduler/internal/config"
	"github.com/content-scheduler/content-scheduler/internal/social"
)

const (
	// Platform is the registry name for this adapter
	Platform = "twitter"
	// MaxTweetLength is the character limit applied before posting
	MaxTweetLength = 280
)

var (
	_ social.Publisher = (*Client)(nil)
	_ social.Linker    = (*Client)(nil)
)

// Client posts tweets and links accounts for one Twitter application
type Client struct {
	cfg        config.TwitterConfig
	oauth      *oauth1.Config
	apiBaseURL string
}

// New creates a Client from the application settings
func New(cfg config.TwitterConfig) *Client {
	return &Client{
		cfg: cfg,
		oauth: &oauth1.Config{
			ConsumerKey:    cfg.ConsumerKey,
			ConsumerSecret: cfg.ConsumerSecret,
			CallbackURL:    cfg.CallbackURL,
			Endpoint: oauth1.Endpoint{
				RequestTokenURL: cfg.RequestTokenURL,
				AuthorizeURL:    cfg.AuthorizeURL,
				AccessTokenURL:  cfg.AccessTokenURL,
			},
		},
		apiBaseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
	}
}

// Platform returns the registry name
func (c *Client) Platform() string {
	return Platform
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type apiErrorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Publish posts body as a tweet, truncated to MaxTweetLength characters.
// Missing application keys or user tokens fail before any request is made.
func (c *Client) Publish(ctx context.Context, creds social.Credentials, body string) (*social.PublishResult, error) {
	if !c.cfg.Enabled() || creds.Empty() {
		return nil, social.ErrMissingCredentials
	}

	text := social.Truncate(body, MaxTweetLength)
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("twitter: encode tweet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/2/tweets", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("twitter: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.oauth.Client(ctx, oauth1.NewToken(creds.Token, creds.Secret))
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twitter: post tweet: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &social.APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	var result tweetResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("twitter: decode tweet response: %w", err)
	}
	if result.Data.ID == "" {
		return nil, fmt.Errorf("twitter: response did not include a tweet id")
	}

	return &social.PublishResult{ExternalID: result.Data.ID, Text: result.Data.Text}, nil
}

func errorMessage(body []byte) string {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil {
		switch {
		case apiErr.Detail != "":
			return apiErr.Detail
		case len(apiErr.Errors) > 0 && apiErr.Errors[0].Message != "":
			return apiErr.Errors[0].Message
		case apiErr.Title != "":
			return apiErr.Title
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "empty response"
	}
	return msg
}

// BeginAuthorization obtains a request token and the URL the user must visit
func (c *Client) BeginAuthorization(ctx context.Context) (*social.AuthRequest, error) {
	if !c.cfg.Enabled() {
		return nil, social.ErrMissingCredentials
	}

	requestToken, requestSecret, err := c.oauth.RequestToken()
	if err != nil {
		return nil, fmt.Errorf("twitter: request token: %w", err)
	}

	authURL, err := c.oauth.AuthorizationURL(requestToken)
	if err != nil {
		return nil, fmt.Errorf("twitter: authorization url: %w", err)
	}

	return &social.AuthRequest{
		RequestToken:     requestToken,
		RequestSecret:    requestSecret,
		AuthorizationURL: authURL.String(),
	}, nil
}

// CompleteAuthorization exchanges the verified request token for the user's
// access token pair. The screen name is looked up on a best-effort basis.
func (c *Client) CompleteAuthorization(ctx context.Context, requestToken, requestSecret, verifier string) (*social.LinkedAccount, error) {
	if !c.cfg.Enabled() {
		return nil, social.ErrMissingCredentials
	}

	accessToken, accessSecret, err := c.oauth.AccessToken(requestToken, requestSecret, verifier)
	if err != nil {
		return nil, fmt.Errorf("twitter: access token: %w", err)
	}

	account := &social.LinkedAccount{
		Credentials: social.Credentials{Token: accessToken, Secret: accessSecret},
	}

	screenName, err := c.lookupScreenName(ctx, account.Credentials)
	if err != nil {
		slog.Warn("twitter: could not look up screen name", "error", err)
	}
	account.ScreenName = screenName

	return account, nil
}

func (c *Client) lookupScreenName(ctx context.Context, creds social.Credentials) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+"/2/users/me", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.oauth.Client(ctx, oauth1.NewToken(creds.Token, creds.Secret)).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("users/me returned %d", resp.StatusCode)
	}

	var me struct {
		Data struct {
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return "", err
	}
	return me.Data.Username, nil
}
