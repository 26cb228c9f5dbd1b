package social

import "context"

// AuthRequest is the first leg of an OAuth1 handshake
type AuthRequest struct {
	RequestToken     string
	RequestSecret    string
	AuthorizationURL string
}

// LinkedAccount is the result of a completed handshake
type LinkedAccount struct {
	Credentials Credentials
	ScreenName  string
}

// Linker runs the OAuth1 handshake that connects a user to a platform account.
type Linker interface {
	Platform() string
	BeginAuthorization(ctx context.Context) (*AuthRequest, error)
	CompleteAuthorization(ctx context.Context, requestToken, requestSecret, verifier string) (*LinkedAccount, error)
}
