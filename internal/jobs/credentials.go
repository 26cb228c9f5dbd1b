package jobs

import (
	"context"
	"fmt"

	"github.com/content-scheduler/content-scheduler/internal/crypto"
	"github.com/content-scheduler/content-scheduler/internal/db/models"
	"github.com/content-scheduler/content-scheduler/internal/social"
)

// CredentialResolver finds the platform credentials a post is published with.
// It returns social.ErrMissingCredentials when the post cannot be published as
// anyone.
type CredentialResolver interface {
	Resolve(ctx context.Context, post *models.ScheduledPost) (social.Credentials, error)
}

// OwnerCredentials resolves a post's credentials from its owner's sealed token pair
type OwnerCredentials struct {
	users  UserStore
	cipher *crypto.TokenCipher
}

// NewOwnerCredentials creates a resolver that opens tokens with cipher
func NewOwnerCredentials(users UserStore, cipher *crypto.TokenCipher) *OwnerCredentials {
	return &OwnerCredentials{users: users, cipher: cipher}
}

// Resolve returns the owner's opened token pair
func (o *OwnerCredentials) Resolve(ctx context.Context, post *models.ScheduledPost) (social.Credentials, error) {
	if post.UserID == nil {
		return social.Credentials{}, fmt.Errorf("%w: post has no owner", social.ErrMissingCredentials)
	}

	user, err := o.users.GetByID(ctx, *post.UserID)
	if err != nil {
		return social.Credentials{}, err
	}
	if user == nil || !user.HasSocialCredentials() {
		return social.Credentials{}, fmt.Errorf("%w: owner has not linked an account", social.ErrMissingCredentials)
	}

	token, secret, err := o.cipher.OpenPair(*user.SocialAccessToken, *user.SocialAccessSecret)
	if err != nil {
		return social.Credentials{}, fmt.Errorf("%w: stored tokens could not be opened: %v", social.ErrMissingCredentials, err)
	}

	creds := social.Credentials{Token: token, Secret: secret}
	if creds.Empty() {
		return social.Credentials{}, social.ErrMissingCredentials
	}
	return creds, nil
}
