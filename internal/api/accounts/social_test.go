package accounts

import (
	"context"
	"database/sql/driver"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/content-scheduler/content-scheduler/internal/crypto"
	"github.com/content-scheduler/content-scheduler/internal/db/models"
	"github.com/content-scheduler/content-scheduler/internal/middleware"
	"github.com/content-scheduler/content-scheduler/internal/social"
)

type fakeLinker struct {
	beginErr    error
	completeErr error

	gotToken, gotSecret, gotVerifier string
}

func (f *fakeLinker) Platform() string { return "twitter" }

func (f *fakeLinker) BeginAuthorization(ctx context.Context) (*social.AuthRequest, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return &social.AuthRequest{
		RequestToken:     "req-tok",
		RequestSecret:    "req-secret",
		AuthorizationURL: "https://api.twitter.example/oauth/authorize?oauth_token=req-tok",
	}, nil
}

func (f *fakeLinker) CompleteAuthorization(ctx context.Context, requestToken, requestSecret, verifier string) (*social.LinkedAccount, error) {
	f.gotToken, f.gotSecret, f.gotVerifier = requestToken, requestSecret, verifier
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &social.LinkedAccount{
		Credentials: social.Credentials{Token: "access-tok", Secret: "access-sec"},
		ScreenName:  "alice_tw",
	}, nil
}

func newTestCipher(t *testing.T) *crypto.TokenCipher {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cipher, err := crypto.NewTokenCipher(key)
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}
	return cipher
}

func newSocialRouter(t *testing.T, linker *fakeLinker, authenticated bool) (sqlmock.Sqlmock, *crypto.TokenCipher, *gin.Engine) {
	t.Helper()
	db, mock := newMockDB(t)
	cipher := newTestCipher(t)
	h := NewSocialHandlers(db, linker, cipher)

	r := gin.New()
	if authenticated {
		r.Use(func(c *gin.Context) {
			c.Set(middleware.UserKey, &models.User{ID: testUserID})
			c.Set(middleware.UserIDKey, testUserID)
		})
	}
	r.POST("/social/connect", h.ConnectHandler())
	r.GET("/social/callback", h.CallbackHandler())
	r.DELETE("/social/account", h.UnlinkHandler())
	return mock, cipher, r
}

func serve(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

// ---------------------------------------------------------------------------
// ConnectHandler
// ---------------------------------------------------------------------------

func TestConnect_StoresSealedRequestSecret(t *testing.T) {
	mock, cipher, r := newSocialRouter(t, &fakeLinker{}, true)

	var stored string
	mock.ExpectExec("INSERT INTO social_oauth_requests").
		WithArgs("req-tok", sealedArg{cipher: cipher, want: "req-secret", got: &stored}, testUserID, "twitter", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := serve(r, http.MethodPost, "/social/connect")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "oauth_token=req-tok") {
		t.Errorf("body = %s, want authorization_url", w.Body.String())
	}
	if stored == "req-secret" {
		t.Error("request secret stored in plaintext")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// sealedArg matches a sealed value that opens to want.
type sealedArg struct {
	cipher *crypto.TokenCipher
	want   string
	got    *string
}

func (a sealedArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	*a.got = s
	plain, err := a.cipher.Open(s)
	return err == nil && plain == a.want
}

func TestConnect_Errors(t *testing.T) {
	tests := []struct {
		name          string
		authenticated bool
		beginErr      error
		wantStatus    int
	}{
		{"anonymous", false, nil, http.StatusUnauthorized},
		{"not configured", true, social.ErrMissingCredentials, http.StatusServiceUnavailable},
		{"platform failure", true, errors.New("twitter: request token: 500"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, _, r := newSocialRouter(t, &fakeLinker{beginErr: tt.beginErr}, tt.authenticated)
			w := serve(r, http.MethodPost, "/social/connect")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// CallbackHandler
// ---------------------------------------------------------------------------

var oauthRequestCols = []string{"request_token", "request_secret", "user_id", "platform", "created_at"}

func TestCallback_LinksAccount(t *testing.T) {
	linker := &fakeLinker{}
	mock, cipher, r := newSocialRouter(t, linker, false)

	sealed, err := cipher.Seal("req-secret")
	if err != nil {
		t.Fatal(err)
	}
	mock.ExpectQuery("DELETE FROM social_oauth_requests").
		WithArgs("req-tok").
		WillReturnRows(sqlmock.NewRows(oauthRequestCols).
			AddRow("req-tok", sealed, testUserID.String(), "twitter", time.Now()))
	var storedTok, storedSec string
	mock.ExpectExec("UPDATE users").
		WithArgs(
			sealedArg{cipher: cipher, want: "access-tok", got: &storedTok},
			sealedArg{cipher: cipher, want: "access-sec", got: &storedSec},
			"alice_tw", sqlmock.AnyArg(), testUserID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := serve(r, http.MethodGet, "/social/callback?oauth_token=req-tok&oauth_verifier=v123")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if linker.gotSecret != "req-secret" || linker.gotVerifier != "v123" {
		t.Errorf("linker got secret=%q verifier=%q", linker.gotSecret, linker.gotVerifier)
	}
	if !strings.Contains(w.Body.String(), "alice_tw") {
		t.Errorf("body = %s, want screen_name", w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCallback_RejectsBadRequests(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"denied", "?denied=req-tok"},
		{"missing token", "?oauth_verifier=v"},
		{"missing verifier", "?oauth_token=req-tok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, _, r := newSocialRouter(t, &fakeLinker{}, false)
			w := serve(r, http.MethodGet, "/social/callback"+tt.query)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestCallback_UnknownRequestToken(t *testing.T) {
	linker := &fakeLinker{}
	mock, _, r := newSocialRouter(t, linker, false)
	mock.ExpectQuery("DELETE FROM social_oauth_requests").WillReturnRows(sqlmock.NewRows(oauthRequestCols))

	w := serve(r, http.MethodGet, "/social/callback?oauth_token=stale&oauth_verifier=v")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if linker.gotToken != "" {
		t.Error("CompleteAuthorization should not be called for an unknown token")
	}
}

func TestCallback_PlatformFailure(t *testing.T) {
	mock, cipher, r := newSocialRouter(t, &fakeLinker{completeErr: errors.New("401 invalid verifier")}, false)
	sealed, _ := cipher.Seal("req-secret")
	mock.ExpectQuery("DELETE FROM social_oauth_requests").
		WillReturnRows(sqlmock.NewRows(oauthRequestCols).
			AddRow("req-tok", sealed, testUserID.String(), "twitter", time.Now()))

	w := serve(r, http.MethodGet, "/social/callback?oauth_token=req-tok&oauth_verifier=bad")

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// ---------------------------------------------------------------------------
// UnlinkHandler
// ---------------------------------------------------------------------------

func TestUnlink(t *testing.T) {
	mock, _, r := newSocialRouter(t, &fakeLinker{}, true)
	mock.ExpectExec("UPDATE users").
		WithArgs(sqlmock.AnyArg(), testUserID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := serve(r, http.MethodDelete, "/social/account")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUnlink_Anonymous(t *testing.T) {
	_, _, r := newSocialRouter(t, &fakeLinker{}, false)

	w := serve(r, http.MethodDelete, "/social/account")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
