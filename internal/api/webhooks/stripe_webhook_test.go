package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/content-scheduler/content-scheduler/internal/payments"
)

const stripeTestSecret = "whsec_handler_test"

var (
	paidPostA = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	paidPostB = uuid.MustParse("44444444-4444-4444-4444-444444444444")
)

var stripePostCols = []string{
	"id", "content_id", "user_id", "scheduled_time", "platform", "status", "checkout_session_id",
	"failure_reason", "external_id", "posted_at", "created_at", "updated_at",
}

type recordingStrategy struct {
	mu        sync.Mutex
	scheduled []uuid.UUID
	err       error
}

func (s *recordingStrategy) Name() string { return "recording" }
func (s *recordingStrategy) Start(context.Context) error { return nil }
func (s *recordingStrategy) Cancel(context.Context, uuid.UUID) error { return nil }
func (s *recordingStrategy) Shutdown() {}

func (s *recordingStrategy) Schedule(_ context.Context, id uuid.UUID, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.scheduled = append(s.scheduled, id)
	return nil
}

func signStripePayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeEvent(eventID, eventType, sessionID, paymentStatus string) []byte {
	return stripeEventForPosts(eventID, eventType, sessionID, paymentStatus, "")
}

func stripeEventForPosts(eventID, eventType, sessionID, paymentStatus, postIDs string) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "api_version": "2019-02-19",
  "type": %q,
  "data": {"object": {"id": %q, "object": "checkout.session", "payment_status": %q, "metadata": {"post_ids": %q}}}
}`, eventID, eventType, sessionID, paymentStatus, postIDs))
}

func newStripeRouter(t *testing.T, strategy *recordingStrategy) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := NewStripeWebhookHandler(sqlx.NewDb(db, "sqlmock"), payments.NewWebhookVerifier(stripeTestSecret), strategy)
	r := gin.New()
	r.POST("/webhooks/stripe", h.HandleWebhook)
	return mock, r
}

func deliver(r *gin.Engine, payload []byte, signature string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	r.ServeHTTP(w, req)
	return w
}

func paidRows(ids ...uuid.UUID) *sqlmock.Rows {
	rows := sqlmock.NewRows(stripePostCols)
	for _, id := range ids {
		rows.AddRow(id.String(), uuid.NewString(), nil, time.Now().Add(time.Hour), "twitter", "paid",
			"cs_test_1", nil, nil, nil, time.Now(), time.Now())
	}
	return rows
}

// ---------------------------------------------------------------------------
// Rejections
// ---------------------------------------------------------------------------

func TestStripeWebhook_InvalidSignatureTouchesNothing(t *testing.T) {
	payload := stripeEvent("evt_1", payments.EventCheckoutCompleted, "cs_test_1", "paid")
	tests := []struct {
		name      string
		signature string
	}{
		{"missing header", ""},
		{"wrong secret", signStripePayload(payload, "whsec_other")},
		{"garbage header", "t=abc,v1=zzz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strategy := &recordingStrategy{}
			mock, r := newStripeRouter(t, strategy)

			w := deliver(r, payload, tt.signature)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unexpected DB activity: %v", err)
			}
			if len(strategy.scheduled) != 0 {
				t.Error("no post should be registered")
			}
		})
	}
}

func TestStripeWebhook_SignedGarbage(t *testing.T) {
	mock, r := newStripeRouter(t, &recordingStrategy{})
	payload := []byte("not-json")

	w := deliver(r, payload, signStripePayload(payload, stripeTestSecret))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// ---------------------------------------------------------------------------
// Completed checkout
// ---------------------------------------------------------------------------

func TestStripeWebhook_PaidSessionRegistersLinkedPosts(t *testing.T) {
	strategy := &recordingStrategy{}
	mock, r := newStripeRouter(t, strategy)
	payload := stripeEvent("evt_1", payments.EventCheckoutCompleted, "cs_test_1", "paid")

	mock.ExpectExec("INSERT INTO payment_events").
		WithArgs("evt_1", payments.EventCheckoutCompleted, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("UPDATE scheduled_posts.*WHERE checkout_session_id").
		WithArgs("paid", sqlmock.AnyArg(), "cs_test_1", "pending").
		WillReturnRows(paidRows(paidPostA, paidPostB))
	mock.ExpectQuery("SELECT .+ FROM scheduled_posts.*WHERE checkout_session_id").
		WithArgs("cs_test_1", "paid").
		WillReturnRows(paidRows(paidPostA, paidPostB))

	w := deliver(r, payload, signStripePayload(payload, stripeTestSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if w.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", w.Body.String())
	}
	if len(strategy.scheduled) != 2 || strategy.scheduled[0] != paidPostA || strategy.scheduled[1] != paidPostB {
		t.Errorf("registered = %v, want [%s %s]", strategy.scheduled, paidPostA, paidPostB)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStripeWebhook_PaymentOnSupersededSessionStillClearsPosts(t *testing.T) {
	// paidPostA was checked out in cs_test_1, then again in cs_test_2, which
	// relinked it. The customer pays cs_test_1.
	strategy := &recordingStrategy{}
	mock, r := newStripeRouter(t, strategy)
	payload := stripeEventForPosts("evt_5", payments.EventCheckoutCompleted, "cs_test_1", "paid",
		payments.JoinPostIDs([]uuid.UUID{paidPostA}))

	mock.ExpectExec("INSERT INTO payment_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("UPDATE scheduled_posts.*WHERE checkout_session_id").
		WithArgs("paid", sqlmock.AnyArg(), "cs_test_1", "pending").
		WillReturnRows(sqlmock.NewRows(stripePostCols))
	mock.ExpectQuery("UPDATE scheduled_posts.*WHERE id = ANY").
		WithArgs("paid", "cs_test_1", sqlmock.AnyArg(), pq.Array([]string{paidPostA.String()}), "pending").
		WillReturnRows(paidRows(paidPostA))
	mock.ExpectQuery("SELECT .+ FROM scheduled_posts.*WHERE checkout_session_id").
		WithArgs("cs_test_1", "paid").
		WillReturnRows(paidRows(paidPostA))

	w := deliver(r, payload, signStripePayload(payload, stripeTestSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if len(strategy.scheduled) != 1 || strategy.scheduled[0] != paidPostA {
		t.Errorf("registered = %v, want [%s]", strategy.scheduled, paidPostA)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStripeWebhook_ReplayedEventIsAcknowledged(t *testing.T) {
	strategy := &recordingStrategy{}
	mock, r := newStripeRouter(t, strategy)
	payload := stripeEvent("evt_1", payments.EventCheckoutCompleted, "cs_test_1", "paid")

	mock.ExpectExec("INSERT INTO payment_events").WillReturnResult(sqlmock.NewResult(0, 0))

	w := deliver(r, payload, signStripePayload(payload, stripeTestSecret))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if len(strategy.scheduled) != 0 {
		t.Error("replayed event must not register posts")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStripeWebhook_IgnoredEvents(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"unpaid session", stripeEvent("evt_2", payments.EventCheckoutCompleted, "cs_test_1", "unpaid")},
		{"other event type", stripeEvent("evt_3", "checkout.session.expired", "cs_test_1", "unpaid")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, r := newStripeRouter(t, &recordingStrategy{})
			w := deliver(r, tt.payload, signStripePayload(tt.payload, stripeTestSecret))
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", w.Code)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestStripeWebhook_FailureForgetsEvent(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(sqlmock.Sqlmock)
		regErr error
	}{
		{
			name: "mark paid fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("UPDATE scheduled_posts").WillReturnError(errors.New("db down"))
			},
		},
		{
			name: "registration fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("UPDATE scheduled_posts").WillReturnRows(paidRows(paidPostA))
				mock.ExpectQuery("SELECT .+ FROM scheduled_posts").WillReturnRows(paidRows(paidPostA))
			},
			regErr: errors.New("dispatch_jobs unavailable"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, r := newStripeRouter(t, &recordingStrategy{err: tt.regErr})
			payload := stripeEvent("evt_9", payments.EventCheckoutCompleted, "cs_test_1", "paid")

			mock.ExpectExec("INSERT INTO payment_events").WillReturnResult(sqlmock.NewResult(1, 1))
			tt.setup(mock)
			mock.ExpectExec("DELETE FROM payment_events").WithArgs("evt_9").WillReturnResult(sqlmock.NewResult(0, 1))

			w := deliver(r, payload, signStripePayload(payload, stripeTestSecret))

			if w.Code != http.StatusInternalServerError {
				t.Errorf("status = %d, want 500", w.Code)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}
