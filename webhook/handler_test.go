package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"dealdesk/envelope"
	"dealdesk/provider"
)

type fakeApplier struct {
	applied []envelope.ProviderEvent
	err     error
}

func (f *fakeApplier) ApplyWebhookEvent(ctx context.Context, event envelope.ProviderEvent) error {
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, event)
	return nil
}

func newTestRouter(applier EventApplier) http.Handler {
	stub := provider.NewStub(provider.NewStubStore(), false)
	h := NewHandler(provider.NewRegistry(stub), applier, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	r.Post("/webhooks/{provider}", h.ServeHTTP)
	return r
}

func signwellSignedBody(t *testing.T, apiKey, envelopeID, eventTime, eventType string) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(apiKey))
	mac.Write([]byte(eventTime + eventType))
	body, err := json.Marshal(map[string]any{
		"event": map[string]string{
			"type": eventType,
			"time": eventTime,
			"hash": hex.EncodeToString(mac.Sum(nil)),
		},
		"data": map[string]any{
			"object": map[string]any{"id": envelopeID},
		},
	})
	if err != nil {
		t.Fatalf("marshal webhook body: %v", err)
	}
	return string(body)
}

func stubEvent(envelopeID, eventID, status string) string {
	return fmt.Sprintf(`{"provider_envelope_id":%q,"event_type":"status","status":%q,"event_id":%q}`,
		envelopeID, status, eventID)
}

func TestWebhookAppliesVerifiedEvent(t *testing.T) {
	applier := &fakeApplier{}
	router := newTestRouter(applier)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stub",
		strings.NewReader(stubEvent("stub_1", "evt_1", "VIEWED")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(applier.applied) != 1 {
		t.Fatalf("applied %d events, want 1", len(applier.applied))
	}
	if applier.applied[0].Status != envelope.StatusViewed {
		t.Fatalf("applied status = %s", applier.applied[0].Status)
	}

	var ack map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("ack not json: %v", err)
	}
	if ack["status"] != "accepted" {
		t.Fatalf("ack = %v", ack)
	}
}

func TestWebhookUnknownProviderIs404(t *testing.T) {
	applier := &fakeApplier{}
	router := newTestRouter(applier)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/docusign",
		strings.NewReader(stubEvent("stub_1", "evt_1", "VIEWED")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if len(applier.applied) != 0 {
		t.Fatal("no event should have been applied")
	}
}

func TestWebhookRejectedVerificationIs401AndNoApply(t *testing.T) {
	applier := &fakeApplier{}
	router := newTestRouter(applier)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stub",
		strings.NewReader("not json at all"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(applier.applied) != 0 {
		t.Fatal("rejected webhook must not reach the service")
	}
}

func TestWebhookUnknownEnvelopeIsAcked(t *testing.T) {
	applier := &fakeApplier{err: envelope.ErrEnvelopeNotFound}
	router := newTestRouter(applier)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stub",
		strings.NewReader(stubEvent("stub_ghost", "evt_1", "VIEWED")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 ack", rec.Code)
	}
}

func TestWebhookApplyFailureIs500(t *testing.T) {
	applier := &fakeApplier{err: fmt.Errorf("db down")}
	router := newTestRouter(applier)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stub",
		strings.NewReader(stubEvent("stub_1", "evt_1", "VIEWED")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestWebhookSignWellAckIsLiteralOK(t *testing.T) {
	applier := &fakeApplier{}
	// Register a signwell adapter so the route resolves; the delivery body
	// is signed with the same api key the adapter holds.
	sw := provider.NewSignWell("http://unused", "key_abc", nil)
	h := NewHandler(provider.NewRegistry(sw), applier, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	r.Post("/webhooks/{provider}", h.ServeHTTP)

	body := signwellSignedBody(t, "key_abc", "sw_1", "1724900000", "viewed")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/signwell", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if rec.Body.String() != "OK" {
		t.Fatalf("ack body = %q, want OK", rec.Body.String())
	}
}
