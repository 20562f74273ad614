package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"dealdesk/envelope"
)

func signwellHash(apiKey, eventTime, eventType string) string {
	mac := hmac.New(sha256.New, []byte(apiKey))
	mac.Write([]byte(eventTime + eventType))
	return hex.EncodeToString(mac.Sum(nil))
}

func signwellWebhookBody(t *testing.T, apiKey, envelopeID, eventTime, eventType string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": map[string]string{
			"type": eventType,
			"time": eventTime,
			"hash": signwellHash(apiKey, eventTime, eventType),
		},
		"data": map[string]any{
			"object": map[string]any{"id": envelopeID},
		},
	})
	if err != nil {
		t.Fatalf("marshal webhook body: %v", err)
	}
	return body
}

func TestSignWellCreateEnvelope(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/documents" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("X-Api-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "sw_123"})
	}))
	defer srv.Close()

	sw := NewSignWell(srv.URL, "key_abc", srv.Client())
	created, err := sw.CreateEnvelope(context.Background(), envelope.CreateParams{
		DealID:  "deal_1",
		Subject: "Deal deal_1 signing packet",
		Documents: []envelope.Document{
			{DocType: "BUYERS_ORDER", Title: "Buyer's Order", Content: []byte("pdf bytes")},
		},
		Recipients: []envelope.Recipient{
			{Role: envelope.RoleBuyer, Name: "Pat Alvarez", Email: "pat@example.com", Order: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateEnvelope: %v", err)
	}
	if created.ProviderEnvelopeID != "sw_123" {
		t.Fatalf("provider envelope id = %q, want sw_123", created.ProviderEnvelopeID)
	}
	if created.Status != envelope.StatusSent {
		t.Fatalf("status = %s, want SENT", created.Status)
	}
	if gotAuth != "key_abc" {
		t.Fatalf("api key header = %q", gotAuth)
	}
	files, _ := gotBody["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("files in request = %d, want 1", len(files))
	}
}

func TestSignWellCreateEnvelopeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	sw := NewSignWell(srv.URL, "key_abc", srv.Client())
	_, err := sw.CreateEnvelope(context.Background(), envelope.CreateParams{})
	if err == nil {
		t.Fatal("expected error for 422 response")
	}
}

func TestSignWellGetEnvelopeStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		doc  map[string]any
		want envelope.Status
	}{
		{"sent", map[string]any{"id": "sw_1"}, envelope.StatusSent},
		{"partially signed", map[string]any{
			"id": "sw_1",
			"recipients": []map[string]any{
				{"id": "buyer", "status": "signed"},
				{"id": "co_buyer", "status": "sent"},
			},
		}, envelope.StatusPartiallySigned},
		{"declined", map[string]any{"id": "sw_1", "is_declined": true}, envelope.StatusDeclined},
		{"canceled", map[string]any{"id": "sw_1", "is_canceled": true}, envelope.StatusVoided},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tc.doc)
			}))
			defer srv.Close()

			sw := NewSignWell(srv.URL, "key_abc", srv.Client())
			got, err := sw.GetEnvelope(context.Background(), "sw_1")
			if err != nil {
				t.Fatalf("GetEnvelope: %v", err)
			}
			if got.Status != tc.want {
				t.Fatalf("status = %s, want %s", got.Status, tc.want)
			}
		})
	}
}

func TestSignWellGetEnvelopeCompletedFetchesArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/documents/sw_1":
			json.NewEncoder(w).Encode(map[string]any{"id": "sw_1", "is_complete": true})
		case "/documents/sw_1/completed_pdf":
			fmt.Fprint(w, "signed pdf bytes")
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	sw := NewSignWell(srv.URL, "key_abc", srv.Client())
	got, err := sw.GetEnvelope(context.Background(), "sw_1")
	if err != nil {
		t.Fatalf("GetEnvelope: %v", err)
	}
	if got.Status != envelope.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	if string(got.Artifact) != "signed pdf bytes" {
		t.Fatalf("artifact = %q", got.Artifact)
	}
}

func TestSignWellVoidEnvelope(t *testing.T) {
	var gotReason string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/documents/sw_1/cancel" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotReason = body["reason"]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sw := NewSignWell(srv.URL, "key_abc", srv.Client())
	if err := sw.VoidEnvelope(context.Background(), "sw_1", "deal restructured"); err != nil {
		t.Fatalf("VoidEnvelope: %v", err)
	}
	if gotReason != "deal restructured" {
		t.Fatalf("reason sent = %q", gotReason)
	}
}

func TestSignWellVerifyWebhook(t *testing.T) {
	sw := NewSignWell("http://unused", "key_abc", nil)

	body := signwellWebhookBody(t, "key_abc", "sw_1", "1724900000", "all_signed")
	event, err := sw.VerifyWebhook(http.Header{}, body)
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if event.Provider != NameSignWell {
		t.Fatalf("provider = %q", event.Provider)
	}
	if event.ProviderEnvelopeID != "sw_1" {
		t.Fatalf("envelope id = %q", event.ProviderEnvelopeID)
	}
	if event.Status != envelope.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", event.Status)
	}
	if event.ProviderEventID == "" {
		t.Fatal("expected a derived event id")
	}

	// The same delivery always derives the same event id.
	again, err := sw.VerifyWebhook(http.Header{}, body)
	if err != nil {
		t.Fatalf("VerifyWebhook replay: %v", err)
	}
	if again.ProviderEventID != event.ProviderEventID {
		t.Fatalf("event ids differ across replays: %q vs %q", again.ProviderEventID, event.ProviderEventID)
	}
}

func TestSignWellVerifyWebhookEventTypeMapping(t *testing.T) {
	sw := NewSignWell("http://unused", "key_abc", nil)

	cases := []struct {
		eventType string
		want      envelope.Status
	}{
		{"sent", envelope.StatusSent},
		{"viewed", envelope.StatusViewed},
		{"signed", envelope.StatusPartiallySigned},
		{"all_signed", envelope.StatusCompleted},
		{"declined", envelope.StatusDeclined},
		{"canceled", envelope.StatusVoided},
		{"something_new", envelope.StatusError},
	}
	for _, tc := range cases {
		body := signwellWebhookBody(t, "key_abc", "sw_1", "1724900000", tc.eventType)
		event, err := sw.VerifyWebhook(http.Header{}, body)
		if err != nil {
			t.Fatalf("VerifyWebhook(%s): %v", tc.eventType, err)
		}
		if event.Status != tc.want {
			t.Errorf("event type %s mapped to %s, want %s", tc.eventType, event.Status, tc.want)
		}
	}
}

func TestSignWellVerifyWebhookRejectsBadHash(t *testing.T) {
	sw := NewSignWell("http://unused", "key_abc", nil)

	// Signed with a different key.
	body := signwellWebhookBody(t, "wrong_key", "sw_1", "1724900000", "viewed")
	_, err := sw.VerifyWebhook(http.Header{}, body)
	if !errors.Is(err, envelope.ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestSignWellVerifyWebhookRejectsGarbage(t *testing.T) {
	sw := NewSignWell("http://unused", "key_abc", nil)

	for _, body := range [][]byte{
		[]byte("not json"),
		signwellWebhookBody(t, "key_abc", "", "1724900000", "viewed"),
	} {
		if _, err := sw.VerifyWebhook(http.Header{}, body); !errors.Is(err, envelope.ErrBadSignature) {
			t.Fatalf("body %q: err = %v, want ErrBadSignature", body, err)
		}
	}
}
