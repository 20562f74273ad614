package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dealdesk/envelope"
)

// NameSignWell identifies the hosted e-signature provider adapter.
const NameSignWell = "signwell"

// signwellEventStatus maps the provider's webhook vocabulary 1:1 onto the
// canonical statuses. Event types outside this table map to ERROR so a
// vocabulary gap is observable instead of silently assumed progress.
var signwellEventStatus = map[string]envelope.Status{
	"sent":       envelope.StatusSent,
	"viewed":     envelope.StatusViewed,
	"signed":     envelope.StatusPartiallySigned,
	"all_signed": envelope.StatusCompleted,
	"declined":   envelope.StatusDeclined,
	"canceled":   envelope.StatusVoided,
}

// SignWell talks to the hosted signing API.
type SignWell struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewSignWell(baseURL, apiKey string, client *http.Client) *SignWell {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SignWell{baseURL: baseURL, apiKey: apiKey, http: client}
}

func (s *SignWell) Name() string { return NameSignWell }

type signwellRecipient struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	SigningOrder int    `json:"signing_order"`
	Status       string `json:"status,omitempty"`
}

type signwellDocument struct {
	ID         string              `json:"id"`
	IsComplete bool                `json:"is_complete"`
	IsDeclined bool                `json:"is_declined"`
	IsCanceled bool                `json:"is_canceled"`
	Recipients []signwellRecipient `json:"recipients"`
}

// mapDocumentStatus folds the provider's completion flags and per-signer
// statuses into one canonical status.
func mapDocumentStatus(doc signwellDocument) envelope.Status {
	switch {
	case doc.IsComplete:
		return envelope.StatusCompleted
	case doc.IsDeclined:
		return envelope.StatusDeclined
	case doc.IsCanceled:
		return envelope.StatusVoided
	}
	for _, r := range doc.Recipients {
		if r.Status == "signed" {
			return envelope.StatusPartiallySigned
		}
	}
	return envelope.StatusSent
}

func (s *SignWell) CreateEnvelope(ctx context.Context, params envelope.CreateParams) (envelope.ProviderEnvelope, error) {
	type fileUpload struct {
		Name       string `json:"name"`
		FileBase64 string `json:"file_base64"`
	}
	reqBody := struct {
		Name       string              `json:"name"`
		Files      []fileUpload        `json:"files"`
		Recipients []signwellRecipient `json:"recipients"`
	}{Name: params.Subject}

	for _, doc := range params.Documents {
		reqBody.Files = append(reqBody.Files, fileUpload{
			Name:       doc.Title,
			FileBase64: base64.StdEncoding.EncodeToString(doc.Content),
		})
	}
	for _, rec := range params.Recipients {
		reqBody.Recipients = append(reqBody.Recipients, signwellRecipient{
			ID:           string(rec.Role),
			Name:         rec.Name,
			Email:        rec.Email,
			SigningOrder: rec.Order,
		})
	}

	var doc signwellDocument
	if err := s.do(ctx, http.MethodPost, "/documents", reqBody, &doc); err != nil {
		return envelope.ProviderEnvelope{}, err
	}
	if doc.ID == "" {
		return envelope.ProviderEnvelope{}, fmt.Errorf("provider: signwell create returned no document id")
	}
	return envelope.ProviderEnvelope{ProviderEnvelopeID: doc.ID, Status: mapDocumentStatus(doc)}, nil
}

func (s *SignWell) GetEnvelope(ctx context.Context, providerEnvelopeID string) (envelope.ProviderEnvelope, error) {
	var doc signwellDocument
	if err := s.do(ctx, http.MethodGet, "/documents/"+providerEnvelopeID, nil, &doc); err != nil {
		return envelope.ProviderEnvelope{}, err
	}

	out := envelope.ProviderEnvelope{
		ProviderEnvelopeID: providerEnvelopeID,
		Status:             mapDocumentStatus(doc),
	}
	if out.Status == envelope.StatusCompleted {
		artifact, err := s.fetchCompletedPDF(ctx, providerEnvelopeID)
		if err != nil {
			return envelope.ProviderEnvelope{}, err
		}
		out.Artifact = artifact
	}
	return out, nil
}

func (s *SignWell) VoidEnvelope(ctx context.Context, providerEnvelopeID, reason string) error {
	body := map[string]string{"reason": reason}
	return s.do(ctx, http.MethodPost, "/documents/"+providerEnvelopeID+"/cancel", body, nil)
}

// signwellWebhookPayload mirrors the provider's callback shape: an event
// block carrying the HMAC hash, and the document object it concerns.
type signwellWebhookPayload struct {
	Event struct {
		Type string `json:"type"`
		Time string `json:"time"`
		Hash string `json:"hash"`
	} `json:"event"`
	Data struct {
		Object signwellDocument `json:"object"`
	} `json:"data"`
}

// VerifyWebhook recomputes HMAC-SHA256 over event_time || event_type with
// the API key as secret and compares it against the hash in the payload. A
// mismatch or missing envelope id rejects the delivery without processing.
func (s *SignWell) VerifyWebhook(header http.Header, body []byte) (envelope.ProviderEvent, error) {
	var payload signwellWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return envelope.ProviderEvent{}, fmt.Errorf("%w: unparseable payload", envelope.ErrBadSignature)
	}
	if payload.Data.Object.ID == "" {
		return envelope.ProviderEvent{}, fmt.Errorf("%w: missing envelope id", envelope.ErrBadSignature)
	}

	mac := hmac.New(sha256.New, []byte(s.apiKey))
	mac.Write([]byte(payload.Event.Time + payload.Event.Type))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(payload.Event.Hash)) {
		return envelope.ProviderEvent{}, fmt.Errorf("%w: hash mismatch", envelope.ErrBadSignature)
	}

	status, ok := signwellEventStatus[payload.Event.Type]
	if !ok {
		status = envelope.StatusError
	}

	// The provider supplies no event id; derive a stable one so replays of
	// the same delivery dedup to the same idempotency key.
	sum := sha256.Sum256([]byte(payload.Data.Object.ID + "|" + payload.Event.Time + "|" + payload.Event.Type))
	eventID := hex.EncodeToString(sum[:16])

	return envelope.ProviderEvent{
		Provider:           NameSignWell,
		ProviderEnvelopeID: payload.Data.Object.ID,
		ProviderEventID:    eventID,
		EventType:          payload.Event.Type,
		Status:             status,
		Payload:            body,
		ReceivedAt:         time.Now().UTC(),
	}, nil
}

func (s *SignWell) fetchCompletedPDF(ctx context.Context, providerEnvelopeID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/documents/"+providerEnvelopeID+"/completed_pdf", nil)
	if err != nil {
		return nil, fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("X-Api-Key", s.apiKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: signwell completed pdf: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider: signwell returned %d fetching completed pdf", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *SignWell) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("provider: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("X-Api-Key", s.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider: signwell %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider: signwell returned %d for %s %s", resp.StatusCode, method, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("provider: decode signwell response: %w", err)
	}
	return nil
}
