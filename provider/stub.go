package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"dealdesk/envelope"
)

// NameStub identifies the in-process deterministic provider used for
// offline development and tests.
const NameStub = "stub"

type stubEnvelope struct {
	status   envelope.Status
	artifact []byte
}

// StubStore holds stub envelope state. It is injected rather than package
// level so each test run owns an isolated lifetime.
type StubStore struct {
	mu        sync.Mutex
	envelopes map[string]*stubEnvelope
}

func NewStubStore() *StubStore {
	return &StubStore{envelopes: map[string]*stubEnvelope{}}
}

// SetStatus overrides a stub envelope's status; tests use it to simulate
// provider-side progress between calls.
func (s *StubStore) SetStatus(providerEnvelopeID string, status envelope.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envelopes[providerEnvelopeID]
	if !ok {
		return fmt.Errorf("provider: stub envelope %s not found", providerEnvelopeID)
	}
	env.status = status
	return nil
}

// Stub is the deterministic in-process signing provider. With AutoComplete
// enabled every created envelope reports COMPLETED synchronously; otherwise
// creation reports SENT and progress is driven by webhooks or SetStatus.
type Stub struct {
	store        *StubStore
	autoComplete bool
}

func NewStub(store *StubStore, autoComplete bool) *Stub {
	return &Stub{store: store, autoComplete: autoComplete}
}

func (s *Stub) Name() string { return NameStub }

func (s *Stub) CreateEnvelope(ctx context.Context, params envelope.CreateParams) (envelope.ProviderEnvelope, error) {
	id := "stub_" + uuid.NewString()

	status := envelope.StatusSent
	var artifact []byte
	if s.autoComplete {
		status = envelope.StatusCompleted
		for _, doc := range params.Documents {
			artifact = append(artifact, doc.Content...)
		}
	}

	s.store.mu.Lock()
	s.store.envelopes[id] = &stubEnvelope{status: status, artifact: artifact}
	s.store.mu.Unlock()

	return envelope.ProviderEnvelope{ProviderEnvelopeID: id, Status: status, Artifact: artifact}, nil
}

func (s *Stub) GetEnvelope(ctx context.Context, providerEnvelopeID string) (envelope.ProviderEnvelope, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	env, ok := s.store.envelopes[providerEnvelopeID]
	if !ok {
		return envelope.ProviderEnvelope{}, fmt.Errorf("provider: stub envelope %s not found", providerEnvelopeID)
	}
	return envelope.ProviderEnvelope{
		ProviderEnvelopeID: providerEnvelopeID,
		Status:             env.status,
		Artifact:           env.artifact,
	}, nil
}

func (s *Stub) VoidEnvelope(ctx context.Context, providerEnvelopeID, reason string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	env, ok := s.store.envelopes[providerEnvelopeID]
	if !ok {
		return fmt.Errorf("provider: stub envelope %s not found", providerEnvelopeID)
	}
	env.status = envelope.StatusVoided
	return nil
}

// stubWebhookPayload is the plain JSON the stub accepts. No cryptographic
// check: the stub endpoint is not provider-reachable in production.
type stubWebhookPayload struct {
	ProviderEnvelopeID string `json:"provider_envelope_id"`
	EventType          string `json:"event_type"`
	Status             string `json:"status"`
	EventID            string `json:"event_id"`
}

func (s *Stub) VerifyWebhook(header http.Header, body []byte) (envelope.ProviderEvent, error) {
	var payload stubWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return envelope.ProviderEvent{}, fmt.Errorf("%w: bad stub payload", envelope.ErrBadSignature)
	}
	if payload.ProviderEnvelopeID == "" || payload.EventID == "" {
		return envelope.ProviderEvent{}, fmt.Errorf("%w: missing envelope or event id", envelope.ErrBadSignature)
	}

	status := envelope.Status(payload.Status)
	if !status.Valid() {
		// Unknown statuses must never be read as progress.
		status = envelope.StatusError
	}

	return envelope.ProviderEvent{
		Provider:           NameStub,
		ProviderEnvelopeID: payload.ProviderEnvelopeID,
		ProviderEventID:    payload.EventID,
		EventType:          payload.EventType,
		Status:             status,
		Payload:            body,
		ReceivedAt:         time.Now().UTC(),
	}, nil
}
