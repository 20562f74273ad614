package envelope

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrBadSignature signals a webhook that failed provider authenticity
	// verification. The ingress rejects it without touching state.
	ErrBadSignature = errors.New("envelope: webhook signature verification failed")
	// ErrProviderFailure wraps provider HTTP errors and malformed responses.
	// The canonical status is left unchanged; callers may retry.
	ErrProviderFailure = errors.New("envelope: provider integration failure")
)

// CreateParams is everything a provider needs to open a signing request.
type CreateParams struct {
	DealID     string
	Subject    string
	Documents  []Document
	Recipients []Recipient
}

// ProviderEnvelope is the provider's view of an envelope, mapped to the
// canonical vocabulary. Artifact carries the signed document bytes when the
// provider attaches them to a completed envelope.
type ProviderEnvelope struct {
	ProviderEnvelopeID string
	Status             Status
	Artifact           []byte
}

// Provider is the capability contract every signing adapter implements.
// Adapters translate their native status vocabulary into canonical statuses;
// nothing outside the adapter sees provider-specific strings.
type Provider interface {
	Name() string
	CreateEnvelope(ctx context.Context, params CreateParams) (ProviderEnvelope, error)
	GetEnvelope(ctx context.Context, providerEnvelopeID string) (ProviderEnvelope, error)
	VoidEnvelope(ctx context.Context, providerEnvelopeID, reason string) error
	// VerifyWebhook authenticates a raw callback and returns the normalized
	// event. Authentication failures return ErrBadSignature.
	VerifyWebhook(header http.Header, body []byte) (ProviderEvent, error)
}
