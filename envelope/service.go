package envelope

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrEnvelopeTerminal signals an operation that is only legal on a live
	// envelope (void, webhook progress) hit a terminal one.
	ErrEnvelopeTerminal = errors.New("envelope: already in a terminal state")
	// ErrNotCompleted signals a signed-artifact download on an envelope that
	// has not completed.
	ErrNotCompleted = errors.New("envelope: not completed")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EnvelopeRepository defines the data access required by the service.
type EnvelopeRepository interface {
	InsertEnvelope(ctx context.Context, tx pgx.Tx, env Envelope) (Envelope, error)
	GetByDealAndRequestID(ctx context.Context, tx pgx.Tx, dealID, requestID string) (Envelope, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, envelopeID string) (Envelope, error)
	GetByProviderEnvelopeIDForUpdate(ctx context.Context, tx pgx.Tx, provider, providerEnvelopeID string) (Envelope, error)
	Get(ctx context.Context, tx pgx.Tx, envelopeID string) (Envelope, error)
	ListByDeal(ctx context.Context, tx pgx.Tx, dealID string) ([]Envelope, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, envelopeID string, status Status) error
	MarkVoided(ctx context.Context, tx pgx.Tx, envelopeID, reason string) error
	SetArtifactKey(ctx context.Context, tx pgx.Tx, envelopeID, key string) error
	InsertWebhookEvent(ctx context.Context, tx pgx.Tx, event ProviderEvent) error
}

// ArtifactStore is the object-storage collaborator for signed documents.
type ArtifactStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Service owns the canonical envelope state and orchestrates provider calls.
type Service struct {
	pool      TxBeginner
	repo      EnvelopeRepository
	provider  Provider
	artifacts ArtifactStore
}

func NewService(pool TxBeginner, repo EnvelopeRepository, provider Provider, artifacts ArtifactStore) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		provider:  provider,
		artifacts: artifacts,
	}
}

// Create opens a signing request with the active provider and persists the
// canonical envelope. requestID, when supplied, is an idempotency token for
// the creation call: a replay with the same (deal, request id) returns the
// stored envelope instead of opening a second provider envelope.
func (s *Service) Create(ctx context.Context, dealID string, documents []Document, recipients []Recipient, requestID string) (Envelope, error) {
	if dealID == "" {
		return Envelope{}, fmt.Errorf("%w: deal id required", ErrInvalidInput)
	}
	if len(documents) == 0 {
		return Envelope{}, fmt.Errorf("%w: at least one document is required", ErrInvalidInput)
	}
	if err := ValidateRecipients(recipients); err != nil {
		return Envelope{}, err
	}

	if requestID != "" {
		existing, err := s.findByRequestID(ctx, dealID, requestID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrEnvelopeNotFound) {
			return Envelope{}, err
		}
	}

	created, err := s.provider.CreateEnvelope(ctx, CreateParams{
		DealID:     dealID,
		Subject:    fmt.Sprintf("Deal %s documents", dealID),
		Documents:  documents,
		Recipients: recipients,
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: create: %v", ErrProviderFailure, err)
	}
	if !created.Status.Valid() {
		return Envelope{}, fmt.Errorf("%w: create returned unknown status %q", ErrProviderFailure, created.Status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	env := Envelope{
		DealID:             dealID,
		Provider:           s.provider.Name(),
		ProviderEnvelopeID: created.ProviderEnvelopeID,
		Status:             created.Status,
		Recipients:         recipients,
	}
	if requestID != "" {
		env.RequestID = &requestID
	}

	stored, err := s.repo.InsertEnvelope(ctx, tx, env)
	if err != nil {
		if errors.Is(err, ErrDuplicateRequestID) && requestID != "" {
			// Lost a creation race. Discard the provider envelope we just
			// opened and return the winner's row.
			_ = s.provider.VoidEnvelope(ctx, created.ProviderEnvelopeID, "duplicate creation request")
			return s.findByRequestID(ctx, dealID, requestID)
		}
		return Envelope{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Envelope{}, fmt.Errorf("envelope: commit create: %w", err)
	}
	return stored, nil
}

func (s *Service) findByRequestID(ctx context.Context, dealID, requestID string) (Envelope, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	return s.repo.GetByDealAndRequestID(ctx, tx, dealID, requestID)
}

// Get returns the canonical envelope with recipients.
func (s *Service) Get(ctx context.Context, envelopeID string) (Envelope, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	return s.repo.Get(ctx, tx, envelopeID)
}

// ListByDeal returns the deal's signing history.
func (s *Service) ListByDeal(ctx context.Context, dealID string) ([]Envelope, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("envelope: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	return s.repo.ListByDeal(ctx, tx, dealID)
}

// ApplyWebhookEvent applies one verified provider event. Replays of a
// consumed idempotency key are a no-op even when the payload bytes differ;
// out-of-order deliveries are absorbed by the monotonic transition rule. The
// row lock taken by the provider-envelope lookup serializes concurrent
// deliveries for the same envelope.
func (s *Service) ApplyWebhookEvent(ctx context.Context, event ProviderEvent) error {
	if event.ProviderEnvelopeID == "" {
		return fmt.Errorf("envelope: webhook event missing provider envelope id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("envelope: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertWebhookEvent(ctx, tx, event); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return nil
		}
		return err
	}

	env, err := s.repo.GetByProviderEnvelopeIDForUpdate(ctx, tx, event.Provider, event.ProviderEnvelopeID)
	if err != nil {
		return err
	}

	next, changed := ApplyTransition(env.Status, event.Status)
	if changed {
		if err := s.repo.UpdateStatus(ctx, tx, env.ID, next); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("envelope: commit webhook event: %w", err)
	}
	return nil
}

// Reconcile pulls the provider's current status and applies the transition
// rule. Polling fallback for delayed webhooks and webhook-less providers.
func (s *Service) Reconcile(ctx context.Context, envelopeID string) (Envelope, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	env, err := s.repo.GetForUpdate(ctx, tx, envelopeID)
	if err != nil {
		return Envelope{}, err
	}

	reported, err := s.provider.GetEnvelope(ctx, env.ProviderEnvelopeID)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: reconcile: %v", ErrProviderFailure, err)
	}

	next, changed := ApplyTransition(env.Status, reported.Status)
	if changed {
		if err := s.repo.UpdateStatus(ctx, tx, env.ID, next); err != nil {
			return Envelope{}, err
		}
		env.Status = next
	}

	if env.Status == StatusCompleted && env.ArtifactKey == nil && len(reported.Artifact) > 0 {
		key, err := s.artifacts.Put(ctx, reported.Artifact)
		if err != nil {
			return Envelope{}, fmt.Errorf("envelope: store artifact: %w", err)
		}
		if err := s.repo.SetArtifactKey(ctx, tx, env.ID, key); err != nil {
			return Envelope{}, err
		}
		env.ArtifactKey = &key
	}

	if err := tx.Commit(ctx); err != nil {
		return Envelope{}, fmt.Errorf("envelope: commit reconcile: %w", err)
	}
	return env, nil
}

// Void cancels a live envelope. Voiding a terminal envelope is rejected as a
// conflict, never silently swallowed. The reason is required and recorded
// for audit; voiding is one-way.
func (s *Service) Void(ctx context.Context, envelopeID, reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: void reason required", ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("envelope: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	env, err := s.repo.GetForUpdate(ctx, tx, envelopeID)
	if err != nil {
		return err
	}
	if env.Status.Terminal() {
		return ErrEnvelopeTerminal
	}

	if err := s.provider.VoidEnvelope(ctx, env.ProviderEnvelopeID, reason); err != nil {
		return fmt.Errorf("%w: void: %v", ErrProviderFailure, err)
	}

	if err := s.repo.MarkVoided(ctx, tx, env.ID, reason); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("envelope: commit void: %w", err)
	}
	return nil
}

// DownloadSigned returns the signed artifact bytes. Only legal once the
// envelope is COMPLETED; the artifact is cached in the object store on first
// fetch.
func (s *Service) DownloadSigned(ctx context.Context, envelopeID string) ([]byte, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("envelope: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	env, err := s.repo.GetForUpdate(ctx, tx, envelopeID)
	if err != nil {
		return nil, err
	}
	if env.Status != StatusCompleted {
		return nil, ErrNotCompleted
	}

	if env.ArtifactKey != nil {
		data, err := s.artifacts.Get(ctx, *env.ArtifactKey)
		if err != nil {
			return nil, fmt.Errorf("envelope: load artifact: %w", err)
		}
		return data, nil
	}

	reported, err := s.provider.GetEnvelope(ctx, env.ProviderEnvelopeID)
	if err != nil {
		return nil, fmt.Errorf("%w: download: %v", ErrProviderFailure, err)
	}
	if len(reported.Artifact) == 0 {
		return nil, fmt.Errorf("%w: download: provider returned no artifact", ErrProviderFailure)
	}

	key, err := s.artifacts.Put(ctx, reported.Artifact)
	if err != nil {
		return nil, fmt.Errorf("envelope: store artifact: %w", err)
	}
	if err := s.repo.SetArtifactKey(ctx, tx, env.ID, key); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("envelope: commit artifact key: %w", err)
	}
	return reported.Artifact, nil
}
