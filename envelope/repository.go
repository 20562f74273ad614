package envelope

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDuplicateIdempotencyKey signals the webhook event insert hit the
	// existing key guardrail; the delivery is a replay.
	ErrDuplicateIdempotencyKey = errors.New("envelope: duplicate idempotency key")
	// ErrDuplicateRequestID signals a creation replay: an envelope for this
	// (deal, request id) pair already exists.
	ErrDuplicateRequestID = errors.New("envelope: duplicate creation request id")
	// ErrEnvelopeNotFound is returned when no envelope row matches.
	ErrEnvelopeNotFound = errors.New("envelope: not found")
)

const uniqueViolation = "23505"

// Repository owns the SQL for envelopes, recipients, and consumed webhook
// events. Methods take the caller's transaction so lifecycle writes commit
// atomically.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const envelopeColumns = `id::text, deal_id, request_id, provider, provider_envelope_id, status, void_reason, artifact_key, created_at, updated_at, voided_at`

func scanEnvelope(row pgx.Row) (Envelope, error) {
	var env Envelope
	err := row.Scan(
		&env.ID,
		&env.DealID,
		&env.RequestID,
		&env.Provider,
		&env.ProviderEnvelopeID,
		&env.Status,
		&env.VoidReason,
		&env.ArtifactKey,
		&env.CreatedAt,
		&env.UpdatedAt,
		&env.VoidedAt,
	)
	return env, err
}

// InsertEnvelope persists a freshly created envelope plus its recipients.
func (r *Repository) InsertEnvelope(ctx context.Context, tx pgx.Tx, env Envelope) (Envelope, error) {
	if env.DealID == "" {
		return Envelope{}, fmt.Errorf("envelope: missing deal id")
	}

	const insertSQL = `
INSERT INTO envelopes (deal_id, request_id, provider, provider_envelope_id, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + envelopeColumns

	stored, err := scanEnvelope(tx.QueryRow(ctx, insertSQL,
		env.DealID, env.RequestID, env.Provider, env.ProviderEnvelopeID, env.Status))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Envelope{}, ErrDuplicateRequestID
		}
		return Envelope{}, fmt.Errorf("envelope: insert: %w", err)
	}

	for _, rec := range env.Recipients {
		if _, err := tx.Exec(ctx, `
INSERT INTO envelope_recipients (envelope_id, role, name, email, sign_order)
VALUES ($1, $2, $3, $4, $5)
`, stored.ID, rec.Role, rec.Name, rec.Email, rec.Order); err != nil {
			return Envelope{}, fmt.Errorf("envelope: insert recipient: %w", err)
		}
	}
	stored.Recipients = env.Recipients
	return stored, nil
}

// GetByDealAndRequestID looks up a prior creation by its idempotency token.
func (r *Repository) GetByDealAndRequestID(ctx context.Context, tx pgx.Tx, dealID, requestID string) (Envelope, error) {
	const querySQL = `
SELECT ` + envelopeColumns + `
FROM envelopes
WHERE deal_id = $1 AND request_id = $2
`
	env, err := scanEnvelope(tx.QueryRow(ctx, querySQL, dealID, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Envelope{}, ErrEnvelopeNotFound
		}
		return Envelope{}, fmt.Errorf("envelope: get by request id: %w", err)
	}
	return r.attachRecipients(ctx, tx, env)
}

// GetForUpdate loads an envelope and takes the row lock that serializes
// concurrent status writes.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, envelopeID string) (Envelope, error) {
	const querySQL = `
SELECT ` + envelopeColumns + `
FROM envelopes
WHERE id = $1
FOR UPDATE
`
	env, err := scanEnvelope(tx.QueryRow(ctx, querySQL, envelopeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Envelope{}, ErrEnvelopeNotFound
		}
		return Envelope{}, fmt.Errorf("envelope: get for update: %w", err)
	}
	return env, nil
}

// GetByProviderEnvelopeIDForUpdate resolves a webhook's provider envelope id
// to the canonical row, locking it for the transition write.
func (r *Repository) GetByProviderEnvelopeIDForUpdate(ctx context.Context, tx pgx.Tx, provider, providerEnvelopeID string) (Envelope, error) {
	const querySQL = `
SELECT ` + envelopeColumns + `
FROM envelopes
WHERE provider = $1 AND provider_envelope_id = $2
FOR UPDATE
`
	env, err := scanEnvelope(tx.QueryRow(ctx, querySQL, provider, providerEnvelopeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Envelope{}, ErrEnvelopeNotFound
		}
		return Envelope{}, fmt.Errorf("envelope: get by provider envelope id: %w", err)
	}
	return env, nil
}

// Get loads an envelope with its recipients.
func (r *Repository) Get(ctx context.Context, tx pgx.Tx, envelopeID string) (Envelope, error) {
	const querySQL = `
SELECT ` + envelopeColumns + `
FROM envelopes
WHERE id = $1
`
	env, err := scanEnvelope(tx.QueryRow(ctx, querySQL, envelopeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Envelope{}, ErrEnvelopeNotFound
		}
		return Envelope{}, fmt.Errorf("envelope: get: %w", err)
	}
	return r.attachRecipients(ctx, tx, env)
}

// ListByDeal returns the deal's signing history, newest first.
func (r *Repository) ListByDeal(ctx context.Context, tx pgx.Tx, dealID string) ([]Envelope, error) {
	const querySQL = `
SELECT ` + envelopeColumns + `
FROM envelopes
WHERE deal_id = $1
ORDER BY created_at DESC
`
	rows, err := tx.Query(ctx, querySQL, dealID)
	if err != nil {
		return nil, fmt.Errorf("envelope: list by deal: %w", err)
	}
	defer rows.Close()

	envelopes := []Envelope{}
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("envelope: scan list row: %w", err)
		}
		envelopes = append(envelopes, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("envelope: list rows: %w", err)
	}
	return envelopes, nil
}

func (r *Repository) attachRecipients(ctx context.Context, tx pgx.Tx, env Envelope) (Envelope, error) {
	rows, err := tx.Query(ctx, `
SELECT role, name, email, sign_order
FROM envelope_recipients
WHERE envelope_id = $1
ORDER BY sign_order
`, env.ID)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: load recipients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec Recipient
		if err := rows.Scan(&rec.Role, &rec.Name, &rec.Email, &rec.Order); err != nil {
			return Envelope{}, fmt.Errorf("envelope: scan recipient: %w", err)
		}
		env.Recipients = append(env.Recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return Envelope{}, fmt.Errorf("envelope: recipient rows: %w", err)
	}
	return env, nil
}

// UpdateStatus writes a new canonical status. Callers have already run the
// transition rule under the row lock.
func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, envelopeID string, status Status) error {
	tag, err := tx.Exec(ctx, `
UPDATE envelopes
SET status = $1, updated_at = now()
WHERE id = $2
`, status, envelopeID)
	if err != nil {
		return fmt.Errorf("envelope: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEnvelopeNotFound
	}
	return nil
}

// MarkVoided force-sets VOIDED with the audit reason.
func (r *Repository) MarkVoided(ctx context.Context, tx pgx.Tx, envelopeID, reason string) error {
	tag, err := tx.Exec(ctx, `
UPDATE envelopes
SET status = $1, void_reason = $2, voided_at = now(), updated_at = now()
WHERE id = $3
`, StatusVoided, reason, envelopeID)
	if err != nil {
		return fmt.Errorf("envelope: mark voided: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEnvelopeNotFound
	}
	return nil
}

// SetArtifactKey records where the signed artifact was stored.
func (r *Repository) SetArtifactKey(ctx context.Context, tx pgx.Tx, envelopeID, key string) error {
	if _, err := tx.Exec(ctx, `
UPDATE envelopes
SET artifact_key = $1, updated_at = now()
WHERE id = $2
`, key, envelopeID); err != nil {
		return fmt.Errorf("envelope: set artifact key: %w", err)
	}
	return nil
}

// InsertWebhookEvent reserves the event's idempotency key and records the
// delivery for audit. The unique key constraint makes replays observable as
// ErrDuplicateIdempotencyKey even across process restarts.
func (r *Repository) InsertWebhookEvent(ctx context.Context, tx pgx.Tx, event ProviderEvent) error {
	key := event.IdempotencyKey()
	if event.ProviderEventID == "" {
		return fmt.Errorf("envelope: webhook event missing provider event id")
	}

	receivedAt := event.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	_, err := tx.Exec(ctx, `
INSERT INTO webhook_events (idempotency_key, provider, provider_event_id, provider_envelope_id, event_type, status, payload, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, key, event.Provider, event.ProviderEventID, event.ProviderEnvelopeID, event.EventType, event.Status, event.Payload, receivedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("envelope: insert webhook event: %w", err)
	}
	return nil
}
