package envelope

import (
	"errors"
	"fmt"
	"time"
)

// RecipientRole is the closed set of signer roles on a deal.
type RecipientRole string

const (
	RoleBuyer   RecipientRole = "buyer"
	RoleCoBuyer RecipientRole = "co_buyer"
	RoleSeller  RecipientRole = "seller"
	RoleDealer  RecipientRole = "dealer"
)

func validRole(r RecipientRole) bool {
	switch r {
	case RoleBuyer, RoleCoBuyer, RoleSeller, RoleDealer:
		return true
	default:
		return false
	}
}

// ErrInvalidInput marks caller mistakes the HTTP boundary maps to 400.
var ErrInvalidInput = errors.New("envelope: invalid input")

// Recipient is one signer on an envelope. Order defines the required signing
// sequence; not every provider enforces it.
type Recipient struct {
	Role  RecipientRole `json:"role"`
	Name  string        `json:"name"`
	Email string        `json:"email"`
	Order int           `json:"order"`
}

// ValidateRecipients checks the signer list before a create call: every role
// known, every email present, signing orders unique and >= 1.
func ValidateRecipients(recipients []Recipient) error {
	if len(recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrInvalidInput)
	}
	seen := map[int]bool{}
	for i, r := range recipients {
		if !validRole(r.Role) {
			return fmt.Errorf("%w: recipient %d: unknown role %q", ErrInvalidInput, i, r.Role)
		}
		if r.Email == "" {
			return fmt.Errorf("%w: recipient %d: email is required", ErrInvalidInput, i)
		}
		if r.Order < 1 {
			return fmt.Errorf("%w: recipient %d: signing order must be >= 1", ErrInvalidInput, i)
		}
		if seen[r.Order] {
			return fmt.Errorf("%w: recipient %d: duplicate signing order %d", ErrInvalidInput, i, r.Order)
		}
		seen[r.Order] = true
	}
	return nil
}

// Document carries signable bytes into a create call. Rendering is a
// collaborator concern; this package only moves the bytes.
type Document struct {
	DocType string
	Title   string
	Content []byte
}

// Envelope is the canonical record of one signing request. It mirrors the
// envelopes table and is owned by its deal.
type Envelope struct {
	ID                 string
	DealID             string
	RequestID          *string
	Provider           string
	ProviderEnvelopeID string
	Status             Status
	VoidReason         *string
	ArtifactKey        *string
	Recipients         []Recipient
	CreatedAt          time.Time
	UpdatedAt          time.Time
	VoidedAt           *time.Time
}

// ProviderEvent is a verified, normalized webhook event handed to the
// lifecycle service. The raw provider vocabulary has already been mapped to a
// canonical status by the provider adapter.
type ProviderEvent struct {
	Provider           string
	ProviderEnvelopeID string
	ProviderEventID    string
	EventType          string
	Status             Status
	Payload            []byte
	ReceivedAt         time.Time
}

// IdempotencyKey is the deduplication identity for one logical delivery.
// Replays carry the same key regardless of payload bytes.
func (e ProviderEvent) IdempotencyKey() string {
	return e.Provider + ":" + e.ProviderEventID
}
