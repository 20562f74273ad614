// Package webhook is the ingress surface for provider status callbacks.
// The handler authenticates the delivery through the adapter's verifier,
// applies the event through the envelope service, and answers in whatever
// acknowledgement shape the provider expects.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dealdesk/envelope"
	"dealdesk/httpx"
	"dealdesk/provider"
)

// maxBodyBytes bounds webhook payloads. Provider callbacks carry status
// metadata, never documents.
const maxBodyBytes = 1 << 20

// EventApplier is the slice of the envelope service the ingress needs.
type EventApplier interface {
	ApplyWebhookEvent(ctx context.Context, event envelope.ProviderEvent) error
}

type Handler struct {
	registry *provider.Registry
	service  EventApplier
	log      *slog.Logger
}

func NewHandler(registry *provider.Registry, service EventApplier, log *slog.Logger) *Handler {
	return &Handler{registry: registry, service: service, log: log}
}

// ServeHTTP handles POST /webhooks/{provider}. Unknown providers are 404,
// failed verification is 401 with no state touched, and anything the
// service rejects is a 500 so the provider retries the delivery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	p, err := h.registry.Lookup(name)
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, "unknown_provider", fmt.Sprintf("no webhook endpoint for provider %q", name), nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "unreadable_body", "could not read webhook body", nil)
		return
	}

	event, err := p.VerifyWebhook(r.Header, body)
	if err != nil {
		h.log.Warn("webhook rejected", "provider", name, "error", err)
		httpx.WriteError(w, http.StatusUnauthorized, "bad_signature", "webhook verification failed", nil)
		return
	}

	if err := h.service.ApplyWebhookEvent(r.Context(), event); err != nil {
		if errors.Is(err, envelope.ErrEnvelopeNotFound) {
			// An event for an envelope this system never created. Ack it so
			// the provider stops retrying a delivery we can never apply.
			h.log.Warn("webhook for unknown envelope",
				"provider", name,
				"provider_envelope_id", event.ProviderEnvelopeID,
				"event_type", event.EventType)
			h.ack(w, name)
			return
		}
		h.log.Error("webhook apply failed", "provider", name, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "apply_failed", "event could not be applied", nil)
		return
	}

	h.log.Info("webhook applied",
		"provider", name,
		"provider_envelope_id", event.ProviderEnvelopeID,
		"event_type", event.EventType,
		"status", event.Status)
	h.ack(w, name)
}

// ack answers in the provider's expected acknowledgement shape. SignWell
// treats anything but the literal body "OK" as a failed delivery.
func (h *Handler) ack(w http.ResponseWriter, providerName string) {
	if providerName == provider.NameSignWell {
		w.Header().Set("content-type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
