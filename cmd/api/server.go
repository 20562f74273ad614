package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"dealdesk/compliance"
	"dealdesk/envelope"
	"dealdesk/gate"
	"dealdesk/httpx"
	"dealdesk/render"
	"dealdesk/ruleset"
)

type envelopeService interface {
	Create(ctx context.Context, dealID string, documents []envelope.Document, recipients []envelope.Recipient, requestID string) (envelope.Envelope, error)
	Get(ctx context.Context, envelopeID string) (envelope.Envelope, error)
	ListByDeal(ctx context.Context, dealID string) ([]envelope.Envelope, error)
	Reconcile(ctx context.Context, envelopeID string) (envelope.Envelope, error)
	Void(ctx context.Context, envelopeID, reason string) error
	DownloadSigned(ctx context.Context, envelopeID string) ([]byte, error)
}

type rulesetService interface {
	Publish(ctx context.Context, orgID string, doc compliance.RuleSet) (ruleset.Version, error)
	Supersede(ctx context.Context, orgID string, doc compliance.RuleSet) (ruleset.Version, error)
	ActiveForDate(ctx context.Context, orgID, jurisdiction string, date time.Time) (ruleset.Version, error)
}

// Server owns the HTTP surface. Handlers translate between JSON shapes and
// the domain services; all business decisions live below this layer.
type Server struct {
	envelopes envelopeService
	rulesets  rulesetService
	renderer  render.Renderer
	gate      *gate.Gate
	webhooks  http.Handler
	maxBody   int64
	log       *slog.Logger
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Post("/compliance/evaluate", s.handleEvaluate)
	r.Post("/orgs/{org_id}/rulesets", s.handlePublishRuleSet)
	r.Get("/orgs/{org_id}/rulesets/active", s.handleActiveRuleSet)
	r.Post("/deals/{deal_id}/envelopes", s.handleCreateEnvelope)
	r.Get("/deals/{deal_id}/envelopes", s.handleListEnvelopes)
	r.Get("/envelopes/{id}", s.handleGetEnvelope)
	r.Post("/envelopes/{id}/void", s.handleVoidEnvelope)
	r.Get("/envelopes/{id}/download", s.handleDownload)
	r.Post("/internal/envelopes/{id}/reconcile", s.requireWorker(s.handleReconcile))
	if s.webhooks != nil {
		r.Post("/webhooks/{provider}", s.webhooks.ServeHTTP)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeServiceError maps domain sentinels onto response codes. Everything
// unrecognized is a 500; provider integration failures are 502 so callers
// know a retry is worthwhile.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, envelope.ErrEnvelopeNotFound), errors.Is(err, ruleset.ErrVersionNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, envelope.ErrInvalidInput), errors.Is(err, ruleset.ErrInvalidDocument):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	case errors.Is(err, envelope.ErrEnvelopeTerminal), errors.Is(err, ruleset.ErrRangeOverlap):
		httpx.WriteError(w, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, envelope.ErrNotCompleted):
		httpx.WriteError(w, http.StatusPreconditionFailed, "not_completed", err.Error(), nil)
	case errors.Is(err, envelope.ErrProviderFailure):
		httpx.WriteError(w, http.StatusBadGateway, "provider_failure", err.Error(), nil)
	default:
		s.log.Error("request failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

type evaluateRequest struct {
	OrgID    string              `json:"org_id"`
	Date     string              `json:"date,omitempty"`
	Snapshot compliance.Snapshot `json:"snapshot"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed request body", nil)
		return
	}
	if req.OrgID == "" || req.Snapshot.Jurisdiction == "" || !compliance.ValidDealType(req.Snapshot.DealType) {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "org_id, snapshot.jurisdiction, and a valid snapshot.deal_type are required", nil)
		return
	}

	date := time.Now().UTC()
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD", nil)
			return
		}
		date = parsed
	}

	// No published version is a valid state: evaluation proceeds with the
	// base checklist only.
	var ruleSets []compliance.RuleSet
	version, err := s.rulesets.ActiveForDate(r.Context(), req.OrgID, req.Snapshot.Jurisdiction, date)
	switch {
	case err == nil:
		ruleSets = append(ruleSets, version.Document)
	case errors.Is(err, ruleset.ErrVersionNotFound):
	default:
		s.writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, compliance.Evaluate(req.Snapshot, ruleSets))
}

func (s *Server) handlePublishRuleSet(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")

	var doc compliance.RuleSet
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := httpx.ReadJSON(r, &doc); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed rule-set document", nil)
		return
	}

	publish := s.rulesets.Publish
	if r.URL.Query().Get("supersede") == "true" {
		publish = s.rulesets.Supersede
	}
	version, err := publish(r.Context(), orgID, doc)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, versionResponse(version))
}

func (s *Server) handleActiveRuleSet(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	jurisdiction := r.URL.Query().Get("jurisdiction")
	if jurisdiction == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "jurisdiction query parameter is required", nil)
		return
	}

	date := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD", nil)
			return
		}
		date = parsed
	}

	version, err := s.rulesets.ActiveForDate(r.Context(), orgID, jurisdiction, date)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, versionResponse(version))
}

type createEnvelopeRequest struct {
	Documents []struct {
		DocType string            `json:"doc_type"`
		Title   string            `json:"title"`
		Fields  map[string]string `json:"fields,omitempty"`
	} `json:"documents"`
	Recipients []envelope.Recipient `json:"recipients"`
}

func (s *Server) handleCreateEnvelope(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "deal_id")

	var req createEnvelopeRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed request body", nil)
		return
	}
	if len(req.Documents) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "at least one document is required", nil)
		return
	}

	documents := make([]envelope.Document, 0, len(req.Documents))
	for _, d := range req.Documents {
		content, err := s.renderer.Render(r.Context(), d.Title, d.Fields)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "render_failed", err.Error(), nil)
			return
		}
		documents = append(documents, envelope.Document{DocType: d.DocType, Title: d.Title, Content: content})
	}

	requestID := r.Header.Get("Idempotency-Key")
	created, err := s.envelopes.Create(r.Context(), dealID, documents, req.Recipients, requestID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, envelopeResponse(created))
}

func (s *Server) handleListEnvelopes(w http.ResponseWriter, r *http.Request) {
	envelopes, err := s.envelopes.ListByDeal(r.Context(), chi.URLParam(r, "deal_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(envelopes))
	for _, env := range envelopes {
		items = append(items, envelopeResponse(env))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleGetEnvelope(w http.ResponseWriter, r *http.Request) {
	env, err := s.envelopes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, envelopeResponse(env))
}

func (s *Server) handleVoidEnvelope(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed request body", nil)
		return
	}

	envelopeID := chi.URLParam(r, "id")
	if err := s.envelopes.Void(r.Context(), envelopeID, req.Reason); err != nil {
		s.writeServiceError(w, err)
		return
	}
	env, err := s.envelopes.Get(r.Context(), envelopeID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, envelopeResponse(env))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.envelopes.DownloadSigned(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("content-type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(artifact)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	env, err := s.envelopes.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, envelopeResponse(env))
}

// requireWorker gates internal endpoints on a bearer token signed with the
// worker shared secret.
func (s *Server) requireWorker(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || s.gate == nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "worker token required", nil)
			return
		}
		if err := s.gate.VerifyToken(token, gate.ScopeReconcile); err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "worker token rejected", nil)
			return
		}
		next(w, r)
	}
}

func envelopeResponse(env envelope.Envelope) map[string]any {
	recipients := make([]map[string]any, 0, len(env.Recipients))
	for _, rec := range env.Recipients {
		recipients = append(recipients, map[string]any{
			"role":  rec.Role,
			"name":  rec.Name,
			"email": rec.Email,
			"order": rec.Order,
		})
	}
	resp := map[string]any{
		"id":                   env.ID,
		"deal_id":              env.DealID,
		"provider":             env.Provider,
		"provider_envelope_id": env.ProviderEnvelopeID,
		"status":               env.Status,
		"recipients":           recipients,
		"created_at":           env.CreatedAt.Format(time.RFC3339),
		"updated_at":           env.UpdatedAt.Format(time.RFC3339),
	}
	if env.VoidReason != nil {
		resp["void_reason"] = *env.VoidReason
	}
	if env.VoidedAt != nil {
		resp["voided_at"] = env.VoidedAt.Format(time.RFC3339)
	}
	return resp
}

func versionResponse(v ruleset.Version) map[string]any {
	resp := map[string]any{
		"id":             v.ID,
		"org_id":         v.OrgID,
		"jurisdiction":   v.Jurisdiction,
		"effective_from": v.EffectiveFrom.Format("2006-01-02"),
		"document":       v.Document,
		"created_at":     v.CreatedAt.Format(time.RFC3339),
	}
	if v.EffectiveTo != nil {
		resp["effective_to"] = v.EffectiveTo.Format("2006-01-02")
	}
	return resp
}
