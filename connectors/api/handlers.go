// Copyright 2025 OmniFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"omniflow/platform/connectors/base"
	"omniflow/platform/connectors/manager"
)

// Handler exposes the connector manager over HTTP. Tenancy rides on
// the X-Org-ID header; every route that touches an account is scoped
// to that org.
type Handler struct {
	manager *manager.Manager
	logger  *log.Logger
}

// NewHandler creates a connector API handler.
func NewHandler(m *manager.Manager) *Handler {
	return &Handler{manager: m, logger: log.Default()}
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RegisterRoutes registers the connector API routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/connectors/providers", h.ListProviders).Methods("GET")
	r.HandleFunc("/api/v1/connectors/{provider}/link/start", h.StartLink).Methods("POST")
	r.HandleFunc("/api/v1/connectors/{provider}/link/complete", h.CompleteLink).Methods("POST")
	r.HandleFunc("/api/v1/connectors/accounts", h.ListAccounts).Methods("GET")
	r.HandleFunc("/api/v1/connectors/health", h.ListHealth).Methods("GET")
	r.HandleFunc("/api/v1/connectors/accounts/{id}/diagnostics", h.Diagnostics).Methods("GET")
	r.HandleFunc("/api/v1/connectors/accounts/{id}/publish", h.Publish).Methods("POST")
	r.HandleFunc("/api/v1/connectors/accounts/{id}/healthcheck", h.Healthcheck).Methods("POST")
	r.HandleFunc("/api/v1/connectors/accounts/{id}/breaker/reset", h.ResetBreaker).Methods("POST")
	r.HandleFunc("/api/v1/connectors/accounts/{id}", h.Revoke).Methods("DELETE")
}

// providerInfo is one entry of the org-less providers listing.
type providerInfo struct {
	Provider       base.Provider       `json:"provider"`
	RequiredScopes map[string][]string `json:"required_scopes"`
}

// ListProviders handles GET /api/v1/connectors/providers. With an
// X-Org-ID header the listing includes the org's effective mode per
// provider; without one it is the static catalogue.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	if raw := r.Header.Get("X-Org-ID"); raw != "" {
		orgID, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "INVALID_ORG", "X-Org-ID must be a UUID")
			return
		}
		catalogue, err := h.manager.ProviderCatalogue(r.Context(), orgID)
		if err != nil {
			h.writeManagerError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"providers": catalogue})
		return
	}

	infos := make([]providerInfo, 0, len(base.SupportedProviders))
	for _, p := range base.SupportedProviders {
		infos = append(infos, providerInfo{Provider: p, RequiredScopes: base.RequiredScopes[p]})
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"providers": infos})
}

// ListHealth handles GET /api/v1/connectors/health
func (h *Handler) ListHealth(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}

	health, err := h.manager.ListHealth(r.Context(), orgID)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"health": health})
}

type startLinkRequest struct {
	RedirectURI string `json:"redirect_uri"`
}

// StartLink handles POST /api/v1/connectors/{provider}/link/start
func (h *Handler) StartLink(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	provider, ok := h.provider(w, r)
	if !ok {
		return
	}

	var req startLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON")
		return
	}

	authURL, err := h.manager.StartLink(r.Context(), orgID, provider, req.RedirectURI)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"authorization_url": authURL})
}

type completeLinkRequest struct {
	State       string `json:"state"`
	Code        string `json:"code"`
	AccountRef  string `json:"account_ref,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// CompleteLink handles POST /api/v1/connectors/{provider}/link/complete
func (h *Handler) CompleteLink(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	provider, ok := h.provider(w, r)
	if !ok {
		return
	}

	var req completeLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON")
		return
	}
	if req.State == "" || req.Code == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "state and code are required")
		return
	}

	account, err := h.manager.CompleteLink(r.Context(), orgID, &manager.LinkRequest{
		StateToken:  req.State,
		Code:        req.Code,
		AccountRef:  req.AccountRef,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}
	if account.Provider != provider {
		// The state token pins the provider; a mismatched path is a
		// caller bug worth surfacing.
		h.writeError(w, http.StatusBadRequest, "PROVIDER_MISMATCH", "state token was issued for a different provider")
		return
	}

	h.writeJSON(w, http.StatusCreated, account)
}

// ListAccounts handles GET /api/v1/connectors/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}

	accounts, err := h.manager.ListAccounts(r.Context(), orgID)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

// Diagnostics handles GET /api/v1/connectors/accounts/{id}/diagnostics
func (h *Handler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	diag, err := h.manager.Diagnose(r.Context(), orgID, accountID)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, diag)
}

// Publish handles POST /api/v1/connectors/accounts/{id}/publish
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var payload base.PublishPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON")
		return
	}

	result, err := h.manager.Publish(r.Context(), orgID, accountID, &payload)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}

	// The outcome is in the body; blocked gets 429 so dumb clients
	// back off without parsing it.
	status := http.StatusOK
	if result.Outcome == base.OutcomeBlocked {
		status = http.StatusTooManyRequests
	}
	h.writeJSON(w, status, result)
}

// Healthcheck handles POST /api/v1/connectors/accounts/{id}/healthcheck
func (h *Handler) Healthcheck(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	health, err := h.manager.Healthcheck(r.Context(), orgID, accountID)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, health)
}

// ResetBreaker handles POST /api/v1/connectors/accounts/{id}/breaker/reset
func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	if err := h.manager.ResetBreaker(r.Context(), orgID, accountID); err != nil {
		h.writeManagerError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// Revoke handles DELETE /api/v1/connectors/accounts/{id}
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	if err := h.manager.Revoke(r.Context(), orgID, accountID); err != nil {
		h.writeManagerError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// orgID extracts and validates the tenancy header.
func (h *Handler) orgID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get("X-Org-ID")
	if raw == "" {
		h.writeError(w, http.StatusUnauthorized, "MISSING_ORG", "X-Org-ID header is required")
		return uuid.Nil, false
	}
	orgID, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_ORG", "X-Org-ID must be a UUID")
		return uuid.Nil, false
	}
	return orgID, true
}

func (h *Handler) provider(w http.ResponseWriter, r *http.Request) (base.Provider, bool) {
	provider, err := base.ParseProvider(mux.Vars(r)["provider"])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "UNKNOWN_PROVIDER", "unsupported provider")
		return "", false
	}
	return provider, true
}

func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_ACCOUNT_ID", "account id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// writeManagerError maps typed manager errors onto HTTP statuses.
func (h *Handler) writeManagerError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound  *base.NotFoundError
		cfgErr    *base.ConfigError
		authErr   *base.AuthError
		provErr   *base.ProviderError
		breakerOp *base.BreakerOpenError
	)

	switch {
	case errors.As(err, &notFound):
		h.writeError(w, http.StatusNotFound, "NOT_FOUND", notFound.Error())
	case errors.As(err, &cfgErr):
		h.writeError(w, http.StatusBadRequest, "INVALID_CONFIG", cfgErr.Error())
	case errors.As(err, &authErr):
		h.writeError(w, http.StatusUnauthorized, "AUTH_FAILED", authErr.Error())
	case errors.As(err, &breakerOp):
		h.writeError(w, http.StatusTooManyRequests, "BREAKER_OPEN", breakerOp.Error())
	case errors.As(err, &provErr) && provErr.Category == base.CategoryValidation:
		h.writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", provErr.Message)
	default:
		h.logger.Printf("[ConnectorAPI] %s %s: %v", r.Method, r.URL.Path, err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   strings.ToLower(code),
		Code:    code,
		Message: message,
	})
}
