package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/server/access"
	"github.com/dmitrijs2005/flyfile/internal/server/services"
)

type emailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *Handler) requestOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.anonymous.RequestCode(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"sent": true})
}

func (h *Handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.anonymous.VerifyCode(r.Context(), req.Email, req.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

func (h *Handler) twoFactorStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.twoFactor.Status(r.Context(), access.IdentityFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": st.Enabled, "backupCodesRemaining": st.BackupCodes})
}

type twoFactorSetupResponse struct {
	SessionID string    `json:"sessionId"`
	Secret    string    `json:"secret"`
	URI       string    `json:"otpauthUri"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handler) twoFactorSetup(w http.ResponseWriter, r *http.Request) {
	s, err := h.twoFactor.Setup(r.Context(), access.IdentityFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, twoFactorSetupResponse{SessionID: s.SessionID, Secret: s.Secret, URI: s.URI, ExpiresAt: s.ExpiresAt})
}

type twoFactorRequest struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	Code      string `json:"code"`
}

func (h *Handler) twoFactorConfirm(w http.ResponseWriter, r *http.Request) {
	var req twoFactorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	codes, err := h.twoFactor.Confirm(r.Context(), access.IdentityFromContext(r.Context()), req.SessionID, req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "backupCodes": codes})
}

func (h *Handler) twoFactorVerify(w http.ResponseWriter, r *http.Request) {
	var req twoFactorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.twoFactor.Verify(r.Context(), access.IdentityFromContext(r.Context()), req.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

func (h *Handler) twoFactorDisable(w http.ResponseWriter, r *http.Request) {
	var req twoFactorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.twoFactor.Disable(r.Context(), access.IdentityFromContext(r.Context()), req.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

type createAPIKeyRequest struct {
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expiresAt"`
}

type createdAPIKeyResponse struct {
	Key    apiKeyView `json:"key"`
	Secret string     `json:"secret"`
}

func (h *Handler) createAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.apiKeys.Create(r.Context(), access.IdentityFromContext(r.Context()), services.CreateAPIKeyRequest{
		Name:        req.Name,
		Permissions: req.Permissions,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdAPIKeyResponse{Key: newAPIKeyView(created.Key), Secret: created.Secret})
}

func (h *Handler) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.apiKeys.List(r.Context(), access.IdentityFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]apiKeyView, 0, len(keys))
	for _, k := range keys {
		out = append(out, newAPIKeyView(k))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := h.apiKeys.Revoke(r.Context(), access.IdentityFromContext(r.Context()), chi.URLParam(r, "keyID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

type createWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type createdWebhookResponse struct {
	Webhook webhookView `json:"webhook"`
	Secret  string      `json:"secret"`
}

func (h *Handler) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.webhooks.Create(r.Context(), access.IdentityFromContext(r.Context()), req.URL, req.Events)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdWebhookResponse{Webhook: newWebhookView(created.Webhook), Secret: created.Secret})
}

func (h *Handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.webhooks.List(r.Context(), access.IdentityFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]webhookView, 0, len(hooks))
	for _, wh := range hooks {
		out = append(out, newWebhookView(wh))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.webhooks.Delete(r.Context(), access.IdentityFromContext(r.Context()), chi.URLParam(r, "webhookID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// ensureCustomer links the signed-in account to a billing customer.
func (h *Handler) ensureCustomer(w http.ResponseWriter, r *http.Request) {
	id := access.IdentityFromContext(r.Context())
	if err := access.RequireAccount(id); err != nil {
		h.writeError(w, r, err)
		return
	}
	if id.Method != access.MethodBearer || id.Email == "" {
		h.writeError(w, r, common.ErrForbidden)
		return
	}
	customerID, err := h.billing.EnsureCustomer(r.Context(), id.UserID, id.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"customerId": customerID})
}
