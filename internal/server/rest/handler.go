// Package rest is the public HTTP API of FlyFile. Handlers decode requests,
// call services with the caller's identity and render a uniform JSON
// envelope.
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrijs2005/flyfile/internal/logging"
	"github.com/dmitrijs2005/flyfile/internal/server/access"
	"github.com/dmitrijs2005/flyfile/internal/server/models"
	"github.com/dmitrijs2005/flyfile/internal/server/ratelimit"
	"github.com/dmitrijs2005/flyfile/internal/server/services"
)

// Transfers is the transfer and file lifecycle.
type Transfers interface {
	CreateTransfer(ctx context.Context, id *access.Identity, req services.CreateTransferRequest) (*services.CreatedTransfer, error)
	GetTransfer(ctx context.Context, id *access.Identity, publicID string) (*services.TransferView, error)
	ListTransfers(ctx context.Context, id *access.Identity) ([]*models.Transfer, error)
	RequestUploadSlot(ctx context.Context, id *access.Identity, req services.UploadRequest) (*models.UploadSlot, error)
	UploadEncrypted(ctx context.Context, id *access.Identity, fileID string, body []byte) error
	ConfirmUpload(ctx context.Context, id *access.Identity, fileID string) (*models.File, error)
	ConfirmTransfer(ctx context.Context, id *access.Identity, publicID string) (*models.Transfer, error)
	VerifyTransferPassword(ctx context.Context, publicID, password string) (bool, error)
	SecureDownload(ctx context.Context, id *access.Identity, req services.DownloadRequest) (*services.Download, error)
	DeleteFile(ctx context.Context, id *access.Identity, fileID string) error
	BulkDelete(ctx context.Context, id *access.Identity, fileIDs []string) (*services.BulkDeleteResult, error)
	DeleteTransfer(ctx context.Context, id *access.Identity, publicID string) error
	ExpirySweep(ctx context.Context) (*services.SweepResult, error)
	Usage(ctx context.Context, id *access.Identity) (*models.Usage, error)
}

// Anonymous verifies anonymous sender emails.
type Anonymous interface {
	RequestCode(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, email, code string) error
}

// TwoFactor manages TOTP enrolment.
type TwoFactor interface {
	Status(ctx context.Context, id *access.Identity) (*services.TwoFactorStatus, error)
	Setup(ctx context.Context, id *access.Identity) (*services.TwoFactorSetup, error)
	Confirm(ctx context.Context, id *access.Identity, sessionID, token string) ([]string, error)
	Verify(ctx context.Context, id *access.Identity, code string) error
	Disable(ctx context.Context, id *access.Identity, code string) error
}

// APIKeys manages programmatic credentials.
type APIKeys interface {
	Create(ctx context.Context, id *access.Identity, req services.CreateAPIKeyRequest) (*services.CreatedAPIKey, error)
	List(ctx context.Context, id *access.Identity) ([]*models.APIKey, error)
	Revoke(ctx context.Context, id *access.Identity, keyID string) error
}

// Webhooks manages outbound notification endpoints.
type Webhooks interface {
	Create(ctx context.Context, id *access.Identity, rawURL string, events []string) (*services.CreatedWebhook, error)
	List(ctx context.Context, id *access.Identity) ([]*models.Webhook, error)
	Delete(ctx context.Context, id *access.Identity, webhookID string) error
}

// Billing links accounts to the payment provider.
type Billing interface {
	EnsureCustomer(ctx context.Context, ownerID, email string) (string, error)
}

// Authenticator resolves request credentials to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, c access.Credentials) (*access.Identity, error)
}

// Limiter counts requests per bucket.
type Limiter interface {
	Allow(ctx context.Context, bucket ratelimit.Bucket, key string) (ratelimit.Decision, error)
}

// Pinger reports database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators of the HTTP API.
type Deps struct {
	Transfers Transfers
	Anonymous Anonymous
	TwoFactor TwoFactor
	APIKeys   APIKeys
	Webhooks  Webhooks
	Billing   Billing
	Gate      Authenticator
	Limiter   Limiter
	Origins   *access.OriginChecker
	Proxies   *ratelimit.TrustedProxies
	DB        Pinger
	Logger    logging.Logger
}

// Options tune the HTTP API.
type Options struct {
	Production bool
	// CronSecret authorizes the scheduled cleanup trigger.
	CronSecret string
	// MaxEncryptedUploadBytes caps bodies sent to the encrypted upload endpoint.
	MaxEncryptedUploadBytes int64
}

// Handler serves the API.
type Handler struct {
	transfers  Transfers
	anonymous  Anonymous
	twoFactor  TwoFactor
	apiKeys    APIKeys
	webhooks   Webhooks
	billing    Billing
	gate       Authenticator
	limiter    Limiter
	origins    *access.OriginChecker
	proxies    *ratelimit.TrustedProxies
	db         Pinger
	logger     logging.Logger
	production bool
	cronSecret string
	maxUpload  int64
	now        func() time.Time
}

func NewHandler(d Deps, o Options) *Handler {
	return &Handler{
		transfers:  d.Transfers,
		anonymous:  d.Anonymous,
		twoFactor:  d.TwoFactor,
		apiKeys:    d.APIKeys,
		webhooks:   d.Webhooks,
		billing:    d.Billing,
		gate:       d.Gate,
		limiter:    d.Limiter,
		origins:    d.Origins,
		proxies:    d.Proxies,
		db:         d.DB,
		logger:     d.Logger.With("module", "rest"),
		production: o.Production,
		cronSecret: o.CronSecret,
		maxUpload:  o.MaxEncryptedUploadBytes,
		now:        time.Now,
	}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(h.accessLog)
	r.Use(h.recoverer)
	r.Use(securityHeaders)

	r.Get("/healthz", h.health)

	r.Route("/api", func(r chi.Router) {
		// server to server; authorized by the cron secret inside the handler
		r.With(h.limit(ratelimit.BucketSensitive, h.byAddress)).Post("/cron/cleanup", h.cronCleanup)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)
			r.Use(h.checkOrigin)

			r.Group(func(r chi.Router) {
				r.Use(h.limit(ratelimit.BucketAPI, h.byCaller))

				r.Post("/transfers", h.createTransfer)
				r.Get("/transfers", h.listTransfers)
				r.Get("/transfers/{transferID}", h.getTransfer)
				r.Post("/transfers/{transferID}/files", h.requestTransferUpload)
				r.Post("/transfers/{transferID}/confirm", h.confirmTransfer)
				r.Delete("/transfers/{transferID}", h.deleteTransfer)

				r.Post("/files", h.requestLibraryUpload)
				r.Put("/files/{fileID}/content", h.uploadContent)
				r.Post("/files/{fileID}/confirm", h.confirmUpload)
				r.Delete("/files/{fileID}", h.deleteFile)
				r.Post("/files/bulk-delete", h.bulkDelete)

				r.Get("/usage", h.usage)
				r.Get("/2fa", h.twoFactorStatus)
				r.Get("/keys", h.listAPIKeys)
				r.Get("/webhooks", h.listWebhooks)
			})

			r.With(h.limit(ratelimit.BucketSensitive, h.byAddress)).
				Post("/transfers/{transferID}/verify-password", h.verifyPassword)
			r.With(h.limit(ratelimit.BucketDownload, h.byAddress)).
				Get("/transfers/{transferID}/files/{fileID}/download", h.download)

			r.Group(func(r chi.Router) {
				r.Use(h.limit(ratelimit.BucketAuth, h.byAddress))

				r.Post("/anonymous/otp", h.requestOTP)
				r.Post("/anonymous/otp/verify", h.verifyOTP)

				r.Post("/2fa/setup", h.twoFactorSetup)
				r.Post("/2fa/confirm", h.twoFactorConfirm)
				r.Post("/2fa/verify", h.twoFactorVerify)
				r.Post("/2fa/disable", h.twoFactorDisable)
			})

			r.Group(func(r chi.Router) {
				r.Use(h.limit(ratelimit.BucketSensitive, h.byCaller))

				r.Post("/keys", h.createAPIKey)
				r.Delete("/keys/{keyID}", h.revokeAPIKey)

				r.Post("/webhooks", h.createWebhook)
				r.Delete("/webhooks/{webhookID}", h.deleteWebhook)

				r.Post("/billing/customer", h.ensureCustomer)
			})
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Warn(r.Context(), "health check failed", "error", err)
			writeFailure(w, http.StatusServiceUnavailable, "unavailable", "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
