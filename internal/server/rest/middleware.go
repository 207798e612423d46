package rest

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/logging"
	"github.com/dmitrijs2005/flyfile/internal/server/access"
	"github.com/dmitrijs2005/flyfile/internal/server/ratelimit"
)

// Request headers carrying credentials.
const (
	headerAPIKey      = "X-API-Key"
	headerAnonymousID = "X-Anonymous-Id"
	headerPassword    = "X-Transfer-Password"
)

// accessLog writes one line per request once the response is done.
func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		r = r.WithContext(logging.ContextWithRequestID(r.Context(), chimw.GetReqID(r.Context())))

		defer func() {
			h.logger.Info(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// recoverer turns a panic into a 500 and logs the stack.
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.logger.Error(r.Context(), "panic in handler",
					"panic", fmt.Sprint(rec),
					"stack", string(debug.Stack()),
				)
				h.writeError(w, r, common.ErrInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("X-Content-Type-Options", "nosniff")
		hdr.Set("X-Frame-Options", "DENY")
		hdr.Set("Referrer-Policy", "no-referrer")
		hdr.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the caller once and stores the identity in the
// request context. Requests without credentials continue with no identity.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.gate.Authenticate(r.Context(), credentialsFrom(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if id != nil {
			r = r.WithContext(access.WithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func credentialsFrom(r *http.Request) access.Credentials {
	return access.Credentials{
		Bearer:      access.BearerFromHeader(r.Header.Get("Authorization")),
		APIKey:      r.Header.Get(headerAPIKey),
		AnonymousID: r.Header.Get(headerAnonymousID),
	}
}

// checkOrigin rejects cross-site mutating requests. API-key callers are not
// browsers and skip the check.
func (h *Handler) checkOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if id := access.IdentityFromContext(r.Context()); id != nil && id.Method == access.MethodAPIKey {
			next.ServeHTTP(w, r)
			return
		}
		if err := h.origins.Check(r.Header.Get("Origin"), r.Header.Get("Referer")); err != nil {
			h.writeError(w, r, fmt.Errorf("%w: origin not allowed", err))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// keyFunc picks the rate-limit key of a request.
type keyFunc func(r *http.Request) string

func (h *Handler) byAddress(r *http.Request) string {
	return h.proxies.ClientAddress(r)
}

// byCaller keys account holders by user id and everyone else by address.
// Anonymous ids are chosen by the client, so they never key a budget.
func (h *Handler) byCaller(r *http.Request) string {
	if id := access.IdentityFromContext(r.Context()); id.IsAccount() {
		return "user:" + id.UserID
	}
	return h.byAddress(r)
}

func (h *Handler) limit(bucket ratelimit.Bucket, key keyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := h.limiter.Allow(r.Context(), bucket, key(r))
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
			if err := d.Err(); err != nil {
				h.writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// cronAuthorized accepts the shared cron secret as a bearer token.
func (h *Handler) cronAuthorized(r *http.Request) bool {
	token := access.BearerFromHeader(r.Header.Get("Authorization"))
	return h.cronSecret != "" && token != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) == 1
}
