package httpapi

import (
	"errors"
	"net/http"

	"pkt.systems/pslog"

	"pkt.systems/booksden/internal/authtoken"
)

// authenticated requires a valid token cookie and attaches its identity to
// the request context. A missing or unverifiable cookie never reaches fn.
func (h *Handler) authenticated(fn handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		ctx := r.Context()
		logger := pslog.LoggerFromContext(ctx)
		if logger == nil {
			logger = h.logger
		}
		cookie, err := r.Cookie(TokenCookie)
		if err != nil || cookie.Value == "" {
			logger.Debug("http.auth.missing_token")
			return errUnauthorized
		}
		id, err := h.tokens.Verify(cookie.Value)
		if err != nil {
			if errors.Is(err, authtoken.ErrExpired) || errors.Is(err, authtoken.ErrInvalid) {
				logger.Debug("http.auth.rejected", "error", err)
				return errUnauthorized
			}
			return err
		}
		logger = logger.With("identity", id.Email)
		ctx = WithIdentity(ctx, id)
		ctx = pslog.ContextWithLogger(ctx, logger)
		return fn(w, r.WithContext(ctx))
	}
}

// requireOwner rejects requests whose query parameter param differs from the
// authenticated identity. It must run inside authenticated.
func (h *Handler) requireOwner(param string, fn handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			return errUnauthorized
		}
		if r.URL.Query().Get(param) != id.Email {
			if logger := pslog.LoggerFromContext(r.Context()); logger != nil {
				logger.Debug("http.auth.forbidden", "param", param)
			}
			return errForbidden
		}
		return fn(w, r)
	}
}
