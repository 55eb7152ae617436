package httpapi

import (
	"errors"
	"net/http"

	"pkt.systems/pslog"

	"pkt.systems/booksden/api"
	"pkt.systems/booksden/internal/authtoken"
)

func (h *Handler) handleIssueToken(w http.ResponseWriter, r *http.Request) error {
	var payload api.TokenRequest
	if err := h.decodeBody(w, r, &payload); err != nil {
		return err
	}
	token, err := h.tokens.Issue(payload.Email)
	if err != nil {
		if errors.Is(err, authtoken.ErrMissingIdentity) {
			return httpError{Status: http.StatusBadRequest, Code: api.ErrorInvalidBody, Detail: "email required"}
		}
		return err
	}
	http.SetCookie(w, h.tokenCookie(token, int(h.tokens.TTL().Seconds())))
	if logger := pslog.LoggerFromContext(r.Context()); logger != nil {
		logger.Debug("http.auth.issued", "identity", payload.Email)
	}
	h.writeJSON(w, http.StatusOK, api.SuccessResponse{Success: true}, nil)
	return nil
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, h.tokenCookie("", -1))
	h.writeJSON(w, http.StatusOK, api.SuccessResponse{Success: true}, nil)
	return nil
}

// tokenCookie builds the credential cookie. Production front ends live on a
// different site and need Secure with SameSite=None.
func (h *Handler) tokenCookie(value string, maxAge int) *http.Cookie {
	cookie := &http.Cookie{
		Name:     TokenCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	if h.production {
		cookie.Secure = true
		cookie.SameSite = http.SameSiteNoneMode
	}
	return cookie
}
