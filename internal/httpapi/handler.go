package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"pkt.systems/booksden/api"
	"pkt.systems/booksden/internal/authtoken"
	"pkt.systems/booksden/internal/storage"
	"pkt.systems/booksden/internal/svcfields"
)

const (
	// TokenCookie carries the signed credential.
	TokenCookie = "token"

	headerCorrelationID = "X-Correlation-Id"
	maxCorrelationIDLen = 128

	// DefaultJSONMaxBytes bounds request bodies when Config.JSONMaxBytes is unset.
	DefaultJSONMaxBytes int64 = 1 << 20

	// RootBanner is the liveness text served at GET /.
	RootBanner = "Bookersden Library server is running..."
)

// DefaultCORSOrigins are the front-end origins allowed when none are configured.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:5174"}

// Config groups the dependencies required by the HTTP handler.
type Config struct {
	Store  storage.Backend
	Tokens *authtoken.Service
	Logger pslog.Logger
	// JSONMaxBytes bounds decoded request bodies.
	JSONMaxBytes int64
	// Production selects Secure, SameSite=None cookies for cross-site front ends.
	Production bool
	// CORSOrigins lists allowed front-end origins; nil selects DefaultCORSOrigins.
	CORSOrigins []string
	// DisableHTTPTracing skips the otelhttp server span per route.
	DisableHTTPTracing bool
}

// Handler wires HTTP endpoints to the document store.
type Handler struct {
	store        storage.Backend
	tokens       *authtoken.Service
	logger       pslog.Logger
	jsonMaxBytes int64
	production   bool
	corsOrigins  []string
	tracing      bool
	metrics      *httpMetrics
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

type httpError struct {
	Status int
	Code   string
	Detail string
}

func (h httpError) Error() string {
	if h.Detail != "" {
		return fmt.Sprintf("%s: %s", h.Code, h.Detail)
	}
	return h.Code
}

var (
	errUnauthorized = httpError{Status: http.StatusUnauthorized, Code: api.ErrorUnauthorized, Detail: "unauthorized access"}
	errForbidden    = httpError{Status: http.StatusForbidden, Code: api.ErrorForbidden, Detail: "forbidden access"}
)

// New validates cfg and constructs a Handler.
func New(cfg Config) (*Handler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("httpapi: store required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("httpapi: token service required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	jsonMax := cfg.JSONMaxBytes
	if jsonMax <= 0 {
		jsonMax = DefaultJSONMaxBytes
	}
	origins := cfg.CORSOrigins
	if origins == nil {
		origins = DefaultCORSOrigins
	}
	return &Handler{
		store:        cfg.Store,
		tokens:       cfg.Tokens,
		logger:       logger,
		jsonMaxBytes: jsonMax,
		production:   cfg.Production,
		corsOrigins:  append([]string(nil), origins...),
		tracing:      !cfg.DisableHTTPTracing,
		metrics:      newHTTPMetrics(logger),
	}, nil
}

// Register wires all routes into mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /{$}", h.wrap("root", h.handleRoot))
	mux.Handle("GET /healthz", h.wrap("healthz", h.handleHealthz))
	mux.Handle("GET /readyz", h.wrap("readyz", h.handleReadyz))

	mux.Handle("GET /allbooks", h.wrap("books.list", h.handleListBooks))
	mux.Handle("POST /allbooks", h.wrap("books.create", h.handleCreateBook))
	mux.Handle("GET /book/{id}", h.wrap("books.get", h.handleGetBook))
	mux.Handle("PATCH /book/{id}", h.wrap("books.stock", h.handlePatchStock))
	mux.Handle("PUT /book/update/{id}", h.wrap("books.replace", h.handleReplaceBook))
	mux.Handle("DELETE /book/{id}", h.wrap("books.delete", h.handleDeleteBook))

	mux.Handle("GET /genre", h.wrap("genres.list", h.handleListGenres))
	mux.Handle("GET /genre/{name}", h.wrap("genres.books", h.handleBooksByGenre))

	mux.Handle("POST /librarians", h.wrap("librarians.create", h.handleCreateLibrarian))
	mux.Handle("GET /librarians", h.wrap("librarians.list", h.handleListLibrarians))
	mux.Handle("GET /librarian/{email}", h.wrap("librarians.get", h.handleGetLibrarian))

	mux.Handle("GET /borrowed-books", h.wrap("borrowed.list", h.handleListBorrowed))
	mux.Handle("POST /borrowed-books", h.wrap("borrowed.create", h.handleCreateBorrowed))
	mux.Handle("GET /borrowed-books-of", h.wrap("borrowed.owned", h.authenticated(h.requireOwner("email", h.handleBorrowedOf))))
	mux.Handle("GET /borrowed-book/{id}", h.wrap("borrowed.get", h.handleGetBorrowed))
	mux.Handle("DELETE /borrowed-book/{id}", h.wrap("borrowed.delete", h.handleDeleteBorrowed))

	mux.Handle("POST /jwt", h.wrap("auth.issue", h.handleIssueToken))
	mux.Handle("POST /logout", h.wrap("auth.logout", h.handleLogout))
}

// Routes returns the registered routes behind the CORS policy.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	return h.cors().Handler(mux)
}

func (h *Handler) cors() *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   h.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", headerCorrelationID},
		ExposedHeaders:   []string{headerCorrelationID},
		AllowCredentials: true,
		MaxAge:           600,
	})
}

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	sys := routerSys(operation)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		reqID := newRequestID()
		corr := correlationFromRequest(r)
		logger := svcfields.WithSubsystem(h.logger, sys).With(
			"req_id", reqID,
			"cid", corr,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = withCorrelationID(ctx, corr)
		ctx = pslog.ContextWithLogger(ctx, logger)
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(
			attribute.String("booksden.operation", operation),
			attribute.String("booksden.correlation_id", corr),
		)
		w.Header().Set(headerCorrelationID, corr)
		r = r.WithContext(ctx)

		logger.Trace("http.request.start", "remote_addr", r.RemoteAddr)
		m := httpsnoop.CaptureMetricsFn(w, func(w http.ResponseWriter) {
			err := fn(w, r)
			if err == nil {
				return
			}
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				logger.Debug("http.request.canceled", "error", err)
				return
			}
			span.RecordError(err)
			var httpErr httpError
			if errors.As(err, &httpErr) {
				span.SetAttributes(attribute.String("booksden.error_code", httpErr.Code))
			}
			h.handleError(r.Context(), w, err)
		})
		h.metrics.record(ctx, operation, m.Code, m.Duration)
		logger.Debug("http.request.complete", "status", m.Code, "bytes", m.Written, "elapsed", m.Duration)
	})
	if !h.tracing {
		return handler
	}
	return otelhttp.NewHandler(handler, "booksden.http."+operation)
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = h.logger
	}
	var httpErr httpError
	if errors.As(err, &httpErr) {
		logger.Debug("http.request.failure",
			"status", httpErr.Status,
			"code", httpErr.Code,
			"detail", httpErr.Detail,
		)
		h.writeJSON(w, httpErr.Status, api.ErrorResponse{ErrorCode: httpErr.Code, Detail: httpErr.Detail}, nil)
		return
	}
	logger.Error("http.request.error", "error", err)
	h.writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{
		ErrorCode: api.ErrorInternal,
		Detail:    "internal server error",
	}, nil)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any, headers map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeBody reads one JSON value bounded by the configured body limit.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	reqBody := http.MaxBytesReader(w, r.Body, h.jsonMaxBytes)
	defer reqBody.Close()
	if err := json.NewDecoder(reqBody).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return httpError{
				Status: http.StatusRequestEntityTooLarge,
				Code:   api.ErrorPayloadTooLarge,
				Detail: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			}
		case errors.Is(err, io.EOF):
			return httpError{Status: http.StatusBadRequest, Code: api.ErrorInvalidBody, Detail: "request body required"}
		default:
			return httpError{Status: http.StatusBadRequest, Code: api.ErrorInvalidBody, Detail: err.Error()}
		}
	}
	return nil
}

// pathID validates the {id} path segment.
func pathID(r *http.Request) (string, error) {
	raw := r.PathValue("id")
	id, err := storage.NormalizeID(raw)
	if err != nil {
		return "", httpError{Status: http.StatusBadRequest, Code: api.ErrorInvalidID, Detail: fmt.Sprintf("%q is not a valid document id", raw)}
	}
	return id, nil
}

func routerSys(operation string) string {
	parts := strings.FieldsFunc(operation, func(r rune) bool {
		switch r {
		case '.', '/', '-', '_':
			return true
		}
		return false
	})
	if len(parts) == 0 {
		return "api.http.router"
	}
	return "api.http.router." + strings.Join(parts, ".")
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func correlationFromRequest(r *http.Request) string {
	if corr, ok := normalizeCorrelationID(r.Header.Get(headerCorrelationID)); ok {
		return corr
	}
	return newRequestID()
}

func normalizeCorrelationID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxCorrelationIDLen {
		return "", false
	}
	for _, r := range raw {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return "", false
		}
	}
	return raw, true
}
