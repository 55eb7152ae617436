// Package client is a typed Go client for the booksden HTTP API.
//
// A Client keeps the token cookie issued by Login in its cookie jar, so
// owner-scoped calls such as BorrowedOf work after a successful Login.
//
//	cli, err := client.New("http://127.0.0.1:5000")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cli.Login(ctx, "reader@example.com"); err != nil {
//	    log.Fatal(err)
//	}
//	records, err := cli.BorrowedOf(ctx, "reader@example.com")
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"pkt.systems/booksden/api"
	"pkt.systems/booksden/internal/svcfields"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	// DefaultHTTPTimeout bounds each request unless overridden.
	DefaultHTTPTimeout = 15 * time.Second
	maxErrorBody       = 64 << 10
)

// APIError is returned for non-2xx responses.
type APIError struct {
	// Status is the HTTP status code returned by the server.
	Status int
	// Response is the decoded error envelope, when available.
	Response api.ErrorResponse
	// Body holds the raw response body.
	Body []byte
}

func (e *APIError) Error() string {
	if e.Response.ErrorCode != "" {
		return fmt.Sprintf("booksden: %s (%s)", e.Response.ErrorCode, e.Response.Detail)
	}
	return fmt.Sprintf("booksden: status %d", e.Status)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client talks to one booksden server.
type Client struct {
	base          *url.URL
	httpClient    *http.Client
	logger        pslog.Logger
	correlationID string
	timeout       time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient supplies a custom HTTP client. A client without a cookie
// jar is copied and given one so Login can be remembered.
func WithHTTPClient(cli *http.Client) Option {
	return func(c *Client) {
		if cli != nil {
			c.httpClient = cli
		}
	}
}

// WithLogger supplies a logger for client diagnostics.
func WithLogger(logger pslog.Logger) Option {
	return func(c *Client) {
		if logger == nil {
			c.logger = pslog.NoopLogger()
			return
		}
		c.logger = svcfields.WithSubsystem(logger, "client.sdk")
	}
}

// WithCorrelationID sends id as X-Correlation-Id on every request.
func WithCorrelationID(id string) Option {
	return func(c *Client) {
		c.correlationID = strings.TrimSpace(id)
	}
}

// WithHTTPTimeout overrides the per-request timeout.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New returns a client for baseURL. Bare host:port values default to http.
func New(baseURL string, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return nil, fmt.Errorf("client: base url required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("client: base url %q missing host", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	c := &Client{
		base:    u,
		logger:  pslog.NoopLogger(),
		timeout: DefaultHTTPTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("client: cookie jar: %w", err)
		}
		cli := *c.httpClient
		cli.Jar = jar
		c.httpClient = &cli
	}
	return c, nil
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Healthy returns nil when GET /healthz answers 200.
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// Ready returns nil when the server's backend answers a ping.
func (c *Client) Ready(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/readyz", nil, nil, nil)
}

// Login requests a credential for email. The server stores it in the token
// cookie, which the client's jar keeps for later calls.
func (c *Client) Login(ctx context.Context, email string) error {
	var resp api.SuccessResponse
	if err := c.do(ctx, http.MethodPost, "/jwt", nil, api.TokenRequest{Email: email}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("client: login for %q not acknowledged", email)
	}
	return nil
}

// Logout clears the token cookie.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/logout", nil, nil, nil)
}

// ListBooks returns the whole catalogue.
func (c *Client) ListBooks(ctx context.Context) ([]api.Book, error) {
	var out []api.Book
	return out, c.do(ctx, http.MethodGet, "/allbooks", nil, nil, &out)
}

// CreateBook inserts book.
func (c *Client) CreateBook(ctx context.Context, book api.Book) (api.InsertResult, error) {
	var out api.InsertResult
	return out, c.do(ctx, http.MethodPost, "/allbooks", nil, book, &out)
}

// GetBook returns the book or nil when no document has id.
func (c *Client) GetBook(ctx context.Context, id string) (*api.Book, error) {
	var out *api.Book
	return out, c.do(ctx, http.MethodGet, "/book/"+url.PathEscape(id), nil, nil, &out)
}

// UpdateStock sets book_numbers on the book.
func (c *Client) UpdateStock(ctx context.Context, id string, count int) (api.UpdateResult, error) {
	var out api.UpdateResult
	return out, c.do(ctx, http.MethodPatch, "/book/"+url.PathEscape(id), nil, api.StockUpdate{BookNumbers: &count}, &out)
}

// ReplaceBook upserts the book; fields left nil in update are cleared.
func (c *Client) ReplaceBook(ctx context.Context, id string, update api.BookUpdate) (api.UpdateResult, error) {
	var out api.UpdateResult
	return out, c.do(ctx, http.MethodPut, "/book/update/"+url.PathEscape(id), nil, update, &out)
}

// DeleteBook removes the book.
func (c *Client) DeleteBook(ctx context.Context, id string) (api.DeleteResult, error) {
	var out api.DeleteResult
	return out, c.do(ctx, http.MethodDelete, "/book/"+url.PathEscape(id), nil, nil, &out)
}

// ListGenres returns every genre.
func (c *Client) ListGenres(ctx context.Context) ([]api.Genre, error) {
	var out []api.Genre
	return out, c.do(ctx, http.MethodGet, "/genre", nil, nil, &out)
}

// BooksByGenre lists books whose genre equals name.
func (c *Client) BooksByGenre(ctx context.Context, name string) ([]api.Book, error) {
	var out []api.Book
	return out, c.do(ctx, http.MethodGet, "/genre/"+url.PathEscape(name), nil, nil, &out)
}

// CreateLibrarian registers a librarian profile.
func (c *Client) CreateLibrarian(ctx context.Context, librarian api.Librarian) (api.InsertResult, error) {
	var out api.InsertResult
	return out, c.do(ctx, http.MethodPost, "/librarians", nil, librarian, &out)
}

// ListLibrarians returns every librarian.
func (c *Client) ListLibrarians(ctx context.Context) ([]api.Librarian, error) {
	var out []api.Librarian
	return out, c.do(ctx, http.MethodGet, "/librarians", nil, nil, &out)
}

// GetLibrarian returns the librarian registered under email, or nil.
func (c *Client) GetLibrarian(ctx context.Context, email string) (*api.Librarian, error) {
	var out *api.Librarian
	return out, c.do(ctx, http.MethodGet, "/librarian/"+url.PathEscape(email), nil, nil, &out)
}

// ListBorrowed returns all borrowed records, or only email's when email is set.
func (c *Client) ListBorrowed(ctx context.Context, email string) ([]api.BorrowedBook, error) {
	var query url.Values
	if email != "" {
		query = url.Values{"email": {email}}
	}
	var out []api.BorrowedBook
	return out, c.do(ctx, http.MethodGet, "/borrowed-books", query, nil, &out)
}

// BorrowedOf returns the logged-in borrower's records. email must match the
// identity passed to Login.
func (c *Client) BorrowedOf(ctx context.Context, email string) ([]api.BorrowedBook, error) {
	var out []api.BorrowedBook
	return out, c.do(ctx, http.MethodGet, "/borrowed-books-of", url.Values{"email": {email}}, nil, &out)
}

// GetBorrowed returns one borrowed record, or nil.
func (c *Client) GetBorrowed(ctx context.Context, id string) (*api.BorrowedBook, error) {
	var out *api.BorrowedBook
	return out, c.do(ctx, http.MethodGet, "/borrowed-book/"+url.PathEscape(id), nil, nil, &out)
}

// CreateBorrowed records a borrowed copy.
func (c *Client) CreateBorrowed(ctx context.Context, record api.BorrowedBook) (api.InsertResult, error) {
	var out api.InsertResult
	return out, c.do(ctx, http.MethodPost, "/borrowed-books", nil, record, &out)
}

// DeleteBorrowed removes a borrowed record (the book was returned).
func (c *Client) DeleteBorrowed(ctx context.Context, id string) (api.DeleteResult, error) {
	var out api.DeleteResult
	return out, c.do(ctx, http.MethodDelete, "/borrowed-book/"+url.PathEscape(id), nil, nil, &out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target, err := url.Parse(c.base.String() + path)
	if err != nil {
		return fmt.Errorf("client: build %s %s: %w", method, path, err)
	}
	target.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("client: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	corr := c.correlationID
	if corr == "" {
		corr = newCorrelationID()
	}
	req.Header.Set(headerCorrelationID, corr)

	logger := c.logger.With("method", method, "path", path, "cid", corr)
	begin := time.Now()
	logger.Trace("client.http.request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Debug("client.http.error", "error", err, "elapsed", time.Since(begin))
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	logger.Debug("client.http.response", "status", resp.StatusCode, "elapsed", time.Since(begin))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode, Body: data}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &apiErr.Response)
	}
	return apiErr
}

func newCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
