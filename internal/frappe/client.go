package frappe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// updateMaxAttempts is the total number of update attempts when the remote
// rejects a write with a timestamp mismatch. No backoff between attempts:
// the collision is almost always resolved by reading the newest version.
const updateMaxAttempts = 3

const userAgent = "erpsync-go/0.1"

// Client is a handle bound to one Frappe endpoint. Authentication is a
// per-request token header; the client holds no session state.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	name       string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the endpoint at baseURL. name labels the
// endpoint in logs ("cloud" or "local"). A nil httpClient falls back to
// http.DefaultClient; callers should pass one with a request timeout.
func NewClient(baseURL, apiKey, apiSecret, name string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    trimTrailingSlash(baseURL),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		name:       name,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Name returns the endpoint label given at construction.
func (c *Client) Name() string {
	return c.name
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}

	return s
}

// dataEnvelope is the {"data": ...} wrapper Frappe puts around resources.
type dataEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// messageEnvelope is the {"message": ...} wrapper used by RPC-style methods.
type messageEnvelope struct {
	Message string `json:"message"`
}

// do executes one request and decodes the response into out (when non-nil).
// Non-2xx responses are classified into an *APIError carrying a sentinel.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("frappe: encoding request body: %w", err)
		}

		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("frappe: creating request: %w", err)
	}

	req.Header.Set("Authorization", "token "+c.apiKey+":"+c.apiSecret)
	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("frappe: %s %s %s: %w", c.name, method, path, err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("frappe: %s reading response body: %w", c.name, readErr)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		message := extractMessage(respBody)

		c.logger.Debug("request failed",
			slog.String("endpoint", c.name),
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    message,
			Err:        classifyStatus(resp.StatusCode, message),
		}
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("frappe: %s decoding response: %w", c.name, err)
	}

	return nil
}

// resourcePath builds /api/resource/<Doctype>[/<name>] with escaping.
func resourcePath(doctype, name string) string {
	p := "/api/resource/" + url.PathEscape(doctype)
	if name != "" {
		p += "/" + url.PathEscape(name)
	}

	return p
}

// decodeDocument unwraps a {"data": {...}} envelope into a Document.
func decodeDocument(env *dataEnvelope) (Document, error) {
	var doc Document
	if err := json.Unmarshal(env.Data, &doc); err != nil {
		return nil, fmt.Errorf("frappe: decoding document: %w", err)
	}

	return doc, nil
}

// Get fetches a single document. Returns (nil, nil) when the remote reports
// 404; callers use the nil document to distinguish "absent" from "error".
func (c *Client) Get(ctx context.Context, doctype, name string) (Document, error) {
	c.logger.Debug("getting document",
		slog.String("endpoint", c.name),
		slog.String("doctype", doctype),
		slog.String("name", name),
	)

	var env dataEnvelope

	err := c.do(ctx, http.MethodGet, resourcePath(doctype, name), nil, nil, &env)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return decodeDocument(&env)
}

// List fetches documents of a doctype with all fields. filters uses the
// Frappe list-filter form (e.g. {"modified": [">", "2025-01-01"]}); pass nil
// for no filtering. limit 0 means the remote's default page size.
func (c *Client) List(ctx context.Context, doctype string, filters map[string]any, limit, offset int) ([]Document, error) {
	c.logger.Debug("listing documents",
		slog.String("endpoint", c.name),
		slog.String("doctype", doctype),
		slog.Int("limit", limit),
		slog.Int("offset", offset),
	)

	query := url.Values{}
	query.Set("fields", `["*"]`)

	if limit > 0 {
		query.Set("limit_page_length", strconv.Itoa(limit))
	}

	if offset > 0 {
		query.Set("limit_start", strconv.Itoa(offset))
	}

	if len(filters) > 0 {
		encoded, err := json.Marshal(filters)
		if err != nil {
			return nil, fmt.Errorf("frappe: encoding filters: %w", err)
		}

		query.Set("filters", string(encoded))
	}

	var env dataEnvelope
	if err := c.do(ctx, http.MethodGet, resourcePath(doctype, ""), query, nil, &env); err != nil {
		return nil, err
	}

	var docs []Document
	if err := json.Unmarshal(env.Data, &docs); err != nil {
		return nil, fmt.Errorf("frappe: decoding document list: %w", err)
	}

	return docs, nil
}

// ListModifiedSince fetches documents whose modified timestamp is strictly
// after the given Frappe-format timestamp string.
func (c *Client) ListModifiedSince(ctx context.Context, doctype, since string, limit int) ([]Document, error) {
	return c.List(ctx, doctype, map[string]any{
		"modified": []any{">", since},
	}, limit, 0)
}

// Create inserts a new document and returns the remote's view of it.
func (c *Client) Create(ctx context.Context, doctype string, fields Document) (Document, error) {
	c.logger.Debug("creating document",
		slog.String("endpoint", c.name),
		slog.String("doctype", doctype),
	)

	var env dataEnvelope
	if err := c.do(ctx, http.MethodPost, resourcePath(doctype, ""), nil, fields, &env); err != nil {
		return nil, err
	}

	return decodeDocument(&env)
}

// Update writes fields to an existing document under optimistic concurrency.
// The payload carries the caller's last-seen modified value; when the remote
// rejects it with a timestamp mismatch, the client refetches the current
// document, copies its modified into the payload, and retries. Up to
// updateMaxAttempts total attempts; further mismatches surface as
// ErrTimestampMismatch. retries reports how many mismatch retries were
// performed, so callers can note the collision in their audit trail.
func (c *Client) Update(ctx context.Context, doctype, name string, fields Document) (doc Document, retries int, err error) {
	payload := fields.Clone()

	for attempt := 1; ; attempt++ {
		c.logger.Debug("updating document",
			slog.String("endpoint", c.name),
			slog.String("doctype", doctype),
			slog.String("name", name),
			slog.Int("attempt", attempt),
		)

		var env dataEnvelope

		doErr := c.do(ctx, http.MethodPut, resourcePath(doctype, name), nil, payload, &env)
		if doErr == nil {
			doc, err = decodeDocument(&env)
			return doc, attempt - 1, err
		}

		if !errors.Is(doErr, ErrTimestampMismatch) || attempt >= updateMaxAttempts {
			return nil, attempt - 1, doErr
		}

		c.logger.Warn("timestamp mismatch, refetching and retrying",
			slog.String("endpoint", c.name),
			slog.String("doctype", doctype),
			slog.String("name", name),
			slog.Int("attempt", attempt),
		)

		latest, getErr := c.Get(ctx, doctype, name)
		if getErr != nil {
			return nil, attempt - 1, fmt.Errorf("frappe: refetch after timestamp mismatch: %w", getErr)
		}

		if latest == nil {
			// Deleted out from under us; surface the original mismatch.
			return nil, attempt - 1, doErr
		}

		payload["modified"] = latest.Modified()
	}
}

// Delete removes a document. Returns ErrNotFound (wrapped) when absent.
func (c *Client) Delete(ctx context.Context, doctype, name string) error {
	c.logger.Debug("deleting document",
		slog.String("endpoint", c.name),
		slog.String("doctype", doctype),
		slog.String("name", name),
	)

	return c.do(ctx, http.MethodDelete, resourcePath(doctype, name), nil, nil, nil)
}

// Ping verifies connectivity and credentials, returning the authenticated
// username reported by the remote.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var env messageEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/method/frappe.auth.get_logged_user", nil, nil, &env); err != nil {
		return "", err
	}

	c.logger.Info("connected",
		slog.String("endpoint", c.name),
		slog.String("user", env.Message),
	)

	return env.Message, nil
}
