// Package client talks to a lastvalued server: producers load batches over
// the REST API and consumers follow committed batches over the websocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

// Client is the REST client for the lastvalued API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a REST client. baseURL is the server root, e.g.
// "http://localhost:8000". apiKey may be empty when auth is disabled.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// CompleteResult is the server's summary of a completed batch.
type CompleteResult struct {
	BatchID     domain.BatchID `json:"batch_id"`
	Status      string         `json:"status"`
	Staged      int            `json:"staged"`
	Applied     int            `json:"applied"`
	Superseded  int            `json:"superseded"`
	DurationMS  int64          `json:"duration_ms"`
	Instruments []string       `json:"instruments"`
}

// StartBatch opens a batch. A conflict means another producer holds the
// batch slot; retry later.
func (c *Client) StartBatch(ctx context.Context) (domain.BatchID, error) {
	var resp struct {
		BatchID domain.BatchID `json:"batch_id"`
	}
	if err := c.do(ctx, "start", "", http.MethodPost, "/api/batches", nil, &resp); err != nil {
		return "", fmt.Errorf("client: start batch: %w", err)
	}
	return resp.BatchID, nil
}

// PublishPrices stages one chunk and returns the number of instruments
// staged in the batch so far.
func (c *Client) PublishPrices(ctx context.Context, id domain.BatchID, records []domain.PriceRecord[domain.Quote]) (int, error) {
	body := struct {
		Prices []domain.QuoteJSON `json:"prices"`
	}{Prices: make([]domain.QuoteJSON, len(records))}
	for i, rec := range records {
		body.Prices[i] = domain.ToQuoteJSON(rec)
	}

	var resp struct {
		Staged int `json:"staged"`
	}
	if err := c.do(ctx, "publish", id, http.MethodPost, batchPath(id, "prices"), body, &resp); err != nil {
		return 0, fmt.Errorf("client: publish prices: %w", err)
	}
	return resp.Staged, nil
}

// CompleteBatch makes the batch visible.
func (c *Client) CompleteBatch(ctx context.Context, id domain.BatchID) (CompleteResult, error) {
	var resp CompleteResult
	if err := c.do(ctx, "complete", id, http.MethodPost, batchPath(id, "complete"), nil, &resp); err != nil {
		return CompleteResult{}, fmt.Errorf("client: complete batch: %w", err)
	}
	return resp, nil
}

// CancelBatch discards the batch and returns how many staged instruments
// were dropped.
func (c *Client) CancelBatch(ctx context.Context, id domain.BatchID) (int, error) {
	var resp struct {
		Discarded int `json:"discarded"`
	}
	if err := c.do(ctx, "cancel", id, http.MethodPost, batchPath(id, "cancel"), nil, &resp); err != nil {
		return 0, fmt.Errorf("client: cancel batch: %w", err)
	}
	return resp.Discarded, nil
}

// ActiveBatch describes the open batch. ok is false when there is none.
func (c *Client) ActiveBatch(ctx context.Context) (info domain.BatchInfo, ok bool, err error) {
	err = c.do(ctx, "active", "", http.MethodGet, "/api/batches/active", nil, &info)
	if isNotFound(err) {
		return domain.BatchInfo{}, false, nil
	}
	if err != nil {
		return domain.BatchInfo{}, false, fmt.Errorf("client: active batch: %w", err)
	}
	return info, true, nil
}

// GetPrice returns the committed price of one instrument. It returns an
// error matching domain.ErrNotFound when the instrument has none.
func (c *Client) GetPrice(ctx context.Context, instrumentID string) (domain.PriceRecord[domain.Quote], error) {
	var q domain.QuoteJSON
	if err := c.do(ctx, "get", "", http.MethodGet, "/api/prices/"+url.PathEscape(instrumentID), nil, &q); err != nil {
		return domain.PriceRecord[domain.Quote]{}, fmt.Errorf("client: get price %s: %w", instrumentID, err)
	}
	return q.Record()
}

// ListPrices returns every committed price sorted by instrument.
func (c *Client) ListPrices(ctx context.Context) ([]domain.PriceRecord[domain.Quote], error) {
	var resp struct {
		Prices []domain.QuoteJSON `json:"prices"`
	}
	if err := c.do(ctx, "list", "", http.MethodGet, "/api/prices", nil, &resp); err != nil {
		return nil, fmt.Errorf("client: list prices: %w", err)
	}
	out := make([]domain.PriceRecord[domain.Quote], 0, len(resp.Prices))
	for _, q := range resp.Prices {
		rec, err := q.Record()
		if err != nil {
			return nil, fmt.Errorf("client: list prices: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func batchPath(id domain.BatchID, action string) string {
	return "/api/batches/" + url.PathEscape(string(id)) + "/" + action
}

// do sends a JSON request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, op string, id domain.BatchID, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(op, id, resp.StatusCode, respBody); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError is the body of every error reply.
type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

var kinds = map[string]error{
	"validation": domain.ErrValidation,
	"conflict":   domain.ErrConflict,
	"not_found":  domain.ErrNotFound,
	"state":      domain.ErrState,
}

// checkHTTPStatus maps non-2xx replies to domain errors so callers can use
// errors.Is the same way they would against the store.
func checkHTTPStatus(op string, id domain.BatchID, statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	if kind, ok := kinds[apiErr.Kind]; ok {
		return domain.NewBatchError(op, id, kind, msg)
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}
