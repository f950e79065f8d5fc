package hqsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/utils"
)

// RemoteAPI is the HQ surface the reconciliation engine talks to.
type RemoteAPI interface {
	Ping(ctx context.Context) error
	CreateBatch(ctx context.Context, payload BatchPayload) (int64, error)
	CreateTransaction(ctx context.Context, payload TransactionPayload) (int64, error)
	CreateRefund(ctx context.Context, payload RefundPayload) (RefundResult, error)
}

// UnconfiguredRemote returns a RemoteAPI whose connectivity check always
// fails, so passes suspend and records queue locally until an api key is
// configured.
func UnconfiguredRemote() RemoteAPI {
	return unconfiguredRemote{}
}

type unconfiguredRemote struct{}

var errNotConfigured = errors.New("hq sync is not configured")

func (unconfiguredRemote) Ping(context.Context) error { return errNotConfigured }
func (unconfiguredRemote) CreateBatch(context.Context, BatchPayload) (int64, error) {
	return 0, errNotConfigured
}
func (unconfiguredRemote) CreateTransaction(context.Context, TransactionPayload) (int64, error) {
	return 0, errNotConfigured
}
func (unconfiguredRemote) CreateRefund(context.Context, RefundPayload) (RefundResult, error) {
	return RefundResult{}, errNotConfigured
}

type hqClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   *time.Ticker
}

// NewClient builds the HQ API client from the environment. The api key
// is required; base URL and header name have defaults.
func NewClient(apiKey string) (RemoteAPI, error) {
	baseURL := strings.TrimSpace(os.Getenv("HQ_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://hq.example.com"
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("HQ_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("hq api key is empty")
	}
	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("HQ_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &hqClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.NewTicker(interval),
	}, nil
}

func (c *hqClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/ping", nil)
	if err != nil {
		return err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hq ping returned %d", resp.StatusCode)
	}
	return nil
}

func (c *hqClient) CreateBatch(ctx context.Context, payload BatchPayload) (int64, error) {
	var parsed createResponse
	if err := c.postJSON(ctx, "/v1/batches", payload.LocalId, payload, &parsed); err != nil {
		return 0, err
	}
	return parsed.ID, nil
}

func (c *hqClient) CreateTransaction(ctx context.Context, payload TransactionPayload) (int64, error) {
	var parsed createResponse
	if err := c.postJSON(ctx, "/v1/transactions", payload.LocalId, payload, &parsed); err != nil {
		return 0, err
	}
	return parsed.ID, nil
}

func (c *hqClient) CreateRefund(ctx context.Context, payload RefundPayload) (RefundResult, error) {
	var parsed RefundResult
	if err := c.postJSON(ctx, "/v1/refunds", payload.LocalId, payload, &parsed); err != nil {
		return RefundResult{}, err
	}
	return parsed, nil
}

// postJSON submits one record. The local id doubles as the
// Idempotency-Key header so HQ can deduplicate retried submissions.
// Non-2xx responses come back as *utils.RemoteError so callers can
// classify them as retryable or terminal.
func (c *hqClient) postJSON(ctx context.Context, path string, idempotencyKey string, payload interface{}, out interface{}) error {
	select {
	case <-c.limiter.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		req.Header.Set("X-Correlation-Id", cid)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newRemoteError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
