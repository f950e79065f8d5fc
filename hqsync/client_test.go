package hqsync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/pos_backend/utils"
)

func newTestClient(t *testing.T, ts *httptest.Server) RemoteAPI {
	t.Helper()
	t.Setenv("HQ_API_BASE_URL", ts.URL)
	t.Setenv("HQ_API_KEY_HEADER", "X-API-Key")
	t.Setenv("HQ_RATE_LIMIT_PER_MIN", "60000")
	client, err := NewClient("test-key")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestClientCreateBatch_SendsIdempotencyKeyAndAuth(t *testing.T) {
	var gotKey, gotAuth, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("X-API-Key")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 9001}`))
	}))
	defer ts.Close()

	client := newTestClient(t, ts)
	serverId, err := client.CreateBatch(context.Background(), BatchPayload{
		LocalId:            "uuid-batch-1",
		BatchNo:            "R1-20260829-080000",
		StartingCashAmount: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if serverId != 9001 {
		t.Fatalf("expected server id 9001, got %d", serverId)
	}
	if gotKey != "uuid-batch-1" {
		t.Fatalf("idempotency key must be the local id, got %q", gotKey)
	}
	if gotAuth != "test-key" {
		t.Fatalf("api key header missing, got %q", gotAuth)
	}
	if gotPath != "/v1/batches" {
		t.Fatalf("unexpected path %q", gotPath)
	}
}

func TestClientCreateTransaction_ServerErrorIsRetryable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer ts.Close()

	client := newTestClient(t, ts)
	_, err := client.CreateTransaction(context.Background(), TransactionPayload{LocalId: "uuid-txn-1"})
	if err == nil {
		t.Fatalf("expected error on 502")
	}
	var remote *utils.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected *utils.RemoteError, got %T", err)
	}
	if remote.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", remote.StatusCode)
	}
	if !utils.IsRetryableSyncError(err) {
		t.Fatalf("502 must be retryable")
	}
}

func TestClientCreateRefund_ValidationRejectionIsTerminal(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"refund exceeds order total"}`, http.StatusUnprocessableEntity)
	}))
	defer ts.Close()

	client := newTestClient(t, ts)
	_, err := client.CreateRefund(context.Background(), RefundPayload{LocalId: "uuid-refund-1"})
	if err == nil {
		t.Fatalf("expected error on 422")
	}
	if utils.IsRetryableSyncError(err) {
		t.Fatalf("422 must be terminal, not retryable")
	}
}

func TestClientCreateRefund_ParsesApprovalStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 77, "status": "partially_approved"}`))
	}))
	defer ts.Close()

	client := newTestClient(t, ts)
	result, err := client.CreateRefund(context.Background(), RefundPayload{LocalId: "uuid-refund-2"})
	if err != nil {
		t.Fatalf("CreateRefund: %v", err)
	}
	if result.ID != 77 || result.Status != remoteRefundPartiallyApproved {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestClientPing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ping" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := newTestClient(t, ts)
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	ts.Close()
	if err := client.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping failure once server is down")
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient("   "); err == nil {
		t.Fatalf("blank api key must be rejected")
	}
}

// A cancelled pass must not sit out a rate-limit interval waiting for
// the ticker.
func TestClientRateLimitWaitHonorsCancellation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("cancelled request must not reach the server")
	}))
	defer ts.Close()

	t.Setenv("HQ_API_BASE_URL", ts.URL)
	t.Setenv("HQ_RATE_LIMIT_PER_MIN", "1")
	client, err := NewClient("test-key")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err = client.CreateBatch(ctx, BatchPayload{LocalId: "uuid-batch-1"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("cancelled call blocked on the rate limiter")
	}
}

func TestUnconfiguredRemote(t *testing.T) {
	remote := UnconfiguredRemote()
	if err := remote.Ping(context.Background()); err == nil {
		t.Fatalf("unconfigured remote must fail connectivity checks")
	}
}
