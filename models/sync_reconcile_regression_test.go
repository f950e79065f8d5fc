package models_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/hqsync"
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"bitbucket.org/mmdatafocus/pos_backend/workflow"
)

// End-to-end reconciliation regression.
//
// Covers the full offline-first path against real MySQL + Redis:
// - record batch/sale/refund locally while "offline"
// - over-refund rejection under the per-order lock
// - reconcile pass: batch -> transaction -> refund order, server ids applied
// - idempotence: a second pass pushes nothing
// - crash recovery: SYNCING never survives a restart
//
// Usage (requires Docker):
//   INTEGRATION_TESTS=1 go test ./models -run SyncReconcile -v

// fakeHQ simulates the HQ API with idempotency-key dedup, the contract
// the engine relies on for at-least-once submission safety.
type fakeHQ struct {
	mu     sync.Mutex
	nextId int64
	seen   map[string]int64
	posts  int
}

func newFakeHQ() *fakeHQ {
	return &fakeHQ{nextId: 1000, seen: map[string]int64{}}
}

func (f *fakeHQ) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	create := func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			http.Error(w, `{"error":"missing idempotency key"}`, http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		id, dup := f.seen[key]
		if !dup {
			f.nextId++
			id = f.nextId
			f.seen[key] = id
			f.posts++
		}
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/refunds") {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "status": "approved"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": id})
	}
	mux.HandleFunc("/v1/batches", create)
	mux.HandleFunc("/v1/transactions", create)
	mux.HandleFunc("/v1/refunds", create)
	return mux
}

func (f *fakeHQ) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts
}

func TestSyncReconcile_EndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })
	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "pos_test")
	t.Setenv("REDIS_ADDRESS", "127.0.0.1:"+redisPort)

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()
	db := config.GetDB()

	hq := newFakeHQ()
	ts := httptest.NewServer(hq.handler())
	t.Cleanup(ts.Close)
	t.Setenv("HQ_API_BASE_URL", ts.URL)
	t.Setenv("HQ_RATE_LIMIT_PER_MIN", "60000")
	remote, err := hqsync.NewClient("test-key")
	if err != nil {
		t.Fatalf("hq client: %v", err)
	}

	ctx := utils.SetStoreIdInContext(context.Background(), "store-1")
	ctx = utils.SetUserIdInContext(ctx, 7)
	ctx = utils.SetRegisterIdInContext(ctx, 1)

	// --- Record everything locally; HQ is not consulted at all here. ---

	batch, err := workflow.OpenBatch(ctx, &models.NewBatch{
		RegisterId:         1,
		StartingCashAmount: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("OpenBatch: %v", err)
	}
	if _, err := workflow.OpenBatch(ctx, &models.NewBatch{RegisterId: 1}); err != utils.ErrBatchAlreadyOpen {
		t.Fatalf("expected ErrBatchAlreadyOpen, got %v", err)
	}
	// The open-register unique index holds even when the workflow guard
	// is bypassed: a direct second insert collides at commit.
	if _, err := models.InsertBatch(db, &models.NewBatch{RegisterId: 1}); !utils.IsDuplicateKeyError(err) {
		t.Fatalf("expected duplicate-key on second open batch for the register, got %v", err)
	}

	order, txn, err := workflow.RecordSale(ctx, &workflow.NewSale{
		RegisterId: 1,
		Items: []workflow.NewSaleItem{
			{ProductId: 10, Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(30)},
		},
		PaymentMethod: models.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("RecordSale: %v", err)
	}
	if txn.SyncStatus != models.SyncStatusPending {
		t.Fatalf("new transaction must be PENDING, got %s", txn.SyncStatus)
	}

	refund, err := workflow.CreateRefund(ctx, &models.NewRefund{
		OrderLocalId:     order.LocalId,
		Reason:           "damaged item",
		RestoreInventory: true,
		Items: []models.NewRefundItem{
			{ProductId: 10, Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(30)},
		},
	})
	if err != nil {
		t.Fatalf("CreateRefund: %v", err)
	}

	// Remaining balance is 30; refunding 40 must be rejected.
	if _, err := workflow.CreateRefund(ctx, &models.NewRefund{
		OrderLocalId: order.LocalId,
		Items: []models.NewRefundItem{
			{ProductId: 10, Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(20)},
		},
	}); err != utils.ErrOverRefund {
		t.Fatalf("expected ErrOverRefund, got %v", err)
	}

	// Inventory restore: sale took 2 out, refund put 1 back.
	stock, err := models.GetStock(db, 10, 0)
	if err != nil {
		t.Fatalf("GetStock: %v", err)
	}
	if stock.Quantity.Cmp(decimal.NewFromInt(-1)) != 0 {
		t.Fatalf("expected stock -1 after sale+refund, got %s", stock.Quantity)
	}

	// --- Open batch must not sync; dependents wait for it. ---

	engine := hqsync.NewEngine(db, remote, config.GetLogger(), "store-1")
	for _, kind := range models.OrderedRecordKinds() {
		if _, err := engine.Reconcile(ctx, kind, 0); err != nil {
			t.Fatalf("reconcile %s: %v", kind, err)
		}
	}
	reloaded, err := models.GetBatchByLocalId(ctx, batch.LocalId)
	if err != nil {
		t.Fatalf("reload batch: %v", err)
	}
	if reloaded.SyncStatus != models.SyncStatusPending || reloaded.ServerId != nil {
		t.Fatalf("open batch must stay PENDING without a server id, got %s", reloaded.SyncStatus)
	}
	txnReloaded, err := models.GetTransactionByLocalId(db, txn.LocalId)
	if err != nil {
		t.Fatalf("reload transaction: %v", err)
	}
	if txnReloaded.SyncStatus != models.SyncStatusPending {
		t.Fatalf("transaction with unsynced batch must stay PENDING, got %s", txnReloaded.SyncStatus)
	}

	// --- Close, reconcile, and verify the ordered acknowledgments. ---

	if _, err := workflow.CloseBatch(ctx, batch.LocalId, decimal.NewFromInt(160), models.BatchCloseTotals{
		TotalCashAmount: decimal.NewFromInt(60),
	}); err != nil {
		t.Fatalf("CloseBatch: %v", err)
	}
	if _, err := workflow.CloseBatch(ctx, batch.LocalId, decimal.Zero, models.BatchCloseTotals{}); err != utils.ErrBatchAlreadyClosed {
		t.Fatalf("expected ErrBatchAlreadyClosed, got %v", err)
	}
	// Close clears the open-register marker and invalidates the cache.
	if open, err := workflow.GetOpenBatch(ctx, 1); err != nil || open != nil {
		t.Fatalf("closed batch must not be reported open, got %v (err %v)", open, err)
	}
	reopened, err := workflow.OpenBatch(ctx, &models.NewBatch{
		RegisterId:         1,
		StartingCashAmount: decimal.NewFromInt(160),
	})
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	if _, err := workflow.CloseBatch(ctx, reopened.LocalId, decimal.NewFromInt(160), models.BatchCloseTotals{}); err != nil {
		t.Fatalf("close reopened batch: %v", err)
	}

	for _, kind := range models.OrderedRecordKinds() {
		if _, err := engine.Reconcile(ctx, kind, 0); err != nil {
			t.Fatalf("reconcile %s: %v", kind, err)
		}
	}

	reloaded, _ = models.GetBatchByLocalId(ctx, batch.LocalId)
	if reloaded.SyncStatus != models.SyncStatusSynced || reloaded.ServerId == nil {
		t.Fatalf("closed batch must be SYNCED with a server id, got %s", reloaded.SyncStatus)
	}
	txnReloaded, _ = models.GetTransactionByLocalId(db, txn.LocalId)
	if txnReloaded.SyncStatus != models.SyncStatusSynced || txnReloaded.ServerId == nil {
		t.Fatalf("transaction must be SYNCED with a server id, got %s", txnReloaded.SyncStatus)
	}
	if txnReloaded.ServerBatchId == nil || *txnReloaded.ServerBatchId != *reloaded.ServerId {
		t.Fatalf("transaction must carry its batch's server id")
	}
	refundReloaded, _ := models.GetRefundByLocalId(db, refund.LocalId)
	if refundReloaded.SyncStatus != models.SyncStatusSynced || refundReloaded.Status != models.RefundStatusApproved {
		t.Fatalf("refund must be SYNCED and APPROVED, got %s/%s", refundReloaded.SyncStatus, refundReloaded.Status)
	}

	// --- Idempotence: nothing left to push, HQ sees no new posts. ---

	posts := hq.postCount()
	for _, kind := range models.OrderedRecordKinds() {
		if _, err := engine.Reconcile(ctx, kind, 0); err != nil {
			t.Fatalf("second pass %s: %v", kind, err)
		}
	}
	if hq.postCount() != posts {
		t.Fatalf("second pass must not re-post acknowledged records: %d -> %d", posts, hq.postCount())
	}

	// --- Crash recovery: simulate a process death mid-claim. ---

	if err := db.Model(&models.SalesTransaction{}).
		Where("id = ?", txnReloaded.ID).
		Update("sync_status", models.SyncStatusSyncing).Error; err != nil {
		t.Fatalf("simulate stuck claim: %v", err)
	}
	if _, err := models.ResetStuckSyncing(ctx, db); err != nil {
		t.Fatalf("ResetStuckSyncing: %v", err)
	}
	txnReloaded, _ = models.GetTransactionByLocalId(db, txn.LocalId)
	if txnReloaded.SyncStatus != models.SyncStatusPending {
		t.Fatalf("stuck SYNCING must reset to PENDING, got %s", txnReloaded.SyncStatus)
	}
	// The server id survived, so the next pass acknowledges locally
	// without another remote call.
	if _, err := engine.Reconcile(ctx, models.RecordKindTransaction, 0); err != nil {
		t.Fatalf("recovery pass: %v", err)
	}
	txnReloaded, _ = models.GetTransactionByLocalId(db, txn.LocalId)
	if txnReloaded.SyncStatus != models.SyncStatusSynced {
		t.Fatalf("recovered transaction must re-mark SYNCED, got %s", txnReloaded.SyncStatus)
	}
	if hq.postCount() != posts {
		t.Fatalf("recovery must not re-post, posts %d -> %d", posts, hq.postCount())
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("pos-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("pos-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=pos_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
