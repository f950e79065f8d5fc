package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/hqsync"
	"bitbucket.org/mmdatafocus/pos_backend/models"
)

// Runs a single reconciliation pass and prints the per-kind report.
// Useful for cron-style deployments and for draining the queue by hand.
func main() {
	timeoutSec := flag.Int("timeout", 300, "overall pass timeout in seconds")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	remote, err := hqsync.NewClient(os.Getenv("HQ_API_KEY"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "hq client: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutSec)*time.Second)
	defer cancel()

	if n, err := models.ResetStuckSyncing(ctx, db); err != nil {
		fmt.Fprintf(os.Stderr, "recovery: %v\n", err)
		os.Exit(1)
	} else if n > 0 {
		fmt.Printf("recovered %d stuck record(s)\n", n)
	}

	if err := remote.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "hq unreachable, nothing pushed: %v\n", err)
		os.Exit(2)
	}

	engine := hqsync.NewEngine(db, remote, logger, strings.TrimSpace(os.Getenv("STORE_ID")))
	exitCode := 0
	for _, kind := range models.OrderedRecordKinds() {
		report, err := engine.Reconcile(ctx, kind, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", kind, err)
			exitCode = 1
			continue
		}
		fmt.Printf("%-12s synced=%d failed=%d still_pending=%d\n", kind, report.Synced, report.Failed, report.StillPending)
		if report.Failed > 0 {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}
