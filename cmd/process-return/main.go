package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/jia-app/offhireservice/internal/app"
	"github.com/jia-app/offhireservice/internal/config"
	sharedlog "github.com/jia-app/offhireservice/internal/log"
	"github.com/jia-app/offhireservice/internal/rental/domain"
	"github.com/jia-app/offhireservice/internal/retry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	maxAttempts := flag.Int("attempts", 3, "attempts per rental for retryable failures")
	flag.Parse()

	if flag.NArg() < 1 {
		log.Fatal("Usage: process-return [-config config.yaml] <snapshots.json>")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	snapshots, err := readSnapshots(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to read rental snapshots: %v", err)
	}
	fmt.Printf("Loaded %d rental snapshots\n", len(snapshots))

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = *maxAttempts

	failed := processAll(ctx, application, retryCfg, snapshots)

	if err := application.Shutdown(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	fmt.Printf("Processed %d rentals, %d failed\n", len(snapshots), failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func readSnapshots(filePath string) ([]domain.RentalSnapshot, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	var snapshots []domain.RentalSnapshot
	if err := json.NewDecoder(file).Decode(&snapshots); err != nil {
		return nil, fmt.Errorf("failed to decode snapshots: %w", err)
	}
	return snapshots, nil
}

// processAll runs every early return in order and returns the number of failures.
// A committed refund is reported so it is never re-issued by hand.
func processAll(ctx context.Context, application *app.App, retryCfg retry.Config, snapshots []domain.RentalSnapshot) int {
	coordinator := application.Coordinator()
	failed := 0

	for _, snapshot := range snapshots {
		if ctx.Err() != nil {
			failed++
			continue
		}

		rctx := sharedlog.WithRentalID(ctx, snapshot.RentalID)
		var result domain.EarlyReturnResult
		err := retry.Do(rctx, retryCfg, sharedlog.L(rctx), func() error {
			var err error
			result, err = coordinator.ProcessEarlyReturn(rctx, snapshot)
			return err
		})
		if err != nil {
			failed++
			var returnErr *domain.EarlyReturnError
			if errors.As(err, &returnErr) {
				if receipt, ok := returnErr.Receipt(); ok {
					sharedlog.Error(rctx, "Refund committed but early return incomplete",
						zap.String("refund_id", receipt.ExternalRefundID),
						zap.Error(err))
				}
			}
			fmt.Printf("  %s: FAILED (%s) %v\n", snapshot.RentalID, domain.KindOf(err), err)
			continue
		}

		status := "processed"
		if result.AlreadyProcessed {
			status = "already processed"
		}
		fmt.Printf("  %s: %s - %s\n", snapshot.RentalID, status, result.Message)
	}

	return failed
}
