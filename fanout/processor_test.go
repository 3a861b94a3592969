package fanout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Skyvell/signing-signicat/core"
)

func testVehicles(count int) []core.Vehicle {
	vehicles := make([]core.Vehicle, 0, count)
	for i := 0; i < count; i++ {
		vehicles = append(vehicles, core.Vehicle{
			BundleID:   "B-1",
			ContractID: fmt.Sprintf("C-%d", i+1),
			SequenceNo: i + 1,
			Status:     core.VehicleStatusReady,
		})
	}
	return vehicles
}

func TestProcess_BoundsConcurrency(t *testing.T) {
	processor := &Processor{
		Concurrency: 2,
		MaxAttempts: 1,
		Sleep: func(context.Context, time.Duration) error {
			return nil
		},
	}

	var mu sync.Mutex
	inFlight := 0
	peak := 0

	outcome, err := processor.Process(context.Background(), testVehicles(8), func(context.Context, core.Vehicle) error {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !outcome.AllSucceeded() {
		t.Fatalf("expected all vehicles to succeed, got %d failures", len(outcome.Failed))
	}
	if len(outcome.Succeeded) != 8 {
		t.Fatalf("expected 8 succeeded vehicles, got %d", len(outcome.Succeeded))
	}
	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent operations, observed %d", peak)
	}
}

func TestProcess_FailureDoesNotAbortSiblings(t *testing.T) {
	processor := &Processor{
		Concurrency: 3,
		MaxAttempts: 1,
	}

	outcome, err := processor.Process(context.Background(), testVehicles(5), func(_ context.Context, vehicle core.Vehicle) error {
		if vehicle.ContractID == "C-2" || vehicle.ContractID == "C-4" {
			return core.NewPermanentError(fmt.Sprintf("delivery rejected for %s", vehicle.ContractID))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(outcome.Succeeded) != 3 {
		t.Fatalf("expected 3 succeeded vehicles, got %d", len(outcome.Succeeded))
	}
	failed := outcome.FailedContractIDs()
	if len(failed) != 2 || failed[0] != "C-2" || failed[1] != "C-4" {
		t.Fatalf("expected failures for C-2 and C-4, got %v", failed)
	}
}

func TestProcess_RetriesTransientFailures(t *testing.T) {
	var sleeps []time.Duration
	processor := &Processor{
		Concurrency: 1,
		MaxAttempts: 3,
		RetryPolicy: ExponentialRetryPolicy{Initial: 10 * time.Millisecond, Max: time.Second},
		Sleep: func(_ context.Context, delay time.Duration) error {
			sleeps = append(sleeps, delay)
			return nil
		},
	}

	attempts := 0
	outcome, err := processor.Process(context.Background(), testVehicles(1), func(context.Context, core.Vehicle) error {
		attempts++
		if attempts < 3 {
			return core.NewTransientError("render backend unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !outcome.AllSucceeded() {
		t.Fatalf("expected success after retries, got %d failures", len(outcome.Failed))
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(sleeps) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(sleeps))
	}
	if sleeps[0] != 10*time.Millisecond || sleeps[1] != 20*time.Millisecond {
		t.Fatalf("expected exponential backoff 10ms then 20ms, got %v", sleeps)
	}
}

func TestProcess_DoesNotRetryPermanentFailures(t *testing.T) {
	processor := &Processor{
		Concurrency: 1,
		MaxAttempts: 5,
		Sleep: func(context.Context, time.Duration) error {
			return nil
		},
	}

	attempts := 0
	outcome, err := processor.Process(context.Background(), testVehicles(1), func(context.Context, core.Vehicle) error {
		attempts++
		return core.NewPermanentError("contract template is invalid")
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt for a permanent failure, got %d", attempts)
	}
	if len(outcome.Failed) != 1 {
		t.Fatalf("expected 1 failed vehicle, got %d", len(outcome.Failed))
	}
}

func TestProcess_ExhaustedRetriesSettleAsFailure(t *testing.T) {
	processor := &Processor{
		Concurrency: 1,
		MaxAttempts: 2,
		Sleep: func(context.Context, time.Duration) error {
			return nil
		},
	}

	attempts := 0
	outcome, err := processor.Process(context.Background(), testVehicles(1), func(context.Context, core.Vehicle) error {
		attempts++
		return core.NewTransientError("delivery endpoint timed out")
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if len(outcome.Failed) != 1 {
		t.Fatalf("expected the vehicle to settle as failed, got %v", outcome)
	}
}

func TestProcess_CanceledContextReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	processor := &Processor{Concurrency: 2, MaxAttempts: 1}
	_, err := processor.Process(ctx, testVehicles(3), func(context.Context, core.Vehicle) error {
		return nil
	})
	if err == nil {
		t.Fatalf("expected context cancellation error")
	}
}

func TestExponentialRetryPolicy_CapsAtMax(t *testing.T) {
	policy := ExponentialRetryPolicy{Initial: time.Second, Max: 4 * time.Second}
	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	for i, want := range expected {
		if got := policy.NextDelay(i + 1); got != want {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, want, got)
		}
	}
}
