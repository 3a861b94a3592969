// Package fanout runs one operation across a bundle's vehicles with bounded
// concurrency, retries transient failures per vehicle, and always fans back
// in: every dispatched vehicle settles before Process returns.
package fanout

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Skyvell/signing-signicat/core"
)

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

// Processor is the bounded fan-out engine. One failed vehicle never aborts its
// siblings; the aggregate outcome reports both sides of the fan-in.
type Processor struct {
	Concurrency int
	MaxAttempts int
	RetryPolicy RetryPolicy
	// Retryable decides whether a failed attempt is worth repeating.
	// Defaults to core.IsTransient.
	Retryable func(error) bool
	Observer  core.Observer
	// Sleep is injectable for tests; defaults to a context-aware timer.
	Sleep func(ctx context.Context, delay time.Duration) error
}

func NewProcessor(cfg core.FanOutConfig) *Processor {
	return &Processor{
		Concurrency: cfg.Concurrency,
		MaxAttempts: cfg.MaxAttempts,
		RetryPolicy: ExponentialRetryPolicy{
			Initial: cfg.InitialBackoff,
			Max:     cfg.MaxBackoff,
		},
		Retryable: core.IsTransient,
	}
}

func (p *Processor) Process(
	ctx context.Context,
	vehicles []core.Vehicle,
	operation core.VehicleOperation,
) (core.FanOutOutcome, error) {
	if p == nil {
		return core.FanOutOutcome{}, fmt.Errorf("fanout: processor is not configured")
	}
	if operation == nil {
		return core.FanOutOutcome{}, fmt.Errorf("fanout: operation is required")
	}
	if len(vehicles) == 0 {
		return core.FanOutOutcome{}, nil
	}

	concurrency := p.concurrency()
	semaphore := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	outcome := core.FanOutOutcome{}

	for _, vehicle := range vehicles {
		if err := ctx.Err(); err != nil {
			// Stop dispatching, but wait for everything already in flight.
			break
		}
		semaphore <- struct{}{}
		wg.Add(1)
		go func(vehicle core.Vehicle) {
			defer wg.Done()
			defer func() { <-semaphore }()

			err := p.runWithRetries(ctx, vehicle, operation)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcome.Failed = append(outcome.Failed, core.VehicleFailure{
					Vehicle: vehicle,
					Cause:   err,
				})
				return
			}
			outcome.Succeeded = append(outcome.Succeeded, vehicle)
		}(vehicle)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return core.FanOutOutcome{}, err
	}

	sort.Slice(outcome.Succeeded, func(i, j int) bool {
		return outcome.Succeeded[i].SequenceNo < outcome.Succeeded[j].SequenceNo
	})
	sort.Slice(outcome.Failed, func(i, j int) bool {
		return outcome.Failed[i].Vehicle.SequenceNo < outcome.Failed[j].Vehicle.SequenceNo
	})
	return outcome, nil
}

func (p *Processor) runWithRetries(ctx context.Context, vehicle core.Vehicle, operation core.VehicleOperation) error {
	maxAttempts := p.maxAttempts()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		startedAt := time.Now()
		err := operation(ctx, vehicle)
		p.Observer.ObserveOperation(ctx, startedAt, "fanout.vehicle", err, map[string]any{
			"bundle_id":   vehicle.BundleID,
			"contract_id": vehicle.ContractID,
			"attempt":     attempt,
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.retryable(err) || attempt == maxAttempts {
			return lastErr
		}
		if sleepErr := p.sleep(ctx, p.retryPolicy().NextDelay(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	return lastErr
}

func (p *Processor) concurrency() int {
	if p != nil && p.Concurrency > 0 {
		return p.Concurrency
	}
	return 4
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 3
}

func (p *Processor) retryPolicy() RetryPolicy {
	if p != nil && p.RetryPolicy != nil {
		return p.RetryPolicy
	}
	return ExponentialRetryPolicy{}
}

func (p *Processor) retryable(err error) bool {
	if p != nil && p.Retryable != nil {
		return p.Retryable(err)
	}
	return core.IsTransient(err)
}

func (p *Processor) sleep(ctx context.Context, delay time.Duration) error {
	if p != nil && p.Sleep != nil {
		return p.Sleep(ctx, delay)
	}
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ core.FanOutProcessor = (*Processor)(nil)
