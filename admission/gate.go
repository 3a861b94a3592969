// Package admission turns a raw nightly batch into durable bundle and vehicle
// rows. Admission is idempotent: replaying a batch admits nothing twice, and
// each bundle starts orchestration at most once via the start lock.
package admission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Skyvell/signing-signicat/core"
)

type Gate struct {
	Bundles  core.BundleStore
	Vehicles core.VehicleStore
	Trigger  core.OrchestrationTrigger
	Observer core.Observer
}

type Config struct {
	Bundles  core.BundleStore
	Vehicles core.VehicleStore
	Trigger  core.OrchestrationTrigger
	Observer core.Observer
}

func New(cfg Config) (*Gate, error) {
	if cfg.Bundles == nil || cfg.Vehicles == nil {
		return nil, fmt.Errorf("admission: bundle and vehicle stores are required")
	}
	if cfg.Trigger == nil {
		return nil, fmt.Errorf("admission: orchestration trigger is required")
	}
	return &Gate{
		Bundles:  cfg.Bundles,
		Vehicles: cfg.Vehicles,
		Trigger:  cfg.Trigger,
		Observer: cfg.Observer,
	}, nil
}

// IngestBatch admits every valid row and rejects the rest individually; one
// malformed row never sinks its batch. Rows that already exist count as
// replays, not errors. Each bundle whose start lock is won here gets exactly
// one orchestration trigger.
func (g *Gate) IngestBatch(ctx context.Context, rows []core.BatchRow) (report core.IngestReport, err error) {
	if g == nil || g.Bundles == nil || g.Vehicles == nil {
		return core.IngestReport{}, fmt.Errorf("admission: gate is not configured")
	}
	startedAt := time.Now()
	defer func() {
		g.Observer.ObserveOperation(ctx, startedAt, "admission.ingest", err, map[string]any{
			"rows":     len(rows),
			"admitted": report.Admitted,
			"existing": report.Existing,
			"rejected": len(report.Rejected),
			"started":  len(report.Started),
		})
	}()

	bundleOrder := []string{}
	grouped := map[string][]core.BatchRow{}
	for _, row := range rows {
		row.BundleID = strings.TrimSpace(row.BundleID)
		row.ContractID = strings.TrimSpace(row.ContractID)
		if validateErr := row.Validate(); validateErr != nil {
			report.Rejected = append(report.Rejected, core.RejectedRow{
				Row:    row,
				Reason: validateErr.Error(),
			})
			continue
		}
		if _, ok := grouped[row.BundleID]; !ok {
			bundleOrder = append(bundleOrder, row.BundleID)
		}
		grouped[row.BundleID] = append(grouped[row.BundleID], row)
	}

	for _, bundleID := range bundleOrder {
		if _, _, createErr := g.Bundles.CreateBundleIfAbsent(ctx, bundleID); createErr != nil {
			return report, createErr
		}

		var poisoned error
		for _, row := range grouped[bundleID] {
			vehicle, inserted, createErr := g.Vehicles.CreateVehicleIfAbsent(ctx, row.BundleID, row.ContractID, row.SequenceNo)
			if createErr != nil {
				if !core.IsValidation(createErr) {
					return report, createErr
				}
				// A row contesting an occupied sequence slot is rejected, and
				// the bundle must settle as failed rather than pick a winner.
				report.Rejected = append(report.Rejected, core.RejectedRow{
					Row:    row,
					Reason: createErr.Error(),
				})
				if poisoned == nil {
					poisoned = createErr
				}
				continue
			}
			if inserted {
				report.Admitted++
				continue
			}
			if vehicle.SequenceNo != row.SequenceNo {
				report.Rejected = append(report.Rejected, core.RejectedRow{
					Row: row,
					Reason: fmt.Sprintf("contract %s already admitted with sequence %d",
						row.ContractID, vehicle.SequenceNo),
				})
				continue
			}
			report.Existing++
		}

		locked, lockErr := g.Bundles.TryLockStart(ctx, bundleID)
		if lockErr != nil {
			return report, lockErr
		}
		if !locked {
			continue
		}
		if poisoned != nil {
			cause := poisoned.Error()
			if _, failErr := g.Bundles.UpdateBundleStatus(ctx, core.UpdateBundleStatusInput{
				BundleID:  bundleID,
				From:      core.BundleStatusNew,
				To:        core.BundleStatusFailed,
				Reason:    "sequence validation failed",
				LastError: &cause,
			}); failErr != nil && !core.IsConflict(failErr) {
				return report, failErr
			}
			continue
		}
		report.Started = append(report.Started, bundleID)
		if triggerErr := g.Trigger.TriggerBundle(ctx, bundleID); triggerErr != nil {
			// The lock is won and the state is durable; the orchestrator can
			// be re-triggered without re-admitting anything.
			g.Observer.LogError(ctx, "orchestration trigger failed", map[string]any{
				"bundle_id": bundleID,
				"error":     triggerErr.Error(),
			})
		}
	}

	return report, nil
}

var _ core.AdmissionGate = (*Gate)(nil)
