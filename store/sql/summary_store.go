package sqlstore

import (
	"context"
	"fmt"

	"github.com/Skyvell/signing-signicat/core"
)

// SummaryStore builds the operator read model from the bundle header plus its
// vehicle rows. It never surfaces a raw fault without the bundle identity.
type SummaryStore struct {
	bundles  core.BundleStore
	vehicles core.VehicleStore
}

func NewSummaryStore(bundles core.BundleStore, vehicles core.VehicleStore) (*SummaryStore, error) {
	if bundles == nil || vehicles == nil {
		return nil, fmt.Errorf("sqlstore: bundle and vehicle stores are required")
	}
	return &SummaryStore{
		bundles:  bundles,
		vehicles: vehicles,
	}, nil
}

func (s *SummaryStore) GetBundleSummary(ctx context.Context, bundleID string) (core.BundleSummary, error) {
	if s == nil || s.bundles == nil || s.vehicles == nil {
		return core.BundleSummary{}, fmt.Errorf("sqlstore: summary store is not configured")
	}

	bundle, err := s.bundles.GetBundle(ctx, bundleID)
	if err != nil {
		return core.BundleSummary{}, err
	}
	vehicles, err := s.vehicles.ListVehicles(ctx, bundle.ID)
	if err != nil {
		return core.BundleSummary{}, err
	}

	summary := core.BundleSummary{
		BundleID:     bundle.ID,
		Status:       bundle.Status,
		VehicleCount: len(vehicles),
		LastError:    bundle.LastError,
		UpdatedAt:    bundle.UpdatedAt,
	}
	for _, vehicle := range vehicles {
		switch vehicle.Status {
		case core.VehicleStatusDelivered:
			summary.DeliveredCount++
		case core.VehicleStatusRenderFailed, core.VehicleStatusDeliveryFailed:
			summary.FailedContracts = append(summary.FailedContracts, vehicle.ContractID)
		}
	}
	return summary, nil
}

var _ core.SummaryReader = (*SummaryStore)(nil)
