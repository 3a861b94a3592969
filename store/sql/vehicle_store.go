package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/Skyvell/signing-signicat/core"
)

// VehicleStore persists per-contract rows. Dedup is a unique constraint on
// (bundle_id, contract_id); a second contract claiming an occupied sequence
// slot is refused at write time, with the ordered listing re-checking as a
// backstop against rows that raced past the guard.
type VehicleStore struct {
	db   *bun.DB
	repo repository.Repository[*vehicleRecord]
}

func NewVehicleStore(db *bun.DB) (*VehicleStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*vehicleRecord](db, vehicleHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid vehicle repository wiring: %w", err)
		}
	}
	return &VehicleStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *VehicleStore) CreateVehicleIfAbsent(ctx context.Context, bundleID, contractID string, sequenceNo int) (core.Vehicle, bool, error) {
	if s == nil || s.db == nil {
		return core.Vehicle{}, false, fmt.Errorf("sqlstore: vehicle store is not configured")
	}
	bundleID = strings.TrimSpace(bundleID)
	contractID = strings.TrimSpace(contractID)
	if bundleID == "" || contractID == "" {
		return core.Vehicle{}, false, fmt.Errorf("sqlstore: bundle id and contract id are required")
	}

	holder := &vehicleRecord{}
	err := s.db.NewSelect().
		Model(holder).
		Where("?TableAlias.bundle_id = ?", bundleID).
		Where("?TableAlias.sequence_no = ?", sequenceNo).
		Where("?TableAlias.contract_id != ?", contractID).
		Limit(1).
		Scan(ctx)
	switch {
	case err == nil:
		return core.Vehicle{}, false, fmt.Errorf("%w: bundle %q sequence %d already held by contract %q",
			core.ErrDuplicateSequenceNo, bundleID, sequenceNo, holder.ContractID)
	case err != sql.ErrNoRows:
		return core.Vehicle{}, false, err
	}

	now := time.Now().UTC()
	record := &vehicleRecord{
		ID:         uuid.NewString(),
		BundleID:   bundleID,
		ContractID: contractID,
		SequenceNo: sequenceNo,
		Status:     string(core.VehicleStatusReady),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.GetVehicle(ctx, bundleID, contractID)
			if getErr != nil {
				return core.Vehicle{}, false, getErr
			}
			return existing, false, nil
		}
		return core.Vehicle{}, false, err
	}
	return vehicleToDomain(record), true, nil
}

func (s *VehicleStore) GetVehicle(ctx context.Context, bundleID, contractID string) (core.Vehicle, error) {
	if s == nil || s.db == nil {
		return core.Vehicle{}, fmt.Errorf("sqlstore: vehicle store is not configured")
	}
	record := &vehicleRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.bundle_id = ?", strings.TrimSpace(bundleID)).
		Where("?TableAlias.contract_id = ?", strings.TrimSpace(contractID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Vehicle{}, fmt.Errorf("%w: bundle %q contract %q", core.ErrVehicleNotFound, bundleID, contractID)
		}
		return core.Vehicle{}, err
	}
	return vehicleToDomain(record), nil
}

// ListVehicles returns the bundle's vehicles in sequence order. Two vehicles
// sharing a sequence number make the assembly order ambiguous, so the listing
// refuses with ErrDuplicateSequenceNo instead of picking a winner.
func (s *VehicleStore) ListVehicles(ctx context.Context, bundleID string) ([]core.Vehicle, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: vehicle store is not configured")
	}
	records := []*vehicleRecord{}
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.bundle_id = ?", strings.TrimSpace(bundleID)).
		OrderExpr("?TableAlias.sequence_no ASC, ?TableAlias.contract_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	vehicles := make([]core.Vehicle, 0, len(records))
	seen := map[int]string{}
	for _, record := range records {
		if other, ok := seen[record.SequenceNo]; ok {
			return nil, fmt.Errorf("%w: bundle %q sequence %d shared by contracts %q and %q",
				core.ErrDuplicateSequenceNo, bundleID, record.SequenceNo, other, record.ContractID)
		}
		seen[record.SequenceNo] = record.ContractID
		vehicles = append(vehicles, vehicleToDomain(record))
	}
	return vehicles, nil
}

func (s *VehicleStore) MarkVehicleRendered(ctx context.Context, bundleID, contractID, artifactRef string) (core.Vehicle, error) {
	return s.transition(ctx, bundleID, contractID, core.VehicleStatusRendered, func(query *bun.UpdateQuery) *bun.UpdateQuery {
		return query.Set("render_artifact_ref = ?", strings.TrimSpace(artifactRef))
	})
}

func (s *VehicleStore) MarkVehicleRenderFailed(ctx context.Context, bundleID, contractID, cause string) (core.Vehicle, error) {
	return s.transition(ctx, bundleID, contractID, core.VehicleStatusRenderFailed, func(query *bun.UpdateQuery) *bun.UpdateQuery {
		return query.Set("last_error = ?", strings.TrimSpace(cause))
	})
}

func (s *VehicleStore) MarkVehicleDelivered(ctx context.Context, bundleID, contractID, deliveryID, receipt string) (core.Vehicle, error) {
	return s.transition(ctx, bundleID, contractID, core.VehicleStatusDelivered, func(query *bun.UpdateQuery) *bun.UpdateQuery {
		return query.
			Set("delivery_id = ?", strings.TrimSpace(deliveryID)).
			Set("delivery_receipt = ?", strings.TrimSpace(receipt)).
			Set("last_error = ''")
	})
}

func (s *VehicleStore) MarkVehicleDeliveryFailed(ctx context.Context, bundleID, contractID, cause string) (core.Vehicle, error) {
	return s.transition(ctx, bundleID, contractID, core.VehicleStatusDeliveryFailed, func(query *bun.UpdateQuery) *bun.UpdateQuery {
		return query.Set("last_error = ?", strings.TrimSpace(cause))
	})
}

// transition is the status-guarded update shared by the Mark* methods. The
// status graph decides which current statuses may reach target; a vehicle
// already at target is returned unchanged so replays stay silent.
func (s *VehicleStore) transition(ctx context.Context, bundleID, contractID string, target core.VehicleStatus, apply func(*bun.UpdateQuery) *bun.UpdateQuery) (core.Vehicle, error) {
	if s == nil || s.db == nil {
		return core.Vehicle{}, fmt.Errorf("sqlstore: vehicle store is not configured")
	}
	bundleID = strings.TrimSpace(bundleID)
	contractID = strings.TrimSpace(contractID)

	current, err := s.GetVehicle(ctx, bundleID, contractID)
	if err != nil {
		return core.Vehicle{}, err
	}
	if current.Status == target {
		return current, nil
	}
	if err := core.ValidateVehicleTransition(current.Status, target); err != nil {
		return core.Vehicle{}, err
	}

	query := s.db.NewUpdate().
		Model((*vehicleRecord)(nil)).
		Set("status = ?", string(target)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("bundle_id = ?", bundleID).
		Where("contract_id = ?", contractID).
		Where("status = ?", string(current.Status))
	if apply != nil {
		query = apply(query)
	}

	result, err := query.Exec(ctx)
	if err != nil {
		return core.Vehicle{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.Vehicle{}, err
	}
	if affected == 0 {
		// Raced with another writer; re-read and let replays settle quietly.
		latest, getErr := s.GetVehicle(ctx, bundleID, contractID)
		if getErr != nil {
			return core.Vehicle{}, getErr
		}
		if latest.Status == target {
			return latest, nil
		}
		return core.Vehicle{}, core.NewConflictError(fmt.Sprintf(
			"sqlstore: vehicle %s/%s transition %s -> %s lost to current status %s",
			bundleID, contractID, current.Status, target, latest.Status,
		))
	}
	return s.GetVehicle(ctx, bundleID, contractID)
}

var _ core.VehicleStore = (*VehicleStore)(nil)
