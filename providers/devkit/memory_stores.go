// Package devkit ships in-memory stores and scripted collaborators for
// development and tests. Nothing here is durable; the semantics mirror the
// SQL stores, including compare-and-set conflicts and transition validation.
package devkit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Skyvell/signing-signicat/core"
)

type MemoryBundleStore struct {
	mu          sync.Mutex
	bundles     map[string]core.Bundle
	transitions map[string][]core.BundleTransition
	now         func() time.Time
}

func NewMemoryBundleStore() *MemoryBundleStore {
	return &MemoryBundleStore{
		bundles:     map[string]core.Bundle{},
		transitions: map[string][]core.BundleTransition{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryBundleStore) CreateBundleIfAbsent(_ context.Context, bundleID string) (core.Bundle, bool, error) {
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return core.Bundle{}, false, fmt.Errorf("devkit: bundle id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.bundles[bundleID]; ok {
		return existing, false, nil
	}
	now := s.now()
	bundle := core.Bundle{
		ID:        bundleID,
		Status:    core.BundleStatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.bundles[bundleID] = bundle
	return bundle, true, nil
}

func (s *MemoryBundleStore) GetBundle(_ context.Context, bundleID string) (core.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bundle, ok := s.bundles[strings.TrimSpace(bundleID)]
	if !ok {
		return core.Bundle{}, core.ErrBundleNotFound
	}
	return bundle, nil
}

func (s *MemoryBundleStore) TryLockStart(_ context.Context, bundleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bundle, ok := s.bundles[strings.TrimSpace(bundleID)]
	if !ok {
		return false, core.ErrBundleNotFound
	}
	if bundle.StartedAt != nil {
		return false, nil
	}
	startedAt := s.now()
	bundle.StartedAt = &startedAt
	s.bundles[bundle.ID] = bundle
	return true, nil
}

func (s *MemoryBundleStore) UpdateBundleStatus(_ context.Context, in core.UpdateBundleStatusInput) (core.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bundle, ok := s.bundles[in.BundleID]
	if !ok {
		return core.Bundle{}, core.ErrBundleNotFound
	}
	if bundle.Status != in.From {
		return core.Bundle{}, core.NewConflictError(fmt.Sprintf(
			"bundle %s is %s, expected %s", in.BundleID, bundle.Status, in.From,
		))
	}
	if err := core.ValidateBundleTransition(in.From, in.To); err != nil {
		return core.Bundle{}, err
	}

	bundle.Status = in.To
	if in.VehicleCount != nil {
		bundle.VehicleCount = *in.VehicleCount
	}
	if in.UnsignedArtifactRef != nil {
		bundle.UnsignedArtifactRef = *in.UnsignedArtifactRef
	}
	if in.SignedArtifactRef != nil {
		bundle.SignedArtifactRef = *in.SignedArtifactRef
	}
	if in.SigningLogRef != nil {
		bundle.SigningLogRef = *in.SigningLogRef
	}
	if in.SignRequestID != nil {
		bundle.SignRequestID = *in.SignRequestID
	}
	if in.ClearResumeToken {
		bundle.ResumeToken = ""
		bundle.ResumeExpiresAt = nil
	} else {
		if in.ResumeToken != nil {
			bundle.ResumeToken = *in.ResumeToken
		}
		if in.ResumeExpiresAt != nil {
			expiresAt := in.ResumeExpiresAt.UTC()
			bundle.ResumeExpiresAt = &expiresAt
		}
	}
	if in.LastError != nil {
		bundle.LastError = *in.LastError
	}
	bundle.UpdatedAt = s.now()
	s.bundles[in.BundleID] = bundle

	s.transitions[in.BundleID] = append(s.transitions[in.BundleID], core.BundleTransition{
		ID:         uuid.NewString(),
		BundleID:   in.BundleID,
		FromStatus: in.From,
		ToStatus:   in.To,
		Reason:     in.Reason,
		CreatedAt:  bundle.UpdatedAt,
	})
	return bundle, nil
}

func (s *MemoryBundleStore) FindBundleByResumeToken(_ context.Context, token string) (core.Bundle, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return core.Bundle{}, core.ErrWaitNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bundle := range s.bundles {
		if bundle.ResumeToken == token {
			return bundle, nil
		}
	}
	return core.Bundle{}, core.ErrWaitNotFound
}

func (s *MemoryBundleStore) ListExpiredWaits(_ context.Context, now time.Time, limit int) ([]core.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []core.Bundle
	for _, bundle := range s.bundles {
		if bundle.Status != core.BundleStatusSigning {
			continue
		}
		if bundle.ResumeExpiresAt == nil || !bundle.ResumeExpiresAt.Before(now) {
			continue
		}
		expired = append(expired, bundle)
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ResumeExpiresAt.Before(*expired[j].ResumeExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (s *MemoryBundleStore) ListTransitions(_ context.Context, bundleID string) ([]core.BundleTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.BundleTransition(nil), s.transitions[strings.TrimSpace(bundleID)]...), nil
}

type MemoryVehicleStore struct {
	mu       sync.Mutex
	vehicles map[string]core.Vehicle
	now      func() time.Time
}

func NewMemoryVehicleStore() *MemoryVehicleStore {
	return &MemoryVehicleStore{
		vehicles: map[string]core.Vehicle{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func vehicleKey(bundleID, contractID string) string {
	return strings.TrimSpace(bundleID) + "::" + strings.TrimSpace(contractID)
}

func (s *MemoryVehicleStore) CreateVehicleIfAbsent(_ context.Context, bundleID, contractID string, sequenceNo int) (core.Vehicle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := vehicleKey(bundleID, contractID)
	if existing, ok := s.vehicles[key]; ok {
		return existing, false, nil
	}
	for _, other := range s.vehicles {
		if other.BundleID == strings.TrimSpace(bundleID) && other.SequenceNo == sequenceNo {
			return core.Vehicle{}, false, fmt.Errorf("%w: bundle %q sequence %d already held by contract %q",
				core.ErrDuplicateSequenceNo, other.BundleID, sequenceNo, other.ContractID)
		}
	}
	now := s.now()
	vehicle := core.Vehicle{
		BundleID:   strings.TrimSpace(bundleID),
		ContractID: strings.TrimSpace(contractID),
		SequenceNo: sequenceNo,
		Status:     core.VehicleStatusReady,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.vehicles[key] = vehicle
	return vehicle, true, nil
}

func (s *MemoryVehicleStore) GetVehicle(_ context.Context, bundleID, contractID string) (core.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vehicle, ok := s.vehicles[vehicleKey(bundleID, contractID)]
	if !ok {
		return core.Vehicle{}, core.ErrVehicleNotFound
	}
	return vehicle, nil
}

func (s *MemoryVehicleStore) ListVehicles(_ context.Context, bundleID string) ([]core.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bundleID = strings.TrimSpace(bundleID)
	var vehicles []core.Vehicle
	for _, vehicle := range s.vehicles {
		if vehicle.BundleID == bundleID {
			vehicles = append(vehicles, vehicle)
		}
	}
	sort.Slice(vehicles, func(i, j int) bool {
		return vehicles[i].SequenceNo < vehicles[j].SequenceNo
	})
	seen := map[int]string{}
	for _, vehicle := range vehicles {
		if other, ok := seen[vehicle.SequenceNo]; ok {
			return nil, fmt.Errorf("%w: sequence %d held by %s and %s",
				core.ErrDuplicateSequenceNo, vehicle.SequenceNo, other, vehicle.ContractID)
		}
		seen[vehicle.SequenceNo] = vehicle.ContractID
	}
	return vehicles, nil
}

func (s *MemoryVehicleStore) mark(bundleID, contractID string, target core.VehicleStatus, mutate func(*core.Vehicle)) (core.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := vehicleKey(bundleID, contractID)
	vehicle, ok := s.vehicles[key]
	if !ok {
		return core.Vehicle{}, core.ErrVehicleNotFound
	}
	if vehicle.Status == target {
		return vehicle, nil
	}
	if err := core.ValidateVehicleTransition(vehicle.Status, target); err != nil {
		return core.Vehicle{}, err
	}
	vehicle.Status = target
	if mutate != nil {
		mutate(&vehicle)
	}
	vehicle.UpdatedAt = s.now()
	s.vehicles[key] = vehicle
	return vehicle, nil
}

func (s *MemoryVehicleStore) MarkVehicleRendered(_ context.Context, bundleID, contractID, artifactRef string) (core.Vehicle, error) {
	return s.mark(bundleID, contractID, core.VehicleStatusRendered, func(v *core.Vehicle) {
		v.RenderArtifactRef = artifactRef
	})
}

func (s *MemoryVehicleStore) MarkVehicleRenderFailed(_ context.Context, bundleID, contractID, cause string) (core.Vehicle, error) {
	return s.mark(bundleID, contractID, core.VehicleStatusRenderFailed, func(v *core.Vehicle) {
		v.LastError = cause
	})
}

func (s *MemoryVehicleStore) MarkVehicleDelivered(_ context.Context, bundleID, contractID, deliveryID, receipt string) (core.Vehicle, error) {
	return s.mark(bundleID, contractID, core.VehicleStatusDelivered, func(v *core.Vehicle) {
		v.DeliveryID = deliveryID
		v.DeliveryReceipt = receipt
		v.LastError = ""
	})
}

func (s *MemoryVehicleStore) MarkVehicleDeliveryFailed(_ context.Context, bundleID, contractID, cause string) (core.Vehicle, error) {
	return s.mark(bundleID, contractID, core.VehicleStatusDeliveryFailed, func(v *core.Vehicle) {
		v.LastError = cause
	})
}

var (
	_ core.BundleStore  = (*MemoryBundleStore)(nil)
	_ core.VehicleStore = (*MemoryVehicleStore)(nil)
)
