package sqlstore

import (
	"strings"
	"time"

	"github.com/Skyvell/signing-signicat/core"
)

func bundleToDomain(record *bundleRecord) core.Bundle {
	if record == nil {
		return core.Bundle{}
	}
	bundle := core.Bundle{
		ID:                  record.ID,
		Status:              core.BundleStatus(record.Status),
		VehicleCount:        record.VehicleCount,
		UnsignedArtifactRef: record.UnsignedArtifactRef,
		SignedArtifactRef:   record.SignedArtifactRef,
		SigningLogRef:       record.SigningLogRef,
		SignRequestID:       record.SignRequestID,
		LastError:           record.LastError,
		CreatedAt:           record.CreatedAt,
		UpdatedAt:           record.UpdatedAt,
	}
	if record.ResumeToken != nil {
		bundle.ResumeToken = *record.ResumeToken
	}
	bundle.ResumeExpiresAt = cloneTimePointer(record.ResumeExpiresAt)
	bundle.StartedAt = cloneTimePointer(record.StartedAt)
	return bundle
}

func vehicleToDomain(record *vehicleRecord) core.Vehicle {
	if record == nil {
		return core.Vehicle{}
	}
	return core.Vehicle{
		BundleID:          record.BundleID,
		ContractID:        record.ContractID,
		SequenceNo:        record.SequenceNo,
		Status:            core.VehicleStatus(record.Status),
		RenderArtifactRef: record.RenderArtifactRef,
		DeliveryID:        record.DeliveryID,
		DeliveryReceipt:   record.DeliveryReceipt,
		LastError:         record.LastError,
		CreatedAt:         record.CreatedAt,
		UpdatedAt:         record.UpdatedAt,
	}
}

func transitionToDomain(record *bundleTransitionRecord) core.BundleTransition {
	if record == nil {
		return core.BundleTransition{}
	}
	return core.BundleTransition{
		ID:         record.ID,
		BundleID:   record.BundleID,
		FromStatus: core.BundleStatus(record.FromStatus),
		ToStatus:   core.BundleStatus(record.ToStatus),
		Reason:     record.Reason,
		CreatedAt:  record.CreatedAt,
	}
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
