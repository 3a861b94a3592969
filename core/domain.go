package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidBundleStatusTransition  = errors.New("core: invalid bundle status transition")
	ErrInvalidVehicleStatusTransition = errors.New("core: invalid vehicle status transition")
	ErrDuplicateSequenceNo            = errors.New("core: duplicate sequence number in bundle")
	ErrBundleNotFound                 = errors.New("core: bundle not found")
	ErrVehicleNotFound                = errors.New("core: vehicle not found")
	ErrWaitNotFound                   = errors.New("core: continuation wait not found")
	ErrWaitAlreadyResumed             = errors.New("core: continuation already resumed")
	ErrBundleAlreadyStarted           = errors.New("core: bundle already started")
)

type BundleStatus string

const (
	BundleStatusNew           BundleStatus = "new"
	BundleStatusReady         BundleStatus = "ready"
	BundleStatusAssembling    BundleStatus = "assembling"
	BundleStatusSigning       BundleStatus = "signing"
	BundleStatusSigned        BundleStatus = "signed"
	BundleStatusDelivering    BundleStatus = "delivering"
	BundleStatusDelivered     BundleStatus = "delivered"
	BundleStatusPartialFailed BundleStatus = "partial_failed"
	BundleStatusFailed        BundleStatus = "failed"
)

// Bundle is the unit of orchestration: one multi-vehicle document package for
// a dealer batch. Artifact fields hold opaque refs to externally stored blobs,
// never blob bytes.
type Bundle struct {
	ID                  string
	Status              BundleStatus
	VehicleCount        int
	UnsignedArtifactRef string
	SignedArtifactRef   string
	SigningLogRef       string
	SignRequestID       string
	ResumeToken         string
	ResumeExpiresAt     *time.Time
	LastError           string
	StartedAt           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (b Bundle) Terminal() bool {
	return b.Status.Terminal()
}

func (s BundleStatus) Terminal() bool {
	switch s {
	case BundleStatusDelivered, BundleStatusPartialFailed, BundleStatusFailed:
		return true
	}
	return false
}

// bundleTransitionAllowed encodes the lifecycle graph. FAILED is reachable
// from every non-terminal status.
func bundleTransitionAllowed(current, next BundleStatus) bool {
	if next == BundleStatusFailed {
		return !current.Terminal()
	}
	allowed := map[BundleStatus]map[BundleStatus]struct{}{
		BundleStatusNew: {
			BundleStatusReady: {},
		},
		BundleStatusReady: {
			BundleStatusAssembling: {},
		},
		BundleStatusAssembling: {
			BundleStatusSigning: {},
		},
		BundleStatusSigning: {
			BundleStatusSigned: {},
		},
		BundleStatusSigned: {
			BundleStatusDelivering: {},
		},
		BundleStatusDelivering: {
			BundleStatusDelivered:     {},
			BundleStatusPartialFailed: {},
		},
	}
	targets, ok := allowed[current]
	if !ok {
		return false
	}
	_, ok = targets[next]
	return ok
}

func ValidateBundleTransition(current, next BundleStatus) error {
	if current == next {
		return nil
	}
	if !bundleTransitionAllowed(current, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidBundleStatusTransition, current, next)
	}
	return nil
}

type VehicleStatus string

const (
	VehicleStatusReady          VehicleStatus = "ready"
	VehicleStatusRendered       VehicleStatus = "rendered"
	VehicleStatusRenderFailed   VehicleStatus = "render_failed"
	VehicleStatusDelivered      VehicleStatus = "delivered"
	VehicleStatusDeliveryFailed VehicleStatus = "delivery_failed"
)

// Vehicle is one contract inside a bundle, identified by (bundle_id,
// contract_id). SequenceNo defines the deterministic assembly order; it need
// not be contiguous within a bundle but must be unique. Vehicles are created
// once during admission and never deleted.
type Vehicle struct {
	BundleID          string
	ContractID        string
	SequenceNo        int
	Status            VehicleStatus
	RenderArtifactRef string
	DeliveryID        string
	DeliveryReceipt   string
	LastError         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func vehicleTransitionAllowed(current, next VehicleStatus) bool {
	allowed := map[VehicleStatus]map[VehicleStatus]struct{}{
		VehicleStatusReady: {
			VehicleStatusRendered:     {},
			VehicleStatusRenderFailed: {},
		},
		VehicleStatusRendered: {
			VehicleStatusDelivered:      {},
			VehicleStatusDeliveryFailed: {},
		},
		VehicleStatusDeliveryFailed: {
			VehicleStatusDelivered: {},
		},
	}
	targets, ok := allowed[current]
	if !ok {
		return false
	}
	_, ok = targets[next]
	return ok
}

func ValidateVehicleTransition(current, next VehicleStatus) error {
	if current == next {
		return nil
	}
	if !vehicleTransitionAllowed(current, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidVehicleStatusTransition, current, next)
	}
	return nil
}

// BundleTransition is an append-only audit row written alongside every status
// compare-and-set.
type BundleTransition struct {
	ID         string
	BundleID   string
	FromStatus BundleStatus
	ToStatus   BundleStatus
	Reason     string
	CreatedAt  time.Time
}

// BatchRow is one raw admission input row.
type BatchRow struct {
	BundleID   string
	ContractID string
	SequenceNo int
}

func (r BatchRow) Validate() error {
	if strings.TrimSpace(r.BundleID) == "" {
		return fmt.Errorf("core: bundle id is required")
	}
	if strings.TrimSpace(r.ContractID) == "" {
		return fmt.Errorf("core: contract id is required")
	}
	if r.SequenceNo < 0 {
		return fmt.Errorf("core: sequence number must not be negative")
	}
	return nil
}

type RejectedRow struct {
	Row    BatchRow
	Reason string
}

// IngestReport summarizes one admission pass. Replays of the same batch report
// the rows as existing and start nothing new.
type IngestReport struct {
	Admitted int
	Existing int
	Rejected []RejectedRow
	Started  []string
}

type SignOutcome string

const (
	SignOutcomeSuccess SignOutcome = "success"
	SignOutcomeFailure SignOutcome = "failure"
)

// CallbackMessage is the inbound signing-provider callback. Resume is
// authorized by token possession, not by the caller-supplied bundle id.
type CallbackMessage struct {
	BundleID    string
	Token       string
	Outcome     SignOutcome
	ArtifactRef string
	LogRef      string
}

func (m CallbackMessage) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return fmt.Errorf("core: callback token is required")
	}
	switch m.Outcome {
	case SignOutcomeSuccess, SignOutcomeFailure:
	default:
		return fmt.Errorf("core: invalid callback outcome %q", m.Outcome)
	}
	return nil
}

// FanOutOutcome aggregates a fan-in: which vehicles settled successfully and
// which exhausted their retries.
type FanOutOutcome struct {
	Succeeded []Vehicle
	Failed    []VehicleFailure
}

type VehicleFailure struct {
	Vehicle Vehicle
	Cause   error
}

func (o FanOutOutcome) AllSucceeded() bool {
	return len(o.Failed) == 0
}

func (o FanOutOutcome) FailedContractIDs() []string {
	if len(o.Failed) == 0 {
		return nil
	}
	ids := make([]string, 0, len(o.Failed))
	for _, failure := range o.Failed {
		ids = append(ids, failure.Vehicle.ContractID)
	}
	return ids
}

// BundleSummary is the operator-facing read model: terminal status plus the
// vehicles that failed, never a raw fault that loses bundle identity.
type BundleSummary struct {
	BundleID        string
	Status          BundleStatus
	VehicleCount    int
	DeliveredCount  int
	FailedContracts []string
	LastError       string
	UpdatedAt       time.Time
}
