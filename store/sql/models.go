package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type bundleRecord struct {
	bun.BaseModel `bun:"table:signing_bundles,alias:sb"`

	ID                  string     `bun:"id,pk"`
	Status              string     `bun:"status,notnull"`
	VehicleCount        int        `bun:"vehicle_count,notnull"`
	UnsignedArtifactRef string     `bun:"unsigned_artifact_ref"`
	SignedArtifactRef   string     `bun:"signed_artifact_ref"`
	SigningLogRef       string     `bun:"signing_log_ref"`
	SignRequestID       string     `bun:"sign_request_id"`
	ResumeToken         *string    `bun:"resume_token,nullzero"`
	ResumeExpiresAt     *time.Time `bun:"resume_expires_at,nullzero"`
	LastError           string     `bun:"last_error"`
	StartedAt           *time.Time `bun:"started_at,nullzero"`
	CreatedAt           time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type vehicleRecord struct {
	bun.BaseModel `bun:"table:signing_vehicles,alias:sv"`

	ID                string    `bun:"id,pk"`
	BundleID          string    `bun:"bundle_id,notnull"`
	ContractID        string    `bun:"contract_id,notnull"`
	SequenceNo        int       `bun:"sequence_no,notnull"`
	Status            string    `bun:"status,notnull"`
	RenderArtifactRef string    `bun:"render_artifact_ref"`
	DeliveryID        string    `bun:"delivery_id"`
	DeliveryReceipt   string    `bun:"delivery_receipt"`
	LastError         string    `bun:"last_error"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type bundleTransitionRecord struct {
	bun.BaseModel `bun:"table:signing_bundle_transitions,alias:sbt"`

	ID         string    `bun:"id,pk"`
	BundleID   string    `bun:"bundle_id,notnull"`
	FromStatus string    `bun:"from_status,notnull"`
	ToStatus   string    `bun:"to_status,notnull"`
	Reason     string    `bun:"reason"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type callbackDeliveryRecord struct {
	bun.BaseModel `bun:"table:signing_callback_deliveries,alias:scd"`

	ID             string     `bun:"id,pk"`
	SignRequestID  string     `bun:"sign_request_id,notnull"`
	DeliveryID     string     `bun:"delivery_id,notnull"`
	Status         string     `bun:"status,notnull"`
	ClaimID        string     `bun:"claim_id"`
	Attempts       int        `bun:"attempts,notnull"`
	NextAttemptAt  *time.Time `bun:"next_attempt_at,nullzero"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at,nullzero"`
	LastError      string     `bun:"last_error"`
	Payload        []byte     `bun:"payload"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
