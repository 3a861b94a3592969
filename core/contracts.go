package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Logger contracts re-export the go-logger glog types so collaborating
// packages depend on core only.
type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// UpdateBundleStatusInput describes one compare-and-set transition. From is
// the guard: the write is a no-op reported as a conflict when the persisted
// status differs. Field pointers are applied only when non-nil.
type UpdateBundleStatusInput struct {
	BundleID string
	From     BundleStatus
	To       BundleStatus
	Reason   string

	VehicleCount        *int
	UnsignedArtifactRef *string
	SignedArtifactRef   *string
	SigningLogRef       *string
	SignRequestID       *string
	ResumeToken         *string
	ResumeExpiresAt     *time.Time
	ClearResumeToken    bool
	LastError           *string
}

// BundleStore is the durable header half of the state store. Create is the
// dedup primitive: inserting an existing bundle reports inserted=false and
// never errors.
type BundleStore interface {
	CreateBundleIfAbsent(ctx context.Context, bundleID string) (Bundle, bool, error)
	GetBundle(ctx context.Context, bundleID string) (Bundle, error)
	// TryLockStart succeeds exactly once per bundle via an atomic check-and-set
	// on started_at. Later calls report locked=false with no side effects.
	TryLockStart(ctx context.Context, bundleID string) (bool, error)
	UpdateBundleStatus(ctx context.Context, in UpdateBundleStatusInput) (Bundle, error)
	FindBundleByResumeToken(ctx context.Context, token string) (Bundle, error)
	ListExpiredWaits(ctx context.Context, now time.Time, limit int) ([]Bundle, error)
	ListTransitions(ctx context.Context, bundleID string) ([]BundleTransition, error)
}

// VehicleStore is the per-contract half. Create is idempotent the same way;
// the ordered listing rejects duplicate sequence numbers with a validation
// error rather than silently picking one.
type VehicleStore interface {
	CreateVehicleIfAbsent(ctx context.Context, bundleID, contractID string, sequenceNo int) (Vehicle, bool, error)
	GetVehicle(ctx context.Context, bundleID, contractID string) (Vehicle, error)
	ListVehicles(ctx context.Context, bundleID string) ([]Vehicle, error)
	MarkVehicleRendered(ctx context.Context, bundleID, contractID, artifactRef string) (Vehicle, error)
	MarkVehicleRenderFailed(ctx context.Context, bundleID, contractID, cause string) (Vehicle, error)
	MarkVehicleDelivered(ctx context.Context, bundleID, contractID, deliveryID, receipt string) (Vehicle, error)
	MarkVehicleDeliveryFailed(ctx context.Context, bundleID, contractID, cause string) (Vehicle, error)
}

type StoreProvider interface {
	BundleStore() BundleStore
	VehicleStore() VehicleStore
}

// RepositoryStoreFactory builds the durable stores from an opaque persistence
// client. The builder duck-types it so core stays free of driver imports.
type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// SummaryReader serves the operator read model. Terminal summaries are
// immutable and safe to cache.
type SummaryReader interface {
	GetBundleSummary(ctx context.Context, bundleID string) (BundleSummary, error)
}

// Collaborator contracts (defined at the interface boundary only; the
// implementations live with the caller, devkit ships scripted fakes).

type RenderRequest struct {
	BundleID   string
	ContractID string
}

type RenderResult struct {
	ArtifactRef string
}

type Renderer interface {
	RenderContract(ctx context.Context, req RenderRequest) (RenderResult, error)
}

type AssembleRequest struct {
	BundleID     string
	ArtifactRefs []string
}

type AssembleResult struct {
	UnsignedArtifactRef string
}

type Assembler interface {
	AssembleBundle(ctx context.Context, req AssembleRequest) (AssembleResult, error)
}

type SignSessionRequest struct {
	BundleID            string
	UnsignedArtifactRef string
	CallbackToken       string
}

type SignSessionResult struct {
	SignRequestID string
}

type SignRequester interface {
	RequestSigningSession(ctx context.Context, req SignSessionRequest) (SignSessionResult, error)
}

type DeliverRequest struct {
	BundleID          string
	ContractID        string
	SignedArtifactRef string
	SigningLogRef     string
}

type DeliverResult struct {
	DeliveryID string
	Receipt    string
}

type Deliverer interface {
	DeliverContract(ctx context.Context, req DeliverRequest) (DeliverResult, error)
}

// AdmissionGate admits a raw batch into durable bundle and vehicle rows.
type AdmissionGate interface {
	IngestBatch(ctx context.Context, rows []BatchRow) (IngestReport, error)
}

// OrchestrationTrigger decouples admission from the orchestrator: the gate
// fires it once per start-lock win.
type OrchestrationTrigger interface {
	TriggerBundle(ctx context.Context, bundleID string) error
}

// VehicleOperation is one fan-out unit of work: render or deliver a single
// vehicle. Transient failures are retried by the processor; permanent ones
// settle the vehicle as failed without aborting siblings.
type VehicleOperation func(ctx context.Context, vehicle Vehicle) error

// FanOutProcessor runs a bounded-concurrency map over a bundle's vehicles and
// waits for every dispatched operation to settle.
type FanOutProcessor interface {
	Process(ctx context.Context, vehicles []Vehicle, operation VehicleOperation) (FanOutOutcome, error)
}

// ContinuationManager models the suspend/resume boundary around the external
// signing step. Resume is authorized solely by possession of the token plus an
// unresolved wait record.
type ContinuationManager interface {
	BeginWait(ctx context.Context, bundleID string) (WaitRecord, error)
	Resume(ctx context.Context, msg CallbackMessage) (ResumeResult, error)
	Expire(ctx context.Context, bundleID string) (bool, error)
}

type WaitRecord struct {
	BundleID  string
	Token     string
	ExpiresAt time.Time
}

type ResumeResult struct {
	BundleID string
	Outcome  SignOutcome
	// Replayed reports a duplicate callback that caused no side effects.
	Replayed bool
}

// Job queue contracts mirrored for the go-job adapter, so workers can run
// admission and the expiry sweep without core importing the queue library.

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}
