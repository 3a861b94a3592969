// Package orchestrator drives a bundle through its lifecycle. The persisted
// status is the only cursor: every run re-reads it and executes the stage it
// names, so a crashed or duplicate run continues instead of restarting, and
// every advance is a compare-and-set that exactly one runner can win.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Skyvell/signing-signicat/core"
)

// ContinuationStarter is the slice of the continuation manager the
// orchestrator needs to suspend a bundle.
type ContinuationStarter interface {
	BeginWait(ctx context.Context, bundleID string) (core.WaitRecord, error)
	RecordSignRequest(ctx context.Context, bundleID, signRequestID string) error
}

type Orchestrator struct {
	Bundles       core.BundleStore
	Vehicles      core.VehicleStore
	Renderer      core.Renderer
	Assembler     core.Assembler
	SignRequester core.SignRequester
	Deliverer     core.Deliverer
	FanOut        core.FanOutProcessor
	Continuation  ContinuationStarter
	Observer      core.Observer
}

type Config struct {
	Bundles       core.BundleStore
	Vehicles      core.VehicleStore
	Renderer      core.Renderer
	Assembler     core.Assembler
	SignRequester core.SignRequester
	Deliverer     core.Deliverer
	FanOut        core.FanOutProcessor
	Continuation  ContinuationStarter
	Observer      core.Observer
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Bundles == nil || cfg.Vehicles == nil {
		return nil, fmt.Errorf("orchestrator: bundle and vehicle stores are required")
	}
	if cfg.Renderer == nil || cfg.Assembler == nil || cfg.SignRequester == nil || cfg.Deliverer == nil {
		return nil, fmt.Errorf("orchestrator: renderer, assembler, sign requester and deliverer are required")
	}
	if cfg.FanOut == nil {
		return nil, fmt.Errorf("orchestrator: fan-out processor is required")
	}
	if cfg.Continuation == nil {
		return nil, fmt.Errorf("orchestrator: continuation starter is required")
	}
	return &Orchestrator{
		Bundles:       cfg.Bundles,
		Vehicles:      cfg.Vehicles,
		Renderer:      cfg.Renderer,
		Assembler:     cfg.Assembler,
		SignRequester: cfg.SignRequester,
		Deliverer:     cfg.Deliverer,
		FanOut:        cfg.FanOut,
		Continuation:  cfg.Continuation,
		Observer:      cfg.Observer,
	}, nil
}

// Run advances the bundle until it suspends or reaches a terminal status.
// Losing a compare-and-set means another runner holds the bundle; the loser
// stops quietly. Collaborator failures return the error with all durable
// progress kept, so the next trigger picks up where this one stopped.
func (o *Orchestrator) Run(ctx context.Context, bundleID string) (err error) {
	if o == nil || o.Bundles == nil {
		return fmt.Errorf("orchestrator: orchestrator is not configured")
	}
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return fmt.Errorf("orchestrator: bundle id is required")
	}

	startedAt := time.Now()
	defer func() {
		o.Observer.ObserveOperation(ctx, startedAt, "orchestrator.run", err, map[string]any{
			"bundle_id": bundleID,
		})
	}()

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		bundle, getErr := o.Bundles.GetBundle(ctx, bundleID)
		if getErr != nil {
			return getErr
		}
		if bundle.Terminal() {
			return nil
		}

		var stageErr error
		suspended := false
		switch bundle.Status {
		case core.BundleStatusNew:
			stageErr = o.stageInitialize(ctx, bundle)
		case core.BundleStatusReady:
			stageErr = o.advance(ctx, bundle.ID, core.BundleStatusReady, core.BundleStatusAssembling, "assembly started", nil)
		case core.BundleStatusAssembling:
			suspended, stageErr = o.stageAssemble(ctx, bundle)
		case core.BundleStatusSigning:
			suspended, stageErr = o.stageSigning(ctx, bundle)
		case core.BundleStatusSigned:
			stageErr = o.advance(ctx, bundle.ID, core.BundleStatusSigned, core.BundleStatusDelivering, "delivery started", nil)
		case core.BundleStatusDelivering:
			stageErr = o.stageDeliver(ctx, bundle)
		default:
			return fmt.Errorf("orchestrator: bundle %s has unknown status %q", bundle.ID, bundle.Status)
		}

		if stageErr != nil {
			if core.IsConflict(stageErr) {
				o.Observer.LogWarn(ctx, "bundle advanced by a concurrent runner", map[string]any{
					"bundle_id": bundle.ID,
					"status":    string(bundle.Status),
				})
				return nil
			}
			return stageErr
		}
		if suspended {
			return nil
		}
	}
}

// stageInitialize validates the admitted vehicle set before any work starts.
// An empty bundle or a duplicated sequence number is unrecoverable: the
// bundle settles as failed with the cause recorded.
func (o *Orchestrator) stageInitialize(ctx context.Context, bundle core.Bundle) error {
	vehicles, err := o.Vehicles.ListVehicles(ctx, bundle.ID)
	if err != nil {
		if core.IsValidation(err) {
			return o.failBundle(ctx, bundle.ID, core.BundleStatusNew, "vehicle validation failed", err)
		}
		return err
	}
	if len(vehicles) == 0 {
		return o.failBundle(ctx, bundle.ID, core.BundleStatusNew, "vehicle validation failed",
			fmt.Errorf("orchestrator: bundle %s has no vehicles", bundle.ID))
	}

	count := len(vehicles)
	return o.advance(ctx, bundle.ID, core.BundleStatusNew, core.BundleStatusReady, "vehicles validated",
		func(in *core.UpdateBundleStatusInput) {
			in.VehicleCount = &count
		})
}

// stageAssemble renders every pending vehicle with bounded fan-out, assembles
// the ordered bundle artifact, and suspends the bundle for signing. Any
// render failure is bundle-fatal.
func (o *Orchestrator) stageAssemble(ctx context.Context, bundle core.Bundle) (bool, error) {
	vehicles, err := o.Vehicles.ListVehicles(ctx, bundle.ID)
	if err != nil {
		return false, err
	}

	pending := make([]core.Vehicle, 0, len(vehicles))
	for _, vehicle := range vehicles {
		if vehicle.Status == core.VehicleStatusReady {
			pending = append(pending, vehicle)
		}
		if vehicle.Status == core.VehicleStatusRenderFailed {
			// A previous run already settled this vehicle; the bundle is lost.
			return false, o.failBundle(ctx, bundle.ID, core.BundleStatusAssembling, "render failed",
				fmt.Errorf("orchestrator: contract %s failed to render", vehicle.ContractID))
		}
	}

	if len(pending) > 0 {
		outcome, fanErr := o.FanOut.Process(ctx, pending, o.renderVehicle)
		if fanErr != nil {
			return false, fanErr
		}
		if !outcome.AllSucceeded() {
			for _, failure := range outcome.Failed {
				cause := ""
				if failure.Cause != nil {
					cause = failure.Cause.Error()
				}
				if _, markErr := o.Vehicles.MarkVehicleRenderFailed(ctx, bundle.ID, failure.Vehicle.ContractID, cause); markErr != nil {
					return false, markErr
				}
			}
			return false, o.failBundle(ctx, bundle.ID, core.BundleStatusAssembling, "render failed",
				fmt.Errorf("orchestrator: render failed for contracts %s",
					strings.Join(outcome.FailedContractIDs(), ", ")))
		}
	}

	if strings.TrimSpace(bundle.UnsignedArtifactRef) == "" {
		rendered, listErr := o.Vehicles.ListVehicles(ctx, bundle.ID)
		if listErr != nil {
			return false, listErr
		}
		refs := make([]string, 0, len(rendered))
		for _, vehicle := range rendered {
			if vehicle.Status != core.VehicleStatusRendered {
				return false, fmt.Errorf("orchestrator: contract %s is %s, expected rendered",
					vehicle.ContractID, vehicle.Status)
			}
			refs = append(refs, vehicle.RenderArtifactRef)
		}

		assembled, assembleErr := o.Assembler.AssembleBundle(ctx, core.AssembleRequest{
			BundleID:     bundle.ID,
			ArtifactRefs: refs,
		})
		if assembleErr != nil {
			return false, fmt.Errorf("orchestrator: assemble bundle %s: %w", bundle.ID, assembleErr)
		}
		ref := strings.TrimSpace(assembled.UnsignedArtifactRef)
		if ref == "" {
			return false, fmt.Errorf("orchestrator: assembler returned no artifact for bundle %s", bundle.ID)
		}
		if err := o.advance(ctx, bundle.ID, core.BundleStatusAssembling, core.BundleStatusAssembling, "bundle assembled",
			func(in *core.UpdateBundleStatusInput) {
				in.UnsignedArtifactRef = &ref
			}); err != nil {
			return false, err
		}
	}

	if _, err := o.Continuation.BeginWait(ctx, bundle.ID); err != nil {
		return false, err
	}
	return false, nil
}

// stageSigning requests the external signing session if no session exists
// yet, then leaves the bundle suspended until the callback resumes it.
func (o *Orchestrator) stageSigning(ctx context.Context, bundle core.Bundle) (bool, error) {
	if strings.TrimSpace(bundle.SignRequestID) != "" {
		return true, nil
	}

	token := strings.TrimSpace(bundle.ResumeToken)
	if token == "" {
		wait, err := o.Continuation.BeginWait(ctx, bundle.ID)
		if err != nil {
			return false, err
		}
		token = wait.Token
	}

	session, err := o.SignRequester.RequestSigningSession(ctx, core.SignSessionRequest{
		BundleID:            bundle.ID,
		UnsignedArtifactRef: bundle.UnsignedArtifactRef,
		CallbackToken:       token,
	})
	if err != nil {
		return false, fmt.Errorf("orchestrator: request signing session for bundle %s: %w", bundle.ID, err)
	}
	if err := o.Continuation.RecordSignRequest(ctx, bundle.ID, session.SignRequestID); err != nil {
		return false, err
	}
	o.Observer.LogInfo(ctx, "bundle suspended for signing", map[string]any{
		"bundle_id":       bundle.ID,
		"sign_request_id": session.SignRequestID,
	})
	return true, nil
}

// stageDeliver fans the signed artifact out to every rendered vehicle and
// aggregates the fan-in into the terminal status: all delivered, or partial
// failure with the lost contracts recorded.
func (o *Orchestrator) stageDeliver(ctx context.Context, bundle core.Bundle) error {
	if strings.TrimSpace(bundle.SignedArtifactRef) == "" {
		return fmt.Errorf("orchestrator: bundle %s is delivering without a signed artifact", bundle.ID)
	}

	vehicles, err := o.Vehicles.ListVehicles(ctx, bundle.ID)
	if err != nil {
		return err
	}
	pending := make([]core.Vehicle, 0, len(vehicles))
	for _, vehicle := range vehicles {
		if vehicle.Status == core.VehicleStatusRendered {
			pending = append(pending, vehicle)
		}
	}

	if len(pending) > 0 {
		operation := o.deliverVehicle(bundle)
		outcome, fanErr := o.FanOut.Process(ctx, pending, operation)
		if fanErr != nil {
			return fanErr
		}
		for _, failure := range outcome.Failed {
			cause := ""
			if failure.Cause != nil {
				cause = failure.Cause.Error()
			}
			if _, markErr := o.Vehicles.MarkVehicleDeliveryFailed(ctx, bundle.ID, failure.Vehicle.ContractID, cause); markErr != nil {
				return markErr
			}
		}
	}

	settled, err := o.Vehicles.ListVehicles(ctx, bundle.ID)
	if err != nil {
		return err
	}
	failed := make([]string, 0)
	for _, vehicle := range settled {
		if vehicle.Status != core.VehicleStatusDelivered {
			failed = append(failed, vehicle.ContractID)
		}
	}

	if len(failed) == 0 {
		return o.advance(ctx, bundle.ID, core.BundleStatusDelivering, core.BundleStatusDelivered, "all vehicles delivered", nil)
	}
	cause := fmt.Sprintf("delivery failed for contracts %s", strings.Join(failed, ", "))
	return o.advance(ctx, bundle.ID, core.BundleStatusDelivering, core.BundleStatusPartialFailed, "delivery partially failed",
		func(in *core.UpdateBundleStatusInput) {
			in.LastError = &cause
		})
}

func (o *Orchestrator) renderVehicle(ctx context.Context, vehicle core.Vehicle) error {
	rendered, err := o.Renderer.RenderContract(ctx, core.RenderRequest{
		BundleID:   vehicle.BundleID,
		ContractID: vehicle.ContractID,
	})
	if err != nil {
		return err
	}
	ref := strings.TrimSpace(rendered.ArtifactRef)
	if ref == "" {
		return core.NewPermanentError(fmt.Sprintf("renderer returned no artifact for contract %s", vehicle.ContractID))
	}
	_, err = o.Vehicles.MarkVehicleRendered(ctx, vehicle.BundleID, vehicle.ContractID, ref)
	return err
}

func (o *Orchestrator) deliverVehicle(bundle core.Bundle) core.VehicleOperation {
	return func(ctx context.Context, vehicle core.Vehicle) error {
		delivered, err := o.Deliverer.DeliverContract(ctx, core.DeliverRequest{
			BundleID:          bundle.ID,
			ContractID:        vehicle.ContractID,
			SignedArtifactRef: bundle.SignedArtifactRef,
			SigningLogRef:     bundle.SigningLogRef,
		})
		if err != nil {
			return err
		}
		_, err = o.Vehicles.MarkVehicleDelivered(ctx, bundle.ID, vehicle.ContractID, delivered.DeliveryID, delivered.Receipt)
		return err
	}
}

func (o *Orchestrator) advance(
	ctx context.Context,
	bundleID string,
	from core.BundleStatus,
	to core.BundleStatus,
	reason string,
	mutate func(*core.UpdateBundleStatusInput),
) error {
	input := core.UpdateBundleStatusInput{
		BundleID: bundleID,
		From:     from,
		To:       to,
		Reason:   reason,
	}
	if mutate != nil {
		mutate(&input)
	}
	_, err := o.Bundles.UpdateBundleStatus(ctx, input)
	return err
}

func (o *Orchestrator) failBundle(
	ctx context.Context,
	bundleID string,
	from core.BundleStatus,
	reason string,
	cause error,
) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	err := o.advance(ctx, bundleID, from, core.BundleStatusFailed, reason, func(in *core.UpdateBundleStatusInput) {
		in.LastError = &message
	})
	if err != nil {
		return err
	}
	o.Observer.LogError(ctx, "bundle settled as failed", map[string]any{
		"bundle_id": bundleID,
		"reason":    reason,
		"error":     message,
	})
	return nil
}

// Trigger runs the orchestrator synchronously. Queue-backed deployments wrap
// the job adapter instead.
type Trigger struct {
	Orchestrator *Orchestrator
}

func (t Trigger) TriggerBundle(ctx context.Context, bundleID string) error {
	if t.Orchestrator == nil {
		return fmt.Errorf("orchestrator: trigger is not configured")
	}
	return t.Orchestrator.Run(ctx, bundleID)
}

var _ core.OrchestrationTrigger = (Trigger{})
