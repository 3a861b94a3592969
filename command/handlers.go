package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/Skyvell/signing-signicat/core"
)

// MutatingService is the write surface the commands drive; the root service
// satisfies it.
type MutatingService interface {
	IngestBatch(ctx context.Context, rows []core.BatchRow) (core.IngestReport, error)
	ResumeSigning(ctx context.Context, msg core.CallbackMessage) (core.ResumeResult, error)
	ExpireWaits(ctx context.Context, limit int) ([]string, error)
	RedeliverVehicle(ctx context.Context, bundleID string, contractID string) (core.Vehicle, error)
}

type IngestBatchCommand struct {
	service MutatingService
}

func NewIngestBatchCommand(service MutatingService) *IngestBatchCommand {
	return &IngestBatchCommand{service: service}
}

func (c *IngestBatchCommand) Execute(ctx context.Context, msg IngestBatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ingest service is required")
	}
	out, err := c.service.IngestBatch(ctx, msg.Rows)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ResumeSigningCommand struct {
	service MutatingService
}

func NewResumeSigningCommand(service MutatingService) *ResumeSigningCommand {
	return &ResumeSigningCommand{service: service}
}

func (c *ResumeSigningCommand) Execute(ctx context.Context, msg ResumeSigningMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: resume service is required")
	}
	out, err := c.service.ResumeSigning(ctx, msg.Message)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ExpireWaitsCommand struct {
	service MutatingService
}

func NewExpireWaitsCommand(service MutatingService) *ExpireWaitsCommand {
	return &ExpireWaitsCommand{service: service}
}

func (c *ExpireWaitsCommand) Execute(ctx context.Context, msg ExpireWaitsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: expiry service is required")
	}
	out, err := c.service.ExpireWaits(ctx, msg.Limit)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RedeliverVehicleCommand struct {
	service MutatingService
}

func NewRedeliverVehicleCommand(service MutatingService) *RedeliverVehicleCommand {
	return &RedeliverVehicleCommand{service: service}
}

func (c *RedeliverVehicleCommand) Execute(ctx context.Context, msg RedeliverVehicleMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: redelivery service is required")
	}
	out, err := c.service.RedeliverVehicle(ctx, msg.BundleID, msg.ContractID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
