package signing

import (
	"fmt"

	signingcommand "github.com/Skyvell/signing-signicat/command"
	"github.com/Skyvell/signing-signicat/core"
	signingquery "github.com/Skyvell/signing-signicat/query"
)

// CommandQueryService is the surface the command and query handlers drive.
type CommandQueryService interface {
	signingcommand.MutatingService
	core.SummaryReader
	signingquery.TransitionReader
	signingquery.VehicleReader
}

type Commands struct {
	IngestBatch      *signingcommand.IngestBatchCommand
	ResumeSigning    *signingcommand.ResumeSigningCommand
	ExpireWaits      *signingcommand.ExpireWaitsCommand
	RedeliverVehicle *signingcommand.RedeliverVehicleCommand
}

type Queries struct {
	GetBundleSummary *signingquery.GetBundleSummaryQuery
	ListTransitions  *signingquery.ListTransitionsQuery
	GetVehicle       *signingquery.GetVehicleQuery
	ListVehicles     *signingquery.ListVehiclesQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("signing: command/query service is required")
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		IngestBatch:      signingcommand.NewIngestBatchCommand(service),
		ResumeSigning:    signingcommand.NewResumeSigningCommand(service),
		ExpireWaits:      signingcommand.NewExpireWaitsCommand(service),
		RedeliverVehicle: signingcommand.NewRedeliverVehicleCommand(service),
	}
	facade.queries = Queries{
		GetBundleSummary: signingquery.NewGetBundleSummaryQuery(service),
		ListTransitions:  signingquery.NewListTransitionsQuery(service),
		GetVehicle:       signingquery.NewGetVehicleQuery(service),
		ListVehicles:     signingquery.NewListVehiclesQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*Service)(nil)
