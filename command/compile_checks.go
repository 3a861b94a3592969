package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[IngestBatchMessage]      = (*IngestBatchCommand)(nil)
	_ gocmd.Commander[ResumeSigningMessage]    = (*ResumeSigningCommand)(nil)
	_ gocmd.Commander[ExpireWaitsMessage]      = (*ExpireWaitsCommand)(nil)
	_ gocmd.Commander[RedeliverVehicleMessage] = (*RedeliverVehicleCommand)(nil)
)
