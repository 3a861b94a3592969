package command

import (
	"strings"

	"github.com/Skyvell/signing-signicat/core"
)

const (
	TypeIngestBatch      = "signing.command.batch.ingest"
	TypeResumeSigning    = "signing.command.signing.resume"
	TypeExpireWaits      = "signing.command.waits.expire"
	TypeRedeliverVehicle = "signing.command.vehicle.redeliver"
)

type IngestBatchMessage struct {
	Rows []core.BatchRow
}

func (IngestBatchMessage) Type() string { return TypeIngestBatch }

func (m IngestBatchMessage) Validate() error {
	if len(m.Rows) == 0 {
		return commandInvalidInputError("command: batch rows are required")
	}
	return nil
}

type ResumeSigningMessage struct {
	Message core.CallbackMessage
}

func (ResumeSigningMessage) Type() string { return TypeResumeSigning }

func (m ResumeSigningMessage) Validate() error {
	if err := m.Message.Validate(); err != nil {
		return commandInvalidInputError(err.Error())
	}
	return nil
}

type ExpireWaitsMessage struct {
	Limit int
}

func (ExpireWaitsMessage) Type() string { return TypeExpireWaits }

func (m ExpireWaitsMessage) Validate() error {
	if m.Limit < 0 {
		return commandInvalidInputError("command: expire limit must not be negative")
	}
	return nil
}

type RedeliverVehicleMessage struct {
	BundleID   string
	ContractID string
}

func (RedeliverVehicleMessage) Type() string { return TypeRedeliverVehicle }

func (m RedeliverVehicleMessage) Validate() error {
	if strings.TrimSpace(m.BundleID) == "" {
		return commandInvalidInputError("command: bundle id is required")
	}
	if strings.TrimSpace(m.ContractID) == "" {
		return commandInvalidInputError("command: contract id is required")
	}
	return nil
}
