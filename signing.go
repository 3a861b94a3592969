// Package signing composes the nightly contract-bundle pipeline: idempotent
// batch admission, the bundle orchestrator with its bounded vehicle fan-out,
// the suspend/resume continuation around the external signing provider, and
// the signed-document delivery sweep.
package signing

import "github.com/Skyvell/signing-signicat/core"

type Config = core.Config

type FanOutConfig = core.FanOutConfig
type SigningWaitConfig = core.SigningWaitConfig
type CallbackConfig = core.CallbackConfig

type Bundle = core.Bundle
type BundleStatus = core.BundleStatus
type BundleSummary = core.BundleSummary
type BundleTransition = core.BundleTransition
type Vehicle = core.Vehicle
type VehicleStatus = core.VehicleStatus

type BatchRow = core.BatchRow
type IngestReport = core.IngestReport
type RejectedRow = core.RejectedRow
type CallbackMessage = core.CallbackMessage
type ResumeResult = core.ResumeResult
type WaitRecord = core.WaitRecord
type SignOutcome = core.SignOutcome

type BundleStore = core.BundleStore
type VehicleStore = core.VehicleStore
type SummaryReader = core.SummaryReader
type Renderer = core.Renderer
type Assembler = core.Assembler
type SignRequester = core.SignRequester
type Deliverer = core.Deliverer
type OrchestrationTrigger = core.OrchestrationTrigger

func DefaultConfig() Config {
	return core.DefaultConfig()
}
