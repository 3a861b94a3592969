package gocommand

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	signingcommand "github.com/Skyvell/signing-signicat/command"
	"github.com/Skyvell/signing-signicat/core"
	signingquery "github.com/Skyvell/signing-signicat/query"
)

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "signing.command.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

func TestValidateMessageContract(t *testing.T) {
	ok := signingcommand.IngestBatchMessage{
		Rows: []core.BatchRow{{BundleID: "B-1", ContractID: "C-1", SequenceNo: 1}},
	}
	if err := ValidateMessageContract(ok); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
	if err := ValidateMessageContract(signingcommand.RedeliverVehicleMessage{}); err == nil {
		t.Fatalf("expected blank redelivery message to fail validation")
	}
}

func TestRegistryAndDispatchWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	service := &recordingService{}
	customResolverCalled := 0

	ingest := signingcommand.NewIngestBatchCommand(service)
	subscription, err := RegisterAndSubscribe[signingcommand.IngestBatchMessage](adapter, ingest)
	if err != nil {
		t.Fatalf("register and subscribe: %v", err)
	}
	defer subscription.Unsubscribe()

	if err := adapter.AddResolver("custom", func(any, command.CommandMeta, *command.Registry) error {
		customResolverCalled++
		return nil
	}); err != nil {
		t.Fatalf("add resolver: %v", err)
	}
	if !adapter.HasResolver("custom") {
		t.Fatalf("expected custom resolver to be registered")
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if customResolverCalled == 0 {
		t.Fatalf("expected resolver hook to run during initialization")
	}

	msg := signingcommand.IngestBatchMessage{
		Rows: []core.BatchRow{{BundleID: "B-1", ContractID: "C-1", SequenceNo: 1}},
	}
	if err := Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if service.ingests != 1 {
		t.Fatalf("expected ingest execution count=1, got %d", service.ingests)
	}
}

func TestQuerySubscriptionReturnsSummaries(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	reader := &stubSummaryReader{
		summary: core.BundleSummary{BundleID: "B-1", Status: core.BundleStatusDelivered, VehicleCount: 3, DeliveredCount: 3},
	}

	qry := signingquery.NewGetBundleSummaryQuery(reader)
	subscription, err := RegisterAndSubscribeQuery[signingquery.GetBundleSummaryMessage, core.BundleSummary](adapter, qry)
	if err != nil {
		t.Fatalf("register and subscribe query: %v", err)
	}
	defer subscription.Unsubscribe()

	summary, err := Query[signingquery.GetBundleSummaryMessage, core.BundleSummary](
		context.Background(),
		signingquery.GetBundleSummaryMessage{BundleID: "B-1"},
	)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if summary.Status != core.BundleStatusDelivered || summary.DeliveredCount != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	expire := signingcommand.NewExpireWaitsCommand(&recordingService{})

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := adapter.RegisterCommand(expire); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get(signingcommand.TypeExpireWaits); !ok {
		t.Fatalf("expected expiry command to be mirrored into queue registry")
	}
}

type recordingService struct {
	ingests int
}

func (s *recordingService) IngestBatch(_ context.Context, rows []core.BatchRow) (core.IngestReport, error) {
	s.ingests++
	return core.IngestReport{Admitted: len(rows)}, nil
}

func (s *recordingService) ResumeSigning(context.Context, core.CallbackMessage) (core.ResumeResult, error) {
	return core.ResumeResult{}, nil
}

func (s *recordingService) ExpireWaits(context.Context, int) ([]string, error) {
	return nil, nil
}

func (s *recordingService) RedeliverVehicle(context.Context, string, string) (core.Vehicle, error) {
	return core.Vehicle{}, nil
}

type stubSummaryReader struct {
	summary core.BundleSummary
}

func (r *stubSummaryReader) GetBundleSummary(context.Context, string) (core.BundleSummary, error) {
	return r.summary, nil
}
