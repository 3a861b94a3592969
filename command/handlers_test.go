package command

import (
	"context"
	"testing"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"

	"github.com/Skyvell/signing-signicat/core"
)

type stubMutatingService struct {
	ingestFn    func(ctx context.Context, rows []core.BatchRow) (core.IngestReport, error)
	resumeFn    func(ctx context.Context, msg core.CallbackMessage) (core.ResumeResult, error)
	expireFn    func(ctx context.Context, limit int) ([]string, error)
	redeliverFn func(ctx context.Context, bundleID, contractID string) (core.Vehicle, error)
}

func (s stubMutatingService) IngestBatch(ctx context.Context, rows []core.BatchRow) (core.IngestReport, error) {
	if s.ingestFn == nil {
		return core.IngestReport{}, nil
	}
	return s.ingestFn(ctx, rows)
}

func (s stubMutatingService) ResumeSigning(ctx context.Context, msg core.CallbackMessage) (core.ResumeResult, error) {
	if s.resumeFn == nil {
		return core.ResumeResult{}, nil
	}
	return s.resumeFn(ctx, msg)
}

func (s stubMutatingService) ExpireWaits(ctx context.Context, limit int) ([]string, error) {
	if s.expireFn == nil {
		return nil, nil
	}
	return s.expireFn(ctx, limit)
}

func (s stubMutatingService) RedeliverVehicle(ctx context.Context, bundleID, contractID string) (core.Vehicle, error) {
	if s.redeliverFn == nil {
		return core.Vehicle{}, nil
	}
	return s.redeliverFn(ctx, bundleID, contractID)
}

func TestIngestBatchCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.IngestReport{Admitted: 2, Started: []string{"B-1"}}
	called := false

	svc := stubMutatingService{
		ingestFn: func(_ context.Context, rows []core.BatchRow) (core.IngestReport, error) {
			called = true
			if len(rows) != 2 || rows[0].BundleID != "B-1" {
				t.Fatalf("unexpected rows: %#v", rows)
			}
			return expected, nil
		},
	}

	cmd := NewIngestBatchCommand(svc)
	collector := gocmd.NewResult[core.IngestReport]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, IngestBatchMessage{Rows: []core.BatchRow{
		{BundleID: "B-1", ContractID: "C-1", SequenceNo: 1},
		{BundleID: "B-1", ContractID: "C-2", SequenceNo: 2},
	}})
	if err != nil {
		t.Fatalf("execute ingest: %v", err)
	}
	if !called {
		t.Fatalf("expected ingest service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.Admitted != expected.Admitted || len(result.Started) != 1 {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestMutationCommands_DelegateToService(t *testing.T) {
	t.Run("resume signing", func(t *testing.T) {
		expected := core.ResumeResult{BundleID: "B-1", Outcome: core.SignOutcomeSuccess}
		called := false
		svc := stubMutatingService{
			resumeFn: func(_ context.Context, msg core.CallbackMessage) (core.ResumeResult, error) {
				called = true
				if msg.Token != "tok-1" || msg.Outcome != core.SignOutcomeSuccess {
					t.Fatalf("unexpected callback message: %#v", msg)
				}
				return expected, nil
			},
		}
		cmd := NewResumeSigningCommand(svc)
		collector := gocmd.NewResult[core.ResumeResult]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		err := cmd.Execute(ctx, ResumeSigningMessage{Message: core.CallbackMessage{
			Token:       "tok-1",
			Outcome:     core.SignOutcomeSuccess,
			ArtifactRef: "signed/B-1.pdf",
		}})
		if err != nil {
			t.Fatalf("execute resume: %v", err)
		}
		if !called {
			t.Fatalf("expected resume invocation")
		}
		stored, ok := collector.Load()
		if !ok {
			t.Fatalf("expected resume result")
		}
		if stored.BundleID != expected.BundleID {
			t.Fatalf("unexpected result: %#v", stored)
		}
	})

	t.Run("expire waits", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			expireFn: func(_ context.Context, limit int) ([]string, error) {
				called = true
				if limit != 25 {
					t.Fatalf("unexpected limit %d", limit)
				}
				return []string{"B-1", "B-2"}, nil
			},
		}
		cmd := NewExpireWaitsCommand(svc)
		collector := gocmd.NewResult[[]string]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := cmd.Execute(ctx, ExpireWaitsMessage{Limit: 25}); err != nil {
			t.Fatalf("execute expire: %v", err)
		}
		if !called {
			t.Fatalf("expected expire invocation")
		}
		stored, ok := collector.Load()
		if !ok || len(stored) != 2 {
			t.Fatalf("expected expired bundle ids, got %v (%v)", stored, ok)
		}
	})

	t.Run("redeliver vehicle", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			redeliverFn: func(_ context.Context, bundleID, contractID string) (core.Vehicle, error) {
				called = true
				if bundleID != "B-1" || contractID != "C-2" {
					t.Fatalf("unexpected redelivery target: %q %q", bundleID, contractID)
				}
				return core.Vehicle{BundleID: bundleID, ContractID: contractID, Status: core.VehicleStatusDelivered}, nil
			},
		}
		cmd := NewRedeliverVehicleCommand(svc)
		collector := gocmd.NewResult[core.Vehicle]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := cmd.Execute(ctx, RedeliverVehicleMessage{BundleID: "B-1", ContractID: "C-2"}); err != nil {
			t.Fatalf("execute redeliver: %v", err)
		}
		if !called {
			t.Fatalf("expected redelivery invocation")
		}
		stored, ok := collector.Load()
		if !ok || stored.Status != core.VehicleStatusDelivered {
			t.Fatalf("unexpected redelivery result: %#v (%v)", stored, ok)
		}
	})
}

func TestCommands_MissingServiceReturnsDependencyError(t *testing.T) {
	cases := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{"ingest", func(ctx context.Context) error {
			return (&IngestBatchCommand{}).Execute(ctx, IngestBatchMessage{})
		}},
		{"resume", func(ctx context.Context) error {
			return (&ResumeSigningCommand{}).Execute(ctx, ResumeSigningMessage{})
		}},
		{"expire", func(ctx context.Context) error {
			return (&ExpireWaitsCommand{}).Execute(ctx, ExpireWaitsMessage{})
		}},
		{"redeliver", func(ctx context.Context) error {
			return (&RedeliverVehicleCommand{}).Execute(ctx, RedeliverVehicleMessage{})
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run(context.Background())
			if err == nil {
				t.Fatalf("expected dependency error")
			}
			var rich *goerrors.Error
			if !goerrors.As(err, &rich) {
				t.Fatalf("expected rich error, got %T", err)
			}
			if rich.Category != goerrors.CategoryInternal {
				t.Fatalf("expected internal category, got %v", rich.Category)
			}
			if rich.TextCode != core.SigningErrorInternal {
				t.Fatalf("expected %s text code, got %s", core.SigningErrorInternal, rich.TextCode)
			}
		})
	}
}

func TestMessages_Validate(t *testing.T) {
	if err := (IngestBatchMessage{}).Validate(); err == nil {
		t.Fatalf("expected empty batch to be rejected")
	}
	if err := (IngestBatchMessage{Rows: []core.BatchRow{{BundleID: "B-1", ContractID: "C-1", SequenceNo: 1}}}).Validate(); err != nil {
		t.Fatalf("expected populated batch to validate: %v", err)
	}

	if err := (ResumeSigningMessage{}).Validate(); err == nil {
		t.Fatalf("expected empty callback to be rejected")
	}
	if err := (ResumeSigningMessage{Message: core.CallbackMessage{Token: "tok", Outcome: core.SignOutcomeFailure}}).Validate(); err != nil {
		t.Fatalf("expected valid callback to validate: %v", err)
	}

	if err := (ExpireWaitsMessage{Limit: -1}).Validate(); err == nil {
		t.Fatalf("expected negative limit to be rejected")
	}
	if err := (ExpireWaitsMessage{Limit: 0}).Validate(); err != nil {
		t.Fatalf("expected zero limit to validate: %v", err)
	}

	if err := (RedeliverVehicleMessage{ContractID: "C-1"}).Validate(); err == nil {
		t.Fatalf("expected missing bundle id to be rejected")
	}
	if err := (RedeliverVehicleMessage{BundleID: "B-1"}).Validate(); err == nil {
		t.Fatalf("expected missing contract id to be rejected")
	}
	if err := (RedeliverVehicleMessage{BundleID: "B-1", ContractID: "C-1"}).Validate(); err != nil {
		t.Fatalf("expected complete redelivery message to validate: %v", err)
	}
}
