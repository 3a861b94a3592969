package query

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/Skyvell/signing-signicat/core"
)

func TestGetBundleSummaryMessage_ValidateReturnsRichError(t *testing.T) {
	err := (GetBundleSummaryMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryBadInput {
		t.Fatalf("expected bad input category, got %q", rich.Category)
	}
	if rich.TextCode != core.SigningErrorValidation {
		t.Fatalf("expected %q text code, got %q", core.SigningErrorValidation, rich.TextCode)
	}
}

func TestGetVehicleQuery_NilReaderReturnsRichError(t *testing.T) {
	var q *GetVehicleQuery
	_, err := q.Query(context.Background(), GetVehicleMessage{BundleID: "B-1", ContractID: "C-1"})
	if err == nil {
		t.Fatalf("expected dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.SigningErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.SigningErrorInternal, rich.TextCode)
	}
}
