package query

import (
	"context"

	"github.com/Skyvell/signing-signicat/core"
)

// TransitionReader exposes the audit trail kept alongside every bundle
// status change.
type TransitionReader interface {
	ListTransitions(ctx context.Context, bundleID string) ([]core.BundleTransition, error)
}

// VehicleReader is the read-only slice of the vehicle store the queries need.
type VehicleReader interface {
	GetVehicle(ctx context.Context, bundleID, contractID string) (core.Vehicle, error)
	ListVehicles(ctx context.Context, bundleID string) ([]core.Vehicle, error)
}

type GetBundleSummaryQuery struct {
	reader core.SummaryReader
}

func NewGetBundleSummaryQuery(reader core.SummaryReader) *GetBundleSummaryQuery {
	return &GetBundleSummaryQuery{reader: reader}
}

func (q *GetBundleSummaryQuery) Query(ctx context.Context, msg GetBundleSummaryMessage) (core.BundleSummary, error) {
	if q == nil || q.reader == nil {
		return core.BundleSummary{}, queryDependencyError("query: summary reader is required")
	}
	return q.reader.GetBundleSummary(ctx, msg.BundleID)
}

type ListTransitionsQuery struct {
	reader TransitionReader
}

func NewListTransitionsQuery(reader TransitionReader) *ListTransitionsQuery {
	return &ListTransitionsQuery{reader: reader}
}

func (q *ListTransitionsQuery) Query(ctx context.Context, msg ListTransitionsMessage) ([]core.BundleTransition, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: transition reader is required")
	}
	return q.reader.ListTransitions(ctx, msg.BundleID)
}

type GetVehicleQuery struct {
	reader VehicleReader
}

func NewGetVehicleQuery(reader VehicleReader) *GetVehicleQuery {
	return &GetVehicleQuery{reader: reader}
}

func (q *GetVehicleQuery) Query(ctx context.Context, msg GetVehicleMessage) (core.Vehicle, error) {
	if q == nil || q.reader == nil {
		return core.Vehicle{}, queryDependencyError("query: vehicle reader is required")
	}
	return q.reader.GetVehicle(ctx, msg.BundleID, msg.ContractID)
}

type ListVehiclesQuery struct {
	reader VehicleReader
}

func NewListVehiclesQuery(reader VehicleReader) *ListVehiclesQuery {
	return &ListVehiclesQuery{reader: reader}
}

func (q *ListVehiclesQuery) Query(ctx context.Context, msg ListVehiclesMessage) ([]core.Vehicle, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: vehicle reader is required")
	}
	return q.reader.ListVehicles(ctx, msg.BundleID)
}
