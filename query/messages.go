package query

import "strings"

const (
	TypeGetBundleSummary = "signing.query.bundle_summary.get"
	TypeListTransitions  = "signing.query.transitions.list"
	TypeGetVehicle       = "signing.query.vehicle.get"
	TypeListVehicles     = "signing.query.vehicles.list"
)

type GetBundleSummaryMessage struct {
	BundleID string
}

func (GetBundleSummaryMessage) Type() string { return TypeGetBundleSummary }

func (m GetBundleSummaryMessage) Validate() error {
	if strings.TrimSpace(m.BundleID) == "" {
		return queryInvalidInputError("query: bundle id is required")
	}
	return nil
}

type ListTransitionsMessage struct {
	BundleID string
}

func (ListTransitionsMessage) Type() string { return TypeListTransitions }

func (m ListTransitionsMessage) Validate() error {
	if strings.TrimSpace(m.BundleID) == "" {
		return queryInvalidInputError("query: bundle id is required")
	}
	return nil
}

type GetVehicleMessage struct {
	BundleID   string
	ContractID string
}

func (GetVehicleMessage) Type() string { return TypeGetVehicle }

func (m GetVehicleMessage) Validate() error {
	if strings.TrimSpace(m.BundleID) == "" {
		return queryInvalidInputError("query: bundle id is required")
	}
	if strings.TrimSpace(m.ContractID) == "" {
		return queryInvalidInputError("query: contract id is required")
	}
	return nil
}

type ListVehiclesMessage struct {
	BundleID string
}

func (ListVehiclesMessage) Type() string { return TypeListVehicles }

func (m ListVehiclesMessage) Validate() error {
	if strings.TrimSpace(m.BundleID) == "" {
		return queryInvalidInputError("query: bundle id is required")
	}
	return nil
}
