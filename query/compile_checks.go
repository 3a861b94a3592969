package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/Skyvell/signing-signicat/core"
)

var (
	_ gocmd.Querier[GetBundleSummaryMessage, core.BundleSummary]     = (*GetBundleSummaryQuery)(nil)
	_ gocmd.Querier[ListTransitionsMessage, []core.BundleTransition] = (*ListTransitionsQuery)(nil)
	_ gocmd.Querier[GetVehicleMessage, core.Vehicle]                 = (*GetVehicleQuery)(nil)
	_ gocmd.Querier[ListVehiclesMessage, []core.Vehicle]             = (*ListVehiclesQuery)(nil)
)
