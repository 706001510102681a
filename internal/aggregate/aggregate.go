// Package aggregate implements the merge of local server state with the
// remote fleet view maintained by whichever coordinator backend is active
// (§4.9). It has no independent lifecycle: every call is purely derived
// from its Provider.
package aggregate

import "github.com/hyquery/hyquery/internal/wire"

// Aggregate is the fleet-wide view merged into query responses.
type Aggregate struct {
	TotalOnline    int32
	TotalMax       int32
	RemoteServers  []wire.RemoteServerSnapshot
	NetworkPlayers []wire.PlayerRef
}

// Provider is implemented by whichever coordinator backend (UDP registry
// or shared-store reader) is configured. includePlayers lets callers that
// only need counts skip the cost of collecting player lists.
type Provider interface {
	GetAggregate(includePlayers bool) (Aggregate, error)
}

// View is the aggregation layer the request handler consults. A nil
// Provider (non-primary, or no coordinator configured) always yields the
// empty aggregate, matching §4.9's "returns the empty aggregate when the
// server is not a primary or the coordinator is absent".
type View struct {
	Provider Provider
}

// GetAggregate returns the current aggregate, or the empty aggregate if no
// provider is configured.
func (v View) GetAggregate(includePlayers bool) (Aggregate, error) {
	if v.Provider == nil {
		return Aggregate{}, nil
	}
	return v.Provider.GetAggregate(includePlayers)
}

// Contributed reports whether agg represents non-empty fleet data, used by
// the handler to decide whether to set the IS_NETWORK response flag.
func (a Aggregate) Contributed() bool {
	return len(a.RemoteServers) > 0
}
