// Package metrics provides the default no-op MetricsCollector used when the
// application does not supply one.
package metrics

import "github.com/bbcarchdev/libcluster/types"

type nopCollector struct{}

var _ types.MetricsCollector = nopCollector{}

// NewNop returns a MetricsCollector that discards all measurements.
func NewNop() types.MetricsCollector {
	return nopCollector{}
}

func (nopCollector) RecordRebalance(types.State, types.State) {}
func (nopCollector) RecordHeartbeat(error)                    {}
func (nopCollector) RecordSnapshot(int)                       {}
