package fleet

import (
	"context"
	"log/slog"

	"github.com/fleetaudit/fleetd/internal/model"
	"github.com/fleetaudit/fleetd/internal/store"
)

// Aggregator computes fleet-wide dashboard statistics. It is a pure
// read-side projection recomputed on every call; there are no cached
// counters to keep consistent.
type Aggregator struct {
	store  store.Store
	logger *slog.Logger
}

// NewAggregator creates a fleet aggregator over the given store.
func NewAggregator(st store.Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: st, logger: logger}
}

// Stats returns the team's fleet roll-up. The average is the mean of
// machine lastScore values over machines that have one; machines that have
// never been audited are excluded rather than counted as zero.
func (a *Aggregator) Stats(ctx context.Context, teamID string) (*model.FleetStats, error) {
	return a.store.FleetStats(ctx, teamID)
}
