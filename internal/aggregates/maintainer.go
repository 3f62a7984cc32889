// Package aggregates keeps the per-metric materialized views in step with the
// stored session timelines.
package aggregates

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chronos/internal/models"
	"chronos/internal/storage"
)

// Maintainer merges recent sessions into every materialized view
type Maintainer struct {
	store storage.ViewStore
	views []models.MaterializedView
}

// NewMaintainer creates a maintainer for all metrics
func NewMaintainer(store storage.ViewStore) *Maintainer {
	return &Maintainer{store: store, views: models.MaterializedViews}
}

// Refresh recomputes each view for sessions ending at or after referenceTime.
// Records are replaced by (user_id, start_time) so repeated refreshes converge.
func (m *Maintainer) Refresh(ctx context.Context, referenceTime time.Time) error {
	for _, view := range m.views {
		started := time.Now()
		if err := m.store.MergeView(ctx, view, referenceTime); err != nil {
			return fmt.Errorf("merge %s: %w", view.Collection, err)
		}
		slog.Info("materialized view refreshed",
			"collection", view.Collection,
			"reference_time", referenceTime.Format(time.RFC3339),
			"elapsed", time.Since(started).String())
	}
	return nil
}
