package consumer

import (
	"context"
	"log/slog"

	audit "veriface/pkg/platform/audit"
)

// Router dispatches events to category-specific stores, e.g. compliance
// events to long-retention storage while operations events go elsewhere.
// Router itself implements audit.Store.
type Router struct {
	routes   map[audit.EventCategory]audit.Store
	fallback audit.Store
	logger   *slog.Logger
}

// NewRouter creates a category router with an optional fallback store.
func NewRouter(logger *slog.Logger, fallback audit.Store) *Router {
	return &Router{
		routes:   make(map[audit.EventCategory]audit.Store),
		fallback: fallback,
		logger:   logger,
	}
}

// Register adds a store for a category.
func (r *Router) Register(category audit.EventCategory, store audit.Store) {
	r.routes[category] = store
}

// Append routes the event by the category of its action.
func (r *Router) Append(ctx context.Context, event audit.Event) error {
	category := audit.AuditEvent(event.Action).Category()
	store, ok := r.routes[category]
	if !ok {
		if r.fallback != nil {
			return r.fallback.Append(ctx, event)
		}
		if r.logger != nil {
			r.logger.Warn("no store for audit category, skipping event",
				"category", category,
				"action", event.Action,
			)
		}
		return nil
	}
	return store.Append(ctx, event)
}
