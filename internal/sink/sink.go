package sink

import (
	"context"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
)

// Sink receives every persisted tracking event
type Sink interface {
	Start(ctx context.Context) error
	Enqueue(e event.TrackingEvent) error
	Close() error
	Name() string // Returns the sink name for metrics and logging
}

// schemaVersion tags serialized events
const schemaVersion = "v1"
