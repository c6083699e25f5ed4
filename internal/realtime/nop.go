package realtime

import "context"

// NopPublisher drops every event. Used when Kafka is disabled so the engine
// keeps its persistence semantics without a realtime leg.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(_ context.Context, _, _ string, _ interface{}) error {
	return nil
}
