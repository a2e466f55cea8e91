// Package service runs the consumer side of the patchbay driver.
//
// PatchService owns the consumer loop: it waits for the driver to signal
// queued events (or for a fallback tick), calls ProcessEvents, and fans the
// resulting deltas out to the EventBus, the delta journal and the Redis
// publisher. Only one goroutine at a time acts as the driver's consumer;
// ProcessEvents, Refresh and rule reloads are serialized by the service.
//
// # Event System
//
// Every delta is published on the EventBus as an EventDelta. Batch
// completions (EventProcessed, EventRefreshed) follow the deltas they
// summarize. The SSE hub subscribes to the bus.
package service
