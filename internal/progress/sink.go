package progress

import "context"

// Sink consumes batches of progress events. Consume is called from the hub
// goroutine only; Close is called once after the final flush.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub and Reporter satisfy it, so
// workers stay agnostic about buffering.
type Emitter interface {
	Emit(evt Event)
}
