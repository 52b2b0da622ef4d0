package progress

import "context"

// Sink consumes progress events. Implementations must honor ctx deadlines
// and may be invoked from the hub goroutine only.
type Sink interface {
	Consume(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this so jobs stay
// agnostic about how events are buffered or exported.
type Emitter interface {
	Emit(evt Event)
}
