package progress

import "context"

// Sink receives run events in batches. The Hub calls Consume from one
// goroutine, in emission order, so a sink needs no locking of its own unless
// it is read elsewhere. Close is called once, after the last batch.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is what the processor reports to; the Hub implements it.
type Emitter interface {
	Emit(evt Event)
}

// Discard is an Emitter that ignores every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}
