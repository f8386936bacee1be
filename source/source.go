// Package source defines producers of lane events and a fan-in helper that
// merges many of them into the single channel an Aggregator consumes.
package source

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/chatstream/core"
)

// Source produces the events of one or more lanes. Stream blocks until the
// underlying stream is exhausted, fails or ctx is done. Events for one lane
// must be passed to emit in order.
type Source interface {
	Stream(ctx context.Context, emit func(ev core.Event)) error
}

// Func adapts a plain function to the Source interface.
type Func func(ctx context.Context, emit func(ev core.Event)) error

// Stream calls f.
func (f Func) Stream(ctx context.Context, emit func(ev core.Event)) error {
	return f(ctx, emit)
}

// Pump runs every source concurrently and forwards their events to out. Events
// of one source keep their order; events of different sources interleave.
// Pump closes out once all sources have returned and reports the first error.
// A failing source cancels the others.
func Pump(ctx context.Context, out chan<- core.Event, sources ...Source) error {
	return PumpN(ctx, out, 0, sources...)
}

// PumpN is Pump with at most limit sources streaming at once. A limit of zero
// or less runs all sources concurrently.
func PumpN(ctx context.Context, out chan<- core.Event, limit int, sources ...Source) error {
	defer close(out)

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, s := range sources {
		s := s // per-iteration copy; go.mod targets go 1.21 loop semantics
		g.Go(func() error {
			return s.Stream(gctx, func(ev core.Event) {
				select {
				case out <- ev:
				case <-gctx.Done():
				}
			})
		})
	}

	return g.Wait()
}

// Collect runs src to completion and returns everything it emitted.
func Collect(ctx context.Context, src Source) ([]core.Event, error) {
	var events []core.Event
	err := src.Stream(ctx, func(ev core.Event) {
		events = append(events, ev)
	})
	return events, err
}
