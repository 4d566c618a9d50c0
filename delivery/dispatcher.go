package delivery

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Dispatcher fans items out to every enabled channel.
type Dispatcher struct {
	channels []Channel
}

// NewDispatcher creates a Dispatcher over the given channels.
func NewDispatcher(channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels}
}

// Channels returns the names of the channels in dispatch order.
func (d *Dispatcher) Channels() []string {
	names := make([]string, len(d.channels))
	for i, ch := range d.channels {
		names[i] = ch.Name()
	}
	return names
}

// Dispatch delivers the items on every channel concurrently. Results are
// returned in channel order; a failing channel never affects the others.
func (d *Dispatcher) Dispatch(ctx context.Context, items []Item) []Result {
	results := make([]Result, len(d.channels))

	var g errgroup.Group
	for i, ch := range d.channels {
		i, ch := i, ch // per-iteration copies; required while go.mod targets pre-1.22 loop semantics
		g.Go(func() error {
			slog.Info("delivering", "channel", ch.Name(), "stories", len(items))
			results[i] = ch.Deliver(ctx, items)

			r := results[i]
			if r.Status == StatusSuccess {
				slog.Info("channel delivery complete", "channel", r.Channel, "delivered", r.ItemsDelivered)
			} else {
				slog.Warn("channel delivery degraded", "channel", r.Channel, "status", r.Status,
					"delivered", r.ItemsDelivered, "attempted", r.ItemsAttempted, "error", r.Err)
			}
			return nil
		})
	}
	g.Wait()

	return results
}
