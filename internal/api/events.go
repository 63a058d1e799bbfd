package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jdholdren/skim/internal/skim"
)

// Broker fans engine events out to the connected event streams. A stream
// too slow to keep up loses events rather than stalling the engine.
type Broker struct {
	mu     sync.Mutex
	subs   map[chan skim.Event]struct{}
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: map[chan skim.Event]struct{}{}}
}

// Publish is an [skim.Observer].
func (b *Broker) Publish(ev skim.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("dropping event for slow stream", "kind", ev.Kind)
		}
	}
}

// Subscribe returns a channel of the events published from now on and a
// function to stop receiving them. The channel is closed by either.
func (b *Broker) Subscribe() (<-chan skim.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan skim.Event, 64)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
}

// Close ends every stream.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

const keepAlive = 30 * time.Second

// getEvents streams events as server-sent events until the client goes
// away or the engine shuts down.
func (s Server) getEvents(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.WarnContext(ctx, "could not lift write deadline", "error", err)
	}

	events, stop := s.broker.Subscribe()
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.ErrorContext(ctx, "streaming unsupported", "error", err)
		return nil
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return nil
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			byts, err := json.Marshal(ev)
			if err != nil {
				slog.ErrorContext(ctx, "error encoding event", "kind", ev.Kind, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, byts); err != nil {
				return nil
			}
			if ev.Kind == skim.EventShutdown {
				rc.Flush()
				return nil
			}
		}
		if err := rc.Flush(); err != nil {
			return nil
		}
	}
}
