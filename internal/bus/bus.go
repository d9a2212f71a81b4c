// Package bus fans normalized market updates out from venue clients to
// every subscriber (detectors, metrics, audit) without letting a slow
// subscriber block ingestion.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"arbiter/pkg/types"
)

const subscriberBuffer = 256

// Bus is a bounded multi-producer multi-consumer fan-out of MarketUpdates.
// Publish never blocks: a subscriber whose channel is full has this update
// dropped and a warning logged; updates already queued for it are kept.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan types.MarketUpdate
	next int

	logger *slog.Logger
}

// New constructs an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan types.MarketUpdate),
		logger: logger.With("component", "bus"),
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe func. Callers must drain the channel until ctx is done or
// unsubscribe is called, whichever comes first.
func (b *Bus) Subscribe(ctx context.Context) (<-chan types.MarketUpdate, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan types.MarketUpdate, subscriberBuffer)
	b.subs[id] = ch
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		unsub()
	}()

	return ch, unsub
}

// Publish fans update out to every current subscriber. Non-blocking per
// subscriber: a full channel means that subscriber drops this tick.
func (b *Bus) Publish(update types.MarketUpdate) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- update:
		default:
			b.logger.Warn("subscriber channel full, dropping update",
				"subscriber_id", id, "venue", update.Venue, "instrument", update.InstrumentID)
		}
	}
}

// SubscriberCount returns the number of active subscribers, for metrics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
