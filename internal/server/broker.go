package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/enmapper/snowflow/internal/model"
)

// Broker fans a run's log entries out to SSE subscribers, keyed by
// migration id. The registry publishes through Publish as entries are
// appended; each subscriber gets its own buffered channel.
type Broker struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

// NewBroker creates an SSE broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger: logger,
		subs:   make(map[string]map[chan []byte]struct{}),
	}
}

// Publish broadcasts one log entry to the migration's subscribers.
// Safe to call from any goroutine.
func (b *Broker) Publish(migrationID string, entry model.LogEntry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		b.logger.Warn("broker: marshal log entry", "error", err)
		return
	}
	event := formatSSE("log", string(payload))

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[migrationID] {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full; drop this event for them.
		}
	}
}

// Subscribe returns a channel receiving SSE-formatted events for one
// migration. The caller must call Unsubscribe when done.
func (b *Broker) Subscribe(migrationID string) chan []byte {
	ch := make(chan []byte, 64) // Buffer to avoid blocking the publisher.
	b.mu.Lock()
	if b.subs[migrationID] == nil {
		b.subs[migrationID] = make(map[chan []byte]struct{})
	}
	b.subs[migrationID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it. A channel
// already removed by Close is left alone.
func (b *Broker) Unsubscribe(migrationID string, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[migrationID]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(b.subs, migrationID)
	}
	close(ch)
}

// Close disconnects all subscribers. Their channels are closed so SSE
// handlers unblock during shutdown; further Subscribe calls get channels
// that never receive.
func (b *Broker) Close() {
	b.mu.Lock()
	for id, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, id)
	}
	b.mu.Unlock()
}

// formatSSE formats a payload as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
