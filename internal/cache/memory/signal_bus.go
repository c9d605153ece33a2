// Package memory provides an in-process SignalBus for memory mode, where
// the protocol runs with no external services. Delivery semantics mirror
// the Redis bus: fire-and-forget fan-out with bounded subscriber buffers,
// plus capped ordered streams.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// streamMaxLen caps each stream; older entries are trimmed on append.
const streamMaxLen = 10000

type subscriber struct {
	pattern string
	ch      chan []byte
}

// SignalBus is a process-local domain.SignalBus.
type SignalBus struct {
	mu      sync.Mutex
	subs    []*subscriber
	streams map[string][]domain.StreamMessage
	nextID  uint64
}

// NewSignalBus creates an empty in-process bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{streams: make(map[string][]domain.StreamMessage)}
}

// Publish fans payload out to every matching subscriber. Subscribers with a
// full buffer are skipped, like slow Redis pub/sub consumers.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs {
		if !channelMatch(s.pattern, channel) {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscription for channel. A trailing "*" subscribes
// to every channel with that prefix. The returned channel closes when ctx
// is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := &subscriber{pattern: channel, ch: make(chan []byte, 128)}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}

// StreamAppend appends payload to the named stream, trimming to the cap.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	entries := append(b.streams[stream], domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", b.nextID),
		Payload: payload,
	})
	if len(entries) > streamMaxLen {
		entries = entries[len(entries)-streamMaxLen:]
	}
	b.streams[stream] = entries
	return nil
}

// StreamRead returns up to count entries with IDs after lastID. "0" and
// "0-0" read from the start; "$" returns nothing (only future entries have
// higher IDs than the current tail).
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.streams[stream]
	var after uint64
	switch lastID {
	case "", "0", "0-0":
		after = 0
	case "$":
		return nil, nil
	default:
		seq, _, _ := strings.Cut(lastID, "-")
		n, err := strconv.ParseUint(seq, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("memory: bad stream id %q: %w", lastID, err)
		}
		after = n
	}

	var out []domain.StreamMessage
	for _, e := range entries {
		seq, _, _ := strings.Cut(e.ID, "-")
		n, _ := strconv.ParseUint(seq, 10, 64)
		if n <= after {
			continue
		}
		out = append(out, e)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func channelMatch(pattern, channel string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(channel, pattern[:len(pattern)-1])
	}
	return pattern == channel
}

var _ domain.SignalBus = (*SignalBus)(nil)
