package notify

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	fail   bool
}

func (s *recordingSender) Send(ctx context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return assert.AnError
	}
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

func TestNotifierFiltersEvents(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	sender := &recordingSender{}
	n := NewNotifier([]Sender{sender}, []string{"ProtocolFeesWithdrawn"}, logger)
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "StrategyEntered", "t1", "m"))
	require.NoError(t, n.Notify(ctx, "ProtocolFeesWithdrawn", "t2", "m"))
	assert.Equal(t, []string{"t2"}, sender.sent())

	// NotifyAll bypasses the filter.
	require.NoError(t, n.NotifyAll(ctx, "t3", "m"))
	assert.Equal(t, []string{"t2", "t3"}, sender.sent())
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier([]Sender{sender}, nil, slog.New(slog.DiscardHandler))
	require.NoError(t, n.Notify(context.Background(), "AnythingAtAll", "t", "m"))
	assert.Equal(t, []string{"t"}, sender.sent())
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	good := &recordingSender{}
	bad := &recordingSender{fail: true}
	n := NewNotifier([]Sender{bad, good}, nil, slog.New(slog.DiscardHandler))

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	// The failing sender does not block delivery to the rest.
	assert.Equal(t, []string{"t"}, good.sent())
}

func TestNotifierNoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, slog.New(slog.DiscardHandler))
	assert.NoError(t, n.NotifyAll(context.Background(), "t", "m"))
}

func TestDiscordSender(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Title", "body text"))
	assert.Contains(t, gotBody, "**Title**")
	assert.Contains(t, gotBody, "body text")
	assert.Equal(t, "discord", s.Name())
}

func TestTelegramSender(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("bot-token", "chat-1")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "Title", "body text"))
	assert.Equal(t, "/botbot-token/sendMessage", gotPath)
	assert.Contains(t, gotBody, "*Title*")
	assert.Contains(t, gotBody, "chat-1")
	assert.Equal(t, "telegram", s.Name())
}

func TestDiscordSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

// chanBus is an in-process SignalBus for bridge tests.
type chanBus struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

func newChanBus() *chanBus {
	return &chanBus{subs: make(map[string][]chan []byte)}
}

func (b *chanBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		ch <- payload
	}
	return nil
}

func (b *chanBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs[channel] = append(b.subs[channel], ch)
	return ch, nil
}

func (b *chanBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return nil
}

func (b *chanBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *chanBus) subscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

func TestBridgeForwardsFeeEvents(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	bus := newChanBus()
	sender := &recordingSender{}
	bridge := NewBridge(bus, NewNotifier([]Sender{sender}, nil, logger), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()

	require.Eventually(t, func() bool {
		return bus.subscriberCount(domain.ChannelFees) == 1
	}, time.Second, 10*time.Millisecond)

	evt := domain.NewEvent(domain.EventFeePointsUpdated, time.Now().UTC(), map[string]any{
		"new_protocol_fee_points": 2000,
	})
	require.NoError(t, bus.Publish(ctx, domain.ChannelFees, evt.Marshal()))

	require.Eventually(t, func() bool {
		return len(sender.sent()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "SimpliFi: FeePointsUpdated", sender.sent()[0])

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
