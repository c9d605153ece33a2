package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// Bridge forwards protocol events from the signal bus to the notifier.
// It subscribes to the fee channel so operators hear about fee withdrawals
// and fee-point changes without watching the WebSocket feed.
type Bridge struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewBridge creates a Bridge over the given bus and notifier.
func NewBridge(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Bridge {
	return &Bridge{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_bridge")),
	}
}

// Run subscribes to the fee channel and dispatches each event until the
// context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	ch, err := b.bus.Subscribe(ctx, domain.ChannelFees)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.ChannelFees, err)
	}
	b.logger.Info("notify bridge started", slog.String("channel", domain.ChannelFees))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(ctx, payload)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, payload []byte) {
	var evt domain.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		b.logger.WarnContext(ctx, "malformed event payload", slog.String("error", err.Error()))
		return
	}

	title := "SimpliFi: " + evt.Name
	body := formatFields(evt.Fields)
	if err := b.notifier.Notify(ctx, evt.Name, title, body); err != nil {
		b.logger.WarnContext(ctx, "notification failed",
			slog.String("event", evt.Name),
			slog.String("error", err.Error()),
		)
	}
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return "(no details)"
	}
	out := ""
	for k, v := range fields {
		out += fmt.Sprintf("%s: %v\n", k, v)
	}
	return out
}
