// Package notify pushes trading-signal alerts to operator channels
// (Telegram, Discord). Alert delivery is best-effort: failures are logged
// and never propagate into the live-data path.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Sender is the interface that each alert channel must implement.
type Sender interface {
	// Send delivers an alert with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Alerter fans signal alerts out to the configured senders. Dispatch runs in
// its own goroutine with a delivery deadline, so callers on the event path
// never block on a slow webhook.
type Alerter struct {
	senders []Sender
	timeout time.Duration
	logger  *slog.Logger
}

// NewAlerter creates an Alerter delivering to the given senders. A zero
// timeout defaults to ten seconds per dispatch.
func NewAlerter(senders []Sender, timeout time.Duration, logger *slog.Logger) *Alerter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Alerter{
		senders: senders,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "alerter")),
	}
}

// SignalAlert formats a raw signal event and dispatches it asynchronously.
// It is shaped to bind directly as a topic handler.
func (a *Alerter) SignalAlert(topic string, payload []byte) {
	if len(a.senders) == 0 {
		return
	}
	title, message := formatSignal(topic, payload)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		a.dispatch(ctx, title, message)
	}()
}

// dispatch delivers to every sender; a failure on one does not stop the rest.
func (a *Alerter) dispatch(ctx context.Context, title, message string) {
	for _, s := range a.senders {
		if err := s.Send(ctx, title, message); err != nil {
			a.logger.Warn("sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.logger.Debug("alert sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}

// formatSignal renders a signal payload into a title and body. Known fields
// are laid out line by line; anything unparsable falls back to the raw JSON.
func formatSignal(topic string, payload []byte) (title, message string) {
	title = "New trading signal"
	if strings.Contains(topic, "vip") {
		title = "New VIP trading signal"
	}

	var sig struct {
		Symbol     string   `json:"symbol"`
		Side       string   `json:"side"`
		EntryPrice float64  `json:"entry_price"`
		TakeProfit *float64 `json:"take_profit"`
		StopLoss   *float64 `json:"stop_loss"`
	}
	if err := json.Unmarshal(payload, &sig); err != nil || sig.Symbol == "" {
		return title, string(payload)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s @ %.4f", strings.ToUpper(sig.Side), sig.Symbol, sig.EntryPrice)
	if sig.TakeProfit != nil {
		fmt.Fprintf(&b, "\nTP %.4f", *sig.TakeProfit)
	}
	if sig.StopLoss != nil {
		fmt.Fprintf(&b, "\nSL %.4f", *sig.StopLoss)
	}
	return title, b.String()
}
