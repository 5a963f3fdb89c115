package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signaldeck/signaldeck/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	name string
	err  error

	mu   sync.Mutex
	sent []string // "title: message"
}

func (s *recordingSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, title+": "+message)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func TestSignalAlertFansOut(t *testing.T) {
	a := &recordingSender{name: "a"}
	b := &recordingSender{name: "b"}
	alerter := NewAlerter([]Sender{a, b}, time.Second, testLogger())

	alerter.SignalAlert(domain.TopicVIPSignals,
		[]byte(`{"symbol":"BTC","side":"long","entry_price":64000,"take_profit":70000}`))

	require.Eventually(t, func() bool {
		return len(a.all()) == 1 && len(b.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got := a.all()[0]
	assert.Contains(t, got, "New VIP trading signal")
	assert.Contains(t, got, "LONG BTC @ 64000.0000")
	assert.Contains(t, got, "TP 70000.0000")
}

func TestSignalAlertContinuesPastFailingSender(t *testing.T) {
	broken := &recordingSender{name: "broken", err: errors.New("webhook 500")}
	ok := &recordingSender{name: "ok"}
	alerter := NewAlerter([]Sender{broken, ok}, time.Second, testLogger())

	alerter.SignalAlert(domain.TopicSignals, []byte(`{"symbol":"ETH","side":"short","entry_price":3300}`))

	require.Eventually(t, func() bool {
		return len(ok.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, ok.all()[0], "New trading signal")
}

func TestFormatSignal(t *testing.T) {
	title, msg := formatSignal(domain.TopicVIPSignals,
		[]byte(`{"symbol":"SOL","side":"long","entry_price":150.5,"stop_loss":140}`))
	assert.Equal(t, "New VIP trading signal", title)
	assert.Equal(t, "LONG SOL @ 150.5000\nSL 140.0000", msg)

	// Unparsable payloads fall back to the raw body.
	title, msg = formatSignal(domain.TopicSignals, []byte(`{"note":"no symbol"}`))
	assert.Equal(t, "New trading signal", title)
	assert.Equal(t, `{"note":"no symbol"}`, msg)
}
