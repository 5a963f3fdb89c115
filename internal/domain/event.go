package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Topic names used by the push-messaging service and the live WebSocket
// endpoint. All but TopicVIPSignals are public.
const (
	TopicSignals      = "public-signals"
	TopicMarketStatus = "public-market-status"
	TopicPriceFeed    = "public-price-feed"
	TopicPositions    = "public-paper-positions"
	TopicRankings     = "public-rankings"
	TopicVIPSignals   = "private-vip-signals"
)

// EventKind identifies a member of the closed union of live events.
type EventKind string

const (
	EventPositionOpened  EventKind = "position_opened"
	EventPositionPatched EventKind = "position_patched"
	EventPositionDeleted EventKind = "position_deleted"
	EventPriceTick       EventKind = "price_tick"
	EventRankingUpdate   EventKind = "ranking_update"
	EventSignal          EventKind = "signal"
	EventMarketStatus    EventKind = "market_status"
)

// Event is one validated live event. Exactly one of Position, Patch, ID, or
// Tick is populated depending on Kind; Raw always carries the original
// payload for opaque kinds (signals, rankings, market status).
type Event struct {
	Kind     EventKind
	Position *Position
	Patch    *PositionPatch
	ID       int64
	Tick     *PriceTick
	Raw      json.RawMessage
}

// positionMsg is the wire shape of a position push event.
type positionMsg struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseEvent validates a raw payload received on the given topic and maps it
// into the event union. Invalid payloads return an error wrapping
// ErrMalformedEvent; callers count and log these but must never let them
// propagate past the transport boundary.
func ParseEvent(topic string, payload []byte) (Event, error) {
	switch topic {
	case TopicPositions:
		return parsePositionEvent(payload)

	case TopicPriceFeed:
		var tick PriceTick
		if err := json.Unmarshal(payload, &tick); err != nil || tick.Symbol == "" {
			return Event{}, fmt.Errorf("%w: price tick on %s", ErrMalformedEvent, topic)
		}
		tick.Symbol = strings.ToUpper(tick.Symbol)
		return Event{Kind: EventPriceTick, Tick: &tick, Raw: payload}, nil

	case TopicRankings:
		if !json.Valid(payload) {
			return Event{}, fmt.Errorf("%w: ranking update", ErrMalformedEvent)
		}
		return Event{Kind: EventRankingUpdate, Raw: payload}, nil

	case TopicMarketStatus:
		if !json.Valid(payload) {
			return Event{}, fmt.Errorf("%w: market status", ErrMalformedEvent)
		}
		return Event{Kind: EventMarketStatus, Raw: payload}, nil

	case TopicSignals, TopicVIPSignals:
		if !json.Valid(payload) {
			return Event{}, fmt.Errorf("%w: signal on %s", ErrMalformedEvent, topic)
		}
		return Event{Kind: EventSignal, Raw: payload}, nil

	default:
		return Event{}, fmt.Errorf("%w: unknown topic %q", ErrMalformedEvent, topic)
	}
}

func parsePositionEvent(payload []byte) (Event, error) {
	var msg positionMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Event{}, fmt.Errorf("%w: position event envelope", ErrMalformedEvent)
	}

	switch msg.Type {
	case "OPEN":
		var p Position
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.ID == 0 {
			return Event{}, fmt.Errorf("%w: OPEN payload", ErrMalformedEvent)
		}
		if p.Status == "" {
			p.Status = PositionStatusOpen
		}
		return Event{Kind: EventPositionOpened, Position: &p, Raw: payload}, nil

	case "UPDATE", "CLOSED":
		var patch PositionPatch
		if err := json.Unmarshal(msg.Data, &patch); err != nil || patch.ID == 0 {
			return Event{}, fmt.Errorf("%w: %s payload", ErrMalformedEvent, msg.Type)
		}
		if msg.Type == "CLOSED" {
			closed := PositionStatusClosed
			patch.Status = &closed
		}
		return Event{Kind: EventPositionPatched, Patch: &patch, Raw: payload}, nil

	case "DELETE":
		var ref struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(msg.Data, &ref); err != nil || ref.ID == 0 {
			return Event{}, fmt.Errorf("%w: DELETE payload", ErrMalformedEvent)
		}
		return Event{Kind: EventPositionDeleted, ID: ref.ID, Raw: payload}, nil

	default:
		return Event{}, fmt.Errorf("%w: position event type %q", ErrMalformedEvent, msg.Type)
	}
}
