package services

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"squad-ladder/models"
)

// Lifecycle topics. One event is emitted per committed transition.
const (
	TopicMatchCreated       = "match.created"
	TopicMatchAccepted      = "match.accepted"
	TopicMatchStarted       = "match.started"
	TopicResultReported     = "match.result_reported"
	TopicMatchCompleted     = "match.completed"
	TopicCancelRequested    = "match.cancel_requested"
	TopicMatchCancelled     = "match.cancelled"
	TopicMatchDisputed      = "match.disputed"
	TopicEvidenceAttached   = "match.evidence_attached"
	TopicDisputeReverted    = "match.dispute_reverted"
	TopicMatchExpired       = "match.expired"
	TopicRewardsDistributed = "match.rewards_distributed"
)

type Event struct {
	ID         string             `json:"id"`
	Topic      string             `json:"topic"`
	MatchID    string             `json:"match_id"`
	LadderID   string             `json:"ladder_id"`
	Squads     []string           `json:"squads"`
	Status     models.MatchStatus `json:"status"`
	ActorID    string             `json:"actor_id,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
	Match      *models.Match      `json:"match,omitempty"`
}

func newMatchEvent(topic string, m *models.Match, actorID string, at time.Time) Event {
	squads := []string{m.ChallengerID}
	if opp := m.Opponent(); opp != "" {
		squads = append(squads, opp)
	}
	return Event{
		ID:         uuid.NewString(),
		Topic:      topic,
		MatchID:    m.ID,
		LadderID:   m.LadderID,
		Squads:     squads,
		Status:     m.Status,
		ActorID:    actorID,
		OccurredAt: at,
		Match:      m.Clone(),
	}
}

// Involves reports whether squadID is one of the event's squads.
func (e Event) Involves(squadID string) bool {
	for _, s := range e.Squads {
		if s == squadID {
			return true
		}
	}
	return false
}

// Publisher delivers events to one transport.
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
}

// Notifier fans an event out to every publisher. Delivery is fire-and-forget:
// failures are logged and never reach the command that emitted the event.
type Notifier struct {
	publishers []Publisher
	log        zerolog.Logger
}

func NewNotifier(log zerolog.Logger, publishers ...Publisher) *Notifier {
	return &Notifier{
		publishers: publishers,
		log:        log.With().Str("component", "notifier").Logger(),
	}
}

func (n *Notifier) Notify(ctx context.Context, event Event) {
	for _, p := range n.publishers {
		if err := p.Publish(ctx, event.Topic, event); err != nil {
			n.log.Error().Err(err).
				Str("topic", event.Topic).
				Str("match_id", event.MatchID).
				Msg("event publish failed")
		}
	}
}

// NATSPublisher publishes JSON events on "<prefix>.<topic>".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// ConnectNATS dials the broker with reconnect handling.
func ConnectNATS(url, name string, log zerolog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected from NATS")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to connect to NATS server")
	}
	return conn, nil
}

func (p *NATSPublisher) Publish(_ context.Context, topic string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "failed to encode event")
	}
	subject := topic
	if p.prefix != "" {
		subject = p.prefix + "." + topic
	}
	return eris.Wrapf(p.conn.Publish(subject, data), "failed to publish %s", subject)
}

// EventHub broadcasts events to in-process subscribers such as SSE and
// websocket clients. Slow subscribers lose events rather than block publishers.
type EventHub struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	buffer int
	closed bool
}

func NewEventHub(buffer int) *EventHub {
	if buffer < 1 {
		buffer = 16
	}
	return &EventHub{subs: map[string]chan Event{}, buffer: buffer}
}

// Subscribe registers a listener. The returned cancel func must be called
// when the listener goes away; it closes the channel.
func (h *EventHub) Subscribe() (<-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
			h.mu.Unlock()
		})
	}
}

func (h *EventHub) Publish(_ context.Context, _ string, event Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (h *EventHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
