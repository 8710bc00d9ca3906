// Package eventbus publishes endpoint lifecycle and task-outcome
// events to Kafka, implementing endpoint.Observer on top of the
// teacher's batching Kafka producer (D6 in SPEC_FULL.md). Partitioning
// is keyed by host spec, so every event for one job server lands on
// the same partition and is never reordered relative to its peers.
package eventbus

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gearman-go/gasync/internal/gearman/endpoint"
)

// Publisher is the subset of *queue.Producer the bus depends on,
// narrowed so tests can substitute a fake instead of a live Kafka
// connection.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

// Event is the wire shape published for every observer callback.
type Event struct {
	Type      string    `json:"type"` // "state_change", "protocol_violation", "task_outcome"
	HostSpec  string    `json:"host_spec"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Error     string    `json:"error,omitempty"`
	Handle    string    `json:"handle,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
}

// EventBus publishes Events to a Kafka topic, one message per observer
// callback, and never blocks the endpoint's call path on publish
// failure beyond logging it.
type EventBus struct {
	producer Publisher
}

// New wraps an already-configured producer.
func New(producer Publisher) *EventBus {
	return &EventBus{producer: producer}
}

func (b *EventBus) publish(ev Event) {
	ev.Timestamp = time.Now()
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("eventbus: marshal failed for %s event: %v", ev.Type, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.producer.Publish(ctx, ev.HostSpec, payload); err != nil {
		log.Printf("eventbus: publish failed for %s event on %s: %v", ev.Type, ev.HostSpec, err)
	}
}

// OnStateChange implements endpoint.Observer.
func (b *EventBus) OnStateChange(ep *endpoint.Endpoint, from, to endpoint.State) {
	b.publish(Event{
		Type:     "state_change",
		HostSpec: ep.HostSpec().String(),
		From:     from.String(),
		To:       to.String(),
	})
}

// OnProtocolViolation implements endpoint.Observer.
func (b *EventBus) OnProtocolViolation(ep *endpoint.Endpoint, err error) {
	b.publish(Event{
		Type:     "protocol_violation",
		HostSpec: ep.HostSpec().String(),
		Error:    err.Error(),
	})
}

// OnTaskOutcome implements endpoint.Observer.
func (b *EventBus) OnTaskOutcome(ep *endpoint.Endpoint, handle string, outcome endpoint.Outcome) {
	b.publish(Event{
		Type:     "task_outcome",
		HostSpec: ep.HostSpec().String(),
		Handle:   handle,
		Outcome:  outcome.String(),
	})
}

// Close releases the underlying producer.
func (b *EventBus) Close() error {
	return b.producer.Close()
}
