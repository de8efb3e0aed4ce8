package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/authgate/apiserver/internal/logging"
	"github.com/authgate/apiserver/internal/mq"
	"github.com/authgate/apiserver/types"
)

// DefaultEventsChannel is the channel auth events are published to.
const DefaultEventsChannel = "auth.events"

// Auth event types.
const (
	EventAccountRegistered = "account.registered"
	EventLoginSucceeded    = "login.succeeded"
	EventLoginFailed       = "login.failed"
	EventAccountLocked     = "account.locked"
	EventLoginWhileLocked  = "login.rejected_locked"
)

// Event is a security-relevant change to an account.
type Event struct {
	Type           string         `json:"type"`
	AccountID      string         `json:"account_id"`
	Email          string         `json:"email"`
	FailedAttempts int            `json:"failed_attempts,omitempty"`
	LockedUntil    *types.Instant `json:"locked_until,omitempty"`
	At             types.Instant  `json:"at"`
}

// EventPublisher delivers auth events. Delivery is best effort; it must not
// block or fail a login.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}

const (
	defaultEventBuffer  = 256
	eventPublishTimeout = 5 * time.Second
	eventFlushTimeout   = 5 * time.Second
)

// MQEventPublisher publishes events as JSON through an mq backend. Publish
// only enqueues; a single worker goroutine delivers to the broker, so a
// slow or unreachable broker never delays a login. Events that do not fit
// in the buffer are dropped with a warning.
type MQEventPublisher struct {
	mq      *mq.MQ
	channel string
	log     logging.Logger

	events    chan Event
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func NewMQEventPublisher(queue *mq.MQ, channel string, log logging.Logger) *MQEventPublisher {
	return newMQEventPublisher(queue, channel, log, defaultEventBuffer)
}

func newMQEventPublisher(queue *mq.MQ, channel string, log logging.Logger, buffer int) *MQEventPublisher {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	if log == nil {
		log = logging.Nop{}
	}
	p := &MQEventPublisher{
		mq:      queue,
		channel: channel,
		log:     log,
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues event without waiting for the broker.
func (p *MQEventPublisher) Publish(ctx context.Context, event Event) {
	select {
	case <-p.done:
		p.log.Warn(ctx, "auth event dropped, publisher closed", "type", event.Type)
		return
	default:
	}

	select {
	case p.events <- event:
	default:
		p.log.Warn(ctx, "auth event dropped, buffer full", "type", event.Type)
	}
}

// Close stops accepting events and delivers the ones already queued,
// giving up on them after a bounded flush period.
func (p *MQEventPublisher) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	<-p.stopped
	return nil
}

func (p *MQEventPublisher) run() {
	defer close(p.stopped)
	for {
		select {
		case event := <-p.events:
			p.send(context.Background(), event)
		case <-p.done:
			p.flush()
			return
		}
	}
}

func (p *MQEventPublisher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), eventFlushTimeout)
	defer cancel()
	for {
		select {
		case event := <-p.events:
			p.send(ctx, event)
		default:
			return
		}
	}
}

func (p *MQEventPublisher) send(parent context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error(parent, "encode auth event", "type", event.Type, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(parent, eventPublishTimeout)
	defer cancel()
	id, err := p.mq.Publish(ctx, p.channel, data, map[string]string{"type": event.Type})
	if err != nil {
		p.log.Warn(ctx, "publish auth event", "type", event.Type, "channel", p.channel, "err", err)
		return
	}
	p.log.Debug(ctx, "auth event published", "type", event.Type, "message_id", id)
}

// DecodeEvent parses a message produced by MQEventPublisher.
func DecodeEvent(msg mq.Message) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}
