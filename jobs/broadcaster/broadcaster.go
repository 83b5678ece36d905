package broadcaster

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"crossbook/domain/orderbook"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type EventType string

const (
	TradeEvent EventType = "trade"
	PriceEvent EventType = "price"
)

// Event is the payload published for every notification.
type Event struct {
	V       int       `json:"v"`
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	Owner   string    `json:"owner,omitempty"`
	Message string    `json:"message,omitempty"`
	Price   int64     `json:"price,omitempty"`
	Time    int64     `json:"ts"`
}

// PricePublisher carries price ticks. infra/kafka.Producer implements it.
type PricePublisher interface {
	Send(ctx context.Context, key, value []byte) error
	Close() error
}

type Config struct {
	Buffer     int
	TradeTopic string
}

// Broadcaster is a non-blocking orderbook.Notifier. Notifications are queued
// on a bounded channel and published by Run; when the queue is full the
// notification is dropped.
type Broadcaster struct {
	events chan Event
	trades sarama.SyncProducer
	prices PricePublisher
	topic  string
	log    logrus.FieldLogger
	now    func() time.Time

	dropped   atomic.Uint64
	published atomic.Uint64
	failed    atomic.Uint64

	done chan struct{}
}

var _ orderbook.Notifier = (*Broadcaster)(nil)

const drainTimeout = 5 * time.Second

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

// NewSyncProducer dials the trade topic brokers.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "dial trade brokers")
	}
	return producer, nil
}

func New(trades sarama.SyncProducer, prices PricePublisher, cfg Config, log logrus.FieldLogger) *Broadcaster {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	return &Broadcaster{
		events: make(chan Event, cfg.Buffer),
		trades: trades,
		prices: prices,
		topic:  cfg.TradeTopic,
		log:    log.WithField("component", "broadcaster"),
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// ------------------------------------------------
// NOTIFIER
// ------------------------------------------------

func (b *Broadcaster) NotifyTrade(owner, message string) {
	b.enqueue(Event{Type: TradeEvent, Owner: owner, Message: message})
}

func (b *Broadcaster) NotifyPriceLevel(price int64) {
	b.enqueue(Event{Type: PriceEvent, Price: price})
}

func (b *Broadcaster) enqueue(ev Event) {
	ev.V = 1
	ev.ID = uuid.NewString()
	ev.Time = b.now().UnixMilli()

	select {
	case b.events <- ev:
	default:
		b.dropped.Add(1)
	}
}

// ------------------------------------------------
// PUBLISH LOOP
// ------------------------------------------------

// Run publishes queued events until ctx is done, then drains what is left.
func (b *Broadcaster) Run(ctx context.Context) {
	defer close(b.done)
	b.log.Info("broadcaster started")

	for {
		select {
		case <-ctx.Done():
			b.drain()
			b.log.WithFields(logrus.Fields{
				"published": b.published.Load(),
				"dropped":   b.dropped.Load(),
				"failed":    b.failed.Load(),
			}).Info("broadcaster stopped")
			return
		case ev := <-b.events:
			b.publish(ctx, ev)
		}
	}
}

func (b *Broadcaster) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-b.events:
			b.publish(ctx, ev)
		default:
			return
		}
	}
}

// publish is fire-and-forget: failures are counted and logged, never retried.
func (b *Broadcaster) publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.fail(ev, errors.Wrap(err, "encode event"))
		return
	}

	switch ev.Type {
	case TradeEvent:
		if b.trades == nil {
			return
		}
		_, _, err = b.trades.SendMessage(&sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(ev.Owner),
			Value: sarama.ByteEncoder(payload),
		})
	case PriceEvent:
		if b.prices == nil {
			return
		}
		err = b.prices.Send(ctx, []byte("price"), payload)
	}
	if err != nil {
		b.fail(ev, err)
		return
	}
	b.published.Add(1)
}

func (b *Broadcaster) fail(ev Event, err error) {
	b.failed.Add(1)
	b.log.WithError(err).WithFields(logrus.Fields{
		"event_id": ev.ID,
		"type":     string(ev.Type),
		"owner":    ev.Owner,
		"price":    ev.Price,
	}).Warn("notification not delivered")
}

// ------------------------------------------------
// STATS + SHUTDOWN
// ------------------------------------------------

func (b *Broadcaster) Dropped() uint64   { return b.dropped.Load() }
func (b *Broadcaster) Published() uint64 { return b.published.Load() }
func (b *Broadcaster) Failed() uint64    { return b.failed.Load() }

// Done is closed when Run returns.
func (b *Broadcaster) Done() <-chan struct{} { return b.done }

// Close releases the producers. Call it after Run has returned.
func (b *Broadcaster) Close() error {
	var err error
	if b.trades != nil {
		err = errors.CombineErrors(err, b.trades.Close())
	}
	if b.prices != nil {
		err = errors.CombineErrors(err, b.prices.Close())
	}
	return err
}
