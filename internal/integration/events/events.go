// Package events publishes checkout notifications to Kafka. Dispatch never
// blocks the request path: events are queued and written by a background
// worker.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/notify"
)

// Config selects the Kafka cluster and topic.
type Config struct {
	Brokers   []string `yaml:"brokers" usage:"kafka brokers, events are dropped when empty"`
	Topic     string   `yaml:"topic" default:"checkout-events" usage:"kafka topic for checkout events"`
	QueueSize int      `yaml:"queue_size" default:"1024" usage:"events buffered before dropping"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter returns a Kafka writer for cfg.
func NewWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

const (
	criticalAttempts = 3
	writeTimeout     = 5 * time.Second
	drainTimeout     = 10 * time.Second
)

var _ notify.Dispatcher = (*Dispatcher)(nil)

// Dispatcher queues events and writes them from Run.
type Dispatcher struct {
	w     messageWriter
	queue chan notify.Event
	lg    *zap.Logger
}

// NewDispatcher creates a Dispatcher writing through w.
func NewDispatcher(w messageWriter, queueSize int, lg *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Dispatcher{w: w, queue: make(chan notify.Event, queueSize), lg: lg}
}

// Dispatch enqueues e. When the queue is full the event is dropped and
// logged, at error level for critical events.
func (d *Dispatcher) Dispatch(_ context.Context, e notify.Event) {
	select {
	case d.queue <- e:
	default:
		log := d.lg.Warn
		if e.Severity == notify.SeverityCritical {
			log = d.lg.Error
		}
		log("Event queue full, dropping event",
			zap.String("type", string(e.Type)),
			zap.String("payment_id", e.PaymentID),
		)
	}
}

// Run writes queued events until ctx is done, then drains what is left and
// closes the writer.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case e := <-d.queue:
			d.publish(ctx, e)
		case <-ctx.Done():
			d.drain()
			if err := d.w.Close(); err != nil {
				return errors.Wrap(err, "close writer")
			}
			return nil
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case e := <-d.queue:
			d.publish(ctx, e)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, e notify.Event) {
	value, err := json.Marshal(e)
	if err != nil {
		d.lg.Error("Marshal event", zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(e.PaymentID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "severity", Value: []byte(e.Severity)},
		},
		Time: e.OccurredAt,
	}

	attempts := 1
	if e.Severity == notify.SeverityCritical {
		attempts = criticalAttempts
	}
	for i := 1; ; i++ {
		err = d.write(ctx, msg)
		if err == nil {
			return
		}
		if i >= attempts || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(time.Duration(i) * 200 * time.Millisecond):
		case <-ctx.Done():
		}
	}
	d.lg.Error("Publish event",
		zap.String("type", string(e.Type)),
		zap.String("payment_id", e.PaymentID),
		zap.Error(err),
	)
}

func (d *Dispatcher) write(ctx context.Context, msg kafka.Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return d.w.WriteMessages(ctx, msg)
}
