// Package changes publishes feature change events to Kafka after a
// transaction commits.
package changes

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/ows-codec/internal/core/observability"
)

// Publisher hands events to an async producer through a bounded queue.
// Publish never blocks the request path; a full queue drops the event.
type Publisher struct {
	logger  *slog.Logger
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
	errDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewKafkaPublisher dials brokers, a comma separated list.
func NewKafkaPublisher(logger *slog.Logger, brokers, topic string, queueSize int) (*Publisher, error) {
	var addrs []string
	for b := range strings.SplitSeq(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("changes: no kafka brokers configured")
	}
	prod, err := sarama.NewAsyncProducer(addrs, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("changes: create async producer: %w", err)
	}
	return NewPublisher(logger, prod, topic, queueSize), nil
}

// ProducerConfig is the sarama config the publisher expects.
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

func NewPublisher(logger *slog.Logger, prod sarama.AsyncProducer, topic string, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Publisher{
		logger:  logger,
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				observability.IncChangeEvent("marshal_error")
				p.logger.Error("change event marshal", "layer", ev.Layer, "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				// same feature, same partition
				Key:   sarama.StringEncoder(ev.Key()),
				Value: sarama.ByteEncoder(b),
			}
			observability.IncChangeEvent("sent")
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncChangeEvent("failed")
				p.logger.Warn("change event producer error", "err", err.Err)
			}
		}
	}()

	return p
}

// Publish enqueues ev. It reports false when the event was dropped.
func (p *Publisher) Publish(ev Event) bool {
	select {
	case p.events <- ev:
		return true
	default:
		observability.IncChangeEvent("dropped")
		return false
	}
}

// Close drains the queue and closes the producer. It is safe to call twice.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.events)
		<-p.stopped
		if err := p.prod.Close(); err != nil {
			p.closeErr = fmt.Errorf("changes: close producer: %w", err)
		}
		<-p.errDone
	})
	return p.closeErr
}
