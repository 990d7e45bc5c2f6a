// Package kafkapub streams analytics results to a Kafka topic.
package kafkapub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/mains-analytics/internal/analytics"
	"github.com/mohammed-shakir/mains-analytics/internal/core/observability"
)

var (
	ErrQueueFull = errors.New("kafkapub: queue full, result dropped")
	ErrClosed    = errors.New("kafkapub: publisher closed")
)

// Publisher enqueues results without blocking the analytics pass; a background
// goroutine feeds the async producer. Messages are keyed by view key.
type Publisher struct {
	logger  *slog.Logger
	topic   string
	msgs    chan *sarama.ProducerMessage
	prod    sarama.AsyncProducer
	stopped chan struct{}
	errDone chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ analytics.Publisher = (*Publisher)(nil)

func NewPublisher(logger *slog.Logger, brokers []string, topic string, queueSize int) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafkapub: no brokers")
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafkapub: create async producer: %w", err)
	}
	return NewWithProducer(logger, prod, topic, queueSize), nil
}

// NewWithProducer wraps an existing producer; the publisher owns it from then on.
func NewWithProducer(logger *slog.Logger, prod sarama.AsyncProducer, topic string, queueSize int) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	p := &Publisher{
		logger:  logger,
		topic:   topic,
		msgs:    make(chan *sarama.ProducerMessage, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for msg := range p.msgs {
			p.prod.Input() <- msg
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncPublishError("kafka")
				p.logger.Warn("kafka producer error", "topic", p.topic, "err", err.Err)
			}
		}
	}()

	return p
}

func (p *Publisher) Publish(_ context.Context, r analytics.Result) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("kafkapub: marshal result: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(r.ViewKey),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("pass_id"), Value: []byte(r.PassID)},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.msgs <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close flushes queued results and closes the producer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.msgs)
	p.mu.Unlock()

	<-p.stopped
	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("kafkapub: close producer: %w", err)
	}
	return nil
}
