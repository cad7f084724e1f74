package kafka

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer buffers messages in an inbox channel and writes them from a
// single goroutine, so HTTP handlers never block on the broker.
type Producer struct {
	w         *kafka.Writer
	inbox     chan kafka.Message
	closeCh   chan struct{}
	closeOnce sync.Once
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.Close()
				for m := range p.inbox {
					p.write(m)
				}
				_ = p.w.Close()
				return
			case m, ok := <-p.inbox:
				if !ok {
					_ = p.w.Close()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		log.Printf("kafka write %s: %v", p.w.Topic, err)
	}
}

func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	p.inbox <- kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Close stops intake; the loop flushes remaining messages and exits.
// Safe to call more than once.
func (p *Producer) Close() { p.closeOnce.Do(func() { close(p.inbox) }) }

// WaitClosed blocks until the flush loop is done.
func (p *Producer) WaitClosed() { <-p.closeCh }
