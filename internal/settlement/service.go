package settlement

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/mbdiagne/coffre-pay/internal/kafka"
	"github.com/mbdiagne/coffre-pay/internal/orders"
)

// PaidChecker is the slice of the order repo this service needs.
type PaidChecker interface {
	IsFullyPaid(ctx context.Context, orderID string) (bool, error)
}

type Deduper interface {
	SeenEvent(ctx context.Context, service, eventID string) (bool, error)
	MarkEvent(ctx context.Context, service, eventID string) error
}

type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Service watches the payment-review stream and announces completed orders.
// Order status itself is derived, never written: the only action on "last
// installment confirmed" is publishing OrderFullyPaid for fulfillment.
type Service struct {
	Repo        PaidChecker
	Dedup       Deduper
	Producer    EventPublisher // order.fully_paid
	ServiceName string
}

// HandlePaymentEvent is mounted as the consumer handler on order.payments.
func (s *Service) HandlePaymentEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventPaymentConfirmed {
		return nil
	}

	seen, err := s.Dedup.SeenEvent(ctx, "settlement", env.EventID)
	if err != nil {
		// dedup is best effort; replaying a fully-paid announcement is harmless
		log.Printf("dedup check: %v", err)
	}
	if seen {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.PaymentConfirmedPayload](env.Payload)
	if err != nil {
		return err
	}

	// the event's fully_paid flag is a hint; Postgres is the truth.
	// On error the offset stays uncommitted and the event unmarked, so the
	// redelivery gets a full retry.
	done, err := s.Repo.IsFullyPaid(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if done {
		s.publishFullyPaid(p.OrderID, env.TraceID)
	}
	if err := s.Dedup.MarkEvent(ctx, "settlement", env.EventID); err != nil {
		log.Printf("dedup mark: %v", err)
	}
	return nil
}

func (s *Service) publishFullyPaid(orderID, trace string) {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderFullyPaid,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       trace,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(orders.OrderFullyPaidPayload{OrderID: orderID}),
	}
	s.Producer.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderFullyPaid)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
