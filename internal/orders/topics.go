package orders

const (
	TopicOrderCreated = "order.created"

	// Submitted/Confirmed/Rejected share one topic; consumers switch on
	// the envelope event_type.
	TopicPayments = "order.payments"

	TopicOrderFullyPaid = "order.fully_paid"
)

// Partition key = order_id, so all events of one order stay ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
