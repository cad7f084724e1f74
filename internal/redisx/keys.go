package redisx

import "time"

const (
	// Idempotency for checkout: idem:checkout:{external_id} -> order_id
	KeyIdemCheckout = "idem:checkout:%s"

	// Cached coffre progress: coffre:progress:{order_id} -> serialized Progress
	KeyProgress = "coffre:progress:%s"

	// Dedup for event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLProgress    = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
