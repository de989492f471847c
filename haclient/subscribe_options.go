package haclient

// ExchangeBinding names an exchange a subscription should be bound to,
// along with the binding key to use. A subscription can bind to one
// primary exchange (the Subscribe exchange argument) and, via
// SubscribeOptions.Exchange2, a second one.
type ExchangeBinding struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Internal   bool
	Key        string
}

// SubscribeOptions controls a Subscribe call, per spec.md §6's subscribe
// options table.
type SubscribeOptions struct {
	// Ack requests explicit acknowledgement. Per spec.md §4.2, the ack is
	// sent *before* the handler runs, biasing toward at-most-once
	// delivery under a crashing handler.
	Ack bool
	// NoUnserialize hands the handler raw bytes even when a serializer is
	// configured.
	NoUnserialize bool
	// NoDeclare skips the queue declaration and binds/consumes directly.
	NoDeclare bool
	// Exchange2 optionally binds the queue to a second exchange.
	Exchange2 *ExchangeBinding
	// Key is the binding key used against the primary exchange when that
	// ExchangeBinding leaves its own Key empty.
	Key string
	// Brokers pins the candidate set to these identities.
	Brokers []string
	// Category is an opaque log grouping label.
	Category string
	// LogData and NoLog shape how receipt is logged.
	LogData bool
	NoLog   bool
	// AllowedTypes maps a decoded packet type name to the list of fields
	// that were historically used for receipt-log filtering; only type
	// membership is enforced (spec.md §4.2's allowed-types check).
	AllowedTypes map[string][]string
	// QueueOptions is used unless NoDeclare is set.
	QueueOptions QueueOptions
}

// QueueOptions mirrors the AMQP queue.declare arguments.
type QueueOptions struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	NoWait     bool
	Args       map[string]interface{}
}
