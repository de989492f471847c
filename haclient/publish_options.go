package haclient

// PublishOptions controls a single Publish call at the coordinator
// level, per spec.md §6's publish options table.
type PublishOptions struct {
	// RoutingKey is the message routing key within the exchange.
	RoutingKey string
	// Persistent marks the message for on-disk storage by the broker.
	Persistent bool
	// Mandatory requests the broker return the message if it cannot be
	// routed to any queue. Required for the published-context cache to
	// capture anything (spec.md §4.1).
	Mandatory bool
	// Immediate requests the broker return the message if it cannot be
	// delivered to a consumer immediately.
	Immediate bool
	// Fanout publishes to every connected selected broker instead of
	// stopping at the first success.
	Fanout bool
	// Brokers pins the candidate set to these identities, in the given
	// order; unknown identities are logged and skipped.
	Brokers []string
	// Order overrides the coordinator-wide default broker order for this
	// call.
	Order Order
	// NoSerialize hands packet, which must then be a []byte, to the
	// transport as-is, skipping the serializer even if one is configured.
	NoSerialize bool
	// Declare forces the target exchange to be (re-)declared before
	// publishing.
	Declare bool
	// DeclareKind is the exchange kind used when Declare is set; it
	// defaults to DirectExchangeKind when left empty.
	DeclareKind DeclareKind
	// DeclareOptions is used when Declare is set.
	DeclareOptions DeclareOptions
	// LogFilter, LogData, and NoLog shape how the publish is logged.
	LogFilter []string
	LogData   bool
	NoLog     bool
}
