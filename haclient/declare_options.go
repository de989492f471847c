package haclient

// DeclareKind names the AMQP object a Declare call targets: a queue or
// one of the standard exchange types.
type DeclareKind string

const (
	QueueKind           DeclareKind = "queue"
	DirectExchangeKind  DeclareKind = "direct"
	FanoutExchangeKind  DeclareKind = "fanout"
	TopicExchangeKind   DeclareKind = "topic"
	HeadersExchangeKind DeclareKind = "headers"
)

func (k DeclareKind) isExchange() bool { return k != QueueKind }

// DeclareOptions mirrors the AMQP queue.declare/exchange.declare
// arguments, used by both Declare and by PublishOptions.Declare.
type DeclareOptions struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool // queues only
	Internal   bool // exchanges only
	NoWait     bool
	Args       map[string]interface{}

	// DeadLetterExchange, DeadLetterRoutingKey, MessageTTL, Expires,
	// MaxLength, and MaxPriority are queue-only convenience fields folded
	// into Args at declare time, per the teacher's AssertQueue.
	DeadLetterExchange   string
	DeadLetterRoutingKey string
	MessageTTL           int32
	Expires              int32
	MaxLength            int32
	MaxPriority          uint8

	// AlternateExchange is an exchange-only convenience field folded into
	// Args at declare time.
	AlternateExchange string
}

// DeleteOptions controls a Delete call.
type DeleteOptions struct {
	IfUnused bool
	IfEmpty  bool
	NoWait   bool
}
