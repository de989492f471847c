package haclient

import (
	"log/slog"
	"time"
)

// Order selects how the coordinator picks among usable brokers when the
// caller does not pin an explicit broker list.
type Order string

const (
	// PriorityOrder tries brokers in list order (construction order).
	PriorityOrder Order = "priority"
	// RandomOrder shuffles the usable broker list before trying it.
	RandomOrder Order = "random"
)

// DefaultReconnectInterval is the upper bound of the randomized reconnect
// delay when Config.ReconnectInterval is left zero.
const DefaultReconnectInterval = 60 * time.Second

// ExceptionCallback is invoked on every tracked exception, mirroring the
// teacher's own exception_callback: (exception, message?, self).
type ExceptionCallback func(err error, context interface{}, source interface{})

// ExceptionOnReceiveCallback is invoked when the serializer raises while
// decoding an inbound message.
type ExceptionOnReceiveCallback func(raw []byte, err error)

// NonDeliveryCallback fires once all re-routing attempts for a returned
// message are exhausted.
type NonDeliveryCallback func(reason, packetType, token, from, to string)

// Config collects the construction-time options for an HABrokerClient,
// per spec.md §6's configuration options table.
type Config struct {
	// User, Pass, VHost are AMQP credentials and virtual host.
	User, Pass, VHost string
	// Host is a comma-separated list of hostnames, each optionally
	// suffixed with ":index".
	Host string
	// Port is a comma-separated list of ports, each optionally suffixed
	// with ":index".
	Port string
	// Insist forbids broker connection redirection. The underlying
	// transport library does not expose the AMQP 0-9-1 connection.open
	// insist flag, so this is accepted and recorded but not forwarded.
	Insist bool
	// ReconnectInterval bounds the randomized per-attempt reconnect
	// delay; defaults to DefaultReconnectInterval.
	ReconnectInterval time.Duration
	// Heartbeat is forwarded to the transport; zero disables heartbeats.
	Heartbeat time.Duration
	// Prefetch is the unacked-message window; zero is unbounded.
	Prefetch int
	// Order is the default broker selection order for publish when the
	// caller does not pin options.Brokers.
	Order Order
	// DisableLegacyNilSentinel turns off the historical three-byte "nil"
	// sentinel drop in subscriber delivery (spec.md §9(3)). Left false,
	// the sentinel is honored by default as it was in the original
	// implementation.
	DisableLegacyNilSentinel bool

	// ExceptionCallback, ExceptionOnReceiveCallback, and
	// NonDeliveryCallback default to no-ops when left nil.
	ExceptionCallback          ExceptionCallback
	ExceptionOnReceiveCallback ExceptionOnReceiveCallback
	NonDeliveryCallback        NonDeliveryCallback

	// Serializer must be non-nil, or construction fails with
	// ErrInvalidArgument. Pass a *JSONSerializer for the default
	// behavior.
	Serializer Serializer

	// Logger defaults to slog.Default() when nil.
	Logger *slog.Logger
}

func (c *Config) withDefaults() *Config {
	cp := *c
	if cp.ReconnectInterval <= 0 {
		cp.ReconnectInterval = DefaultReconnectInterval
	}
	if cp.Order == "" {
		cp.Order = PriorityOrder
	}
	if cp.Logger == nil {
		cp.Logger = slog.Default()
	}
	return &cp
}
