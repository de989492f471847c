package haclient

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/streadway/amqp"
)

// Handler receives a decoded (or raw, if unserialized) message.
type Handler func(identity string, message interface{})

// HandlerWithHeader receives a decoded message plus its AMQP headers.
type HandlerWithHeader func(identity string, message interface{}, header map[string]interface{})

// ReturnCallback is invoked for every broker-originated return, per
// spec.md §4.2's return_message.
type ReturnCallback func(to, reason string, body []byte)

// UpdateStatusFunc is invoked exactly once per distinct state transition
// of a BrokerClient, per spec.md §4.2.
type UpdateStatusFunc func(broker *BrokerClient, wasConnected bool)

type subscription struct {
	queue       string
	exchange    *ExchangeBinding
	opts        SubscribeOptions
	handler     interface{}
	consumerTag string
}

type connHandles struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// BrokerClient owns one AMQP connection to one broker and everything
// that hangs off it: the state machine, subscriptions, and publish/
// declare/delete operations, per spec.md §4.2.
type BrokerClient struct {
	addr     BrokerAddress
	identity string
	alias    string
	cfg      *Config
	logger   *slog.Logger
	exc      *exceptionTracker

	onUpdateStatus UpdateStatusFunc
	returnCallback ReturnCallback

	mu             sync.Mutex
	status         Status
	subscriptions  map[string]*subscription
	declaredQueues map[string]bool
	declaredExch   map[string]bool
	disconnects    uint64
	failures       uint64
	retries        uint64
	lastFailed     bool
	disconnectLast *time.Time
	failureLast    *time.Time
	conn           *amqp.Connection
	channel        *amqp.Channel

	breaker   *gobreaker.CircuitBreaker
	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBrokerClient constructs a BrokerClient for addr. It does not connect;
// call Start to begin the connect/reconnect loop.
func NewBrokerClient(addr BrokerAddress, cfg *Config, logger *slog.Logger, exc *exceptionTracker, onUpdateStatus UpdateStatusFunc) *BrokerClient {
	identity := addr.Identity()
	b := &BrokerClient{
		addr:           addr,
		identity:       identity,
		alias:          addr.Alias(),
		cfg:            cfg,
		logger:         logger.With("broker", identity, "alias", addr.Alias()),
		exc:            exc,
		onUpdateStatus: onUpdateStatus,
		subscriptions:  make(map[string]*subscription),
		declaredQueues: make(map[string]bool),
		declaredExch:   make(map[string]bool),
		stopCh:         make(chan struct{}),
	}
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        identity,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state changed",
				"function", "BrokerClient.breaker",
				"from", from.String(), "to", to.String())
		},
	})
	return b
}

func (b *BrokerClient) Identity() string    { return b.identity }
func (b *BrokerClient) Alias() string       { return b.alias }
func (b *BrokerClient) Host() string        { return b.addr.Host }
func (b *BrokerClient) Port() uint16        { return b.addr.Port }
func (b *BrokerClient) Index() uint16       { return b.addr.Index }
func (b *BrokerClient) Address() BrokerAddress { return b.addr }

// Status returns the broker's current lifecycle state.
func (b *BrokerClient) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Usable reports whether the broker can currently be subscribed to or
// published through, per the GLOSSARY.
func (b *BrokerClient) Usable() bool {
	return b.Status().Usable()
}

// Connected reports whether the broker has completed the post-handshake
// "ready" transition.
func (b *BrokerClient) Connected() bool {
	return b.Status() == StatusConnected
}

// InstallReturnHandler wires cb as the channel-level return handler for
// this broker, per spec.md §4.2.
func (b *BrokerClient) InstallReturnHandler(cb ReturnCallback) {
	b.mu.Lock()
	b.returnCallback = cb
	b.mu.Unlock()
}

// transition applies the lifecycle state machine of spec.md §4.2: a
// closed client never regresses, re-entering the same state is a no-op,
// and the counters (disconnects/failures/retries/lastFailed) update per
// the failure-accounting rules before the callback fires exactly once.
func (b *BrokerClient) transition(to Status) {
	b.mu.Lock()
	from := b.status
	if !from.canTransition(to) || from == to {
		b.mu.Unlock()
		return
	}
	wasConnected := from == StatusConnected
	now := time.Now()
	switch to {
	case StatusConnected:
		b.lastFailed = false
		b.retries = 0
	case StatusFailed:
		if b.lastFailed {
			b.retries++
		} else {
			b.lastFailed = true
			b.retries = 0
			b.failures++
		}
		b.failureLast = &now
	case StatusDisconnected:
		b.disconnects++
		b.disconnectLast = &now
	}
	b.status = to
	cb := b.onUpdateStatus
	b.mu.Unlock()

	b.logger.Info("broker status transition",
		"function", "BrokerClient.transition",
		"from", string(from), "to", string(to))

	if cb != nil {
		cb(b, wasConnected)
	}
}

// Start begins the connect/reconnect loop in the background. It must be
// called at most once.
func (b *BrokerClient) Start() {
	b.transition(StatusConnecting)
	b.wg.Add(1)
	go b.connectLoop()
}

func (b *BrokerClient) reconnectDelay() time.Duration {
	interval := b.cfg.ReconnectInterval
	if interval <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(interval)))
}

func (b *BrokerClient) connectLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		if err := b.connectOnce(); err != nil {
			b.exc.track("BrokerClient.connect", b, nil, err)
			select {
			case <-b.stopCh:
				return
			case <-time.After(b.reconnectDelay()):
				continue
			}
		}

		conn := b.currentConn()
		ch := b.currentChannel()
		if conn == nil || ch == nil {
			continue
		}
		connCloseCh := conn.NotifyClose(make(chan *amqp.Error, 1))
		chCloseCh := ch.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-b.stopCh:
			return
		case <-connCloseCh:
			b.transition(StatusDisconnected)
		case <-chCloseCh:
			b.transition(StatusDisconnected)
		}

		select {
		case <-b.stopCh:
			return
		case <-time.After(b.reconnectDelay()):
		}
	}
}

func (b *BrokerClient) connectOnce() error {
	b.transition(StatusConnecting)

	result, err := b.breaker.Execute(func() (interface{}, error) {
		conn, derr := amqp.DialConfig(b.buildURL(), amqp.Config{
			Heartbeat: b.cfg.Heartbeat,
			Vhost:     b.cfg.VHost,
		})
		if derr != nil {
			return nil, derr
		}
		ch, cerr := conn.Channel()
		if cerr != nil {
			conn.Close()
			return nil, cerr
		}
		if b.cfg.Prefetch > 0 {
			if qerr := ch.Qos(b.cfg.Prefetch, 0, false); qerr != nil {
				ch.Close()
				conn.Close()
				return nil, qerr
			}
		}
		return &connHandles{conn: conn, channel: ch}, nil
	})
	if err != nil {
		b.transition(StatusFailed)
		return err
	}

	handles := result.(*connHandles)
	b.mu.Lock()
	b.conn = handles.conn
	b.channel = handles.channel
	b.mu.Unlock()

	b.installReturnNotify(handles.channel)
	b.resubscribeAll()
	b.transition(StatusConnected)
	return nil
}

func (b *BrokerClient) buildURL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(b.cfg.User, b.cfg.Pass),
		Host:   fmt.Sprintf("%s:%d", b.addr.Host, b.addr.Port),
		Path:   "/" + b.cfg.VHost,
	}
	return u.String()
}

func (b *BrokerClient) installReturnNotify(ch *amqp.Channel) {
	returns := ch.NotifyReturn(make(chan amqp.Return, 16))
	go func() {
		for ret := range returns {
			b.onReturn(ret)
		}
	}()
}

func (b *BrokerClient) onReturn(ret amqp.Return) {
	defer func() {
		if r := recover(); r != nil {
			b.exc.track("BrokerClient.onReturn", b, ret.Exchange, fmt.Errorf("panic: %v", r))
		}
	}()

	to := ret.Exchange
	if to == "" {
		to = ret.RoutingKey
	}
	reason := ret.ReplyText
	if reason == "ACCESS_REFUSED" {
		b.transition(StatusStopping)
	}

	b.mu.Lock()
	cb := b.returnCallback
	b.mu.Unlock()
	if cb != nil {
		cb(to, reason, ret.Body)
	}
}

func (b *BrokerClient) currentChannel() *amqp.Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channel
}

func (b *BrokerClient) currentConn() *amqp.Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

func (b *BrokerClient) bindExchange(ch *amqp.Channel, queue string, ex *ExchangeBinding) error {
	if err := ch.ExchangeDeclare(ex.Name, ex.Type, ex.Durable, ex.AutoDelete, ex.Internal, false, amqp.Table{}); err != nil {
		return err
	}
	return ch.QueueBind(queue, ex.Key, ex.Name, false, amqp.Table{})
}

// Subscribe declares (unless NoDeclare), binds, and installs a consumer
// for queue, per spec.md §4.2. It returns false if the broker is not
// usable, and true without installing a second consumer if queue is
// already subscribed.
func (b *BrokerClient) Subscribe(queue string, exchange *ExchangeBinding, opts SubscribeOptions, handler interface{}) bool {
	if !b.Usable() {
		return false
	}

	b.mu.Lock()
	if _, exists := b.subscriptions[queue]; exists {
		b.mu.Unlock()
		return true
	}
	b.mu.Unlock()

	ch := b.currentChannel()
	if ch == nil {
		// Usable but not yet past connect: the underlying library queues
		// channel operations until ready, so there is nothing to declare
		// or consume from yet. Record the subscription now so
		// resubscribeAll installs it for real once connectOnce succeeds.
		sub := &subscription{queue: queue, exchange: exchange, opts: opts, handler: handler}
		b.mu.Lock()
		b.subscriptions[queue] = sub
		b.mu.Unlock()
		return true
	}

	if !opts.NoDeclare {
		if _, err := ch.QueueDeclare(queue, opts.QueueOptions.Durable, opts.QueueOptions.AutoDelete,
			opts.QueueOptions.Exclusive, opts.QueueOptions.NoWait, amqpTable(opts.QueueOptions.Args)); err != nil {
			b.exc.track("BrokerClient.Subscribe", b, queue, err)
			return false
		}
	}
	if exchange != nil {
		primary := exchange
		if primary.Key == "" && opts.Key != "" {
			withKey := *exchange
			withKey.Key = opts.Key
			primary = &withKey
		}
		if err := b.bindExchange(ch, queue, primary); err != nil {
			b.exc.track("BrokerClient.Subscribe", b, queue, err)
			return false
		}
	}
	if opts.Exchange2 != nil {
		if err := b.bindExchange(ch, queue, opts.Exchange2); err != nil {
			b.exc.track("BrokerClient.Subscribe", b, queue, err)
			return false
		}
	}

	consumerTag := "haclient-" + uuid.NewString()
	autoAck := !opts.Ack
	deliveries, err := ch.Consume(queue, consumerTag, autoAck, false, false, false, amqp.Table{})
	if err != nil {
		b.exc.track("BrokerClient.Subscribe", b, queue, err)
		return false
	}

	sub := &subscription{queue: queue, exchange: exchange, opts: opts, handler: handler, consumerTag: consumerTag}
	b.mu.Lock()
	b.subscriptions[queue] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.consumeLoop(sub, deliveries)

	b.logger.Debug("subscribed", "function", "BrokerClient.Subscribe", "queue", queue, "category", opts.Category)
	return true
}

func (b *BrokerClient) consumeLoop(sub *subscription, deliveries <-chan amqp.Delivery) {
	defer b.wg.Done()
	for d := range deliveries {
		b.deliver(sub, d)
	}
}

func (b *BrokerClient) deliver(sub *subscription, d amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.exc.track("BrokerClient.deliver", b, sub.queue, fmt.Errorf("handler panic: %v", r))
		}
	}()

	if sub.opts.Ack {
		if err := d.Ack(false); err != nil {
			b.exc.track("BrokerClient.deliver", b, sub.queue, err)
		}
	}

	if !b.cfg.DisableLegacyNilSentinel && string(d.Body) == "nil" {
		return
	}

	var payload interface{} = d.Body
	var header map[string]interface{}
	if d.Headers != nil {
		header = map[string]interface{}(d.Headers)
	}

	if !sub.opts.NoUnserialize && b.cfg.Serializer != nil {
		decoded, err := b.cfg.Serializer.Decode(d.Body)
		if err != nil {
			b.exc.track("BrokerClient.deliver", b, sub.queue, newError("BrokerClient.deliver", KindDecodeFailure, err))
			if b.cfg.ExceptionOnReceiveCallback != nil {
				b.cfg.ExceptionOnReceiveCallback(d.Body, err)
			}
			return
		}
		if len(sub.opts.AllowedTypes) > 0 {
			t := packetTypeName(decoded)
			if _, ok := sub.opts.AllowedTypes[t]; !ok {
				b.logger.Warn("dropping message of disallowed type",
					"function", "BrokerClient.deliver", "queue", sub.queue, "type", t)
				return
			}
		}
		if !sub.opts.NoLog {
			args := []interface{}{"function", "BrokerClient.deliver", "queue", sub.queue, "category", sub.opts.Category}
			if sub.opts.LogData {
				args = append(args, "body", string(d.Body))
			}
			b.logger.Debug("received message", args...)
		}
		payload = decoded
	}

	switch h := sub.handler.(type) {
	case Handler:
		h(b.identity, payload)
	case HandlerWithHeader:
		h(b.identity, payload, header)
	default:
		b.exc.track("BrokerClient.deliver", b, sub.queue,
			newError("BrokerClient.deliver", KindHandlerFailure, fmt.Errorf("unsupported handler type %T", sub.handler)))
	}
}

// Unsubscribe cancels the consumer for queue, if any. A second call for
// an already-unsubscribed queue is a silent no-op.
func (b *BrokerClient) Unsubscribe(queue string) bool {
	b.mu.Lock()
	sub, ok := b.subscriptions[queue]
	if !ok {
		b.mu.Unlock()
		return true
	}
	delete(b.subscriptions, queue)
	ch := b.channel
	b.mu.Unlock()

	if ch != nil {
		if err := ch.Cancel(sub.consumerTag, false); err != nil {
			b.exc.track("BrokerClient.Unsubscribe", b, queue, err)
		}
	}
	return true
}

func (b *BrokerClient) resubscribeAll() {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subscriptions))
	for _, s := range b.subscriptions {
		subs = append(subs, s)
	}
	b.subscriptions = make(map[string]*subscription)
	b.mu.Unlock()

	for _, s := range subs {
		b.Subscribe(s.queue, s.exchange, s.opts, s.handler)
	}
}

// Declare forces a fresh declaration of name by evicting any cached
// handle before re-declaring, per spec.md §4.2.
func (b *BrokerClient) Declare(kind DeclareKind, name string, opts DeclareOptions) bool {
	if !b.Usable() {
		return false
	}
	ch := b.currentChannel()
	if ch == nil {
		return false
	}

	b.mu.Lock()
	if kind.isExchange() {
		delete(b.declaredExch, name)
	} else {
		delete(b.declaredQueues, name)
	}
	b.mu.Unlock()

	if err := b.declareOn(ch, kind, name, opts); err != nil {
		b.exc.track("BrokerClient.Declare", b, name, err)
		return false
	}
	return true
}

func (b *BrokerClient) declareOn(ch *amqp.Channel, kind DeclareKind, name string, opts DeclareOptions) error {
	args := amqpTable(opts.Args)
	if kind.isExchange() {
		if opts.AlternateExchange != "" {
			args["alternate-exchange"] = opts.AlternateExchange
		}
		if err := ch.ExchangeDeclare(name, string(kind), opts.Durable, opts.AutoDelete, opts.Internal, opts.NoWait, args); err != nil {
			return err
		}
		b.mu.Lock()
		b.declaredExch[name] = true
		b.mu.Unlock()
		return nil
	}

	if opts.DeadLetterExchange != "" {
		args["x-dead-letter-exchange"] = opts.DeadLetterExchange
	}
	if opts.DeadLetterRoutingKey != "" {
		args["x-dead-letter-routing-key"] = opts.DeadLetterRoutingKey
	}
	if opts.MessageTTL > 0 {
		args["x-message-ttl"] = opts.MessageTTL
	}
	if opts.Expires > 0 {
		args["x-expires"] = opts.Expires
	}
	if opts.MaxLength > 0 {
		args["x-max-length"] = opts.MaxLength
	}
	if opts.MaxPriority > 0 {
		args["x-max-priority"] = opts.MaxPriority
	}
	if _, err := ch.QueueDeclare(name, opts.Durable, opts.AutoDelete, opts.Exclusive, opts.NoWait, args); err != nil {
		return err
	}
	b.mu.Lock()
	b.declaredQueues[name] = true
	b.mu.Unlock()
	return nil
}

// Delete removes name from the local subscription set (if present) and
// requests a broker-side queue delete. When name is not locally known, a
// declare-then-delete dance avoids a channel-closing NOT_FOUND error.
func (b *BrokerClient) Delete(name string, opts DeleteOptions) bool {
	if !b.Usable() {
		return false
	}
	ch := b.currentChannel()
	if ch == nil {
		return false
	}

	b.mu.Lock()
	_, known := b.declaredQueues[name]
	delete(b.subscriptions, name)
	delete(b.declaredQueues, name)
	b.mu.Unlock()

	if !known {
		if _, err := ch.QueueDeclare(name, false, false, false, false, amqp.Table{}); err != nil {
			b.exc.track("BrokerClient.Delete", b, name, err)
			return false
		}
	}
	if _, err := ch.QueueDelete(name, opts.IfUnused, opts.IfEmpty, opts.NoWait); err != nil {
		b.exc.track("BrokerClient.Delete", b, name, err)
		return false
	}
	return true
}

// Publish sends an already-serialized message through exchange. It
// returns false if the broker is not connected, except that a retry
// (tries > 0) may also go through a stopping broker.
func (b *BrokerClient) Publish(exchange string, message []byte, opts PublishOptions, tries int) bool {
	status := b.Status()
	// A broker mid-downgrade (ACCESS_REFUSED just flipped it to stopping)
	// still owns a live channel and is the intended target of the
	// recoverable-reason retry that triggered the downgrade in the first
	// place; only a genuinely fresh send (tries == 0) requires connected.
	if status != StatusConnected && !(tries > 0 && status == StatusStopping) {
		return false
	}
	ch := b.currentChannel()
	if ch == nil {
		return false
	}

	if opts.Declare {
		kind := opts.DeclareKind
		if kind == "" {
			kind = DirectExchangeKind
		}
		if err := b.declareOn(ch, kind, exchange, opts.DeclareOptions); err != nil {
			b.exc.track("BrokerClient.Publish", b, exchange, err)
			return false
		}
	}

	publishing := amqp.Publishing{Body: message}
	if opts.Persistent {
		publishing.DeliveryMode = amqp.Persistent
	} else {
		publishing.DeliveryMode = amqp.Transient
	}

	verb := "SEND"
	if tries > 0 {
		verb = "RE-SEND"
	}
	if !opts.NoLog {
		args := []interface{}{"function", "BrokerClient.Publish", "exchange", exchange, "key", opts.RoutingKey}
		if opts.LogData && !shouldFilterLog(opts.LogFilter, exchange) {
			args = append(args, "body", string(message))
		}
		b.logger.Debug(verb, args...)
	}

	if err := ch.Publish(exchange, opts.RoutingKey, opts.Mandatory, opts.Immediate, publishing); err != nil {
		b.exc.track("BrokerClient.Publish", b, exchange, err)
		return false
	}
	return true
}

// Close shuts the broker down. normal=true yields status closed; false
// yields status failed. Idempotent: a second call still invokes blk.
func (b *BrokerClient) Close(normal bool, blk func()) {
	to := StatusClosed
	if !normal {
		to = StatusFailed
	}

	b.mu.Lock()
	terminal := b.status == StatusClosed || b.status == StatusFailed
	b.mu.Unlock()

	if !terminal {
		b.transition(to)
	}

	b.closeOnce.Do(func() {
		close(b.stopCh)
	})

	if ch := b.currentChannel(); ch != nil {
		_ = ch.Close()
	}
	if conn := b.currentConn(); conn != nil {
		_ = conn.Close()
	}

	if blk != nil {
		blk()
	}
}

// StatusSummary returns this broker's status record, per spec.md §6.
func (b *BrokerClient) StatusSummary() StatusSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return StatusSummary{
		Identity:    b.identity,
		Alias:       b.alias,
		Status:      b.status,
		Disconnects: b.disconnects,
		Failures:    b.failures,
		Retries:     b.retries,
	}
}

// Stats returns this broker's statistics record, per spec.md §6.
func (b *BrokerClient) Stats() BrokerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BrokerStats{
		Alias:          b.alias,
		Identity:       b.identity,
		Status:         string(b.status),
		Disconnects:    nullIfZero(b.disconnects),
		DisconnectLast: b.disconnectLast,
		Failures:       nullIfZero(b.failures),
		FailureLast:    b.failureLast,
		Retries:        nullIfZero(b.retries),
	}
}

// shouldFilterLog reports whether exchange appears in filter, suppressing
// body logging for matched exchanges even when LogData is set.
func shouldFilterLog(filter []string, exchange string) bool {
	for _, f := range filter {
		if f == exchange {
			return true
		}
	}
	return false
}

func amqpTable(m map[string]interface{}) amqp.Table {
	t := amqp.Table{}
	for k, v := range m {
		t[k] = v
	}
	return t
}
