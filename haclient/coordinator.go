package haclient

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/sergeyenin/right-amqp/haclient/internal/barrier"
	"github.com/sergeyenin/right-amqp/haclient/internal/cache"
)

// Return reasons named verbatim in spec.md §6.
const (
	ReasonNoRoute       = "NO_ROUTE"
	ReasonNoConsumers   = "NO_CONSUMERS"
	ReasonAccessRefused = "ACCESS_REFUSED"
)

// closeBarrierTimeout bounds how long Close waits for every broker to
// acknowledge its own closure before proceeding anyway, per spec.md §5's
// "close(blk) ... proceed after the timeout even if some brokers have
// not acknowledged."
const closeBarrierTimeout = 10 * time.Second

// HABrokerClient fronts a priority-ordered set of BrokerClient instances
// as one logical endpoint, per spec.md §4.1.
type HABrokerClient struct {
	cfg    *Config
	logger *slog.Logger
	exc    *exceptionTracker
	cache  *cache.Cache

	mu       sync.RWMutex
	list     []*BrokerClient
	byID     map[string]*BrokerClient
	watchers map[string]*connectionStatusWatcher

	nonDelivery NonDeliveryCallback
}

// New constructs an HABrokerClient from hostSpec/portSpec (per spec.md
// §4.4) and cfg. Construction fails with ErrInvalidArgument if cfg has
// no Serializer, or if the host/port specs cannot be reconciled.
func New(hostSpec, portSpec string, cfg *Config) (*HABrokerClient, error) {
	if cfg == nil || cfg.Serializer == nil {
		return nil, newError("New", KindInvalidArgument, errSerializerRequired)
	}
	cfg = cfg.withDefaults()

	addrs, err := ParseAddresses(hostSpec, portSpec)
	if err != nil {
		return nil, err
	}

	h := &HABrokerClient{
		cfg:         cfg,
		logger:      cfg.Logger,
		exc:         newExceptionTracker(cfg.Logger, cfg.ExceptionCallback),
		cache:       cache.New(),
		byID:        make(map[string]*BrokerClient),
		watchers:    make(map[string]*connectionStatusWatcher),
		nonDelivery: cfg.NonDeliveryCallback,
	}

	for _, addr := range addrs {
		h.addBroker(addr)
	}
	return h, nil
}

func (h *HABrokerClient) addBroker(addr BrokerAddress) *BrokerClient {
	b := NewBrokerClient(addr, h.cfg, h.logger, h.exc, h.updateStatus)
	b.InstallReturnHandler(func(to, reason string, body []byte) {
		h.handleReturn(b, reason, body, to)
	})

	h.mu.Lock()
	h.list = append(h.list, b)
	h.byID[b.Identity()] = b
	h.mu.Unlock()

	b.Start()
	return b
}

// Identities returns every configured broker's identity, in priority
// order.
func (h *HABrokerClient) Identities() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(h.list))
	for i, b := range h.list {
		out[i] = b.Identity()
	}
	return out
}

func (h *HABrokerClient) connectedSet() map[string]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]bool, len(h.list))
	for _, b := range h.list {
		if b.Connected() {
			out[b.Identity()] = true
		}
	}
	return out
}

// use resolves the candidate broker sequence for a publish/subscribe/
// declare/delete call, per spec.md §4.1's "Broker selection — use(options)".
func (h *HABrokerClient) use(brokers []string, order Order) []*BrokerClient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var candidates []*BrokerClient
	if len(brokers) > 0 {
		for _, id := range brokers {
			b, ok := h.byID[id]
			if !ok {
				h.logger.Warn("unknown broker identity in selection", "function", "HABrokerClient.use", "identity", id)
				continue
			}
			candidates = append(candidates, b)
		}
	} else {
		candidates = append(candidates, h.list...)
		if order == "" {
			order = h.cfg.Order
		}
	}
	if order == RandomOrder {
		shuffled := make([]*BrokerClient, len(candidates))
		copy(shuffled, candidates)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		candidates = shuffled
	}
	return candidates
}

// Subscribe installs queue's consumer on every usable, selected broker,
// per spec.md §4.1.
func (h *HABrokerClient) Subscribe(queue string, exchange *ExchangeBinding, opts SubscribeOptions, handler interface{}) []string {
	var done []string
	for _, b := range h.use(opts.Brokers, "") {
		if !b.Usable() {
			continue
		}
		if b.Subscribe(queue, exchange, opts, handler) {
			done = append(done, b.Identity())
		}
	}
	return done
}

// Publish serializes packet (unless NoSerialize or no serializer is
// configured) and publishes it across the selected brokers, per
// spec.md §4.1.
func (h *HABrokerClient) Publish(exchange string, packet interface{}, opts PublishOptions) ([]string, error) {
	message, serialized, err := h.serialize(packet, opts.NoSerialize)
	if err != nil {
		return nil, newError("Publish", KindInvalidArgument, err)
	}

	candidates := h.use(opts.Brokers, opts.Order)
	identities := make([]string, len(candidates))
	for i, b := range candidates {
		identities[i] = b.Identity()
	}

	var ctx *Context
	if serialized && opts.Mandatory {
		ctx = newContext(packet, opts, identities)
	}

	var done []string
	for _, b := range candidates {
		if b.Status() != StatusConnected {
			continue
		}
		if !b.Publish(exchange, message, opts, 0) {
			continue
		}
		done = append(done, b.Identity())
		if !opts.Fanout {
			break
		}
	}

	if ctx != nil {
		h.cache.Store(message, ctx)
	}

	if len(done) == 0 {
		return nil, newError("Publish", KindNoConnectedBrokers, errNoBrokerAccepted)
	}
	return done, nil
}

func (h *HABrokerClient) serialize(packet interface{}, noSerialize bool) (message []byte, serialized bool, err error) {
	if b, ok := packet.([]byte); ok && (noSerialize || h.cfg.Serializer == nil) {
		return b, false, nil
	}
	if noSerialize || h.cfg.Serializer == nil {
		return nil, false, errRawPacketRequired
	}
	body, err := h.cfg.Serializer.Encode(packet)
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

// Declare forces declaration of name on every usable, selected broker.
func (h *HABrokerClient) Declare(kind DeclareKind, name string, opts DeclareOptions, brokers []string) []string {
	var done []string
	for _, b := range h.use(brokers, "") {
		if !b.Usable() {
			continue
		}
		if b.Declare(kind, name, opts) {
			done = append(done, b.Identity())
		}
	}
	return done
}

// Delete deletes name on every usable, selected broker.
func (h *HABrokerClient) Delete(name string, opts DeleteOptions, brokers []string) []string {
	var done []string
	for _, b := range h.use(brokers, "") {
		if !b.Usable() {
			continue
		}
		if b.Delete(name, opts) {
			done = append(done, b.Identity())
		}
	}
	return done
}

// Remove closes and drops the broker at host:port from the set,
// collapsing its position, per spec.md §4.1.
func (h *HABrokerClient) Remove(host string, port uint16) bool {
	identity := BrokerAddress{Host: host, Port: port}.Identity()

	h.mu.Lock()
	b, ok := h.byID[identity]
	if !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.byID, identity)
	for i, cand := range h.list {
		if cand == b {
			h.list = append(h.list[:i], h.list[i+1:]...)
			break
		}
	}
	h.mu.Unlock()

	b.Close(true, nil)
	return true
}

// Close idempotently closes every broker normally and invokes blk once
// every closure has completed, or its timeout elapses,
// per spec.md §4.1 and §4.5. Each broker's transition to closed is still
// reported through updateStatus, so matching watchers can fire; there is
// no option to suppress that. Concurrent per-broker closes are the one
// place true concurrency is used, so a slow broker cannot stall the rest.
func (h *HABrokerClient) Close(blk func()) {
	h.mu.RLock()
	brokers := make([]*BrokerClient, len(h.list))
	copy(brokers, h.list)
	h.mu.RUnlock()

	if len(brokers) == 0 {
		if blk != nil {
			blk()
		}
		return
	}

	bar := barrier.New(len(brokers), closeBarrierTimeout, blk)
	for _, b := range brokers {
		go func(b *BrokerClient) {
			b.Close(true, bar.CompletedOne)
		}(b)
	}
}

// NonDelivery registers the callback invoked once all re-routing
// attempts for a returned message are exhausted.
func (h *HABrokerClient) NonDelivery(cb NonDeliveryCallback) {
	h.mu.Lock()
	h.nonDelivery = cb
	h.mu.Unlock()
}

// ConnectionStatus registers a watcher per spec.md §4.1/§3, returning its
// id. A non-zero opts.OneOff starts a timer that fires StatusEventTimeout
// and unregisters the watcher if no qualifying transition occurs first.
func (h *HABrokerClient) ConnectionStatus(opts ConnectionStatusOptions, cb ConnectionStatusCallback) string {
	w := newWatcher(opts, cb)

	h.mu.Lock()
	h.watchers[w.id] = w
	h.mu.Unlock()

	if opts.OneOff > 0 {
		w.timer = time.AfterFunc(opts.OneOff, func() {
			h.mu.Lock()
			_, stillPresent := h.watchers[w.id]
			delete(h.watchers, w.id)
			h.mu.Unlock()
			if stillPresent {
				cb(w.id, StatusEventTimeout, w.relevantIdentities(h))
			}
		})
	}
	return w.id
}

func (w *connectionStatusWatcher) relevantIdentities(h *HABrokerClient) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for _, b := range h.list {
		if w.matches(b.Identity()) {
			out = append(out, b.Identity())
		}
	}
	return out
}

// Status returns one StatusSummary per broker, in priority order, per
// spec.md §6.
func (h *HABrokerClient) Status() []StatusSummary {
	h.mu.RLock()
	brokers := make([]*BrokerClient, len(h.list))
	copy(brokers, h.list)
	h.mu.RUnlock()

	out := make([]StatusSummary, len(brokers))
	for i, b := range brokers {
		out[i] = b.StatusSummary()
	}
	return out
}

// Stats returns one BrokerStats per broker, in priority order, per
// spec.md §6.
func (h *HABrokerClient) Stats() []BrokerStats {
	h.mu.RLock()
	brokers := make([]*BrokerClient, len(h.list))
	copy(brokers, h.list)
	h.mu.RUnlock()

	out := make([]BrokerStats, len(brokers))
	for i, b := range brokers {
		out[i] = b.Stats()
	}
	return out
}

// updateStatus is the per-broker UpdateStatusFunc registered at
// construction. It computes the before/after connected sets relative to
// this transition and fires every matching watcher whose boundary the
// transition crosses, per spec.md §4.1's "Status aggregation".
func (h *HABrokerClient) updateStatus(broker *BrokerClient, wasConnected bool) {
	isConnected := broker.Connected()

	h.mu.RLock()
	watchers := make([]*connectionStatusWatcher, 0, len(h.watchers))
	for _, w := range h.watchers {
		watchers = append(watchers, w)
	}
	all := make([]*BrokerClient, len(h.list))
	copy(all, h.list)
	h.mu.RUnlock()

	for _, w := range watchers {
		h.fireWatcher(w, broker, wasConnected, isConnected, all)
	}
}

func (h *HABrokerClient) fireWatcher(w *connectionStatusWatcher, broker *BrokerClient, wasConnected, isConnected bool, all []*BrokerClient) {
	if !w.matches(broker.Identity()) {
		return
	}

	var relevant []*BrokerClient
	for _, b := range all {
		if w.matches(b.Identity()) {
			relevant = append(relevant, b)
		}
	}
	n := len(relevant)
	if n == 0 {
		return
	}

	connectedAfter, failedAfter := 0, 0
	for _, b := range relevant {
		switch b.Status() {
		case StatusConnected:
			connectedAfter++
		case StatusFailed:
			failedAfter++
		}
	}
	connectedBefore := connectedAfter
	if wasConnected && !isConnected {
		connectedBefore++
	} else if !wasConnected && isConnected {
		connectedBefore--
	}
	if connectedBefore < 0 {
		connectedBefore = 0
	}

	var event StatusEvent
	fire := false
	switch w.opts.Boundary {
	case BoundaryAll:
		if connectedBefore < n && connectedAfter == n {
			event, fire = StatusEventConnected, true
		} else if connectedBefore == n && connectedAfter < n {
			event, fire = StatusEventDisconnected, true
		}
	default: // BoundaryAny
		if connectedBefore == 0 && connectedAfter > 0 {
			event, fire = StatusEventConnected, true
		} else if connectedBefore > 0 && connectedAfter == 0 {
			event, fire = StatusEventDisconnected, true
		}
	}
	if !fire && failedAfter == n {
		event, fire = StatusEventFailed, true
	}
	if !fire {
		return
	}

	identities := make([]string, len(relevant))
	for i, b := range relevant {
		identities[i] = b.Identity()
	}

	h.mu.Lock()
	_, stillPresent := h.watchers[w.id]
	oneOff := w.opts.OneOff > 0
	if oneOff && stillPresent {
		delete(h.watchers, w.id)
	}
	h.mu.Unlock()
	if !stillPresent {
		return
	}
	if oneOff {
		w.stopTimer()
	}

	w.callback(w.id, event, identities)
}

// handleReturn is the coordinator's single return-message handler, wired
// to every BrokerClient at construction, per spec.md §4.1's
// "Return-message handling".
func (h *HABrokerClient) handleReturn(from *BrokerClient, reason string, body []byte, to string) {
	defer func() {
		if r := recover(); r != nil {
			h.exc.track("HABrokerClient.handleReturn", from, to, newError("handleReturn", KindTransportFailure, errHandlerPanic))
		}
	}()

	ctxVal, ok := h.cache.Fetch(body)
	if !ok {
		h.logger.Debug("return with no cached context, dropping",
			"function", "HABrokerClient.handleReturn", "reason", reason, "to", to)
		return
	}
	ctx := ctxVal.(*Context)
	ctx.RecordFailure(from.Identity())

	connected := h.connectedSet()
	remaining := ctx.Remaining(connected)

	if len(remaining) == 0 {
		isRecoverableReason := reason == ReasonAccessRefused || reason == ReasonNoConsumers
		if (ctx.Options.Persistent || ctx.OneWay) && isRecoverableReason {
			// from just triggered this downgrade and may already have been
			// moved to stopping by the time this callback runs; it is still
			// the one broker the retry must be allowed to reach.
			retryConnected := connected
			if !retryConnected[from.Identity()] && from.Status() == StatusStopping {
				retryConnected = make(map[string]bool, len(connected)+1)
				for id := range connected {
					retryConnected[id] = true
				}
				retryConnected[from.Identity()] = true
			}
			retryTargets := ctx.AllBrokers(retryConnected)
			if len(retryTargets) > 0 {
				retryOpts := ctx.Options
				retryOpts.Mandatory = false
				h.republish(h.identitiesToClients(retryTargets), to, body, retryOpts, true)
				return
			}
		}
		if h.nonDelivery != nil {
			h.nonDelivery(reason, ctx.Type, ctx.Token, ctx.From, to)
		}
		return
	}

	republishOpts := ctx.Options
	republishOpts.NoSerialize = true
	h.republish(h.identitiesToClients(remaining), to, body, republishOpts, false)
}

func (h *HABrokerClient) identitiesToClients(ids []string) []*BrokerClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*BrokerClient, 0, len(ids))
	for _, id := range ids {
		if b, ok := h.byID[id]; ok {
			out = append(out, b)
		}
	}
	return out
}

// republish tries each target in order until one accepts the message.
// allowStopping admits a broker that is mid-downgrade (status stopping)
// as a retry target; it exists solely for handleReturn's same-broker
// recoverable-reason retry and must stay false for every other caller,
// since a stopping broker is otherwise not a valid re-routing target.
func (h *HABrokerClient) republish(targets []*BrokerClient, exchange string, body []byte, opts PublishOptions, allowStopping bool) {
	for _, b := range targets {
		status := b.Status()
		if status != StatusConnected && !(allowStopping && status == StatusStopping) {
			continue
		}
		if b.Publish(exchange, body, opts, 1) {
			return
		}
	}
}
