package haclient

// Describable is the small capability interface a caller's packet type
// can implement so that publish Context capture gets richer metadata
// than raw bytes. Packets that do not implement it yield a Context with
// empty fields, per spec.md §9.
type Describable interface {
	Name() string
	Type() string
	From() string
	Token() string
	OneWay() bool
}

func describe(packet interface{}) (name, typ, from, token string, oneWay bool) {
	if d, ok := packet.(Describable); ok {
		return d.Name(), d.Type(), d.From(), d.Token(), d.OneWay()
	}
	return "", "", "", "", false
}

// Context is the publish metadata captured when a publish opts into
// mandatory routing, per spec.md §3. It is mutated only by RecordFailure.
type Context struct {
	Name    string
	Type    string
	From    string
	Token   string
	OneWay  bool
	Options PublishOptions
	Brokers []string
	Failed  []string
}

func newContext(packet interface{}, opts PublishOptions, brokers []string) *Context {
	name, typ, from, token, oneWay := describe(packet)
	return &Context{
		Name:    name,
		Type:    typ,
		From:    from,
		Token:   token,
		OneWay:  oneWay,
		Options: opts,
		Brokers: append([]string(nil), brokers...),
		Failed:  nil,
	}
}

// RecordFailure appends identity to Failed if not already present.
func (c *Context) RecordFailure(identity string) {
	for _, f := range c.Failed {
		if f == identity {
			return
		}
	}
	c.Failed = append(c.Failed, identity)
}

// Remaining returns the identities in Brokers that have not failed and
// are currently connected, preserving Brokers order.
func (c *Context) Remaining(connected map[string]bool) []string {
	failed := make(map[string]bool, len(c.Failed))
	for _, f := range c.Failed {
		failed[f] = true
	}
	out := make([]string, 0, len(c.Brokers))
	for _, b := range c.Brokers {
		if !failed[b] && connected[b] {
			out = append(out, b)
		}
	}
	return out
}

// AllBrokers returns the identities in Brokers that are currently
// connected, regardless of failure, preserving Brokers order. Used by the
// persistent/one_way downgrade retry in handleReturn, which retries over
// context.brokers ∩ currently_connected rather than the failure-filtered
// set.
func (c *Context) AllBrokers(connected map[string]bool) []string {
	out := make([]string, 0, len(c.Brokers))
	for _, b := range c.Brokers {
		if connected[b] {
			out = append(out, b)
		}
	}
	return out
}
