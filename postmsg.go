package postmsg

import "sync"

// LowerTransport is the unreliable, small-MTU key/value channel the
// transport core is layered on top of (spec §1/§6): a Pebble-style
// app-message link, a websocket relay, an in-process loopback pair for
// tests, or anything else that can move a string-keyed dict and tell the
// caller whether it arrived.
//
// SendKV must invoke exactly one of onSuccess/onFailure for every call,
// eventually, even if the underlying link never becomes ready again (a
// permanently wedged transport should still fail the call rather than
// leak it). Client never calls SendKV again for the same logical message
// until the previous call's callback has fired (spec §4.2's at-most-one-
// in-flight rule).
//
// On registers a listener for LowerTransport's own native events. Two
// names are load-bearing: "ready", emitted once the lower link can carry
// traffic (driving Control's Disconnected -> LocalInitiated transition),
// and "appmessage", emitted with a (key string, payload any) pair for
// every inbound dict entry (driving Control.HandleControlMessage). Any
// other event name is implementation-defined and simply passed through.
type LowerTransport interface {
	SendKV(dict map[string]any, onSuccess, onFailure func())
	On(event string, handler func(args ...any)) error
	Off(event string, handler func(args ...any)) error
}

// Snapshot is a point-in-time diagnostic view of a Client, useful for
// health endpoints and the postmsgctl watch subcommand.
type Snapshot struct {
	State              State
	Version            int
	TxChunkSize        int
	RxChunkSize        int
	ChunksSent         int64
	ChunksReceived     int64
	BytesSent          int64
	BytesReceived      int64
	ControlRetries     int64
	ObjectRetries      int64
	HandshakesCompleted int64
	ProtocolViolations int64
	ObjectsDropped     int64
}

// Client is the public entry point: a reliable, chunked JSON-object
// messaging channel layered over a LowerTransport (spec §1). It owns one
// Control, one Sender, one Receiver, and one EventBus, wiring them
// together exactly as described in spec §4.
//
// Grounded on Atsika-aznet.Conn's role as the single exported façade
// wrapping an internal handshake/framing/metrics trio, generalized from
// net.Conn's Read/Write contract to PostMessage/On/Off's event-driven one.
type Client struct {
	mu      sync.Mutex
	cfg     *Config
	bus     *EventBus
	control *Control
	sender  *Sender
	recv    *Receiver
	lower   LowerTransport
}

// New builds a Client over lower, applying opts on top of the package
// defaults (version 1-1, 1000-byte chunks, 3 retries at 1000ms, a
// zerolog-backed logger, atomic in-memory metrics, and a real-time
// scheduler). It registers its own "ready" and "appmessage" listeners on
// lower; callers must not register competing listeners for those two
// names.
func New(lower LowerTransport, opts ...Option) (*Client, error) {
	cfg := applyConfig(opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bus := NewEventBus()
	sender := newSender(cfg, bus, lower, cfg.logger)
	recv := newReceiver(bus, cfg.metrics, cfg.logger)

	control := newControl(cfg, bus, sender, func(err error) {
		bus.Emit(EventError, &ErrorEvent{Reason: err})
	})
	control.bindReceiver(recv)

	sender.setOnControlExhausted(control.forceDisconnectedOrLocalInitiated)
	sender.setSessionOpenFunc(func() bool { return control.State() == StateSessionOpen })
	sender.setTxChunkSizeFunc(func() int { _, tx, _ := control.Session(); return tx })

	c := &Client{cfg: cfg, bus: bus, control: control, sender: sender, recv: recv, lower: lower}

	_ = lower.On("ready", func(args ...any) {
		control.HandleReady()
		c.sender.pump()
	})
	_ = lower.On("appmessage", func(args ...any) {
		if len(args) != 2 {
			return
		}
		key, ok := args[0].(string)
		if !ok {
			return
		}
		control.HandleControlMessage(key, args[1])
		c.sender.pump()
	})

	return c, nil
}

// PostMessage serializes obj to JSON, validates it against the configured
// schema (if any), appends the 0x00 terminator, and enqueues it behind any
// already-pending objects (spec §2); chunk boundaries are computed later,
// at transmit time. It returns synchronously only for
// validation/serialization failures (ErrNotSerializable, ErrObjectTooLarge,
// ErrSchemaViolation); transport-level failure is reported asynchronously
// via the "error" event after the retry budget is exhausted (spec §7).
func (c *Client) PostMessage(obj any) error {
	return c.sender.EnqueueObject(obj)
}

// On registers handler for name. The four transport-owned names
// (EventMessage, EventConnected, EventDisconnected, EventError) are
// dispatched by this Client's own EventBus; any other name is forwarded to
// the underlying LowerTransport's native listener API unchanged, so
// driver-specific events (e.g. a websocket relay's "pong") remain
// reachable without widening this package's event vocabulary.
func (c *Client) On(name EventName, handler Handler) error {
	if !isCoreEvent(name) {
		return c.lower.On(string(name), func(args ...any) {
			var payload any
			if len(args) == 1 {
				payload = args[0]
			} else if len(args) > 1 {
				payload = args
			}
			handler(payload)
		})
	}
	return c.bus.On(name, handler)
}

// Off removes handler's registration for name, following the same
// core-vs-passthrough split as On. For a passthrough name, LowerTransport's
// Off receives a placeholder function rather than handler (On registered a
// wrapper around handler), so which registrations are removed is decided by
// the LowerTransport; wsrelay.Relay removes every handler for that name.
func (c *Client) Off(name EventName, handler Handler) error {
	if !isCoreEvent(name) {
		return c.lower.Off(string(name), func(args ...any) {})
	}
	return c.bus.Off(name, handler)
}

func isCoreEvent(name EventName) bool {
	switch name {
	case EventMessage, EventConnected, EventDisconnected, EventError:
		return true
	default:
		return false
	}
}

// Snapshot returns a diagnostic view of the current session state and
// cumulative counters. This is additive to the original spec (see
// SPEC_FULL.md's supplemented features) — nothing in the wire protocol
// depends on it.
func (c *Client) Snapshot() Snapshot {
	version, tx, rx := c.control.Session()
	return Snapshot{
		State:               c.control.State(),
		Version:             version,
		TxChunkSize:         tx,
		RxChunkSize:         rx,
		ChunksSent:          c.cfg.metrics.GetChunksSent(),
		ChunksReceived:      c.cfg.metrics.GetChunksReceived(),
		BytesSent:           c.cfg.metrics.GetBytesSent(),
		BytesReceived:       c.cfg.metrics.GetBytesReceived(),
		ControlRetries:      c.cfg.metrics.GetControlRetries(),
		ObjectRetries:       c.cfg.metrics.GetObjectRetries(),
		HandshakesCompleted: c.cfg.metrics.GetHandshakesCompleted(),
		ProtocolViolations:  c.cfg.metrics.GetProtocolViolations(),
		ObjectsDropped:      c.cfg.metrics.GetObjectsDropped(),
	}
}
