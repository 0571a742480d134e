package postmsg

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// outbound is one queued message awaiting transmission: either a control
// dict (ResetRequest/ResetComplete/UnsupportedError, sent as-is through
// LowerTransport.SendKV) or an application object, held as its full framed
// byte string plus how much of it has already been sent.
type outbound struct {
	isControl bool
	control   map[string]any

	sendID  string // diagnostic correlation id; never placed on the wire
	framed  []byte // full UTF-8 JSON body plus its 0x00 terminator
	offset  int    // bytes of framed already acknowledged by the remote
	json    string // original JSON text, kept for ErrorEvent reporting
	retries int
}

// Sender owns the dual-priority (control over object) send queue and the
// at-most-one-in-flight discipline described in spec §4.2: only one
// message — control or object — is ever outstanding with LowerTransport at
// a time, and a failed send is retried up to Config.maxRetries times with
// Config.retryBackoff between attempts before the queue gives up on it.
//
// Grounded on Atsika-aznet's connWriter discipline (single outstanding
// write, explicit success/failure callback) generalized from a single
// net.Conn writer to the spec's two-priority queue with independent retry
// policies for control vs. object messages.
type Sender struct {
	mu sync.Mutex

	cfg    *Config
	bus    *EventBus
	lower  LowerTransport
	logger Logger

	controlQueue []*outbound
	objectQueue  []*outbound

	inFlight *outbound

	// onControlExhausted is invoked when a control message exhausts its
	// retry budget, so Client can drive Control's retry-exhaustion
	// transition (spec §4.2/§7, open question 1). Set once by Client.New.
	onControlExhausted func()

	// sessionOpenFunc reports whether Control currently considers the
	// session open; nil (the default used by isolated Sender tests) means
	// always open. Set once by Client.New.
	sessionOpenFunc func() bool

	// txChunkSizeFunc returns the negotiated session tx_chunk_size; nil (the
	// default used by isolated Sender tests) falls back to
	// Config.maxTxChunkSize. Set once by Client.New.
	txChunkSizeFunc func() int
}

func newSender(cfg *Config, bus *EventBus, lower LowerTransport, logger Logger) *Sender {
	return &Sender{cfg: cfg, bus: bus, lower: lower, logger: logger}
}

// enqueueControl implements controlSender for Control. Control messages
// always chunk to a single piece (they're at most a few bytes).
func (s *Sender) enqueueControl(dict map[string]any) {
	s.mu.Lock()
	s.controlQueue = append(s.controlQueue, &outbound{isControl: true, control: dict})
	s.mu.Unlock()
	s.pump()
}

// EnqueueObject validates and serializes obj, appending the spec's 0x00
// terminator, then queues it behind any already-pending objects (spec
// §2/§5). It returns synchronously with a serialization/size/schema error
// (ErrNotSerializable, ErrObjectTooLarge, ErrSchemaViolation) without
// touching the queue. The object is split into chunks lazily at transmit
// time against the negotiated session.tx_chunk_size, not here, since that
// size isn't known (and can change) until after negotiation.
func (s *Sender) EnqueueObject(obj any) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return ErrNotSerializable
	}
	if s.cfg.schema != nil {
		if err := s.cfg.schema.Validate(anyFromJSON(raw)); err != nil {
			return ErrSchemaViolation
		}
	}

	framed := append(raw, 0x00)
	if len(framed) > maxChunkValue {
		return ErrObjectTooLarge
	}

	ob := &outbound{
		sendID: uuid.NewString(),
		json:   string(raw),
		framed: framed,
	}

	s.mu.Lock()
	s.objectQueue = append(s.objectQueue, ob)
	s.mu.Unlock()
	s.logger.Debug("object queued", map[string]any{"send_id": ob.sendID, "bytes": len(framed)})
	s.pump()
	return nil
}

// anyFromJSON decodes raw back into a generic any for schema validation,
// since jsonschema.Schema.Validate operates on decoded values rather than
// raw bytes.
func anyFromJSON(raw []byte) any {
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}

// nextChunkPayload returns the next slice of framed to send, starting at
// offset and bounded by size (the negotiated tx_chunk_size).
func nextChunkPayload(framed []byte, offset, size int) []byte {
	if size <= 0 {
		size = 1
	}
	end := offset + size
	if end > len(framed) {
		end = len(framed)
	}
	if offset > len(framed) {
		offset = len(framed)
	}
	return framed[offset:end]
}

// pump sends the next queued message if nothing is currently in flight.
// Control messages always take priority over object messages (spec §4.2).
func (s *Sender) pump() {
	s.mu.Lock()
	if s.inFlight != nil {
		s.mu.Unlock()
		return
	}

	var ob *outbound
	switch {
	case len(s.controlQueue) > 0:
		ob = s.controlQueue[0]
	case len(s.objectQueue) > 0:
		ob = s.objectQueue[0]
	default:
		s.mu.Unlock()
		return
	}
	s.inFlight = ob
	s.mu.Unlock()

	s.transmit(ob)
}

// isSessionOpen reports whether Control considers the session open; see the
// sessionOpenFunc field doc.
func (s *Sender) isSessionOpen() bool {
	if s.sessionOpenFunc == nil {
		return true
	}
	return s.sessionOpenFunc()
}

// currentTxChunkSize returns the payload budget for the next chunk; see the
// txChunkSizeFunc field doc.
func (s *Sender) currentTxChunkSize() int {
	if s.txChunkSizeFunc != nil {
		if tx := s.txChunkSizeFunc(); tx > 0 {
			return tx
		}
	}
	return s.cfg.maxTxChunkSize
}

func (s *Sender) transmit(ob *outbound) {
	if ob.isControl {
		s.lower.SendKV(ob.control,
			func() { s.onControlResult(ob, true) },
			func() { s.onControlResult(ob, false) },
		)
		return
	}

	if !s.isSessionOpen() {
		// Spec §4.2: a chunk about to be emitted while the session is no
		// longer open is a synthetic failure, not an attempt.
		s.onObjectChunkResult(ob, false, 0)
		return
	}

	payload := nextChunkPayload(ob.framed, ob.offset, s.currentTxChunkSize())
	isFirst := ob.offset == 0

	// Spec §4.2/§6: the first chunk's header carries the total framed
	// length; every continuation chunk carries the offset already sent
	// (i.e. where this chunk's payload resumes), not its own length.
	var n uint32
	if isFirst {
		n = uint32(len(ob.framed))
	} else {
		n = uint32(ob.offset)
	}

	wire := buildChunk(chunkHeader{n: n, isFirst: isFirst}, payload)
	s.cfg.metrics.IncrementChunksSent()
	s.cfg.metrics.IncrementBytesSent(int64(len(wire)))

	sent := len(payload)
	s.lower.SendKV(map[string]any{keyChunk: wire},
		func() { s.onObjectChunkResult(ob, true, sent) },
		func() { s.onObjectChunkResult(ob, false, sent) },
	)
}

func (s *Sender) onControlResult(ob *outbound, success bool) {
	if success {
		s.mu.Lock()
		s.controlQueue = removeFront(s.controlQueue, ob)
		s.inFlight = nil
		s.mu.Unlock()
		s.pump()
		return
	}

	ob.retries++
	if ob.retries > s.cfg.maxRetries {
		s.cfg.metrics.IncrementObjectsDropped()
		s.mu.Lock()
		s.controlQueue = removeFront(s.controlQueue, ob)
		s.inFlight = nil
		s.mu.Unlock()
		if s.onControlExhausted != nil {
			s.onControlExhausted()
		}
		s.pump()
		return
	}

	s.cfg.metrics.IncrementControlRetries()
	s.scheduleRetry(func() { s.transmit(ob) })
}

func (s *Sender) onObjectChunkResult(ob *outbound, success bool, sentLen int) {
	if success {
		ob.offset += sentLen
		ob.retries = 0
		if ob.offset >= len(ob.framed) {
			s.mu.Lock()
			s.objectQueue = removeFront(s.objectQueue, ob)
			s.inFlight = nil
			s.mu.Unlock()
			s.pump()
			return
		}

		// Spec §4.2: before emitting the next chunk, a waiting control
		// message always preempts. If one is pending, this object's
		// progress is discarded and it restarts from offset 0 the next
		// time it reaches the front of the queue, since the remote's
		// reassembly buffer may have been reset by the renegotiation.
		s.mu.Lock()
		if len(s.controlQueue) > 0 {
			ob.offset = 0
		}
		s.inFlight = nil
		s.mu.Unlock()
		s.pump()
		return
	}

	ob.offset = 0
	ob.retries++
	if ob.retries > s.cfg.maxRetries {
		s.cfg.metrics.IncrementObjectsDropped()
		s.mu.Lock()
		s.objectQueue = removeFront(s.objectQueue, ob)
		s.inFlight = nil
		s.mu.Unlock()
		s.logger.Error("object dropped after exhausting retries", map[string]any{"send_id": ob.sendID})
		s.bus.Emit(EventError, &ErrorEvent{JSON: ob.json, Reason: ErrTooManyFailures})
		s.pump()
		return
	}

	s.cfg.metrics.IncrementObjectRetries()
	s.logger.Warn("object send failed, retrying from offset 0", map[string]any{
		"send_id": ob.sendID, "attempt": ob.retries,
	})
	// Per spec §5: a retried object restarts from offset 0, not from the
	// failed chunk, since the remote's reassembly buffer state after a
	// failed transfer is unknown. inFlight stays set to ob across the
	// backoff (open question 2: no mid-backoff cancellation), so nothing
	// else is sent until this retry resolves.
	s.scheduleRetry(func() { s.transmit(ob) })
}

func (s *Sender) scheduleRetry(fn func()) {
	s.cfg.scheduler.After(s.cfg.retryBackoff, fn)
}

// setOnControlExhausted wires the retry-exhaustion callback; see the
// onControlExhausted field doc above.
func (s *Sender) setOnControlExhausted(fn func()) { s.onControlExhausted = fn }

// setSessionOpenFunc wires Control's open/closed predicate; see the
// sessionOpenFunc field doc above.
func (s *Sender) setSessionOpenFunc(fn func() bool) { s.sessionOpenFunc = fn }

// setTxChunkSizeFunc wires Control's negotiated tx_chunk_size accessor; see
// the txChunkSizeFunc field doc above.
func (s *Sender) setTxChunkSizeFunc(fn func() int) { s.txChunkSizeFunc = fn }

func removeFront(q []*outbound, ob *outbound) []*outbound {
	if len(q) > 0 && q[0] == ob {
		return q[1:]
	}
	return q
}
