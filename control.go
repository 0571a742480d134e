package postmsg

import "fmt"

// State is one of Control's four session states (spec §3/§4.1).
type State int

const (
	StateDisconnected State = iota
	StateAwaitingResetCompleteRemoteInitiated
	StateAwaitingResetCompleteLocalInitiated
	StateSessionOpen
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateAwaitingResetCompleteRemoteInitiated:
		return "AwaitingResetCompleteRemoteInitiated"
	case StateAwaitingResetCompleteLocalInitiated:
		return "AwaitingResetCompleteLocalInitiated"
	case StateSessionOpen:
		return "SessionOpen"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Wire key names (spec §6, exact strings).
const (
	keyResetRequest     = "ResetRequest"
	keyResetComplete    = "ResetComplete"
	keyChunk            = "Chunk"
	keyUnsupportedError = "UnsupportedError"
)

// session holds the negotiated parameters. Outside StateSessionOpen all
// three fields are zero; inside, all three are > 0 (spec §3 invariant).
type session struct {
	version       int
	txChunkSize   int
	rxChunkSize   int
}

func (s session) isOpen() bool {
	return s.version > 0 && s.txChunkSize > 0 && s.rxChunkSize > 0
}

// Control is the session handshake state machine (spec §4.1). It owns the
// negotiated session parameters and drives EventBus's connected/disconnected
// lifecycle; Sender and Receiver are told about transitions through the
// small interfaces below rather than importing each other directly, keeping
// the three components free of import cycles while still letting Control
// reach into Sender's queue (to emit ResetRequest/ResetComplete/
// UnsupportedError) and Receiver's buffer (to route Chunk payloads and
// react to protocol violations).
//
// Grounded on Atsika-aznet/crypto.go's Noise handshake-state wrapper
// (explicit completion predicate, initiator/responder distinction) and
// aznet.go's Dial/Accept handshake sequencing.
type Control struct {
	state   State
	sess    session
	cfg     *Config
	bus     *EventBus
	sender  controlSender
	recv    *Receiver
	onFatal func(error)
}

// bindReceiver wires the Receiver Control routes Chunk payloads to. Called
// once by Client.New after both have been constructed.
func (c *Control) bindReceiver(r *Receiver) { c.recv = r }

// controlSender is the slice of Sender that Control needs: enqueueing
// control messages. Defined here (rather than depending on *Sender
// directly) so control.go and sender.go can be read and tested in
// isolation.
type controlSender interface {
	enqueueControl(dict map[string]any)
}

// newControl builds a Control in StateDisconnected with zeroed session
// parameters, per spec §3.
func newControl(cfg *Config, bus *EventBus, sender controlSender, onFatal func(error)) *Control {
	return &Control{state: StateDisconnected, cfg: cfg, bus: bus, sender: sender, onFatal: onFatal}
}

// State returns the current session state.
func (c *Control) State() State { return c.state }

// Session returns the negotiated parameters (all zero outside SessionOpen).
func (c *Control) Session() (version, tx, rx int) {
	return c.sess.version, c.sess.txChunkSize, c.sess.rxChunkSize
}

// HandleReady processes the ready() event from LowerTransport (spec §3):
// Disconnected -> AwaitingResetCompleteLocalInitiated.
func (c *Control) HandleReady() {
	c.transitionTo(StateAwaitingResetCompleteLocalInitiated)
}

// resetCompleteBytes encodes the local capabilities as the 6-byte
// ResetComplete payload (spec §6).
func (c *Control) resetCompleteBytes() []byte {
	return []byte{
		byte(c.cfg.minVersion),
		byte(c.cfg.maxVersion),
		byte(c.cfg.maxTxChunkSize >> 8),
		byte(c.cfg.maxTxChunkSize & 0xff),
		byte(c.cfg.maxRxChunkSize >> 8),
		byte(c.cfg.maxRxChunkSize & 0xff),
	}
}

// transitionTo moves Control into next, running next's entry action (spec
// §4.1 table) and, when leaving SessionOpen, the disconnected emission.
func (c *Control) transitionTo(next State) {
	prev := c.state

	if prev == StateSessionOpen && next != StateSessionOpen {
		c.sess = session{}
		c.bus.setSessionOpen(false)
		c.bus.Emit(EventDisconnected, nil)
	}

	c.state = next

	switch next {
	case StateDisconnected:
		c.sess = session{}
	case StateAwaitingResetCompleteRemoteInitiated:
		c.sess = session{}
		c.sender.enqueueControl(map[string]any{keyResetComplete: c.resetCompleteBytes()})
	case StateAwaitingResetCompleteLocalInitiated:
		if prev != StateAwaitingResetCompleteLocalInitiated {
			c.sender.enqueueControl(map[string]any{keyResetRequest: 0})
		}
		c.sess = session{}
	case StateSessionOpen:
		c.cfg.metrics.IncrementHandshakesCompleted()
		c.bus.setSessionOpen(true)
		c.bus.Emit(EventConnected, nil)
	}
}

// HandleControlMessage dispatches one inbound control-message key/value
// pair per the state/key table in spec §4.1. payload's shape depends on
// key: opaque for ResetRequest/UnsupportedError, 6 bytes for
// ResetComplete, raw chunk bytes for Chunk.
func (c *Control) HandleControlMessage(key string, payload any) {
	switch key {
	case keyResetRequest:
		c.onResetRequest()
	case keyResetComplete:
		c.onResetComplete(payload)
	case keyChunk:
		c.onChunk(payload)
	case keyUnsupportedError:
		c.onUnsupportedError()
	}
}

func (c *Control) onResetRequest() {
	switch c.state {
	case StateAwaitingResetCompleteRemoteInitiated:
		// Re-enter RI: resets params and resends ResetComplete.
		c.transitionTo(StateAwaitingResetCompleteRemoteInitiated)
	case StateAwaitingResetCompleteLocalInitiated:
		// We already sent our own ResetRequest; nothing to do.
	case StateSessionOpen:
		c.transitionTo(StateAwaitingResetCompleteRemoteInitiated)
	case StateDisconnected:
		// ignore
	}
}

func (c *Control) onResetComplete(payload any) {
	switch c.state {
	case StateAwaitingResetCompleteRemoteInitiated:
		// RI is entered from SessionOpen on an inbound ResetRequest, and we
		// already sent our own ResetComplete on the way in; the remote's
		// ResetComplete here is the normal completion of that renegotiation,
		// not a resend trigger.
		remote, ok := parseResetComplete(payload)
		if !ok {
			c.sender.enqueueControl(map[string]any{keyUnsupportedError: 0})
			return
		}
		if !c.negotiate(remote) {
			c.sender.enqueueControl(map[string]any{keyUnsupportedError: 0})
			return
		}
		c.transitionToOpenAfterNegotiation()
	case StateAwaitingResetCompleteLocalInitiated:
		remote, ok := parseResetComplete(payload)
		if !ok {
			c.sender.enqueueControl(map[string]any{keyUnsupportedError: 0})
			return
		}
		if !c.negotiate(remote) {
			c.sender.enqueueControl(map[string]any{keyUnsupportedError: 0})
			return
		}
		c.sender.enqueueControl(map[string]any{keyResetComplete: c.resetCompleteBytes()})
		c.transitionToOpenAfterNegotiation()
	case StateSessionOpen, StateDisconnected:
		// do nothing
	}
}

// transitionToOpenAfterNegotiation moves to SessionOpen, keeping the
// session parameters negotiate has just populated in c.sess, and does
// nothing if Control is already open.
func (c *Control) transitionToOpenAfterNegotiation() {
	prev := c.state
	if prev == StateSessionOpen {
		return
	}
	c.state = StateSessionOpen
	c.cfg.metrics.IncrementHandshakesCompleted()
	c.bus.setSessionOpen(true)
	c.bus.Emit(EventConnected, nil)
}

func (c *Control) onChunk(payload any) {
	switch c.state {
	case StateAwaitingResetCompleteRemoteInitiated:
		c.transitionTo(StateAwaitingResetCompleteLocalInitiated)
	case StateAwaitingResetCompleteLocalInitiated, StateDisconnected:
		// do nothing
	case StateSessionOpen:
		raw, ok := payload.([]byte)
		if !ok {
			return
		}
		if ok := c.receiver().HandleChunk(raw); !ok {
			c.cfg.metrics.IncrementProtocolViolations()
			c.transitionTo(StateAwaitingResetCompleteLocalInitiated)
		}
	}
}

func (c *Control) onUnsupportedError() {
	switch c.state {
	case StateAwaitingResetCompleteRemoteInitiated:
		if c.onFatal != nil {
			c.onFatal(ErrRemoteUnsupported)
		}
	case StateSessionOpen:
		c.transitionTo(StateAwaitingResetCompleteLocalInitiated)
	case StateAwaitingResetCompleteLocalInitiated, StateDisconnected:
		// do nothing
	}
}

// negotiate validates the remote's advertised capabilities against local
// ones (spec §4.1) and, on success, populates c.sess.
func (c *Control) negotiate(remote resetCompleteParams) bool {
	lo := max(c.cfg.minVersion, remote.minVersion)
	hi := min(c.cfg.maxVersion, remote.maxVersion)
	if lo > hi {
		return false
	}
	c.sess = session{
		version:     min(c.cfg.maxVersion, remote.maxVersion),
		txChunkSize: min(c.cfg.maxTxChunkSize, remote.maxRxChunkSize),
		rxChunkSize: min(c.cfg.maxRxChunkSize, remote.maxTxChunkSize),
	}
	return true
}

// forceDisconnectedOrLocalInitiated implements the control-retry-exhaustion
// path (spec §4.2/§7), honoring Config.retryExhaustionTarget (open question
// 1).
func (c *Control) forceDisconnectedOrLocalInitiated() {
	switch c.cfg.retryExhaustionTarget {
	case RetryExhaustionLocalInitiated:
		// Pass through Disconnected so LI's entry action sends a fresh
		// ResetRequest even when Control is already in LI.
		c.transitionTo(StateDisconnected)
		c.transitionTo(StateAwaitingResetCompleteLocalInitiated)
	default:
		c.transitionTo(StateDisconnected)
	}
}

// receiver is set by Client after construction to break the Control/Receiver
// initialization cycle (both are built from the same Client.New call).
func (c *Control) receiver() *Receiver { return c.recv }

type resetCompleteParams struct {
	minVersion, maxVersion   int
	maxTxChunkSize           int
	maxRxChunkSize           int
}

// parseResetComplete decodes the 6-byte ResetComplete payload (spec §6).
func parseResetComplete(payload any) (resetCompleteParams, bool) {
	raw, ok := payload.([]byte)
	if !ok || len(raw) != 6 {
		return resetCompleteParams{}, false
	}
	return resetCompleteParams{
		minVersion:     int(raw[0]),
		maxVersion:     int(raw[1]),
		maxTxChunkSize: int(raw[2])<<8 | int(raw[3]),
		maxRxChunkSize: int(raw[4])<<8 | int(raw[5]),
	}, true
}
