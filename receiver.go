package postmsg

import (
	"encoding/json"
	"unicode/utf8"
)

// Receiver reassembles inbound Chunk payloads into complete JSON objects
// (spec §4.3/§5). It is driven exclusively by Control.onChunk, which already
// guarantees Chunk is only routed here while the session is open.
//
// Grounded on the chunk/reassembly shape described in spec §4.3, with the
// reassembly pattern narrowed to a single in-flight object (see DESIGN.md's
// ledger entry for receiver.go).
type Receiver struct {
	bus     *EventBus
	metrics Metrics
	logger  Logger

	buf      []byte
	total    uint32 // total_size_bytes, set by the first chunk
	received uint32 // received_bytes so far
	active   bool
}

func newReceiver(bus *EventBus, metrics Metrics, logger Logger) *Receiver {
	return &Receiver{bus: bus, metrics: metrics, logger: logger}
}

// HandleChunk parses and applies one raw chunk (header + payload). It
// returns false exactly when the chunk violates the sequencing protocol
// (spec §4.3 invariants) — a case distinct from a malformed reassembled
// message, which is logged and dropped without a protocol violation.
//
// Per spec §4.2/§4.3/§6, the header's n field means different things
// depending on is_first: on the first chunk of a message it is
// total_size_bytes (the full framed length, not this chunk's own payload
// length); on every continuation chunk it is the offset already received,
// which the receiver must match exactly before appending.
func (r *Receiver) HandleChunk(raw []byte) bool {
	if len(raw) <= ChunkHeaderSize {
		r.logger.Warn("chunk shorter than header", map[string]any{"len": len(raw)})
		return false
	}
	h := decodeChunkHeader(raw)
	payload := raw[ChunkHeaderSize:]

	r.metrics.IncrementChunksReceived()
	r.metrics.IncrementBytesReceived(int64(len(raw)))

	if h.isFirst {
		if uint64(len(payload)) > uint64(h.n) {
			r.logger.Warn("first chunk payload exceeds declared total", map[string]any{
				"declared_total": h.n, "payload": len(payload),
			})
			return false
		}
		r.buf = append(r.buf[:0], payload...)
		r.total = h.n
		r.received = uint32(len(payload))
		r.active = true
		r.checkComplete()
		return true
	}

	if !r.active {
		// A continuation chunk with no open reassembly is a sequencing
		// violation: there is no first chunk to continue.
		return false
	}

	if h.n != r.received {
		r.logger.Warn("chunk offset mismatch", map[string]any{
			"declared_offset": h.n, "received_bytes": r.received,
		})
		return false
	}
	if uint64(r.received)+uint64(len(payload)) > uint64(r.total) {
		r.logger.Warn("chunk overruns declared total", map[string]any{
			"received_bytes": r.received, "payload": len(payload), "total": r.total,
		})
		return false
	}

	r.buf = append(r.buf, payload...)
	r.received += uint32(len(payload))
	r.checkComplete()
	return true
}

// checkComplete inspects reassembly progress after every applied chunk; a
// message is complete exactly when received_bytes reaches total_size_bytes
// (spec §4.3), regardless of how many chunks that took.
func (r *Receiver) checkComplete() {
	if !r.active || r.received != r.total {
		return
	}
	r.active = false
	body := r.buf
	r.buf = nil

	if len(body) == 0 || body[len(body)-1] != 0x00 {
		r.logger.Warn("dropped message: missing terminator", nil)
		r.metrics.IncrementObjectsDropped()
		return
	}
	body = body[:len(body)-1]

	if !utf8.Valid(body) {
		r.logger.Warn("dropped message: invalid utf-8", nil)
		r.metrics.IncrementObjectsDropped()
		return
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		r.logger.Warn("dropped message: invalid json", map[string]any{"error": err.Error()})
		r.metrics.IncrementObjectsDropped()
		return
	}

	r.bus.Emit(EventMessage, v)
}
