package postmsg

import "errors"

var (
	// ErrNotSerializable is returned synchronously from PostMessage when the
	// given value cannot be marshaled to a JSON string.
	ErrNotSerializable = errors.New("postmsg: value is not JSON-serializable")
	// ErrObjectTooLarge is returned synchronously from PostMessage when the
	// serialized object's UTF-8+terminator length would not fit in the
	// chunk header's 31-bit length field (spec open question 3).
	ErrObjectTooLarge = errors.New("postmsg: object exceeds maximum encodable size (2^31-1 bytes)")
	// ErrSchemaViolation is returned synchronously from PostMessage when a
	// configured JSON schema rejects the value.
	ErrSchemaViolation = errors.New("postmsg: value does not satisfy the configured schema")

	// ErrSessionNotOpen names the case of an object chunk about to be
	// emitted while the session is not open. Sender handles that case as an
	// ordinary failed attempt and does not return or emit this error.
	ErrSessionNotOpen = errors.New("postmsg: session not open")
	// ErrTooManyFailures is the reason carried on the error event emitted
	// when an object chunk exhausts its retry budget.
	ErrTooManyFailures = errors.New("postmsg: too many failed transfer attempts")

	// ErrChunkTooShort names an inbound Chunk payload not long enough to
	// contain the 4-byte header. Receiver.HandleChunk reports this case by
	// returning false; it does not return this error.
	ErrChunkTooShort = errors.New("postmsg: chunk payload shorter than header")
	// ErrProtocolViolation names an inbound chunk that breaks the
	// is_first/offset/length sequencing invariants. Receiver.HandleChunk
	// reports this case by returning false; it does not return this error.
	ErrProtocolViolation = errors.New("postmsg: chunk sequencing violation")
	// ErrMissingTerminator names a fully reassembled message whose final
	// byte is not the 0x00 terminator. Receiver drops such a message with a
	// log line of its own; this error is neither logged nor surfaced.
	ErrMissingTerminator = errors.New("postmsg: reassembled message missing terminator byte")

	// ErrVersionMismatch names two ResetComplete version ranges that do not
	// overlap. Control answers that case with an UnsupportedError message
	// and does not return this error.
	ErrVersionMismatch = errors.New("postmsg: no overlapping protocol version")
	// ErrRemoteUnsupported is the fatal error propagated to the host when
	// the remote sends UnsupportedError while we are RemoteInitiated.
	ErrRemoteUnsupported = errors.New("postmsg: remote rejected our reset as unsupported")
	// ErrMalformedResetComplete names a ResetComplete payload that is not
	// exactly 6 bytes. Control answers that case with an UnsupportedError
	// message and does not return this error.
	ErrMalformedResetComplete = errors.New("postmsg: malformed ResetComplete payload")

	// ErrInvalidHandler is returned by On/Off when handler is not callable
	// (nil).
	ErrInvalidHandler = errors.New("postmsg: handler must not be nil")

	// ErrInvalidConfig is returned by Config.Validate when options conflict.
	ErrInvalidConfig = errors.New("postmsg: invalid configuration")

	// ErrSendAppMessageUnavailable documents, for callers that probe for it
	// via an interface assertion, that no direct "send arbitrary app
	// message" escape hatch exists on Client. Open Question 4.
	ErrSendAppMessageUnavailable = errors.New("postmsg: sending raw app messages directly is not supported")
)
