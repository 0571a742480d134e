package postmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeControlSender records every dict enqueued, standing in for Sender so
// control.go's state machine can be tested without a LowerTransport.
type fakeControlSender struct {
	enqueued []map[string]any
}

func (f *fakeControlSender) enqueueControl(dict map[string]any) {
	f.enqueued = append(f.enqueued, dict)
}

func (f *fakeControlSender) last() map[string]any {
	if len(f.enqueued) == 0 {
		return nil
	}
	return f.enqueued[len(f.enqueued)-1]
}

func newTestControl(t *testing.T) (*Control, *fakeControlSender, *Config) {
	t.Helper()
	cfg := defaultConfig()
	cfg.metrics = newFakeMetrics()
	bus := NewEventBus()
	sender := &fakeControlSender{}
	var fatal error
	c := newControl(cfg, bus, sender, func(err error) { fatal = err })
	c.bindReceiver(newReceiver(bus, cfg.metrics, cfg.logger))
	_ = fatal
	return c, sender, cfg
}

func TestControlStartsDisconnected(t *testing.T) {
	c, _, _ := newTestControl(t)
	assert.Equal(t, StateDisconnected, c.State())
	v, tx, rx := c.Session()
	assert.Zero(t, v)
	assert.Zero(t, tx)
	assert.Zero(t, rx)
}

func TestControlReadyMovesToLocalInitiatedAndSendsResetRequest(t *testing.T) {
	c, sender, _ := newTestControl(t)
	c.HandleReady()
	assert.Equal(t, StateAwaitingResetCompleteLocalInitiated, c.State())
	require.NotNil(t, sender.last())
	_, ok := sender.last()[keyResetRequest]
	assert.True(t, ok, "entering LocalInitiated should enqueue a ResetRequest")
}

func TestControlResetRequestFromDisconnectedIsIgnored(t *testing.T) {
	c, sender, _ := newTestControl(t)
	c.HandleControlMessage(keyResetRequest, nil)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, sender.enqueued)
}

func TestControlResetRequestFromOpenReentersRemoteInitiated(t *testing.T) {
	c, sender, _ := newTestControl(t)
	openSession(t, c, sender)

	c.HandleControlMessage(keyResetRequest, nil)
	assert.Equal(t, StateAwaitingResetCompleteRemoteInitiated, c.State())
	_, ok := sender.last()[keyResetComplete]
	assert.True(t, ok, "re-entering RemoteInitiated should resend ResetComplete")
}

func TestControlSuccessfulNegotiationOpensSession(t *testing.T) {
	c, sender, cfg := newTestControl(t)
	c.HandleReady()

	remote := resetCompleteParams{minVersion: 1, maxVersion: 1, maxTxChunkSize: 500, maxRxChunkSize: 800}
	c.HandleControlMessage(keyResetComplete, encodeResetComplete(remote))

	assert.Equal(t, StateSessionOpen, c.State())
	version, tx, rx := c.Session()
	assert.Equal(t, 1, version)
	assert.Equal(t, min(cfg.maxTxChunkSize, remote.maxRxChunkSize), tx)
	assert.Equal(t, min(cfg.maxRxChunkSize, remote.maxTxChunkSize), rx)
	assert.EqualValues(t, 1, cfg.metrics.GetHandshakesCompleted())
}

func TestControlNonOverlappingVersionSendsUnsupportedError(t *testing.T) {
	c, sender, _ := newTestControl(t)
	c.HandleReady()

	remote := resetCompleteParams{minVersion: 99, maxVersion: 100, maxTxChunkSize: 500, maxRxChunkSize: 500}
	c.HandleControlMessage(keyResetComplete, encodeResetComplete(remote))

	assert.Equal(t, StateAwaitingResetCompleteLocalInitiated, c.State(), "a rejected negotiation should not open the session")
	_, ok := sender.last()[keyUnsupportedError]
	assert.True(t, ok)
}

func TestControlMalformedResetCompleteSendsUnsupportedError(t *testing.T) {
	c, sender, _ := newTestControl(t)
	c.HandleReady()

	c.HandleControlMessage(keyResetComplete, []byte{1, 2, 3})
	_, ok := sender.last()[keyUnsupportedError]
	assert.True(t, ok)
	assert.Equal(t, StateAwaitingResetCompleteLocalInitiated, c.State())
}

func TestControlUnsupportedErrorFromRemoteInitiatedIsFatal(t *testing.T) {
	cfg := defaultConfig()
	cfg.metrics = newFakeMetrics()
	bus := NewEventBus()
	sender := &fakeControlSender{}
	var fatal error
	c := newControl(cfg, bus, sender, func(err error) { fatal = err })
	c.bindReceiver(newReceiver(bus, cfg.metrics, cfg.logger))

	c.HandleControlMessage(keyResetRequest, nil) // Disconnected: ignored, stays Disconnected
	c.transitionTo(StateAwaitingResetCompleteRemoteInitiated)

	c.HandleControlMessage(keyUnsupportedError, nil)
	assert.ErrorIs(t, fatal, ErrRemoteUnsupported)
}

func TestControlUnsupportedErrorFromOpenForcesLocalInitiated(t *testing.T) {
	c, sender, _ := newTestControl(t)
	openSession(t, c, sender)

	c.HandleControlMessage(keyUnsupportedError, nil)
	assert.Equal(t, StateAwaitingResetCompleteLocalInitiated, c.State())
}

func TestControlChunkWhileNotOpenIsIgnored(t *testing.T) {
	c, _, _ := newTestControl(t)
	c.HandleControlMessage(keyChunk, []byte{0, 0, 0, 0x80})
	assert.Equal(t, StateDisconnected, c.State())
}

func TestControlProtocolViolationForcesLocalInitiated(t *testing.T) {
	c, sender, cfg := newTestControl(t)
	openSession(t, c, sender)

	// A continuation chunk (isFirst=false) with no prior first chunk is a
	// sequencing violation.
	bad := buildChunk(chunkHeader{n: 1, isFirst: false}, []byte{'x'})
	c.HandleControlMessage(keyChunk, bad)

	assert.Equal(t, StateAwaitingResetCompleteLocalInitiated, c.State())
	assert.EqualValues(t, 1, cfg.metrics.GetProtocolViolations())
}

func TestControlRemoteInitiatedResetCompleteReopensSession(t *testing.T) {
	c, sender, cfg := newTestControl(t)
	openSession(t, c, sender)

	// Remote renegotiates: an inbound ResetRequest while open sends us into
	// RemoteInitiated (and resends our own ResetComplete).
	c.HandleControlMessage(keyResetRequest, nil)
	require.Equal(t, StateAwaitingResetCompleteRemoteInitiated, c.State())
	sentBefore := len(sender.enqueued)

	remote := resetCompleteParams{minVersion: 1, maxVersion: 1, maxTxChunkSize: 400, maxRxChunkSize: 600}
	c.HandleControlMessage(keyResetComplete, encodeResetComplete(remote))

	assert.Equal(t, StateSessionOpen, c.State(), "the remote's ResetComplete should complete the renegotiation, not be ignored")
	assert.Len(t, sender.enqueued, sentBefore, "no ResetComplete resend on the RemoteInitiated completion path")
	version, tx, rx := c.Session()
	assert.Equal(t, 1, version)
	assert.Equal(t, min(cfg.maxTxChunkSize, remote.maxRxChunkSize), tx)
	assert.Equal(t, min(cfg.maxRxChunkSize, remote.maxTxChunkSize), rx)
	assert.EqualValues(t, 2, cfg.metrics.GetHandshakesCompleted())
}

func TestControlRemoteInitiatedMalformedResetCompleteSendsUnsupportedError(t *testing.T) {
	c, sender, _ := newTestControl(t)
	openSession(t, c, sender)
	c.HandleControlMessage(keyResetRequest, nil)
	require.Equal(t, StateAwaitingResetCompleteRemoteInitiated, c.State())

	c.HandleControlMessage(keyResetComplete, []byte{1, 2, 3})
	_, ok := sender.last()[keyUnsupportedError]
	assert.True(t, ok)
	assert.Equal(t, StateAwaitingResetCompleteRemoteInitiated, c.State())
}

func TestControlRemoteInitiatedNonOverlappingVersionSendsUnsupportedError(t *testing.T) {
	c, sender, _ := newTestControl(t)
	openSession(t, c, sender)
	c.HandleControlMessage(keyResetRequest, nil)
	require.Equal(t, StateAwaitingResetCompleteRemoteInitiated, c.State())

	remote := resetCompleteParams{minVersion: 99, maxVersion: 100, maxTxChunkSize: 500, maxRxChunkSize: 500}
	c.HandleControlMessage(keyResetComplete, encodeResetComplete(remote))

	assert.Equal(t, StateAwaitingResetCompleteRemoteInitiated, c.State())
	_, ok := sender.last()[keyUnsupportedError]
	assert.True(t, ok)
}

func TestControlRetryExhaustionDefaultTargetsDisconnected(t *testing.T) {
	c, sender, _ := newTestControl(t)
	openSession(t, c, sender)
	c.forceDisconnectedOrLocalInitiated()
	assert.Equal(t, StateDisconnected, c.State())
}

func TestControlRetryExhaustionLocalInitiatedTarget(t *testing.T) {
	cfg := defaultConfig()
	cfg.metrics = newFakeMetrics()
	cfg.retryExhaustionTarget = RetryExhaustionLocalInitiated
	bus := NewEventBus()
	sender := &fakeControlSender{}
	c := newControl(cfg, bus, sender, func(error) {})
	c.bindReceiver(newReceiver(bus, cfg.metrics, cfg.logger))

	openSession(t, c, sender)
	c.forceDisconnectedOrLocalInitiated()
	assert.Equal(t, StateAwaitingResetCompleteLocalInitiated, c.State())
}

// openSession drives c from Disconnected to SessionOpen via a successful
// negotiation, for tests that need an already-open session.
func openSession(t *testing.T, c *Control, sender *fakeControlSender) {
	t.Helper()
	c.HandleReady()
	remote := resetCompleteParams{minVersion: 1, maxVersion: 1, maxTxChunkSize: 500, maxRxChunkSize: 500}
	c.HandleControlMessage(keyResetComplete, encodeResetComplete(remote))
	require.Equal(t, StateSessionOpen, c.State())
}

func encodeResetComplete(p resetCompleteParams) []byte {
	return []byte{
		byte(p.minVersion),
		byte(p.maxVersion),
		byte(p.maxTxChunkSize >> 8),
		byte(p.maxTxChunkSize & 0xff),
		byte(p.maxRxChunkSize >> 8),
		byte(p.maxRxChunkSize & 0xff),
	}
}
