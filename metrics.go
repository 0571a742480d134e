package postmsg

import "sync/atomic"

// Metrics is an interface for tracking transport statistics. Sender,
// Receiver, and Control call Increment* and collectors read via Get*.
type Metrics interface {
	IncrementChunksSent()
	IncrementChunksReceived()
	IncrementBytesSent(n int64)
	IncrementBytesReceived(n int64)
	IncrementControlRetries()
	IncrementObjectRetries()
	IncrementHandshakesCompleted()
	IncrementProtocolViolations()
	IncrementObjectsDropped()

	GetChunksSent() int64
	GetChunksReceived() int64
	GetBytesSent() int64
	GetBytesReceived() int64
	GetControlRetries() int64
	GetObjectRetries() int64
	GetHandshakesCompleted() int64
	GetProtocolViolations() int64
	GetObjectsDropped() int64
}

// DefaultMetrics implements Metrics with atomic counters.
type DefaultMetrics struct {
	chunksSent            int64
	chunksReceived        int64
	bytesSent             int64
	bytesReceived         int64
	controlRetries        int64
	objectRetries         int64
	handshakesCompleted   int64
	protocolViolations    int64
	objectsDropped        int64
}

// NewDefaultMetrics creates a new DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementChunksSent()         { atomic.AddInt64(&m.chunksSent, 1) }
func (m *DefaultMetrics) IncrementChunksReceived()     { atomic.AddInt64(&m.chunksReceived, 1) }
func (m *DefaultMetrics) IncrementBytesSent(n int64)    { atomic.AddInt64(&m.bytesSent, n) }
func (m *DefaultMetrics) IncrementBytesReceived(n int64) { atomic.AddInt64(&m.bytesReceived, n) }
func (m *DefaultMetrics) IncrementControlRetries()       { atomic.AddInt64(&m.controlRetries, 1) }
func (m *DefaultMetrics) IncrementObjectRetries()        { atomic.AddInt64(&m.objectRetries, 1) }
func (m *DefaultMetrics) IncrementHandshakesCompleted()  { atomic.AddInt64(&m.handshakesCompleted, 1) }
func (m *DefaultMetrics) IncrementProtocolViolations()   { atomic.AddInt64(&m.protocolViolations, 1) }
func (m *DefaultMetrics) IncrementObjectsDropped()       { atomic.AddInt64(&m.objectsDropped, 1) }

func (m *DefaultMetrics) GetChunksSent() int64          { return atomic.LoadInt64(&m.chunksSent) }
func (m *DefaultMetrics) GetChunksReceived() int64      { return atomic.LoadInt64(&m.chunksReceived) }
func (m *DefaultMetrics) GetBytesSent() int64            { return atomic.LoadInt64(&m.bytesSent) }
func (m *DefaultMetrics) GetBytesReceived() int64        { return atomic.LoadInt64(&m.bytesReceived) }
func (m *DefaultMetrics) GetControlRetries() int64       { return atomic.LoadInt64(&m.controlRetries) }
func (m *DefaultMetrics) GetObjectRetries() int64        { return atomic.LoadInt64(&m.objectRetries) }
func (m *DefaultMetrics) GetHandshakesCompleted() int64  { return atomic.LoadInt64(&m.handshakesCompleted) }
func (m *DefaultMetrics) GetProtocolViolations() int64   { return atomic.LoadInt64(&m.protocolViolations) }
func (m *DefaultMetrics) GetObjectsDropped() int64       { return atomic.LoadInt64(&m.objectsDropped) }
