package postmsg

import (
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	// MinVersion is the lowest protocol version this implementation speaks.
	MinVersion = 1
	// MaxVersion is the highest protocol version this implementation speaks.
	MaxVersion = 1
	// MaxTxChunkSize is the largest chunk payload this implementation will
	// ever send, before negotiation.
	MaxTxChunkSize = 1000
	// MaxRxChunkSize is the largest chunk payload this implementation will
	// ever accept, before negotiation.
	MaxRxChunkSize = 1000

	// DefaultRetryBackoff is the fixed delay spec §4.2 mandates between
	// retries of a failed send.
	DefaultRetryBackoff = 1000 * time.Millisecond
	// DefaultMaxRetries is the number of retries (beyond the initial
	// attempt) spec §4.2/§7 allows before a unit is abandoned.
	DefaultMaxRetries = 3
)

// RetryExhaustionTarget selects which Control state a control message's
// retry exhaustion forces the session into. Spec §9 open question 1 leaves
// this ambiguous; both readings are implemented and selectable.
type RetryExhaustionTarget int

const (
	// RetryExhaustionDisconnected is the literal spec §4.2 behavior: a
	// control message that exhausts its retries forces Control all the way
	// to Disconnected, which has no outbound action of its own.
	RetryExhaustionDisconnected RetryExhaustionTarget = iota
	// RetryExhaustionLocalInitiated forces Control into
	// StateAwaitingResetCompleteLocalInitiated instead, so a fresh
	// ResetRequest is sent immediately without waiting for an external
	// ready-equivalent signal.
	RetryExhaustionLocalInitiated
)

// Option configures a Client constructed by New.
type Option func(*Config)

// Config holds the negotiable and ambient settings for a Client. The zero
// value is never used directly; New always starts from defaultConfig and
// applies Options on top, mirroring the teacher's applyConfig pattern.
type Config struct {
	minVersion     int
	maxVersion     int
	maxTxChunkSize int
	maxRxChunkSize int

	retryBackoff          time.Duration
	maxRetries            int
	retryExhaustionTarget RetryExhaustionTarget

	logger    Logger
	metrics   Metrics
	scheduler Scheduler
	schema    *jsonschema.Schema
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.minVersion <= 0 || c.maxVersion <= 0 || c.minVersion > c.maxVersion {
		return ErrInvalidConfig
	}
	if c.maxTxChunkSize <= 0 || c.maxRxChunkSize <= 0 {
		return ErrInvalidConfig
	}
	if c.maxRetries < 0 {
		return ErrInvalidConfig
	}
	if c.retryBackoff < 0 {
		return ErrInvalidConfig
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		minVersion:            MinVersion,
		maxVersion:            MaxVersion,
		maxTxChunkSize:        MaxTxChunkSize,
		maxRxChunkSize:        MaxRxChunkSize,
		retryBackoff:          DefaultRetryBackoff,
		maxRetries:            DefaultMaxRetries,
		retryExhaustionTarget: RetryExhaustionDisconnected,
		logger:                defaultLogger{},
		metrics:               NewDefaultMetrics(),
		scheduler:             NewRealScheduler(),
	}
}

func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithVersionRange overrides the local [min,max] protocol version capability
// advertised in ResetComplete. Both bounds default to 1.
func WithVersionRange(min, max int) Option {
	return func(c *Config) {
		if min > 0 && max >= min {
			c.minVersion, c.maxVersion = min, max
		}
	}
}

// WithChunkSizes overrides the local maximum tx/rx chunk sizes advertised in
// ResetComplete. Both default to 1000 bytes.
func WithChunkSizes(maxTx, maxRx int) Option {
	return func(c *Config) {
		if maxTx > 0 {
			c.maxTxChunkSize = maxTx
		}
		if maxRx > 0 {
			c.maxRxChunkSize = maxRx
		}
	}
}

// WithRetryBackoff overrides the fixed delay between retries of a failed
// send. Spec §4.2 specifies 1000ms; tests typically override this to 0 and
// supply a fake Scheduler instead of changing real time.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.retryBackoff = d
		}
	}
}

// WithMaxRetries overrides the number of retries (beyond the first attempt)
// allowed before a send is abandoned. Spec §4.2/§7 specifies 3.
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryExhaustionTarget selects which state a control message's retry
// exhaustion forces Control into. See RetryExhaustionTarget.
func WithRetryExhaustionTarget(t RetryExhaustionTarget) Option {
	return func(c *Config) {
		c.retryExhaustionTarget = t
	}
}

// WithLogger sets the structured logger used for "log and drop" paths and
// state-transition diagnostics. If unset, a zerolog-backed default is used.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets a custom Metrics implementation for tracking chunk,
// retry, and handshake counters. If unset, atomic in-memory counters are
// used.
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithScheduler injects a Scheduler for retry timers, letting tests
// deterministically advance virtual time instead of sleeping.
func WithScheduler(s Scheduler) Option {
	return func(c *Config) {
		if s != nil {
			c.scheduler = s
		}
	}
}

// WithSchema attaches a compiled JSON schema that every object passed to
// PostMessage must satisfy. The object is serialized first and the value
// decoded back from that JSON is validated; a failure surfaces
// synchronously, exactly like a stringification failure, and it never
// changes the wire format.
func WithSchema(schema *jsonschema.Schema) Option {
	return func(c *Config) {
		c.schema = schema
	}
}
