package orchestrator

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/conductor/internal/admission"
	"github.com/ShayCichocki/conductor/internal/approval"
	"github.com/ShayCichocki/conductor/internal/clarify"
	"github.com/ShayCichocki/conductor/internal/convergence"
	"github.com/ShayCichocki/conductor/internal/filelock"
	"github.com/ShayCichocki/conductor/internal/hierarchy"
	"github.com/ShayCichocki/conductor/internal/metrics"
	"github.com/ShayCichocki/conductor/internal/notify"
	"github.com/ShayCichocki/conductor/internal/state"
)

// Defaults for the background watcher and sweepers.
const (
	DefaultBackgroundMaxWait = 30 * time.Minute
	DefaultSweepInterval     = time.Minute
	DefaultNotifyTimeout     = 5 * time.Second
)

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*options)

type options struct {
	graph           *hierarchy.Graph
	registry        *filelock.Registry
	extractor       *filelock.Extractor
	admissionOpts   []admission.Option
	convergenceOpts []convergence.Option
	gate            *approval.Gate
	protocol        *clarify.Protocol
	store           state.TaskStore
	sink            notify.Sink
	metrics         *metrics.Metrics
	events          *EventEmitter
	log             zerolog.Logger
	now             func() time.Time

	backgroundWatch   bool
	backgroundMaxWait time.Duration
	sweepInterval     time.Duration
	lockMaxAge        time.Duration
	clarifyMaxAge     time.Duration
	ledgerPath        string
}

// WithGraph sets the authorization graph. Defaults to hierarchy.Default().
func WithGraph(g *hierarchy.Graph) Option {
	return func(o *options) { o.graph = g }
}

// WithRegistry sets the file lock registry.
func WithRegistry(r *filelock.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithExtractor sets the prompt file extractor.
func WithExtractor(e *filelock.Extractor) Option {
	return func(o *options) { o.extractor = e }
}

// WithAdmission configures the admission controller built over the tracker.
func WithAdmission(opts ...admission.Option) Option {
	return func(o *options) { o.admissionOpts = append(o.admissionOpts, opts...) }
}

// WithConvergence configures the detectors built over the session client.
func WithConvergence(opts ...convergence.Option) Option {
	return func(o *options) { o.convergenceOpts = append(o.convergenceOpts, opts...) }
}

// WithGate sets the approval gate. Its ledger receives verifier verdicts.
func WithGate(g *approval.Gate) Option {
	return func(o *options) { o.gate = g }
}

// WithProtocol sets the clarification protocol.
func WithProtocol(p *clarify.Protocol) Option {
	return func(o *options) { o.protocol = p }
}

// WithStore persists task records. Without one, tasks live only in memory.
func WithStore(s state.TaskStore) Option {
	return func(o *options) { o.store = s }
}

// WithNotifier sets the sink for toasts and in-session notes.
func WithNotifier(s notify.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithEvents sets the event emitter.
func WithEvents(e *EventEmitter) Option {
	return func(o *options) { o.events = e }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock sets the time source for task timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithBackgroundWatch controls whether background tasks are watched by an
// internal detector. Disable it when an external manager calls
// CompleteBackground.
func WithBackgroundWatch(on bool) Option {
	return func(o *options) { o.backgroundWatch = on }
}

// WithBackgroundMaxWait sets the hard ceiling for watched background tasks.
func WithBackgroundMaxWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.backgroundMaxWait = d
		}
	}
}

// WithSweep sets the sweeper interval and the ages after which file locks
// and clarification sessions are reclaimed. Zero values keep defaults.
func WithSweep(interval, lockMaxAge, clarifyMaxAge time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.sweepInterval = interval
		}
		if lockMaxAge > 0 {
			o.lockMaxAge = lockMaxAge
		}
		if clarifyMaxAge > 0 {
			o.clarifyMaxAge = clarifyMaxAge
		}
	}
}

// WithLedgerWatch reloads the approval ledger when the file at path changes.
func WithLedgerWatch(path string) Option {
	return func(o *options) { o.ledgerPath = path }
}

func defaultOptions() *options {
	return &options{
		log:               zerolog.Nop(),
		now:               time.Now,
		backgroundWatch:   true,
		backgroundMaxWait: DefaultBackgroundMaxWait,
		sweepInterval:     DefaultSweepInterval,
		lockMaxAge:        filelock.DefaultStaleAfter,
		clarifyMaxAge:     clarify.DefaultStaleAfter,
	}
}
