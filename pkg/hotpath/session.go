package hotpath

import (
	"errors"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/hotpath/internal/config"
	"github.com/coral-mesh/hotpath/internal/logging"
	"github.com/coral-mesh/hotpath/internal/stats"
	"github.com/coral-mesh/hotpath/pkg/hotpath/report"
)

// ErrSessionActive is returned by Start while another session holds
// the process-wide slot. Running two overlapping sessions is a
// programming error, not a condition to queue or merge.
var ErrSessionActive = errors.New("hotpath: a profiling session is already active")

// stopTimeout bounds the wait for the worker's final drain. A healthy
// worker responds in microseconds; the bound only protects teardown
// from a wedged process.
const stopTimeout = 5 * time.Second

// session is the process-wide state shared between guards, the
// worker, and query callers. Guards reach it only through the
// singleton slot, never by direct reference.
type session struct {
	cfg    config.Config
	mode   report.Mode
	caller string
	start  time.Time
	logger zerolog.Logger

	measCh     chan Measurement
	queryCh    chan query
	shutdownCh chan struct{}
	doneCh     chan map[string]*stats.FunctionStats

	// closed flips before shutdown is signaled; guards observing it
	// stop sending.
	closed  atomic.Bool
	dropped atomic.Uint64
}

// slot is the singleton holding the active session. The lock is taken
// only for coarse, infrequent operations: start, stop, and query
// dispatch. The guard fast path does one read-lock acquisition.
var slot struct {
	mu sync.RWMutex
	s  *session
}

func activeSession() *session {
	slot.mu.RLock()
	s := slot.s
	slot.mu.RUnlock()
	return s
}

// send hands a measurement to the worker without ever blocking or
// panicking: a full channel or a session torn down mid-send drops the
// sample. Losing a sample under pathological load beats stalling the
// instrumented code.
func send(m Measurement) {
	s := activeSession()
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.measCh <- m:
	default:
		s.dropped.Add(1)
	}
}

// Session is the handle for one profiling run. Dropping it via Stop
// drains the worker, renders the report, and frees the slot for a new
// session.
type Session struct {
	s        *session
	reporter Reporter
	wrapper  *Guard
	server   *Server
	stopOnce sync.Once
}

// Option adjusts session configuration at Start.
type Option func(*options)

type options struct {
	cfg       config.Config
	caller    string
	reporter  Reporter
	logger    zerolog.Logger
	loggerSet bool
}

// WithMode selects the profiling mode. Exactly one mode is active per
// session; the default is timing.
func WithMode(m report.Mode) Option {
	return func(o *options) { o.cfg.Mode = string(m) }
}

// WithPercentiles sets the report's percentile columns.
func WithPercentiles(ps ...int) Option {
	return func(o *options) { o.cfg.Percentiles = ps }
}

// WithFormat selects the report output format.
func WithFormat(f report.Format) Option {
	return func(o *options) { o.cfg.Format = string(f) }
}

// WithDisplayLimit bounds the number of report rows (0 = unlimited).
func WithDisplayLimit(n int) Option {
	return func(o *options) { o.cfg.DisplayLimit = n }
}

// WithExclusiveAccounting switches nested allocation accounting to
// self-only: an outer call's totals exclude nested guarded calls.
func WithExclusiveAccounting() Option {
	return func(o *options) { o.cfg.Exclusive = true }
}

// WithHTTPPort serves the live metrics endpoint on the given port for
// the session's lifetime.
func WithHTTPPort(port int) Option {
	return func(o *options) { o.cfg.HTTPPort = port }
}

// WithCallerName overrides the session name shown in the report.
func WithCallerName(name string) Option {
	return func(o *options) { o.caller = name }
}

// WithReporter replaces the format-derived reporter with a
// user-supplied sink.
func WithReporter(r Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithLogger injects a logger. The engine is silent by default.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
		o.loggerSet = true
	}
}

// WithConfig replaces the whole configuration in one step, e.g. one
// produced by a config file.
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// Start begins a profiling session: it installs the process-wide
// session state, spawns the aggregation worker, and arms a wrapper
// guard bracketing the whole session so percentage-of-total is
// computed against tracked work rather than wall-clock time.
//
// Configuration is resolved as defaults, then HOTPATH_* environment
// variables, then options. Start fails with ErrSessionActive if a
// session is already running.
func Start(opts ...Option) (*Session, error) {
	o := options{
		cfg:    config.Default(),
		logger: logging.Nop(),
	}
	if err := o.cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if !o.loggerSet {
		// HOTPATH_LOG turns on diagnostics without touching host code.
		if level := os.Getenv("HOTPATH_LOG"); level != "" {
			o.logger = logging.New(logging.Config{Level: level, Pretty: true})
		}
	}
	if o.caller == "" {
		o.caller = callerName(2)
	}
	if o.reporter == nil {
		r, err := NewReporter(report.Format(o.cfg.Format), os.Stdout)
		if err != nil {
			return nil, err
		}
		o.reporter = r
	}

	s := &session{
		cfg:        o.cfg,
		mode:       report.Mode(o.cfg.Mode),
		caller:     o.caller,
		start:      time.Now(),
		logger:     logging.WithComponent(o.logger, "hotpath"),
		measCh:     make(chan Measurement, o.cfg.ChannelCapacity),
		queryCh:    make(chan query),
		shutdownCh: make(chan struct{}, 1),
		doneCh:     make(chan map[string]*stats.FunctionStats, 1),
	}

	slot.mu.Lock()
	if slot.s != nil {
		slot.mu.Unlock()
		return nil, ErrSessionActive
	}
	slot.s = s
	slot.mu.Unlock()

	go s.run()

	h := &Session{s: s, reporter: o.reporter}
	h.wrapper = startGuard(o.caller, true)

	if o.cfg.HTTPPort > 0 {
		h.server = NewServer(s.logger, o.cfg.HTTPPort)
		if err := h.server.Start(); err != nil {
			// The endpoint is an observer; losing it must not fail
			// the session.
			s.logger.Error().Err(err).Msg("failed to start metrics server")
			h.server = nil
		}
	}

	s.logger.Info().
		Str("mode", o.cfg.Mode).
		Str("caller", o.caller).
		Msg("profiling session started")

	return h, nil
}

// MustStart is Start, panicking on error. Starting a second
// concurrent session is a programmer contract violation and fails
// fast here.
func MustStart(opts ...Option) *Session {
	// Resolve the caller here: Start's own resolution would name this
	// function. An explicit WithCallerName in opts still wins.
	opts = append([]Option{WithCallerName(callerName(2))}, opts...)
	h, err := Start(opts...)
	if err != nil {
		panic(err)
	}
	return h
}

// Stop ends the session: it closes the wrapper guard, detaches the
// measurement path, drains the worker, reports the final aggregate,
// and clears the singleton slot. Stop is idempotent; concurrent or
// repeated calls run the drain/report cycle exactly once.
func (h *Session) Stop() {
	h.stopOnce.Do(h.stop)
}

func (h *Session) stop() {
	s := h.s

	// The wrapper measurement must land before the sender detaches.
	h.wrapper.End()
	s.closed.Store(true)

	select {
	case s.shutdownCh <- struct{}{}:
	default:
	}

	elapsed := time.Since(s.start)

	var agg map[string]*stats.FunctionStats
	select {
	case agg = <-s.doneCh:
	case <-time.After(stopTimeout):
		s.logger.Error().Msg("worker did not drain in time; skipping report")
	}

	if agg != nil {
		rep := report.Build(
			s.mode,
			uint64(elapsed),
			s.caller,
			s.cfg.Percentiles,
			s.cfg.DisplayLimit,
			agg,
		)
		if err := h.reporter.Report(rep); err != nil {
			// Reporting is best effort; teardown continues.
			s.logger.Error().Err(err).Msg("reporter failed")
		}
		if d := s.dropped.Load(); d > 0 {
			s.logger.Warn().
				Uint64("dropped", d).
				Msg("measurements dropped under channel saturation")
		}
	}

	if h.server != nil {
		if err := h.server.Stop(); err != nil {
			s.logger.Error().Err(err).Msg("failed to stop metrics server")
		}
	}

	slot.mu.Lock()
	if slot.s == s {
		slot.s = nil
	}
	slot.mu.Unlock()

	s.logger.Info().Dur("elapsed", elapsed).Msg("profiling session stopped")
}

// callerName resolves the function skip frames above it.
func callerName(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "hotpath"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "hotpath"
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
