package graph

import (
	"time"

	"github.com/dshills/langgraph-travel/graph/emit"
	"github.com/dshills/langgraph-travel/internal/log"
)

// Options configures Engine execution behavior.
//
// Zero values are valid: no step limit, no node timeout, no interrupts.
type Options struct {
	// MaxSteps limits node executions per Run/Resume/Inject call.
	// If 0, no limit is enforced (use with caution).
	MaxSteps int

	// NodeTimeout bounds a single node execution. 0 means unlimited.
	NodeTimeout time.Duration

	// InterruptBefore is the default interrupt-before set. Execution pauses
	// before any node in the set until the thread is resumed or injected.
	InterruptBefore []string

	// Metrics receives step latency, checkpoint, interrupt and run counters.
	Metrics *PrometheusMetrics

	// Logger receives engine warnings. Defaults to log.Default.
	Logger log.Logger
}

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine := graph.New(schema, st, emitter,
//	    graph.WithMaxSteps(50),
//	    graph.WithInterruptBefore("sensitive_tools"),
//	    graph.WithNodeTimeout(2*time.Minute),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	opts Options
}

// WithMaxSteps limits workflow execution to prevent infinite loops.
//
// When MaxSteps is exceeded the call returns EngineError with code
// "MAX_STEPS_EXCEEDED". The last written checkpoint stays valid and the
// thread can be resumed.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "max steps cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithInterruptBefore sets the engine's default interrupt-before set.
// A run can override it with the Interrupt run option.
func WithInterruptBefore(nodes ...string) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.InterruptBefore = append([]string(nil), nodes...)
		return nil
	}
}

// WithNodeTimeout sets the maximum execution time of one node.
//
// When exceeded, the node's context is cancelled and the call fails with
// code "NODE_TIMEOUT". No checkpoint is written for the attempt.
func WithNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.NodeTimeout = d
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine := graph.New(schema, st, emitter, graph.WithMetrics(metrics))
//
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}

// WithLogger sets the logger used for engine warnings.
func WithLogger(l log.Logger) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Logger = l
		return nil
	}
}

// RunOption customises a single Run, Resume or Inject call.
type RunOption func(*runOptions)

type runOptions struct {
	interrupts    []string
	interruptsSet bool
	config        RunConfig
	emitter       emit.Emitter
}

// Interrupt overrides the interrupt-before set for this call. The set is
// recorded on every checkpoint the call writes, so a later Resume without
// this option keeps honouring it.
func Interrupt(nodes ...string) RunOption {
	return func(o *runOptions) {
		o.interrupts = append([]string(nil), nodes...)
		o.interruptsSet = true
	}
}

// WithConfig passes the read-only run configuration handed to every node.
func WithConfig(cfg RunConfig) RunOption {
	return func(o *runOptions) {
		o.config = cfg
	}
}

// WithEmitter adds a per-call event sink in addition to the engine's
// emitter. Used to stream node completions to a client.
func WithEmitter(e emit.Emitter) RunOption {
	return func(o *runOptions) {
		o.emitter = e
	}
}

func buildRunOptions(opts []RunOption) runOptions {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
