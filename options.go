package kernelrun

import (
	"time"

	"github.com/rs/zerolog"
)

// Defaults for kernel construction options.
const (
	defaultUsername     = "kernelrun"
	defaultStartTimeout = 30 * time.Second
	defaultStopTimeout  = 10 * time.Second
)

// kernelOptions holds resolved configuration for New.
type kernelOptions struct {
	logger       zerolog.Logger
	username     string
	startTimeout time.Duration
	stopTimeout  time.Duration
}

// Option configures a Kernel at construction.
type Option func(*kernelOptions)

// resolveOptions applies functional options over the defaults.
func resolveOptions(opts ...Option) kernelOptions {
	o := kernelOptions{
		logger:       zerolog.Nop(),
		username:     defaultUsername,
		startTimeout: defaultStartTimeout,
		stopTimeout:  defaultStopTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger routes the client's structured logs to logger. The default
// logger discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *kernelOptions) {
		o.logger = logger
	}
}

// WithUsername sets the username stamped on outbound message headers.
func WithUsername(name string) Option {
	return func(o *kernelOptions) {
		if name != "" {
			o.username = name
		}
	}
}

// WithStartTimeout bounds how long a start waits for the kernel to
// answer the readiness probe.
func WithStartTimeout(d time.Duration) Option {
	return func(o *kernelOptions) {
		if d > 0 {
			o.startTimeout = d
		}
	}
}

// WithStopTimeout bounds clean-shutdown waits during Stop and Shutdown.
func WithStopTimeout(d time.Duration) Option {
	return func(o *kernelOptions) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

// execOptions holds resolved per-execution configuration.
type execOptions struct {
	stdin   func(InputRequest)
	output  func()
	done    func(error)
	timeout time.Duration
}

// ExecOption configures a single execution.
type ExecOption func(*execOptions)

func resolveExecOptions(opts ...ExecOption) execOptions {
	var o execOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithStdin permits the kernel to request input during this execution
// and installs the handler invoked for each input request. Without it
// the execution is submitted with stdin disallowed.
func WithStdin(handler func(InputRequest)) ExecOption {
	return func(o *execOptions) {
		o.stdin = handler
	}
}

// WithOutputNotify invokes fn after each broadcast message is folded
// into the record. Useful for redraw triggers.
func WithOutputNotify(fn func()) ExecOption {
	return func(o *execOptions) {
		o.output = fn
	}
}

// WithDoneNotify invokes fn exactly once when the execution finishes:
// nil after the kernel returned to idle (or reported an execution
// error), non-nil when the operation itself failed.
func WithDoneNotify(fn func(error)) ExecOption {
	return func(o *execOptions) {
		o.done = fn
	}
}

// WithExecTimeout bounds the whole execution. Zero means no bound
// beyond the kernel's own lifetime.
func WithExecTimeout(d time.Duration) ExecOption {
	return func(o *execOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}
