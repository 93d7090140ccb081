package local

import (
	"time"

	"github.com/rs/zerolog"
)

// Defaults for launcher options.
const (
	defaultIP          = "127.0.0.1"
	defaultGracePeriod = 5 * time.Second
)

// launcherOptions holds resolved configuration for NewLauncher.
type launcherOptions struct {
	logger  zerolog.Logger
	ip      string
	connDir string
	env     map[string]string
	grace   time.Duration
}

// Option configures a Launcher.
type Option func(*launcherOptions)

func resolveOptions(opts ...Option) launcherOptions {
	o := launcherOptions{
		logger: zerolog.Nop(),
		ip:     defaultIP,
		grace:  defaultGracePeriod,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger routes the transport's structured logs to logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *launcherOptions) {
		o.logger = logger
	}
}

// WithIP sets the address kernel channels bind to. The default is
// loopback; anything else exposes the kernel to the network.
func WithIP(ip string) Option {
	return func(o *launcherOptions) {
		if ip != "" {
			o.ip = ip
		}
	}
}

// WithConnectionDir sets the directory connection files are written
// under. The default is the system temp directory.
func WithConnectionDir(dir string) Option {
	return func(o *launcherOptions) {
		o.connDir = dir
	}
}

// WithEnv adds environment variables to every launched kernel, on top
// of the client's environment and the spec's own env block.
func WithEnv(env map[string]string) Option {
	return func(o *launcherOptions) {
		o.env = env
	}
}

// WithGracePeriod sets how long a clean shutdown waits for the kernel
// to exit before killing it.
func WithGracePeriod(d time.Duration) Option {
	return func(o *launcherOptions) {
		if d > 0 {
			o.grace = d
		}
	}
}
