package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// defaultRequestTimeout bounds REST calls that carry no caller context
// deadline of their own.
const defaultRequestTimeout = 30 * time.Second

// launcherOptions holds resolved configuration for NewLauncher.
type launcherOptions struct {
	logger  zerolog.Logger
	client  *http.Client
	dialer  *websocket.Dialer
	token   string
	headers http.Header
}

// Option configures a Launcher.
type Option func(*launcherOptions)

func resolveOptions(opts ...Option) launcherOptions {
	o := launcherOptions{
		logger: zerolog.Nop(),
		client: &http.Client{Timeout: defaultRequestTimeout},
		dialer: websocket.DefaultDialer,
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

// WithToken authenticates every request, websocket dial included, with
// the server's token.
func WithToken(token string) Option {
	return func(o *launcherOptions) {
		o.token = token
	}
}

// WithHTTPClient substitutes the client used for REST calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *launcherOptions) {
		if client != nil {
			o.client = client
		}
	}
}

// WithDialer substitutes the websocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(o *launcherOptions) {
		if dialer != nil {
			o.dialer = dialer
		}
	}
}

// WithHeader adds a header to every request, websocket dial included.
func WithHeader(key, value string) Option {
	return func(o *launcherOptions) {
		if o.headers == nil {
			o.headers = make(http.Header)
		}
		o.headers.Add(key, value)
	}
}
