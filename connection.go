package kernelrun

import "context"

// SpecInfo is the pass-through result of a kernel specification lookup.
type SpecInfo struct {
	// Name is the registry name the spec was looked up under.
	Name string `json:"name"`

	// DisplayName is the human-readable kernel name.
	DisplayName string `json:"display_name"`

	// Language is the language the kernel executes.
	Language string `json:"language"`

	// Metadata carries any extra fields the spec declares.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Launcher brings kernels up.
//
// Implementations include the subprocess launcher (local), which spawns a
// kernel from its installed specification, and the server launcher
// (gateway), which starts kernels on a remote kernel server. A Launcher
// must be safe to call from multiple goroutines.
type Launcher interface {
	// Launch starts the named kernel and returns its connection. The
	// returned connection need not be ready yet; callers gate on
	// Connection.Ready.
	Launch(ctx context.Context, name string) (Connection, error)

	// LookupSpec resolves the named kernel specification without
	// starting anything. Returns an error wrapping ErrSpecNotFound when
	// the name is unknown.
	LookupSpec(ctx context.Context, name string) (SpecInfo, error)
}

// Connection is a live transport to one kernel. It delivers decoded
// messages; the wire encoding is the transport's business.
//
// Send and Recv are safe for concurrent use across channels; per channel,
// the client guarantees a single receiver.
type Connection interface {
	// Send delivers an outbound message on the given channel.
	Send(ctx context.Context, ch Channel, msg Message) error

	// Recv blocks for the next inbound message on the given channel.
	Recv(ctx context.Context, ch Channel) (Message, error)

	// Ready blocks until the kernel answers on its request channel,
	// bounded by ctx.
	Ready(ctx context.Context) error

	// Alive reports whether the kernel behind the connection still runs.
	Alive(ctx context.Context) (bool, error)

	// Interrupt interrupts the running kernel. It takes effect even
	// while requests are in flight.
	Interrupt(ctx context.Context) error

	// Restart restarts the kernel behind the same connection. Messages
	// pending from before the restart are never delivered.
	Restart(ctx context.Context) error

	// Shutdown stops the kernel. When now is false the kernel is asked
	// to exit cleanly; when true it is taken down immediately.
	Shutdown(ctx context.Context, now bool) error

	// Close releases transport resources. The connection is unusable
	// afterwards.
	Close() error
}
