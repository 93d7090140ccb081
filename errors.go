package kernelrun

import "errors"

// Sentinel errors for kernel operations.
var (
	// ErrNotRunning indicates an operation that needs a live kernel was
	// invoked while the kernel is stopped, starting, or failed.
	ErrNotRunning = errors.New("kernelrun: kernel not running")

	// ErrAlreadyRunning indicates Start was called on a kernel that is
	// already started.
	ErrAlreadyRunning = errors.New("kernelrun: kernel already running")

	// ErrShutdown indicates the client has been shut down and cannot be
	// used again.
	ErrShutdown = errors.New("kernelrun: client shut down")

	// ErrSpecNotFound indicates no kernel specification matches the
	// requested name. Use Kernel.Missing to test for it before starting.
	ErrSpecNotFound = errors.New("kernelrun: kernel spec not found")
)

// StartError reports a failed kernel start. Wraps the underlying cause so
// consumers can errors.Is/As through it; Phase says how far startup got.
//
// The same error is retained on the kernel and returned by [Kernel.Err]
// until the next start attempt.
type StartError struct {
	// Phase is "launch" (transport could not be brought up) or "ready"
	// (transport up, kernel never answered the readiness probe).
	Phase string
	Err   error
}

func (e *StartError) Error() string {
	return "kernelrun: start (" + e.Phase + "): " + e.Err.Error()
}

func (e *StartError) Unwrap() error { return e.Err }
