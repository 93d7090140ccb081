package kernelrun

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// host runs operations on goroutines tied to its own lifetime. It is the
// single bridge between caller-facing methods and scheduled work: a
// panic in work never unwinds into the caller, an abandoned wait leaves
// the work to clean itself up, and closing the host cancels and joins
// everything outstanding.
type host struct {
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newHost(log zerolog.Logger) *host {
	ctx, cancel := context.WithCancel(context.Background())
	return &host{log: log, ctx: ctx, cancel: cancel}
}

// do runs work on a host goroutine and blocks until it finishes, the
// caller's ctx is done, or the host closes. When do stops waiting early
// the work's context is cancelled and the work unwinds in the
// background.
func (h *host) do(ctx context.Context, name string, work func(context.Context) error) error {
	if err := h.add(); err != nil {
		return err
	}
	wctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(h.ctx, cancel)

	done := make(chan error, 1)
	go func() {
		defer h.wg.Done()
		done <- h.run(wctx, name, work)
		cancel()
		stop()
	}()

	select {
	case err := <-done:
		return err
	case <-wctx.Done():
		// The worker cancels wctx after posting its result, so both
		// cases can be ready at once; a posted result always wins.
		select {
		case err := <-done:
			return err
		default:
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrShutdown
	}
}

// submit schedules work and returns immediately. cb, when non-nil, runs
// with the work's result on the work goroutine, whenever that is. A
// positive timeout cancels the work's context on expiry and logs a
// warning; the error still reaches cb.
func (h *host) submit(name string, timeout time.Duration, work func(context.Context) error, cb func(error)) {
	if err := h.add(); err != nil {
		if cb != nil {
			cb(err)
		}
		return
	}
	go func() {
		defer h.wg.Done()
		ctx := h.ctx
		cancel := context.CancelFunc(func() {})
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(h.ctx, timeout)
		}
		err := h.run(ctx, name, work)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			h.log.Warn().Str("op", name).Dur("timeout", timeout).Msg("operation timed out")
		}
		if cb != nil {
			cb(err)
		}
	}()
}

// run executes work with panic recovery.
func (h *host) run(ctx context.Context, name string, work func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().
				Str("op", name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("operation panicked")
			err = fmt.Errorf("kernelrun: %s panicked: %v", name, r)
		}
	}()
	return work(ctx)
}

func (h *host) add() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrShutdown
	}
	h.wg.Add(1)
	return nil
}

// close rejects new work, cancels what is outstanding, and joins the
// goroutines, bounded by ctx.
func (h *host) close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// doValue runs value-returning work through the host. On an early return
// (cancellation, host close) the zero value comes back and the work's
// late result is discarded.
func doValue[T any](h *host, ctx context.Context, name string, work func(context.Context) (T, error)) (T, error) {
	var out T
	err := h.do(ctx, name, func(ctx context.Context) error {
		v, err := work(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
