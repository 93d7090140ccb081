// Package filter provides composable middleware over kernel message
// streams. Tap wraps a transport so every received message is copied
// onto a channel, and the filter functions narrow that channel to the
// message granularity a consumer needs — transport debugging and event
// taps that must not disturb the client's own correlation.
package filter

import (
	"context"

	"github.com/dmora/kernelrun"
)

// outputTypes lists the broadcast message types that carry execution
// output rather than state bookkeeping.
var outputTypes = map[string]struct{}{
	kernelrun.MsgTypeStream:            {},
	kernelrun.MsgTypeDisplayData:       {},
	kernelrun.MsgTypeUpdateDisplayData: {},
	kernelrun.MsgTypeExecuteResult:     {},
	kernelrun.MsgTypeError:             {},
}

// IsOutput reports whether msgType is an output-bearing broadcast type
// (stream, display data, execute result, error).
func IsOutput(msgType string) bool {
	_, ok := outputTypes[msgType]
	return ok
}

// ByType returns a channel that only passes messages of the given types.
// Spawns a goroutine that exits when ctx is cancelled or ch is closed.
// The returned channel is closed when the goroutine exits.
func ByType(ctx context.Context, ch <-chan kernelrun.Message, types ...string) <-chan kernelrun.Message {
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return pipe(ctx, ch, func(msg kernelrun.Message) bool {
		_, ok := allowed[msg.Header.MsgType]
		return ok
	})
}

// ByParent returns a channel that only passes messages correlated to
// the request with the given id. Spawns a goroutine that exits when ctx
// is cancelled or ch is closed.
func ByParent(ctx context.Context, ch <-chan kernelrun.Message, id string) <-chan kernelrun.Message {
	return pipe(ctx, ch, func(msg kernelrun.Message) bool {
		return msg.ParentID() == id
	})
}

// Outputs returns a channel that passes only output-bearing messages,
// dropping status changes, input echoes, and other bookkeeping. Spawns
// a goroutine that exits when ctx is cancelled or ch is closed.
func Outputs(ctx context.Context, ch <-chan kernelrun.Message) <-chan kernelrun.Message {
	return pipe(ctx, ch, func(msg kernelrun.Message) bool {
		return IsOutput(msg.Header.MsgType)
	})
}

// pipe spawns a goroutine that reads from ch, passes messages matching
// the predicate to the returned channel, and closes it when ch closes
// or ctx is cancelled. Callers must either drain the returned channel
// or cancel ctx to avoid goroutine leaks. Messages accepted by the
// predicate may be silently dropped if ctx is cancelled mid-send.
func pipe(ctx context.Context, ch <-chan kernelrun.Message, accept func(kernelrun.Message) bool) <-chan kernelrun.Message {
	out := make(chan kernelrun.Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if accept(msg) && !trySend(ctx, out, msg) {
					return
				}
			}
		}
	}()
	return out
}

// trySend sends msg on out, returning true on success.
// Returns false if ctx is cancelled before the send completes.
func trySend(ctx context.Context, out chan<- kernelrun.Message, msg kernelrun.Message) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
