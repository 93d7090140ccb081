package filter

import (
	"context"
	"sync"

	"github.com/dmora/kernelrun"
)

// tapConn wraps a Connection and copies every received message onto the
// tap channel. The copy never blocks the transport: when the tap falls
// behind, messages are dropped from the tap, not from the client.
type tapConn struct {
	kernelrun.Connection

	mu     sync.Mutex
	out    chan kernelrun.Message
	closed bool
}

// Tap wraps conn so every message it delivers is also observable on the
// returned channel. buffer sizes the tap; a full tap drops, it never
// backpressures the transport. The channel is closed when the wrapped
// connection closes.
func Tap(conn kernelrun.Connection, buffer int) (kernelrun.Connection, <-chan kernelrun.Message) {
	if buffer <= 0 {
		buffer = 64
	}
	t := &tapConn{
		Connection: conn,
		out:        make(chan kernelrun.Message, buffer),
	}
	return t, t.out
}

func (t *tapConn) Recv(ctx context.Context, ch kernelrun.Channel) (kernelrun.Message, error) {
	msg, err := t.Connection.Recv(ctx, ch)
	if err != nil {
		return msg, err
	}
	t.mu.Lock()
	if !t.closed {
		select {
		case t.out <- msg:
		default:
		}
	}
	t.mu.Unlock()
	return msg, nil
}

func (t *tapConn) Close() error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.out)
	}
	t.mu.Unlock()
	return t.Connection.Close()
}
