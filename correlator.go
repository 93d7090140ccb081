package kernelrun

import (
	"context"
	"sync"
)

// pendingKey identifies one registration: a request id on one channel.
type pendingKey struct {
	ch Channel
	id string
}

// pending is one registered request. mail is a single-slot mailbox: the
// dispatcher blocks until the consumer takes the previous message, which
// preserves receipt order with no overwrite loss. done closes when the
// stream closes so a blocked dispatcher gives up.
type pending struct {
	mail chan Message
	done chan struct{}
	once sync.Once
}

func (p *pending) close() {
	p.once.Do(func() { close(p.done) })
}

// correlator owns the registry of in-flight requests and routes inbound
// messages to them. An entry exists only between open and the stream's
// Close; a message arriving outside that window is stray.
type correlator struct {
	mu      sync.Mutex
	pending map[pendingKey]*pending
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[pendingKey]*pending)}
}

// open registers interest in messages responding to id on ch. The
// returned stream must be closed on every exit path.
func (c *correlator) open(ch Channel, id string) *stream {
	p := &pending{
		mail: make(chan Message, 1),
		done: make(chan struct{}),
	}
	key := pendingKey{ch: ch, id: id}
	c.mu.Lock()
	c.pending[key] = p
	c.mu.Unlock()
	return &stream{c: c, key: key, p: p}
}

// dispatch routes msg to the registration matching its parent id on ch.
// It blocks until the mailbox has room, the registration closes, or ctx
// is done. Reports whether the message was delivered.
func (c *correlator) dispatch(ctx context.Context, ch Channel, msg Message) bool {
	id := msg.ParentID()
	if id == "" {
		return false
	}
	c.mu.Lock()
	p := c.pending[pendingKey{ch: ch, id: id}]
	c.mu.Unlock()
	if p == nil {
		return false
	}
	select {
	case p.mail <- msg:
		return true
	case <-p.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// remove drops the registration if it still maps to p.
func (c *correlator) remove(key pendingKey, p *pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[key] == p {
		delete(c.pending, key)
	}
}

// size returns the number of live registrations.
func (c *correlator) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// abandonAll closes every registration: blocked consumers unwind with
// ErrNotRunning and blocked dispatchers give up.
func (c *correlator) abandonAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.pending)
	for key, p := range c.pending {
		p.close()
		delete(c.pending, key)
	}
	return n
}

// stream yields the messages responding to one request on one channel.
// The sequence is finite and consumer-terminated: the consumer decides,
// per channel, which message is the last one and closes the stream.
type stream struct {
	c   *correlator
	key pendingKey
	p   *pending
}

// Next blocks for the next matching message. It fails with the ctx's
// error on cancellation and with ErrNotRunning once the registration was
// abandoned. A message delivered before the close is still drained.
func (s *stream) Next(ctx context.Context) (Message, error) {
	select {
	case msg := <-s.p.mail:
		return msg, nil
	default:
	}
	select {
	case msg := <-s.p.mail:
		return msg, nil
	case <-s.p.done:
		select {
		case msg := <-s.p.mail:
			return msg, nil
		default:
		}
		return Message{}, ErrNotRunning
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close removes the registration. Idempotent; a message arriving after
// Close is stray and cannot re-trigger delivery.
func (s *stream) Close() {
	s.p.close()
	s.c.remove(s.key, s.p)
}
