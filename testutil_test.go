package kernelrun

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// fakeConn is an in-memory Connection test double shared across the
// root-package test files. Inbound messages are queued per channel; the
// script hook, when set, runs for every sent message and emits the
// kernel's side of the exchange.
type fakeConn struct {
	mu   sync.Mutex
	sent []sentMsg

	inbound map[Channel]chan Message
	script  func(c *fakeConn, ch Channel, msg Message)

	sendFn      func(ctx context.Context, ch Channel, msg Message) error
	readyFn     func(ctx context.Context) error
	aliveFn     func(ctx context.Context) (bool, error)
	interruptFn func(ctx context.Context) error
	restartFn   func(ctx context.Context) error
	shutdownFn  func(ctx context.Context, now bool) error

	closeOnce sync.Once
	closed    chan struct{}
}

type sentMsg struct {
	ch  Channel
	msg Message
}

func newFakeConn() *fakeConn {
	inbound := make(map[Channel]chan Message)
	for _, ch := range []Channel{ChannelShell, ChannelIOPub, ChannelStdin, ChannelControl} {
		inbound[ch] = make(chan Message, 64)
	}
	return &fakeConn{
		inbound: inbound,
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Send(ctx context.Context, ch Channel, msg Message) error {
	if c.sendFn != nil {
		if err := c.sendFn(ctx, ch, msg); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.sent = append(c.sent, sentMsg{ch: ch, msg: msg})
	script := c.script
	c.mu.Unlock()
	if script != nil {
		script(c, ch, msg)
	}
	return nil
}

func (c *fakeConn) Recv(ctx context.Context, ch Channel) (Message, error) {
	select {
	case msg := <-c.inbound[ch]:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-c.closed:
		return Message{}, ErrNotRunning
	}
}

func (c *fakeConn) Ready(ctx context.Context) error {
	if c.readyFn != nil {
		return c.readyFn(ctx)
	}
	return nil
}

func (c *fakeConn) Alive(ctx context.Context) (bool, error) {
	if c.aliveFn != nil {
		return c.aliveFn(ctx)
	}
	return true, nil
}

func (c *fakeConn) Interrupt(ctx context.Context) error {
	if c.interruptFn != nil {
		return c.interruptFn(ctx)
	}
	c.mu.Lock()
	c.sent = append(c.sent, sentMsg{ch: ChannelControl, msg: Message{Header: Header{MsgType: MsgTypeInterruptRequest}}})
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Restart(ctx context.Context) error {
	if c.restartFn != nil {
		return c.restartFn(ctx)
	}
	return nil
}

func (c *fakeConn) Shutdown(ctx context.Context, now bool) error {
	if c.shutdownFn != nil {
		return c.shutdownFn(ctx, now)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// emit queues an inbound message on ch.
func (c *fakeConn) emit(ch Channel, msg Message) {
	c.inbound[ch] <- msg
}

// sentOn returns the messages sent on ch so far.
func (c *fakeConn) sentOn(ch Channel) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, s := range c.sent {
		if s.ch == ch {
			out = append(out, s.msg)
		}
	}
	return out
}

// fakeLauncher hands out a fixed connection and answers spec lookups.
type fakeLauncher struct {
	conn     *fakeConn
	launchFn func(ctx context.Context, name string) (Connection, error)
	lookupFn func(ctx context.Context, name string) (SpecInfo, error)
}

func (l *fakeLauncher) Launch(ctx context.Context, name string) (Connection, error) {
	if l.launchFn != nil {
		return l.launchFn(ctx, name)
	}
	return l.conn, nil
}

func (l *fakeLauncher) LookupSpec(ctx context.Context, name string) (SpecInfo, error) {
	if l.lookupFn != nil {
		return l.lookupFn(ctx, name)
	}
	return SpecInfo{Name: name, DisplayName: "Fake " + name, Language: "python"}, nil
}

// kernelMsg builds a kernel-originated message of msgType responding to
// parent. The date is fixed so metadata assertions are deterministic.
func kernelMsg(msgType string, parent Message, content any) Message {
	raw := json.RawMessage("{}")
	if content != nil {
		b, err := json.Marshal(content)
		if err != nil {
			panic(err)
		}
		raw = b
	}
	return Message{
		Header: Header{
			MsgID:   uuid.NewString(),
			MsgType: msgType,
			Session: "fake-kernel",
			Date:    "2024-05-01T10:00:00Z",
			Version: ProtocolVersion,
		},
		Parent:  parent.Header,
		Content: raw,
	}
}

// strayMsg builds a broadcast message correlated to nothing.
func strayMsg(msgType string, content any) Message {
	msg := kernelMsg(msgType, Message{}, content)
	msg.Parent = Header{MsgID: uuid.NewString()}
	return msg
}

// scriptShellRoundTrips answers every shell request with a minimal ok
// reply of the matching *_reply type.
func scriptShellRoundTrips(c *fakeConn, ch Channel, msg Message) {
	if ch != ChannelShell {
		return
	}
	replyType := map[string]string{
		MsgTypeKernelInfoRequest: MsgTypeKernelInfoReply,
		MsgTypeCompleteRequest:   MsgTypeCompleteReply,
		MsgTypeHistoryRequest:    MsgTypeHistoryReply,
		MsgTypeInspectRequest:    MsgTypeInspectReply,
		MsgTypeIsCompleteRequest: MsgTypeIsCompleteReply,
		MsgTypeExecuteRequest:    MsgTypeExecuteReply,
	}[msg.Header.MsgType]
	if replyType == "" {
		return
	}
	c.emit(ChannelShell, kernelMsg(replyType, msg, map[string]any{"status": "ok"}))
}

// scriptExecuteOK emits the canonical broadcast sequence for an
// execute_request: busy, execute_input, the given outputs, idle, plus
// the ok reply on the shell channel.
func scriptExecuteOK(outputs ...func(*fakeConn, Message)) func(*fakeConn, Channel, Message) {
	return func(c *fakeConn, ch Channel, msg Message) {
		if ch != ChannelShell || msg.Header.MsgType != MsgTypeExecuteRequest {
			scriptShellRoundTrips(c, ch, msg)
			return
		}
		c.emit(ChannelIOPub, kernelMsg(MsgTypeStatus, msg, StatusContent{ExecutionState: "busy"}))
		c.emit(ChannelIOPub, kernelMsg(MsgTypeExecuteInput, msg, ExecuteInputContent{Code: "x", ExecutionCount: 1}))
		for _, emit := range outputs {
			emit(c, msg)
		}
		c.emit(ChannelIOPub, kernelMsg(MsgTypeStatus, msg, StatusContent{ExecutionState: "idle"}))
		c.emit(ChannelShell, kernelMsg(MsgTypeExecuteReply, msg, ExecuteReply{Status: StatusOK, ExecutionCount: 1}))
	}
}

func streamOut(name, text string) func(*fakeConn, Message) {
	return func(c *fakeConn, msg Message) {
		c.emit(ChannelIOPub, kernelMsg(MsgTypeStream, msg, StreamContent{Name: name, Text: text}))
	}
}

// startKernel builds a kernel over a fake transport, starts it, and
// registers shutdown cleanup.
func startKernel(t *testing.T, conn *fakeConn) *Kernel {
	t.Helper()
	k := New(&fakeLauncher{conn: conn}, "python3")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := k.Start(ctx); err != nil {
		t.Fatalf("Start() = %v, want nil", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = k.Shutdown(ctx)
	})
	return k
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
