package conntest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dmora/kernelrun"
)

// ErrClosed is returned by Recv once the connection is closed.
var ErrClosed = errors.New("conntest: connection closed")

// Sent is one message recorded by Conn.Send.
type Sent struct {
	Channel kernelrun.Channel
	Msg     kernelrun.Message
}

// Script runs for every message a test subject sends, emitting the
// kernel's side of the exchange.
type Script func(c *Conn, ch kernelrun.Channel, msg kernelrun.Message)

// Conn is an in-memory scripted Connection. Inbound messages are queued
// per channel with Emit; every Send is recorded and handed to the
// Script, when one is set. The zero value is not usable; construct with
// NewConn.
//
// The exported function fields override individual methods; a nil field
// keeps the default behavior (succeed, alive, record an interrupt).
type Conn struct {
	// Script answers sent requests. May be swapped with SetScript while
	// the connection is in use.
	script Script

	// SendFunc, when set, runs before a send is recorded; its error
	// aborts the send.
	SendFunc func(ctx context.Context, ch kernelrun.Channel, msg kernelrun.Message) error

	// ReadyFunc, AliveFunc, InterruptFunc, RestartFunc and ShutdownFunc
	// override the corresponding methods.
	ReadyFunc     func(ctx context.Context) error
	AliveFunc     func(ctx context.Context) (bool, error)
	InterruptFunc func(ctx context.Context) error
	RestartFunc   func(ctx context.Context) error
	ShutdownFunc  func(ctx context.Context, now bool) error

	mu      sync.Mutex
	sent    []Sent
	inbound map[kernelrun.Channel]chan kernelrun.Message

	closeOnce sync.Once
	closed    chan struct{}
}

var _ kernelrun.Connection = (*Conn)(nil)

// NewConn builds a connection with empty channel queues.
func NewConn() *Conn {
	inbound := make(map[kernelrun.Channel]chan kernelrun.Message)
	for _, ch := range []kernelrun.Channel{
		kernelrun.ChannelShell,
		kernelrun.ChannelIOPub,
		kernelrun.ChannelStdin,
		kernelrun.ChannelControl,
	} {
		inbound[ch] = make(chan kernelrun.Message, 64)
	}
	return &Conn{
		inbound: inbound,
		closed:  make(chan struct{}),
	}
}

// SetScript installs the script answering sent requests.
func (c *Conn) SetScript(s Script) {
	c.mu.Lock()
	c.script = s
	c.mu.Unlock()
}

// Emit queues an inbound message on ch, as if the kernel had sent it.
func (c *Conn) Emit(ch kernelrun.Channel, msg kernelrun.Message) {
	c.inbound[ch] <- msg
}

// Sent returns every message sent so far, in order.
func (c *Conn) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sent, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentOn returns the messages sent on ch, in order.
func (c *Conn) SentOn(ch kernelrun.Channel) []kernelrun.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []kernelrun.Message
	for _, s := range c.sent {
		if s.Channel == ch {
			out = append(out, s.Msg)
		}
	}
	return out
}

func (c *Conn) Send(ctx context.Context, ch kernelrun.Channel, msg kernelrun.Message) error {
	if c.SendFunc != nil {
		if err := c.SendFunc(ctx, ch, msg); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.sent = append(c.sent, Sent{Channel: ch, Msg: msg})
	script := c.script
	c.mu.Unlock()
	if script != nil {
		script(c, ch, msg)
	}
	return nil
}

func (c *Conn) Recv(ctx context.Context, ch kernelrun.Channel) (kernelrun.Message, error) {
	select {
	case msg := <-c.inbound[ch]:
		return msg, nil
	case <-ctx.Done():
		return kernelrun.Message{}, ctx.Err()
	case <-c.closed:
		return kernelrun.Message{}, ErrClosed
	}
}

func (c *Conn) Ready(ctx context.Context) error {
	if c.ReadyFunc != nil {
		return c.ReadyFunc(ctx)
	}
	return nil
}

func (c *Conn) Alive(ctx context.Context) (bool, error) {
	if c.AliveFunc != nil {
		return c.AliveFunc(ctx)
	}
	select {
	case <-c.closed:
		return false, nil
	default:
		return true, nil
	}
}

func (c *Conn) Interrupt(ctx context.Context) error {
	if c.InterruptFunc != nil {
		return c.InterruptFunc(ctx)
	}
	c.mu.Lock()
	c.sent = append(c.sent, Sent{
		Channel: kernelrun.ChannelControl,
		Msg:     kernelrun.Message{Header: kernelrun.Header{MsgType: kernelrun.MsgTypeInterruptRequest}},
	})
	c.mu.Unlock()
	return nil
}

func (c *Conn) Restart(ctx context.Context) error {
	if c.RestartFunc != nil {
		return c.RestartFunc(ctx)
	}
	return nil
}

func (c *Conn) Shutdown(ctx context.Context, now bool) error {
	if c.ShutdownFunc != nil {
		return c.ShutdownFunc(ctx, now)
	}
	return nil
}

// Close is idempotent; blocked Recv calls unwind with ErrClosed.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Launcher hands out a fixed Conn and resolves spec lookups from the
// Specs table. With a nil table every lookup succeeds with a synthetic
// spec; with a table, unknown names wrap [kernelrun.ErrSpecNotFound].
type Launcher struct {
	Conn  *Conn
	Specs map[string]kernelrun.SpecInfo

	// LaunchFunc and LookupFunc override the defaults.
	LaunchFunc func(ctx context.Context, name string) (kernelrun.Connection, error)
	LookupFunc func(ctx context.Context, name string) (kernelrun.SpecInfo, error)
}

var _ kernelrun.Launcher = (*Launcher)(nil)

func (l *Launcher) Launch(ctx context.Context, name string) (kernelrun.Connection, error) {
	if l.LaunchFunc != nil {
		return l.LaunchFunc(ctx, name)
	}
	if l.Conn == nil {
		return nil, errors.New("conntest: launcher has no Conn")
	}
	return l.Conn, nil
}

func (l *Launcher) LookupSpec(ctx context.Context, name string) (kernelrun.SpecInfo, error) {
	if l.LookupFunc != nil {
		return l.LookupFunc(ctx, name)
	}
	if l.Specs == nil {
		return kernelrun.SpecInfo{Name: name, DisplayName: "Test " + name, Language: "python"}, nil
	}
	info, ok := l.Specs[name]
	if !ok {
		return kernelrun.SpecInfo{}, fmt.Errorf("%w: %q", kernelrun.ErrSpecNotFound, name)
	}
	return info, nil
}

// Reply builds a kernel-originated message of msgType responding to
// parent. content is marshaled into the message; nil content becomes an
// empty object. Marshal failures panic: reply shapes are test fixtures.
func Reply(parent kernelrun.Message, msgType string, content any) kernelrun.Message {
	raw := json.RawMessage("{}")
	if content != nil {
		b, err := json.Marshal(content)
		if err != nil {
			panic(fmt.Sprintf("conntest: marshal %s content: %v", msgType, err))
		}
		raw = b
	}
	return kernelrun.Message{
		Header: kernelrun.Header{
			MsgID:   uuid.NewString(),
			MsgType: msgType,
			Session: "conntest-kernel",
			Version: kernelrun.ProtocolVersion,
		},
		Parent:  parent.Header,
		Content: raw,
	}
}

// ShellReplies is a Script answering every shell request with a minimal
// ok reply of the matching *_reply type. Unrecognized requests are
// ignored.
func ShellReplies(c *Conn, ch kernelrun.Channel, msg kernelrun.Message) {
	if ch != kernelrun.ChannelShell {
		return
	}
	replyType := map[string]string{
		kernelrun.MsgTypeKernelInfoRequest: kernelrun.MsgTypeKernelInfoReply,
		kernelrun.MsgTypeCompleteRequest:   kernelrun.MsgTypeCompleteReply,
		kernelrun.MsgTypeHistoryRequest:    kernelrun.MsgTypeHistoryReply,
		kernelrun.MsgTypeInspectRequest:    kernelrun.MsgTypeInspectReply,
		kernelrun.MsgTypeIsCompleteRequest: kernelrun.MsgTypeIsCompleteReply,
		kernelrun.MsgTypeExecuteRequest:    kernelrun.MsgTypeExecuteReply,
	}[msg.Header.MsgType]
	if replyType == "" {
		return
	}
	c.Emit(kernelrun.ChannelShell, Reply(msg, replyType, map[string]any{"status": "ok"}))
}

// ExecuteScript returns a Script that answers execute requests with the
// canonical broadcast sequence — busy, execute_input, the given
// outputs, idle — plus an ok reply on the shell channel. Other shell
// requests get minimal ok replies.
func ExecuteScript(outputs ...func(c *Conn, req kernelrun.Message)) Script {
	count := 0
	return func(c *Conn, ch kernelrun.Channel, msg kernelrun.Message) {
		if ch != kernelrun.ChannelShell || msg.Header.MsgType != kernelrun.MsgTypeExecuteRequest {
			ShellReplies(c, ch, msg)
			return
		}
		count++
		c.Emit(kernelrun.ChannelIOPub, Reply(msg, kernelrun.MsgTypeStatus,
			kernelrun.StatusContent{ExecutionState: "busy"}))
		c.Emit(kernelrun.ChannelIOPub, Reply(msg, kernelrun.MsgTypeExecuteInput,
			kernelrun.ExecuteInputContent{ExecutionCount: count}))
		for _, emit := range outputs {
			emit(c, msg)
		}
		c.Emit(kernelrun.ChannelIOPub, Reply(msg, kernelrun.MsgTypeStatus,
			kernelrun.StatusContent{ExecutionState: "idle"}))
		c.Emit(kernelrun.ChannelShell, Reply(msg, kernelrun.MsgTypeExecuteReply,
			kernelrun.ExecuteReply{Status: kernelrun.StatusOK, ExecutionCount: count}))
	}
}

// StreamOutput returns an ExecuteScript output that emits one stream
// fragment.
func StreamOutput(name, text string) func(c *Conn, req kernelrun.Message) {
	return func(c *Conn, req kernelrun.Message) {
		c.Emit(kernelrun.ChannelIOPub, Reply(req, kernelrun.MsgTypeStream,
			kernelrun.StreamContent{Name: name, Text: text}))
	}
}
