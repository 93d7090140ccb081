package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dmora/kernelrun"
)

// readyProbeInterval bounds one readiness probe attempt; Ready retries
// until its context expires.
const readyProbeInterval = time.Second

// recvBuffer sizes each channel's inbound queue.
const recvBuffer = 256

var errConnClosed = errors.New("gateway: connection closed")

// wireMsg is the websocket frame shape: a protocol message plus the
// channel it travels on.
type wireMsg struct {
	Header   kernelrun.Header `json:"header"`
	Parent   kernelrun.Header `json:"parent_header"`
	Metadata json.RawMessage  `json:"metadata,omitempty"`
	Content  json.RawMessage  `json:"content,omitempty"`
	Channel  string           `json:"channel"`
}

// conn is a live transport to one server-hosted kernel: all channels
// multiplexed over a single websocket, lifecycle driven over REST.
// Implements [kernelrun.Connection].
type conn struct {
	launcher *Launcher
	id       string
	log      zerolog.Logger
	session  string

	ws      *websocket.Conn
	writeMu sync.Mutex

	queues map[kernelrun.Channel]chan kernelrun.Message

	dead      chan struct{}
	deadOnce  sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

var _ kernelrun.Connection = (*conn)(nil)

// newConn dials the kernel's channel websocket and starts the
// demultiplexing read loop.
func newConn(ctx context.Context, l *Launcher, id string, log zerolog.Logger) (*conn, error) {
	header := make(http.Header)
	l.decorate(header)
	ws, resp, err := l.opts.dialer.DialContext(ctx, l.wsURL(id), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("gateway: dial channels (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("gateway: dial channels: %w", err)
	}
	c := &conn{
		launcher: l,
		id:       id,
		log:      log,
		session:  uuid.NewString(),
		ws:       ws,
		queues:   make(map[kernelrun.Channel]chan kernelrun.Message),
		dead:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
	for _, ch := range []kernelrun.Channel{
		kernelrun.ChannelShell,
		kernelrun.ChannelIOPub,
		kernelrun.ChannelStdin,
		kernelrun.ChannelControl,
	} {
		c.queues[ch] = make(chan kernelrun.Message, recvBuffer)
	}
	go c.readLoop()
	return c, nil
}

// readLoop demultiplexes websocket frames into the per-channel queues.
// Frames for channels the client does not track (heartbeat) and
// undecodable frames are dropped.
func (c *conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Warn().Err(err).Msg("websocket read failed")
				c.markDead()
			}
			return
		}
		var frame wireMsg
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Debug().Err(err).Msg("dropped undecodable frame")
			continue
		}
		queue, ok := c.queues[kernelrun.Channel(frame.Channel)]
		if !ok {
			continue
		}
		msg := kernelrun.Message{
			Header:   frame.Header,
			Parent:   frame.Parent,
			Metadata: frame.Metadata,
			Content:  frame.Content,
		}
		select {
		case queue <- msg:
		case <-c.closed:
			return
		}
	}
}

func (c *conn) markDead() {
	c.deadOnce.Do(func() { close(c.dead) })
}

func (c *conn) Send(ctx context.Context, ch kernelrun.Channel, msg kernelrun.Message) error {
	frame := wireMsg{
		Header:   msg.Header,
		Parent:   msg.Parent,
		Metadata: msg.Metadata,
		Content:  msg.Content,
		Channel:  string(ch),
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	if err := c.ws.WriteJSON(frame); err != nil {
		return fmt.Errorf("gateway: write frame: %w", err)
	}
	return nil
}

func (c *conn) Recv(ctx context.Context, ch kernelrun.Channel) (kernelrun.Message, error) {
	queue, ok := c.queues[ch]
	if !ok {
		return kernelrun.Message{}, fmt.Errorf("gateway: unknown channel %q", ch)
	}
	select {
	case msg := <-queue:
		return msg, nil
	case <-ctx.Done():
		return kernelrun.Message{}, ctx.Err()
	case <-c.dead:
		return kernelrun.Message{}, errors.New("gateway: transport died")
	case <-c.closed:
		return kernelrun.Message{}, errConnClosed
	}
}

// Ready probes the kernel with kernel_info requests until it answers on
// the shell channel. It runs before the client's channel readers start,
// so it may drain the shell queue directly.
func (c *conn) Ready(ctx context.Context) error {
	for {
		req, err := kernelrun.NewMessage(kernelrun.MsgTypeKernelInfoRequest, c.session, "kernelrun", nil)
		if err != nil {
			return err
		}
		if err := c.Send(ctx, kernelrun.ChannelShell, req); err != nil {
			return err
		}
		select {
		case <-c.queues[kernelrun.ChannelShell]:
			return nil
		case <-time.After(readyProbeInterval):
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return errConnClosed
		}
	}
}

// Alive asks the server whether the kernel resource still exists.
func (c *conn) Alive(ctx context.Context) (bool, error) {
	err := c.launcher.rest(ctx, http.MethodGet, "/api/kernels/"+c.id, nil, nil)
	if err == nil {
		return true, nil
	}
	var serr *ServerError
	if errors.As(err, &serr) && serr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (c *conn) Interrupt(ctx context.Context) error {
	return c.launcher.rest(ctx, http.MethodPost, "/api/kernels/"+c.id+"/interrupt", nil, nil)
}

func (c *conn) Restart(ctx context.Context) error {
	return c.launcher.rest(ctx, http.MethodPost, "/api/kernels/"+c.id+"/restart", nil, nil)
}

// Shutdown deletes the kernel resource. An already-gone kernel is a
// successful shutdown.
func (c *conn) Shutdown(ctx context.Context, now bool) error {
	err := c.launcher.rest(ctx, http.MethodDelete, "/api/kernels/"+c.id, nil, nil)
	var serr *ServerError
	if errors.As(err, &serr) && serr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// Close tears the websocket down. Idempotent.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
	return nil
}
