package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dmora/kernelrun"
	"github.com/dmora/kernelrun/kernelspec"
)

// readyProbeInterval bounds one readiness probe attempt; Ready retries
// until its context expires.
const readyProbeInterval = time.Second

// recvBuffer sizes each channel's inbound queue.
const recvBuffer = 256

// errConnClosed is returned by Recv once the connection is closed.
var errConnClosed = errors.New("local: connection closed")

// connConfig is everything a connection needs to run and re-run its
// kernel process.
type connConfig struct {
	file   connFile
	spec   kernelspec.Spec
	dir    string
	grace  time.Duration
	log    zerolog.Logger
	launch func() (*exec.Cmd, error)
}

// conn is a live transport to one local kernel process. One pump
// goroutine per channel decodes wire messages into a buffered queue;
// Recv drains the queue. Implements [kernelrun.Connection].
type conn struct {
	cfg     connConfig
	sig     *signer
	log     zerolog.Logger
	session string

	sockets map[kernelrun.Channel]zmq4.Socket
	sendMu  map[kernelrun.Channel]*sync.Mutex
	queues  map[kernelrun.Channel]chan kernelrun.Message

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error

	dead      chan struct{}
	deadOnce  sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

var _ kernelrun.Connection = (*conn)(nil)

// newConn starts the kernel process, connects the four channel sockets,
// and begins pumping inbound traffic.
func newConn(cfg connConfig) (*conn, error) {
	sig, err := newSigner(cfg.file)
	if err != nil {
		return nil, err
	}
	c := &conn{
		cfg:     cfg,
		sig:     sig,
		log:     cfg.log,
		session: uuid.NewString(),
		sockets: make(map[kernelrun.Channel]zmq4.Socket),
		sendMu:  make(map[kernelrun.Channel]*sync.Mutex),
		queues:  make(map[kernelrun.Channel]chan kernelrun.Message),
		dead:    make(chan struct{}),
		closed:  make(chan struct{}),
	}

	if err := c.launchProcess(); err != nil {
		return nil, err
	}
	if err := c.openSockets(); err != nil {
		c.killProcess()
		c.closeSockets()
		return nil, err
	}
	for ch := range c.sockets {
		go c.pump(ch, c.sockets[ch])
	}
	return c, nil
}

// launchProcess starts a fresh kernel process and its exit waiter.
func (c *conn) launchProcess() error {
	cmd, err := c.cfg.launch()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("local: start kernel %q: %w", c.cfg.spec.Name, err)
	}
	exited := make(chan struct{})
	c.mu.Lock()
	c.cmd = cmd
	c.exited = exited
	c.waitErr = nil
	c.mu.Unlock()
	c.log.Info().Int("pid", cmd.Process.Pid).Msg("kernel process started")

	go func() {
		err := cmd.Wait()
		c.mu.Lock()
		c.waitErr = err
		c.mu.Unlock()
		close(exited)
	}()
	return nil
}

// openSockets connects one socket per channel: dealers for shell, stdin
// and control, a subscriber for the broadcast channel.
func (c *conn) openSockets() error {
	id := zmq4.SocketIdentity(c.session)
	endpoints := []struct {
		ch   kernelrun.Channel
		port int
		mk   func() zmq4.Socket
	}{
		{kernelrun.ChannelShell, c.cfg.file.ShellPort, func() zmq4.Socket {
			return zmq4.NewDealer(context.Background(), zmq4.WithID(id), zmq4.WithAutomaticReconnect(true))
		}},
		{kernelrun.ChannelIOPub, c.cfg.file.IOPubPort, func() zmq4.Socket {
			return zmq4.NewSub(context.Background(), zmq4.WithAutomaticReconnect(true))
		}},
		{kernelrun.ChannelStdin, c.cfg.file.StdinPort, func() zmq4.Socket {
			return zmq4.NewDealer(context.Background(), zmq4.WithID(id), zmq4.WithAutomaticReconnect(true))
		}},
		{kernelrun.ChannelControl, c.cfg.file.ControlPort, func() zmq4.Socket {
			return zmq4.NewDealer(context.Background(), zmq4.WithID(id), zmq4.WithAutomaticReconnect(true))
		}},
	}
	for _, ep := range endpoints {
		sock := ep.mk()
		if err := sock.Dial(c.cfg.file.endpoint(ep.port)); err != nil {
			_ = sock.Close()
			return fmt.Errorf("local: dial %s channel: %w", ep.ch, err)
		}
		if ep.ch == kernelrun.ChannelIOPub {
			if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
				_ = sock.Close()
				return fmt.Errorf("local: subscribe broadcast channel: %w", err)
			}
		}
		c.sockets[ep.ch] = sock
		c.sendMu[ep.ch] = &sync.Mutex{}
		c.queues[ep.ch] = make(chan kernelrun.Message, recvBuffer)
	}
	return nil
}

// pump moves one channel's wire traffic into its queue. Undecodable or
// missigned frames are logged and dropped; a receive failure outside a
// close marks the transport dead.
func (c *conn) pump(ch kernelrun.Channel, sock zmq4.Socket) {
	for {
		wire, err := sock.Recv()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Warn().Err(err).Str("channel", string(ch)).Msg("socket receive failed")
				c.markDead()
			}
			return
		}
		msg, err := decodeMessage(wire, c.sig)
		if err != nil {
			c.log.Debug().Err(err).Str("channel", string(ch)).Msg("dropped undecodable frame")
			continue
		}
		select {
		case c.queues[ch] <- msg:
		case <-c.closed:
			return
		}
	}
}

func (c *conn) markDead() {
	c.deadOnce.Do(func() { close(c.dead) })
}

func (c *conn) Send(ctx context.Context, ch kernelrun.Channel, msg kernelrun.Message) error {
	sock, ok := c.sockets[ch]
	if !ok {
		return fmt.Errorf("local: unknown channel %q", ch)
	}
	wire, err := encodeMessage(msg, c.sig)
	if err != nil {
		return err
	}
	mu := c.sendMu[ch]
	mu.Lock()
	defer mu.Unlock()
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	return sock.Send(wire)
}

func (c *conn) Recv(ctx context.Context, ch kernelrun.Channel) (kernelrun.Message, error) {
	queue, ok := c.queues[ch]
	if !ok {
		return kernelrun.Message{}, fmt.Errorf("local: unknown channel %q", ch)
	}
	select {
	case msg := <-queue:
		return msg, nil
	case <-ctx.Done():
		return kernelrun.Message{}, ctx.Err()
	case <-c.dead:
		return kernelrun.Message{}, errors.New("local: transport died")
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

func (c *conn) Alive(ctx context.Context) (bool, error) {
	c.mu.Lock()
	exited := c.exited
	cmd := c.cmd
	c.mu.Unlock()
	if cmd == nil {
		return false, nil
	}
	select {
	case <-exited:
		return false, nil
	default:
		return true, nil
	}
}

// Interrupt signals the kernel per its spec's interrupt mode: SIGINT to
// the process, or an interrupt_request on the control channel.
func (c *conn) Interrupt(ctx context.Context) error {
	if c.cfg.spec.InterruptMode == kernelspec.InterruptMessage {
		req, err := kernelrun.NewMessage(kernelrun.MsgTypeInterruptRequest, c.session, "kernelrun", nil)
		if err != nil {
			return err
		}
		return c.Send(ctx, kernelrun.ChannelControl, req)
	}
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()
	if cmd == nil {
		return errors.New("local: no kernel process")
	}
	return signalProcess(cmd.Process, os.Interrupt)
}

// Restart shuts the kernel process down cleanly and relaunches it on
// the same ports and connection file. The sockets reconnect on their
// own.
func (c *conn) Restart(ctx context.Context) error {
	if err := c.stopProcess(ctx, true, false); err != nil {
		c.log.Debug().Err(err).Msg("pre-restart shutdown failed")
	}
	return c.launchProcess()
}

// Shutdown stops the kernel process. A clean shutdown asks first and
// escalates to a kill after the grace period; now skips the asking.
func (c *conn) Shutdown(ctx context.Context, now bool) error {
	return c.stopProcess(ctx, false, now)
}

// stopProcess takes the current kernel process down. With now set the
// process is killed outright; otherwise a shutdown_request goes out on
// the control channel and the kill waits for the grace period.
func (c *conn) stopProcess(ctx context.Context, restart, now bool) error {
	c.mu.Lock()
	cmd := c.cmd
	exited := c.exited
	c.mu.Unlock()
	if cmd == nil {
		return nil
	}
	select {
	case <-exited:
		return nil
	default:
	}

	if !now {
		req, err := kernelrun.NewMessage(kernelrun.MsgTypeShutdownRequest, c.session, "kernelrun",
			kernelrun.ShutdownRequest{Restart: restart})
		if err == nil {
			err = c.Send(ctx, kernelrun.ChannelControl, req)
		}
		if err != nil {
			c.log.Debug().Err(err).Msg("shutdown request not delivered")
		}
		select {
		case <-exited:
			return nil
		case <-time.After(c.cfg.grace):
			c.log.Warn().Dur("grace", c.cfg.grace).Msg("kernel ignored shutdown request, killing")
		case <-ctx.Done():
		}
	}

	if err := signalProcess(cmd.Process, os.Kill); err != nil {
		return fmt.Errorf("local: kill kernel: %w", err)
	}
	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close kills any still-running process, closes the sockets, and
// removes the connection directory. Idempotent.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.killProcess()
		c.closeSockets()
		if c.cfg.dir != "" {
			if err := os.RemoveAll(c.cfg.dir); err != nil {
				c.log.Debug().Err(err).Msg("connection dir cleanup failed")
			}
		}
	})
	return nil
}

func (c *conn) killProcess() {
	c.mu.Lock()
	cmd := c.cmd
	exited := c.exited
	c.mu.Unlock()
	if cmd == nil {
		return
	}
	select {
	case <-exited:
		return
	default:
	}
	_ = signalProcess(cmd.Process, os.Kill)
	<-exited
}

func (c *conn) closeSockets() {
	for ch, sock := range c.sockets {
		if err := sock.Close(); err != nil {
			c.log.Debug().Err(err).Str("channel", string(ch)).Msg("socket close failed")
		}
	}
}

// signalProcess sends sig to a process, returning nil if the process
// has already exited.
func signalProcess(proc *os.Process, sig os.Signal) error {
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
