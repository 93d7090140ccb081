package kernelrun

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// statusProbeTimeout bounds the liveness probe a Status read performs.
// Expiry means "no answer", not "dead", and is never logged.
const statusProbeTimeout = 200 * time.Millisecond

// Kernel is an asynchronous client for one kernel. It owns the transport
// connection, the three channel readers, and the request correlator, and
// schedules every operation on its execution host so callers are never
// blocked by kernel work they did not ask to wait for.
//
// All methods are safe for concurrent use. Requests in flight interleave
// freely; lifecycle methods take effect alongside them.
type Kernel struct {
	launcher Launcher
	opts     kernelOptions
	log      zerolog.Logger
	session  string
	host     *host
	status   *statusCell
	corr     *correlator

	mu          sync.Mutex
	name        string
	conn        Connection
	stopReaders context.CancelFunc
	readers     sync.WaitGroup
	lastErr     error
	down        bool
}

// New creates a client for the named kernel specification, using
// launcher to bring the kernel up. Nothing runs until Start.
func New(launcher Launcher, name string, opts ...Option) *Kernel {
	o := resolveOptions(opts...)
	k := &Kernel{
		launcher: launcher,
		opts:     o,
		session:  uuid.NewString(),
		status:   newStatusCell(),
		corr:     newCorrelator(),
		name:     name,
	}
	k.log = o.logger.With().Str("component", "kernelrun").Str("session", k.session).Logger()
	k.host = newHost(k.log)
	return k
}

// ID returns the client session id stamped on outbound message headers.
func (k *Kernel) ID() string { return k.session }

// Name returns the kernel specification name the client targets.
func (k *Kernel) Name() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.name
}

// Err returns the retained startup or transport failure, or nil. It is
// cleared by the next successful start.
func (k *Kernel) Err() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastErr
}

// Status returns the lifecycle status. Reading it probes the transport:
// a kernel that is definitely gone flips the status to StatusError. The
// probe is bounded by statusProbeTimeout and expiry is not an answer.
func (k *Kernel) Status() Status {
	if conn := k.connection(); conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), statusProbeTimeout)
		alive, err := conn.Alive(ctx)
		cancel()
		if err == nil && !alive {
			k.transportDead(errors.New("kernelrun: kernel process gone"))
		}
	}
	return k.status.get()
}

// Start launches the kernel and blocks until it answers the readiness
// probe or the start timeout expires.
func (k *Kernel) Start(ctx context.Context) error {
	return k.host.do(ctx, "start", k.start)
}

// StartNotify starts the kernel without blocking. onReady, when non-nil,
// runs with the start's result.
func (k *Kernel) StartNotify(onReady func(error)) {
	k.host.submit("start", 0, k.start, onReady)
}

func (k *Kernel) start(ctx context.Context) error {
	k.mu.Lock()
	if k.down {
		k.mu.Unlock()
		return ErrShutdown
	}
	if k.conn != nil {
		k.mu.Unlock()
		return ErrAlreadyRunning
	}
	name := k.name
	k.mu.Unlock()

	k.status.set(StatusStarting)
	k.log.Info().Str("kernel", name).Msg("starting kernel")

	conn, err := k.launcher.Launch(ctx, name)
	if err != nil {
		serr := &StartError{Phase: "launch", Err: err}
		k.fail(serr)
		return serr
	}

	readyCtx, cancel := context.WithTimeout(ctx, k.opts.startTimeout)
	err = conn.Ready(readyCtx)
	cancel()
	if err != nil {
		k.teardown(conn)
		serr := &StartError{Phase: "ready", Err: err}
		k.fail(serr)
		return serr
	}

	rctx, rcancel := context.WithCancel(context.Background())
	k.mu.Lock()
	k.conn = conn
	k.stopReaders = rcancel
	k.lastErr = nil
	for _, ch := range []Channel{ChannelShell, ChannelIOPub, ChannelStdin} {
		r := &reader{
			ch:     ch,
			conn:   conn,
			corr:   k.corr,
			status: k.status,
			log:    k.log,
			onDead: k.transportDead,
		}
		k.readers.Add(1)
		go func() {
			defer k.readers.Done()
			r.run(rctx)
		}()
	}
	k.mu.Unlock()

	k.status.set(StatusIdle)
	k.log.Info().Str("kernel", name).Msg("kernel ready")
	return nil
}

// teardown takes down a transport that never became ready.
func (k *Kernel) teardown(conn Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), k.opts.stopTimeout)
	defer cancel()
	if err := conn.Shutdown(ctx, true); err != nil {
		k.log.Debug().Err(err).Msg("teardown shutdown failed")
	}
	if err := conn.Close(); err != nil {
		k.log.Debug().Err(err).Msg("teardown close failed")
	}
}

// fail records a failure and parks the kernel in StatusError. The error
// stays readable through Err until the next start.
func (k *Kernel) fail(err error) {
	k.status.set(StatusError)
	k.mu.Lock()
	k.lastErr = err
	k.mu.Unlock()
	k.log.Error().Err(err).Msg("kernel failed")
}

// transportDead is invoked when a reader's receive fails outside a stop,
// or a liveness probe finds the kernel gone.
func (k *Kernel) transportDead(err error) {
	if k.status.set(StatusError) {
		k.mu.Lock()
		k.lastErr = err
		k.mu.Unlock()
	}
}

// Interrupt interrupts the running kernel. It goes straight to the
// transport rather than through the host, so it lands even while
// operations are in flight.
func (k *Kernel) Interrupt(ctx context.Context) error {
	conn := k.connection()
	if conn == nil {
		return ErrNotRunning
	}
	return conn.Interrupt(ctx)
}

// Restart restarts the kernel on the same connection. Requests pending
// from before the restart get no further messages; they are left to
// their own timeouts rather than drained here.
func (k *Kernel) Restart(ctx context.Context) error {
	return k.host.do(ctx, "restart", k.restart)
}

func (k *Kernel) restart(ctx context.Context) error {
	conn := k.connection()
	if conn == nil {
		return ErrNotRunning
	}
	k.status.set(StatusStarting)
	if n := k.corr.size(); n > 0 {
		k.log.Debug().Int("pending", n).Msg("restart leaves pending requests to time out")
	}
	if err := conn.Restart(ctx); err != nil {
		k.fail(err)
		return err
	}
	if err := k.waitReady(ctx); err != nil {
		serr := &StartError{Phase: "ready", Err: err}
		k.fail(serr)
		return serr
	}
	k.status.set(StatusIdle)
	k.log.Info().Msg("kernel restarted")
	return nil
}

// readyProbeInterval is the per-attempt bound of a post-restart
// readiness probe.
const readyProbeInterval = time.Second

// waitReady confirms the kernel answers requests again after a restart.
// The probe goes through the regular correlator path: the channel
// readers stay live across a restart, so the transport's own Ready
// cannot be used without the two racing for the reply. Replies to
// probes that were already given up on arrive as strays.
func (k *Kernel) waitReady(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, k.opts.startTimeout)
	defer cancel()
	for {
		actx, acancel := context.WithTimeout(dctx, readyProbeInterval)
		_, err := k.roundTrip(actx, MsgTypeKernelInfoRequest, nil)
		acancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) && dctx.Err() == nil {
			continue
		}
		return err
	}
}

// Stop takes the kernel down cleanly. Stopping a stopped kernel is a
// no-op.
func (k *Kernel) Stop(ctx context.Context) error {
	return k.host.do(ctx, "stop", func(ctx context.Context) error {
		return k.stop(ctx, false)
	})
}

// StopNotify stops the kernel without blocking. An interrupt goes out
// first so a busy kernel notices the shutdown promptly. onStopped, when
// non-nil, runs with the stop's result.
func (k *Kernel) StopNotify(onStopped func(error)) {
	k.host.submit("stop", k.opts.stopTimeout, func(ctx context.Context) error {
		if conn := k.connection(); conn != nil {
			if err := conn.Interrupt(ctx); err != nil {
				k.log.Debug().Err(err).Msg("pre-stop interrupt failed")
			}
		}
		return k.stop(ctx, false)
	}, onStopped)
}

// stop cancels the readers, abandons pending requests so their consumers
// unblock, and takes the transport down. Transport refusals during a
// stop are logged, not returned: the kernel ends up stopped regardless.
func (k *Kernel) stop(ctx context.Context, now bool) error {
	k.mu.Lock()
	conn := k.conn
	k.conn = nil
	cancel := k.stopReaders
	k.stopReaders = nil
	k.mu.Unlock()
	if conn == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	if n := k.corr.abandonAll(); n > 0 {
		k.log.Debug().Int("pending", n).Msg("abandoned pending requests")
	}
	if err := conn.Shutdown(ctx, now); err != nil {
		k.log.Warn().Err(err).Msg("transport shutdown failed")
	}
	if err := conn.Close(); err != nil {
		k.log.Debug().Err(err).Msg("transport close failed")
	}
	k.readers.Wait()
	k.status.set(StatusStopped)
	k.log.Info().Msg("kernel stopped")
	return nil
}

// Shutdown stops the kernel and releases the client: outstanding work is
// cancelled and joined, bounded by the stop timeout. The client cannot
// be started again afterwards.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	already := k.down
	k.down = true
	k.mu.Unlock()
	if already {
		return nil
	}
	err := k.host.do(ctx, "shutdown", func(ctx context.Context) error {
		return k.stop(ctx, true)
	})
	closeCtx, cancel := context.WithTimeout(context.Background(), k.opts.stopTimeout)
	defer cancel()
	if cerr := k.host.close(closeCtx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Missing reports whether the kernel's specification cannot be found, so
// callers can offer a fallback instead of failing a start.
func (k *Kernel) Missing(ctx context.Context) bool {
	_, err := k.launcher.LookupSpec(ctx, k.Name())
	return errors.Is(err, ErrSpecNotFound)
}

// Info resolves the kernel's specification through the launcher.
func (k *Kernel) Info(ctx context.Context) (SpecInfo, error) {
	return k.launcher.LookupSpec(ctx, k.Name())
}

// Change retargets the client at another kernel specification. The
// record, when non-nil, gets the new spec written into its kernelspec
// metadata. A running kernel is relaunched onto the new spec; a stopped
// one just retargets.
func (k *Kernel) Change(ctx context.Context, name string, rec *Record) error {
	info, err := k.launcher.LookupSpec(ctx, name)
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.name = name
	running := k.conn != nil
	k.mu.Unlock()
	if rec != nil {
		rec.SetMeta(info.Name, "kernelspec", "name")
		rec.SetMeta(info.DisplayName, "kernelspec", "display_name")
		rec.SetMeta(info.Language, "kernelspec", "language")
	}
	k.log.Info().Str("kernel", name).Bool("running", running).Msg("kernel spec changed")
	if !running {
		return nil
	}
	return k.host.do(ctx, "change", func(ctx context.Context) error {
		if err := k.stop(ctx, false); err != nil {
			return err
		}
		return k.start(ctx)
	})
}

// connection returns the live transport, or nil.
func (k *Kernel) connection() Connection {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.conn
}

// newRequest assembles an outbound request stamped with the client's
// session identity.
func (k *Kernel) newRequest(msgType string, content any) (Message, error) {
	return NewMessage(msgType, k.session, k.opts.username, content)
}

// roundTrip sends a request on the shell channel and waits for the reply
// carrying a final status. Intermediate shell traffic for the same
// request is consumed and ignored.
func (k *Kernel) roundTrip(ctx context.Context, msgType string, content any) (Message, error) {
	conn := k.connection()
	if conn == nil {
		return Message{}, ErrNotRunning
	}
	msg, err := k.newRequest(msgType, content)
	if err != nil {
		return Message{}, err
	}
	st := k.corr.open(ChannelShell, msg.Header.MsgID)
	defer st.Close()
	if err := conn.Send(ctx, ChannelShell, msg); err != nil {
		return Message{}, err
	}
	for {
		reply, err := st.Next(ctx)
		if err != nil {
			return Message{}, err
		}
		if finalStatus(replyStatus(reply.Content)) {
			return reply, nil
		}
	}
}
