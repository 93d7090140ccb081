package kernelrun

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/dmora/kernelrun/internal/errfmt"
)

// reader pumps one channel: it receives each inbound message and routes
// it through the correlator. Unmatched messages are logged at debug and
// dropped; they never block the channel or the other readers. The iopub
// reader additionally folds execution-state broadcasts into the status
// cell, whoever they belong to.
type reader struct {
	ch     Channel
	conn   Connection
	corr   *correlator
	status *statusCell
	log    zerolog.Logger
	onDead func(error)
}

// run loops until ctx is cancelled or the transport fails. A receive
// error while the client is not stopping marks the transport dead.
func (r *reader) run(ctx context.Context) {
	for {
		msg, err := r.conn.Recv(ctx, r.ch)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			r.log.Warn().Err(err).Str("channel", string(r.ch)).Msg("channel receive failed")
			if r.onDead != nil {
				r.onDead(err)
			}
			return
		}
		if r.ch == ChannelIOPub && msg.Header.MsgType == MsgTypeStatus {
			r.observeStatus(msg)
		}
		if !r.corr.dispatch(ctx, r.ch, msg) && ctx.Err() == nil {
			r.log.Debug().
				Str("channel", string(r.ch)).
				Str("msg_type", msg.Header.MsgType).
				Str("parent", msg.ParentID()).
				Str("content", errfmt.Summary(msg.Content)).
				Msg("stray message dropped")
		}
	}
}

func (r *reader) observeStatus(msg Message) {
	var sc StatusContent
	if err := msg.DecodeContent(&sc); err != nil {
		return
	}
	if next, ok := statusFromExecutionState(sc.ExecutionState); ok {
		r.status.set(next)
	}
}
