package kernelrun

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// InputRequest is the kernel asking for a line of input while executed
// code reads from stdin.
type InputRequest struct {
	// Prompt is the text to show the user.
	Prompt string

	// Password indicates the input must not be echoed.
	Password bool

	reply func(string) error
}

// Reply sends the user's value back to the kernel. It may be called from
// any goroutine, once per request.
func (r InputRequest) Reply(value string) error {
	return r.reply(value)
}

// Execute runs the record's code without blocking. Output, the execution
// counter, and timing metadata land in the record as they arrive; use
// WithOutputNotify and WithDoneNotify to observe progress.
func (k *Kernel) Execute(rec *Record, opts ...ExecOption) {
	eo := resolveExecOptions(opts...)
	k.host.submit("execute", eo.timeout, func(ctx context.Context) error {
		return k.execute(ctx, rec, eo)
	}, nil)
}

// ExecuteWait runs the record's code and blocks until the kernel went
// idle again or ctx is done.
func (k *Kernel) ExecuteWait(ctx context.Context, rec *Record, opts ...ExecOption) error {
	eo := resolveExecOptions(opts...)
	if eo.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eo.timeout)
		defer cancel()
	}
	return k.host.do(ctx, "execute", func(ctx context.Context) error {
		return k.execute(ctx, rec, eo)
	})
}

// execute issues the request and drives one consumer per channel against
// its reply traffic. The consumers share nothing but the request id and
// the record; a failure in one does not stop the others. The broadcast
// consumer alone decides when the execution is done.
func (k *Kernel) execute(ctx context.Context, rec *Record, eo execOptions) (err error) {
	var doneOnce sync.Once
	fire := func(ferr error) {
		if eo.done == nil {
			return
		}
		doneOnce.Do(func() { eo.done(ferr) })
	}
	defer func() {
		if err != nil {
			fire(err)
		}
	}()

	conn := k.connection()
	if conn == nil {
		return ErrNotRunning
	}
	msg, err := k.newRequest(MsgTypeExecuteRequest, ExecuteRequest{
		Code:            rec.Code(),
		Silent:          false,
		StoreHistory:    true,
		UserExpressions: map[string]any{},
		AllowStdin:      eo.stdin != nil,
		StopOnError:     true,
	})
	if err != nil {
		return err
	}
	id := msg.Header.MsgID

	// Register before sending: a fast kernel's first broadcast must not
	// beat the registration and go stray.
	shellStream := k.corr.open(ChannelShell, id)
	iopubStream := k.corr.open(ChannelIOPub, id)
	var stdinStream *stream
	if eo.stdin != nil {
		stdinStream = k.corr.open(ChannelStdin, id)
	}
	if err := conn.Send(ctx, ChannelShell, msg); err != nil {
		shellStream.Close()
		iopubStream.Close()
		if stdinStream != nil {
			stdinStream.Close()
		}
		return err
	}

	stdinCtx, stopStdin := context.WithCancel(ctx)
	defer stopStdin()

	var outer, inner errgroup.Group
	k.goConsumer(&inner, "iopub", func() error {
		return k.consumeIOPub(ctx, iopubStream, rec, eo, fire)
	})
	k.goConsumer(&inner, "shell", func() error {
		return k.consumeShellReply(ctx, shellStream, rec)
	})
	if stdinStream != nil {
		k.goConsumer(&outer, "stdin", func() error {
			return k.consumeStdin(stdinCtx, stdinStream, conn, eo)
		})
	}
	outer.Go(func() error {
		defer stopStdin()
		return inner.Wait()
	})
	return outer.Wait()
}

// goConsumer runs one channel consumer with panic recovery, so a fault
// in one consumer or a caller-supplied callback surfaces as that
// consumer's error instead of tearing the process down.
func (k *Kernel) goConsumer(g *errgroup.Group, name string, fn func() error) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				k.log.Error().
					Str("consumer", name).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("consumer panicked")
				err = fmt.Errorf("kernelrun: %s consumer panicked: %v", name, r)
			}
		}()
		return fn()
	})
}

// consumeIOPub folds broadcast traffic into the record until the kernel
// reports idle or raises. fire runs exactly once at that point.
func (k *Kernel) consumeIOPub(ctx context.Context, st *stream, rec *Record, eo execOptions, fire func(error)) error {
	defer st.Close()
	for {
		msg, err := st.Next(ctx)
		if err != nil {
			return err
		}
		done := k.foldIOPub(msg, rec)
		if eo.output != nil {
			eo.output()
		}
		if done {
			fire(nil)
			return nil
		}
	}
}

// foldIOPub applies one broadcast message to the record. Reports whether
// the execution's broadcast stream is finished: after an idle status, or
// immediately after an error.
func (k *Kernel) foldIOPub(msg Message, rec *Record) bool {
	switch msg.Header.MsgType {
	case MsgTypeStatus:
		var c StatusContent
		if err := msg.DecodeContent(&c); err != nil {
			k.decodeWarn(msg, err)
			return false
		}
		switch c.ExecutionState {
		case "busy":
			rec.SetMeta(timestamp(msg), "iopub", "status", "busy")
		case "idle":
			rec.SetMeta(timestamp(msg), "iopub", "status", "idle")
			return true
		}
	case MsgTypeExecuteInput:
		var c ExecuteInputContent
		if err := msg.DecodeContent(&c); err != nil {
			k.decodeWarn(msg, err)
			return false
		}
		rec.SetExecutionCount(c.ExecutionCount)
		rec.SetMeta(timestamp(msg), "iopub", "execute_input")
	case MsgTypeStream:
		var c StreamContent
		if err := msg.DecodeContent(&c); err != nil {
			k.decodeWarn(msg, err)
			return false
		}
		rec.AppendOutput(Output{Type: OutputStream, Name: c.Name, Text: c.Text})
	case MsgTypeDisplayData, MsgTypeUpdateDisplayData:
		var c DisplayDataContent
		if err := msg.DecodeContent(&c); err != nil {
			k.decodeWarn(msg, err)
			return false
		}
		rec.AppendOutput(Output{Type: OutputDisplayData, Data: c.Data, Metadata: c.Metadata})
	case MsgTypeExecuteResult:
		var c ExecuteResultContent
		if err := msg.DecodeContent(&c); err != nil {
			k.decodeWarn(msg, err)
			return false
		}
		rec.SetExecutionCount(c.ExecutionCount)
		rec.AppendOutput(Output{
			Type:           OutputExecuteResult,
			Data:           c.Data,
			Metadata:       c.Metadata,
			ExecutionCount: c.ExecutionCount,
		})
	case MsgTypeError:
		var c ErrorContent
		if err := msg.DecodeContent(&c); err != nil {
			k.decodeWarn(msg, err)
			return false
		}
		rec.AppendOutput(Output{
			Type:      OutputError,
			Ename:     c.Ename,
			Evalue:    c.Evalue,
			Traceback: c.Traceback,
		})
		return true
	case MsgTypeClearOutput:
		var c ClearOutputContent
		if err := msg.DecodeContent(&c); err != nil {
			k.decodeWarn(msg, err)
			return false
		}
		rec.ClearOutputs(c.Wait)
	default:
		k.log.Debug().Str("msg_type", msg.Header.MsgType).Msg("unhandled broadcast message")
	}
	return false
}

// consumeShellReply waits for the reply with a final status, folding the
// execution counter and the reply timestamp into the record.
func (k *Kernel) consumeShellReply(ctx context.Context, st *stream, rec *Record) error {
	defer st.Close()
	for {
		msg, err := st.Next(ctx)
		if err != nil {
			return err
		}
		switch replyStatus(msg.Content) {
		case StatusOK:
			var c ExecuteReply
			if err := msg.DecodeContent(&c); err == nil && c.ExecutionCount > 0 {
				rec.SetExecutionCount(c.ExecutionCount)
			}
			rec.SetMeta(timestamp(msg), "execute", "shell", "execute_reply")
			return nil
		case StatusErr, StatusAbort:
			rec.SetMeta(timestamp(msg), "execute", "shell", "execute_reply")
			return nil
		}
	}
}

// consumeStdin answers input requests for one execution. It has no
// terminal message of its own: it runs until the other consumers finish
// and its context is cancelled.
func (k *Kernel) consumeStdin(ctx context.Context, st *stream, conn Connection, eo execOptions) error {
	defer st.Close()
	for {
		msg, err := st.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrNotRunning) {
				return nil
			}
			return err
		}
		if msg.Header.MsgType != MsgTypeInputRequest {
			continue
		}
		var c InputRequestContent
		if err := msg.DecodeContent(&c); err != nil {
			k.decodeWarn(msg, err)
			continue
		}
		parent := msg.Header
		eo.stdin(InputRequest{
			Prompt:   c.Prompt,
			Password: c.Password,
			reply: func(value string) error {
				reply, err := k.newRequest(MsgTypeInputReply, InputReply{Value: value})
				if err != nil {
					return err
				}
				reply.Parent = parent
				return conn.Send(ctx, ChannelStdin, reply)
			},
		})
	}
}

func (k *Kernel) decodeWarn(msg Message, err error) {
	k.log.Warn().
		Err(err).
		Str("msg_type", msg.Header.MsgType).
		Msg("undecodable message content")
}

// timestamp returns the message's header date, falling back to the local
// clock for kernels that omit it.
func timestamp(msg Message) string {
	if d := msg.Header.Date; d != "" {
		return d
	}
	return time.Now().UTC().Format(time.RFC3339Nano)
}
