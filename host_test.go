package kernelrun

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestHost() *host {
	return newHost(zerolog.Nop())
}

func TestHost_DoReturnsWorkResult(t *testing.T) {
	h := newTestHost()
	defer h.close(context.Background())

	wantErr := errors.New("boom")
	if err := h.do(context.Background(), "op", func(ctx context.Context) error {
		return wantErr
	}); !errors.Is(err, wantErr) {
		t.Errorf("do() = %v, want %v", err, wantErr)
	}

	if err := h.do(context.Background(), "op", func(ctx context.Context) error {
		return nil
	}); err != nil {
		t.Errorf("do() = %v, want nil", err)
	}
}

func TestHost_DoNeverMisreportsCompletedWork(t *testing.T) {
	h := newTestHost()
	defer h.close(context.Background())

	// Completion and the work context's cancellation become observable
	// almost simultaneously; under concurrent load the caller can reach
	// its wait with both ready. Successful work must never surface as
	// a shutdown or cancellation error.
	const callers = 32
	const iterations = 5000
	errc := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				if err := h.do(context.Background(), "op", func(ctx context.Context) error {
					return nil
				}); err != nil {
					errc <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	select {
	case err := <-errc:
		t.Fatalf("do() = %v for successful work", err)
	default:
	}
}

func TestHost_DoCancellationAbandonsWait(t *testing.T) {
	h := newTestHost()
	defer h.close(context.Background())

	workCancelled := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		errc <- h.do(ctx, "op", func(wctx context.Context) error {
			close(started)
			<-wctx.Done()
			close(workCancelled)
			return wctx.Err()
		})
	}()

	<-started
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("do() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("do still blocked after cancellation")
	}
	select {
	case <-workCancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("work context not cancelled after caller gave up")
	}
}

func TestHost_SubmitCallbackGetsResult(t *testing.T) {
	h := newTestHost()
	defer h.close(context.Background())

	wantErr := errors.New("boom")
	got := make(chan error, 1)
	h.submit("op", 0, func(ctx context.Context) error { return wantErr }, func(err error) { got <- err })

	select {
	case err := <-got:
		if !errors.Is(err, wantErr) {
			t.Errorf("callback error = %v, want %v", err, wantErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestHost_SubmitTimeoutCancelsWork(t *testing.T) {
	h := newTestHost()
	defer h.close(context.Background())

	got := make(chan error, 1)
	h.submit("op", 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, func(err error) { got <- err })

	select {
	case err := <-got:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("callback error = %v, want context.DeadlineExceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestHost_RecoversPanicInWork(t *testing.T) {
	h := newTestHost()
	defer h.close(context.Background())

	err := h.do(context.Background(), "op", func(ctx context.Context) error {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("do() = nil for panicking work, want error")
	}

	got := make(chan error, 1)
	h.submit("op", 0, func(ctx context.Context) error { panic("kaboom") }, func(err error) { got <- err })
	select {
	case err := <-got:
		if err == nil {
			t.Error("callback error = nil for panicking work, want error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestHost_CloseRejectsNewWork(t *testing.T) {
	h := newTestHost()
	if err := h.close(context.Background()); err != nil {
		t.Fatalf("close() = %v, want nil", err)
	}
	if err := h.close(context.Background()); err != nil {
		t.Errorf("second close() = %v, want nil", err)
	}

	if err := h.do(context.Background(), "op", func(ctx context.Context) error { return nil }); !errors.Is(err, ErrShutdown) {
		t.Errorf("do() after close = %v, want ErrShutdown", err)
	}

	got := make(chan error, 1)
	h.submit("op", 0, func(ctx context.Context) error { return nil }, func(err error) { got <- err })
	select {
	case err := <-got:
		if !errors.Is(err, ErrShutdown) {
			t.Errorf("submit callback after close = %v, want ErrShutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("rejected submit never invoked callback")
	}
}

func TestHost_CloseCancelsAndJoinsWork(t *testing.T) {
	h := newTestHost()

	started := make(chan struct{})
	finished := make(chan struct{})
	h.submit("op", 0, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(finished)
		return ctx.Err()
	}, nil)

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.close(ctx); err != nil {
		t.Fatalf("close() = %v, want nil", err)
	}
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("close returned before work finished")
	}
}

func TestHost_CloseHonorsBound(t *testing.T) {
	h := newTestHost()

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	h.submit("op", 0, func(ctx context.Context) error {
		close(started)
		<-block // ignores cancellation
		return nil
	}, nil)

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := h.close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("close() = %v for stuck work, want context.DeadlineExceeded", err)
	}
}

func TestHost_DoValueReturnsZeroOnError(t *testing.T) {
	h := newTestHost()
	defer h.close(context.Background())

	wantErr := errors.New("boom")
	got, err := doValue(h, context.Background(), "op", func(ctx context.Context) ([]int, error) {
		return []int{1, 2}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("doValue() error = %v, want %v", err, wantErr)
	}
	if got != nil {
		t.Errorf("doValue() = %v on error, want zero value", got)
	}

	got, err = doValue(h, context.Background(), "op", func(ctx context.Context) ([]int, error) {
		return []int{1, 2}, nil
	})
	if err != nil || len(got) != 2 {
		t.Errorf("doValue() = %v, %v; want [1 2], nil", got, err)
	}
}
