package conntest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmora/kernelrun"
)

// ConnFactory returns a fresh Connection under test. It is called once
// per subtest; register cleanup on t.
type ConnFactory func(t *testing.T) kernelrun.Connection

// RunConnectionTests checks the [kernelrun.Connection] behavioral
// contract: context discipline on blocking calls and idempotent
// teardown. It exercises no kernel semantics, so it runs against a
// transport with nothing listening on the far side.
func RunConnectionTests(t *testing.T, factory ConnFactory) {
	t.Helper()

	t.Run("RecvHonorsCancel", func(t *testing.T) {
		conn := factory(t)
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		done := make(chan error, 1)
		go func() {
			_, err := conn.Recv(ctx, kernelrun.ChannelIOPub)
			done <- err
		}()
		select {
		case err := <-done:
			if err == nil {
				t.Error("Recv with cancelled context must return an error")
			}
		case <-time.After(2 * time.Second):
			t.Error("Recv must unblock promptly on a cancelled context")
		}
	})

	t.Run("ReadyHonorsDeadline", func(t *testing.T) {
		conn := factory(t)
		defer conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		done := make(chan struct{})
		go func() {
			_ = conn.Ready(ctx)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Ready must return once its context expires")
		}
	})

	t.Run("AliveBounded", func(t *testing.T) {
		conn := factory(t)
		defer conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done := make(chan struct{})
		go func() {
			_, _ = conn.Alive(ctx)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Alive must return within its context's bound")
		}
	})

	t.Run("CloseIdempotent", func(t *testing.T) {
		conn := factory(t)
		if err := conn.Close(); err != nil {
			t.Errorf("first Close() = %v, want nil", err)
		}
		// A second close must not panic; its error is unspecified.
		_ = conn.Close()
	})

	t.Run("RecvAfterCloseFails", func(t *testing.T) {
		conn := factory(t)
		_ = conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if _, err := conn.Recv(ctx, kernelrun.ChannelShell); err == nil {
			t.Error("Recv on a closed connection must fail")
		}
	})

	t.Run("ShutdownThenCloseRaces", func(t *testing.T) {
		conn := factory(t)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Shutdown of a kernel that never ran may fail; it must not hang
		// or panic, and Close must still succeed afterwards.
		_ = conn.Shutdown(ctx, true)
		_ = conn.Close()
	})
}

// LauncherFactory returns a fresh Launcher under test plus the name of
// a kernel specification it can resolve.
type LauncherFactory func(t *testing.T) (l kernelrun.Launcher, knownSpec string)

// RunLauncherTests checks the [kernelrun.Launcher] lookup contract:
// known specs resolve with their name, unknown specs wrap
// [kernelrun.ErrSpecNotFound].
func RunLauncherTests(t *testing.T, factory LauncherFactory) {
	t.Helper()

	t.Run("LookupKnownSpec", func(t *testing.T) {
		l, name := factory(t)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		info, err := l.LookupSpec(ctx, name)
		if err != nil {
			t.Fatalf("LookupSpec(%q) = %v, want nil", name, err)
		}
		if info.Name != name {
			t.Errorf("LookupSpec(%q).Name = %q, want %q", name, info.Name, name)
		}
	})

	t.Run("LookupUnknownSpec", func(t *testing.T) {
		l, _ := factory(t)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := l.LookupSpec(ctx, "conntest-no-such-kernel")
		if !errors.Is(err, kernelrun.ErrSpecNotFound) {
			t.Errorf("LookupSpec(unknown) = %v, want ErrSpecNotFound", err)
		}
	})
}
