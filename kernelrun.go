// Package kernelrun provides an asynchronous client for the kernel
// messaging protocol spoken by Jupyter-style interpreter kernels.
//
// The protocol is a request/response and publish/subscribe hybrid over
// three logical channels: a request channel for execution and
// introspection replies, a broadcast channel for output and state
// events, and an input channel the kernel uses to ask for stdin. The
// client issues requests, correlates every inbound message to the
// request that caused it, knows per channel when a response stream is
// finished, tolerates messages that match nothing, and drives the
// kernel lifecycle concurrently with in-flight requests.
//
// # Core Types
//
//   - [Kernel] — the client: lifecycle control plus request operations
//   - [Record] — caller-owned accumulator one execution fills in
//   - [Message] — one decoded protocol message
//   - [Connection], [Launcher] — the transport contract
//   - [Option], [ExecOption] — functional options
//
// # Transports
//
// The root package never touches a wire. Transports implement
// [Connection] and [Launcher]:
//
//   - kernelrun/local — kernels as local subprocesses over ZeroMQ
//   - kernelrun/gateway — kernels on a Jupyter kernel server over
//     REST and a websocket
//   - kernelrun/conntest — scripted in-memory transport for tests
//
// # Quick Start
//
//	reg, err := kernelspec.NewRegistry()
//	if err != nil { log.Fatal(err) }
//	k := kernelrun.New(local.NewLauncher(reg), "python3")
//	if err := k.Start(ctx); err != nil { log.Fatal(err) }
//	defer k.Shutdown(context.Background())
//
//	rec := kernelrun.NewRecord(`print("hello")`)
//	if err := k.ExecuteWait(ctx, rec); err != nil { log.Fatal(err) }
//	for _, out := range rec.Outputs() {
//	    fmt.Print(out.Text)
//	}
package kernelrun
