// Package gateway runs kernels on a remote Jupyter kernel server.
//
// The launcher speaks the server's REST surface — /api/kernelspecs for
// lookups, /api/kernels to start kernels, and the per-kernel interrupt,
// restart and delete endpoints — and multiplexes all message channels
// over the kernel's single websocket at /api/kernels/{id}/channels. A
// read loop demultiplexes inbound frames into per-channel queues;
// writes are serialized on the websocket.
//
// Token authentication and extra headers are set with options and sent
// on every request, the websocket dial included.
package gateway
