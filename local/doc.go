// Package local runs kernels as subprocesses of this client.
//
// The launcher resolves a kernel specification from a
// [kernelspec.Registry], allocates loopback ports, writes a connection
// file, and launches the spec's argv with {connection_file} substituted.
// The channels speak the signed multipart wire protocol over ZeroMQ
// sockets; messages are authenticated with HMAC-SHA256 under the key
// from the connection file.
//
// Interrupts go to the process as SIGINT, or as an interrupt_request on
// the control channel when the spec declares message-mode interrupts.
// A clean stop asks the kernel to shut down and escalates to a kill
// after a grace period.
package local
