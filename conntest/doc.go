// Package conntest provides an in-memory scripted transport for testing
// code that drives a [kernelrun.Kernel], and compliance suites for
// custom [kernelrun.Connection] and [kernelrun.Launcher] implementations.
//
// [Conn] is a Connection backed by per-channel queues: tests queue the
// kernel's side of an exchange with Emit, or install a Script that
// answers every sent request. [Launcher] hands out a Conn and resolves
// spec lookups from a fixed table.
//
// Transport authors call [RunConnectionTests] with a factory returning
// the implementation under test:
//
//	package mytransport_test
//
//	import (
//	    "testing"
//
//	    "github.com/dmora/kernelrun"
//	    "github.com/dmora/kernelrun/conntest"
//	    "github.com/dmora/kernelrun/mytransport"
//	)
//
//	func TestCompliance(t *testing.T) {
//	    conntest.RunConnectionTests(t, func(t *testing.T) kernelrun.Connection {
//	        return mytransport.Dial(t)
//	    })
//	}
package conntest
