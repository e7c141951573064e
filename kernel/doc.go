// Package kernel implements the kernel-domain runtime: it loads one program
// at a time, runs it, and routes every effect the program has on the outside
// world (logging, RPC, cache, watchdogs, the clock) through the mailbox to
// the host.
//
// The runtime serves a fixed cycle:
//
//	Idle -> Loading -> Initializing -> Running -> Writeback -> Reporting -> Idle
//	        Loading -> Reporting(load error) -> Idle
//
// Primitives are methods on Runtime returning errors. A raised exception is a
// *RaisedError travelling up every frame to the single catch point in the run
// step; abort() is ErrAborted. Anything else that ends a run early is a
// native panic and is reported as RunAborted without a backtrace.
//
// A reply that does not match the outstanding request halts the runtime:
// Serve logs it and returns the protocol error. Only an external reboot
// recovers from that.
package kernel
