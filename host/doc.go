// Package host implements the host domain of a core device: the session
// that owns the host side of the mailbox and the state the kernel reaches
// through it.
//
// A Session sends a program image to the kernel and then serves kernel
// requests until the run reaches a terminal message:
//
//	NowInitRequest      -> Clock
//	RpcSend/RpcRecv*    -> Services (service 0 is the writeback store)
//	CacheGet/CachePut   -> Cache
//	WatchdogSet/Clear   -> Watchdogs
//	Log/LogSlice        -> zap, and Outcome.Log
//
// The result is an Outcome. Between runs the cache is unborrowed, batched
// writebacks are applied and every watchdog is cleared.
package host
