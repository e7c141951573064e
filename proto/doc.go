// Package proto defines the closed set of messages exchanged between the
// kernel and host domains, the exception record carried across the
// boundary, the fixed address map, and the big-endian wire framing used by
// network-facing collaborators.
//
// Every request has exactly one matching reply:
//
//	LoadRequest        -> LoadReply
//	NowInitRequest     -> NowInitReply
//	WatchdogSetRequest -> WatchdogSetReply
//	RpcRecvRequest     -> RpcRecvReply
//	CacheGetRequest    -> CacheGetReply
//	CachePutRequest    -> CachePutReply
//
// NowSave, WatchdogClear, RpcSend, Log and LogSlice expect no reply.
// RunFinished, RunAborted and RunException end a run.
//
// Payload fields are borrowed: they stay valid only until the receiver
// acknowledges the message.
package proto
