package loader

import "github.com/tetratelabs/wazero/api"

// Primitive names imported from ImportModule.
const (
	PrimAbort         = "abort"
	PrimLog           = "send_to_log"
	PrimSendRPC       = "send_rpc"
	PrimRecvRPC       = "recv_rpc"
	PrimWatchdogSet   = "watchdog_set"
	PrimWatchdogClear = "watchdog_clear"
	PrimCacheGet      = "cache_get"
	PrimCachePut      = "cache_put"
	PrimRaise         = "raise"
)

// Signature is a primitive's wasm type.
type Signature struct {
	Params  []api.ValueType
	Results []api.ValueType
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// Primitives lists every primitive in a fixed order with its signature.
var Primitives = []struct {
	Name string
	Signature
}{
	{PrimAbort, Signature{}},
	{PrimLog, Signature{Params: []api.ValueType{i32, i32}}},
	{PrimSendRPC, Signature{Params: []api.ValueType{i32, i32, i32, i32, i32}}},
	{PrimRecvRPC, Signature{Params: []api.ValueType{i32}, Results: []api.ValueType{i32}}},
	{PrimWatchdogSet, Signature{Params: []api.ValueType{i64}, Results: []api.ValueType{i32}}},
	{PrimWatchdogClear, Signature{Params: []api.ValueType{i32}}},
	{PrimCacheGet, Signature{Params: []api.ValueType{i32, i32, i32, i32}, Results: []api.ValueType{i32}}},
	{PrimCachePut, Signature{Params: []api.ValueType{i32, i32, i32, i32}}},
	{PrimRaise, Signature{Params: []api.ValueType{i32}}},
}

// Exception record passed to PrimRaise, in program memory. Strings are
// {ptr u32, len u32}.
const (
	ExnName     = 0
	ExnFile     = 8
	ExnLine     = 16
	ExnColumn   = 20
	ExnFunction = 24
	ExnMessage  = 32
	ExnParams   = 40 // 3 x i64
	ExnSize     = 64
)
