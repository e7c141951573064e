package proto

import (
	"fmt"
	"strings"

	"github.com/wippyai/coredevice"
)

// Message is one of the variants below. The set is closed.
type Message interface {
	message()
}

// LoadRequest carries the binary image to load at PayloadAddress.
type LoadRequest struct {
	Image []byte
}

// LoadReply reports the load outcome; Err is nil on success.
type LoadReply struct {
	Err error
}

type NowInitRequest struct{}

type NowInitReply struct {
	Now uint64
}

// NowSave hands the clock back to the host so time persists across runs.
type NowSave struct {
	Now uint64
}

type RunFinished struct{}

type RunAborted struct{}

// RunException reports an uncaught exception. Backtrace holds offsets
// relative to the loaded program, innermost frame first.
type RunException struct {
	Exception Exception
	Backtrace []uint32
}

type WatchdogSetRequest struct {
	Ms uint64
}

type WatchdogSetReply struct {
	ID uint32
}

type WatchdogClear struct {
	ID uint32
}

// RpcSend invokes host service Service. Tag describes the argument shapes
// and the return type; Args holds one address in Mem per argument.
type RpcSend struct {
	Mem     coredevice.Memory
	Tag     []byte
	Args    []uint32
	Service uint32
	Batch   bool
}

// RpcRecvRequest names the region of Mem that receives the next part of
// the result.
type RpcRecvRequest struct {
	Mem  coredevice.Memory
	Slot uint32
}

// RpcRecvReply is either the number of bytes the kernel must provide for the
// next part of the result (0 when complete) or a propagated exception.
type RpcRecvReply struct {
	Exception *Exception
	Size      uint32
}

type CacheGetRequest struct {
	Key string
}

// CacheGetReply holds a host-owned view valid until the next exchange.
type CacheGetReply struct {
	Value []int32
}

type CachePutRequest struct {
	Key   string
	Value []int32
}

type CachePutReply struct {
	Succeeded bool
}

// Log is formatted by the receiver before acknowledging.
type Log struct {
	Format string
	Args   []any
}

type LogSlice struct {
	Text string
}

func (*LoadRequest) message()        {}
func (*LoadReply) message()          {}
func (*NowInitRequest) message()     {}
func (*NowInitReply) message()       {}
func (*NowSave) message()            {}
func (*RunFinished) message()        {}
func (*RunAborted) message()         {}
func (*RunException) message()       {}
func (*WatchdogSetRequest) message() {}
func (*WatchdogSetReply) message()   {}
func (*WatchdogClear) message()      {}
func (*RpcSend) message()            {}
func (*RpcRecvRequest) message()     {}
func (*RpcRecvReply) message()       {}
func (*CacheGetRequest) message()    {}
func (*CacheGetReply) message()      {}
func (*CachePutRequest) message()    {}
func (*CachePutReply) message()      {}
func (*Log) message()                {}
func (*LogSlice) message()           {}

// Name returns the variant name of msg, e.g. "WatchdogSetReply".
func Name(msg Message) string {
	if msg == nil {
		return "<none>"
	}
	name := fmt.Sprintf("%T", msg)
	name = strings.TrimPrefix(name, "*")
	return strings.TrimPrefix(name, "proto.")
}

// Describe renders msg for diagnostics without dumping memory views or
// whole images.
func Describe(msg Message) string {
	switch m := msg.(type) {
	case *LoadRequest:
		return fmt.Sprintf("LoadRequest(%d bytes)", len(m.Image))
	case *LoadReply:
		if m.Err != nil {
			return fmt.Sprintf("LoadReply(Err(%v))", m.Err)
		}
		return "LoadReply(Ok)"
	case *NowInitReply:
		return fmt.Sprintf("NowInitReply(%d)", m.Now)
	case *NowSave:
		return fmt.Sprintf("NowSave(%d)", m.Now)
	case *RunException:
		return fmt.Sprintf("RunException(%s, %d frames)", m.Exception.Name, len(m.Backtrace))
	case *WatchdogSetRequest:
		return fmt.Sprintf("WatchdogSetRequest{ms: %d}", m.Ms)
	case *WatchdogSetReply:
		return fmt.Sprintf("WatchdogSetReply{id: %d}", m.ID)
	case *WatchdogClear:
		return fmt.Sprintf("WatchdogClear{id: %d}", m.ID)
	case *RpcSend:
		return fmt.Sprintf("RpcSend{service: %d, batch: %t, tag: %q}", m.Service, m.Batch, m.Tag)
	case *RpcRecvRequest:
		return fmt.Sprintf("RpcRecvRequest(0x%x)", m.Slot)
	case *RpcRecvReply:
		if m.Exception != nil {
			return fmt.Sprintf("RpcRecvReply(Err(%s))", m.Exception.Name)
		}
		return fmt.Sprintf("RpcRecvReply(Ok(%d))", m.Size)
	case *CacheGetRequest:
		return fmt.Sprintf("CacheGetRequest{key: %q}", m.Key)
	case *CacheGetReply:
		return fmt.Sprintf("CacheGetReply{len: %d}", len(m.Value))
	case *CachePutRequest:
		return fmt.Sprintf("CachePutRequest{key: %q, len: %d}", m.Key, len(m.Value))
	case *CachePutReply:
		return fmt.Sprintf("CachePutReply{succeeded: %t}", m.Succeeded)
	case *LogSlice:
		return fmt.Sprintf("LogSlice(%q)", m.Text)
	case *Log:
		return fmt.Sprintf("Log(%q)", fmt.Sprintf(m.Format, m.Args...))
	}
	return Name(msg)
}
