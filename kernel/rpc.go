package kernel

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/coredevice/proto"
)

// WritebackService is the service id of attribute writeback calls.
const WritebackService = 0

// SendRPC asks the host to call service with the arguments at args. The tag
// and argument memory must stay untouched until the call is acknowledged.
// Writeback calls are always marked batched.
func (r *Runtime) SendRPC(ctx context.Context, service uint32, tag []byte, args []uint32) error {
	if ce := r.logger.Check(zap.DebugLevel, "rpc send"); ce != nil {
		ce.Write(zap.Uint32("service", service), zap.ByteString("tag", tag), zap.Int("args", len(args)))
	}
	return r.ep.Send(ctx, &proto.RpcSend{
		Mem:     r.Memory(),
		Tag:     tag,
		Args:    args,
		Service: service,
		Batch:   service == WritebackService,
	})
}

// RecvRPC receives the next part of an RPC result into slot. It returns the
// size of the buffer the host needs next, 0 when the result is complete. An
// exception raised by the host is re-raised here.
func (r *Runtime) RecvRPC(ctx context.Context, slot uint32) (uint32, error) {
	reply, err := r.request(ctx, &proto.RpcRecvRequest{Mem: r.Memory(), Slot: slot})
	if err != nil {
		return 0, err
	}
	rr, ok := reply.(*proto.RpcRecvReply)
	if !ok {
		return 0, r.unexpected(ctx, "RpcRecvReply", reply)
	}
	if rr.Exception != nil {
		exn := rr.Exception.Clone()
		r.ep.Ack()
		return 0, r.raiseAt(ctx, 0, exn)
	}
	size := rr.Size
	r.ep.Ack()
	return size, nil
}
