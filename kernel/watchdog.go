package kernel

import (
	"context"

	"github.com/wippyai/coredevice/proto"
)

// WatchdogSet arms a host watchdog expiring after ms milliseconds and
// returns its id. A negative timeout raises ValueError without contacting
// the host.
func (r *Runtime) WatchdogSet(ctx context.Context, ms int64) (uint32, error) {
	if ms < 0 {
		exn := builtin(0, ValueError, "cannot set a watchdog with a negative timeout ({0} ms)", ms)
		return 0, r.raiseAt(ctx, 0, exn)
	}
	reply, err := r.request(ctx, &proto.WatchdogSetRequest{Ms: uint64(ms)})
	if err != nil {
		return 0, err
	}
	set, ok := reply.(*proto.WatchdogSetReply)
	if !ok {
		return 0, r.unexpected(ctx, "WatchdogSetReply", reply)
	}
	id := set.ID
	r.ep.Ack()
	return id, nil
}

// WatchdogClear disarms a watchdog.
func (r *Runtime) WatchdogClear(ctx context.Context, id uint32) error {
	return r.ep.Send(ctx, &proto.WatchdogClear{ID: id})
}
