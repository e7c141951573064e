package kernel

import (
	"context"
	"slices"

	"github.com/wippyai/coredevice/proto"
)

// CacheGet returns a copy of the host's row for key, empty when absent.
// Writing to it never changes the row; use CachePut for that.
func (r *Runtime) CacheGet(ctx context.Context, key string) ([]int32, error) {
	reply, err := r.request(ctx, &proto.CacheGetRequest{Key: key})
	if err != nil {
		return nil, err
	}
	get, ok := reply.(*proto.CacheGetReply)
	if !ok {
		return nil, r.unexpected(ctx, "CacheGetReply", reply)
	}
	value := slices.Clone(get.Value)
	r.ep.Ack()
	return value, nil
}

// CachePut replaces the row for key. It raises CacheError when the row is
// borrowed by an earlier CacheGet in this run.
func (r *Runtime) CachePut(ctx context.Context, key string, value []int32) error {
	reply, err := r.request(ctx, &proto.CachePutRequest{Key: key, Value: value})
	if err != nil {
		return err
	}
	put, ok := reply.(*proto.CachePutReply)
	if !ok {
		return r.unexpected(ctx, "CachePutReply", reply)
	}
	succeeded := put.Succeeded
	r.ep.Ack()
	if !succeeded {
		exn := builtin(0, CacheError, "cannot put into a busy cache row")
		return r.raiseAt(ctx, 0, exn)
	}
	return nil
}
