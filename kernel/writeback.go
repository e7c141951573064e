package kernel

import (
	"context"

	"github.com/wippyai/coredevice/loader"
	"github.com/wippyai/coredevice/typeinfo"
)

// writeback sends every tagged attribute of every live object to the host
// as a batched call of WritebackService with arguments (object, name,
// value).
func (r *Runtime) writeback(ctx context.Context, mod loader.Module) error {
	addr, ok := mod.Lookup(loader.SymbolTypeinfo)
	if !ok {
		return nil
	}
	table, err := typeinfo.Decode(mod.Memory(), addr)
	if err != nil {
		return err
	}
	return table.Walk(func(obj typeinfo.Object, attr typeinfo.Attr) error {
		args := []uint32{obj.Slot, attr.NameAddr(), obj.Addr + attr.Offset}
		return r.SendRPC(ctx, WritebackService, attr.Tag, args)
	})
}
