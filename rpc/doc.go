// Package rpc implements the RPC tag grammar and the memory layout of RPC
// arguments and results.
//
// A tag describes a call as "<argument types>:<return type>":
//
//	n  none                  b  bool (u8)
//	i  int32                 I  int64
//	f  float64               s  string {ptr u32, len u32}
//	O  object reference u32  l<T>  list of T {ptr u32, len u32}
//	t<N><T...>  tuple of N fields, N a raw count byte
//
// Values use natural alignment. Arguments are passed as an array of
// addresses, one per argument, and read in place by the host.
//
// Results travel in two phases. The host writes scalars directly into the
// slot the kernel names and replies 0. A string or list needs storage the
// kernel owns: the host writes the length into the value header and replies
// with the number of bytes it needs; the kernel allocates that many bytes and
// names the buffer as the next slot; the host copies the payload, patches the
// header pointer and replies with the next size, or 0 when done.
package rpc
