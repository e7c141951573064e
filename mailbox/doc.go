// Package mailbox implements the single-slot synchronous channel between the
// kernel and host domains.
//
// The slot holds at most one message. A sender publishes a message, blocks
// until the peer acknowledges it, then clears the slot. Values referenced by
// the message (strings, slices, program memory) are borrowed by the receiver
// and stay valid only until it acknowledges.
//
//	mb := mailbox.New()
//	kernel := mailbox.NewEndpoint(mb, mailbox.Kernel, mailbox.Spin)
//	host := mailbox.NewEndpoint(mb, mailbox.Host, mailbox.Park)
//
//	go kernel.Send(ctx, &proto.NowInitRequest{})
//	msg, _ := host.Recv(ctx)
//	host.Ack()
package mailbox
