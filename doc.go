// Package coredevice is the core of a dual-domain real-time controller.
//
// A kernel domain runs one dynamically loaded, timing-critical program at a
// time and has no operating system services. A host domain supplies logging,
// remote procedure call evaluation, an attribute cache, watchdog bookkeeping
// and the clock. The two domains talk only through a single-slot synchronous
// mailbox and share the loaded program's memory.
//
// # Architecture Overview
//
//	coredevice/          Root package with the shared Memory interface
//	├── proto/           Message protocol, exception record, wire framing
//	├── mailbox/         Single-slot synchronous rendezvous channel
//	├── rpc/             RPC tags, argument decoding, result transfer
//	├── typeinfo/        Attribute writeback table layout
//	├── loader/          Loader contract and the wazero implementation
//	├── payload/         Kernel payload (WebAssembly) assembler
//	├── kernel/          Kernel runtime: lifecycle and primitives
//	├── host/            Host session, clock, cache, watchdogs, services
//	├── device/          Boots the kernel domain against a host session
//	├── config/          Environment configuration
//	├── metrics/         Prometheus collectors
//	├── errors/          Structured error types
//	└── cmd/coredevice/  CLI: run, demo, console
//
// # Quick Start
//
//	ld, err := loader.NewWazeroLoader(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	dev := device.New(config.Default(), ld, host.NewServices(), nil)
//	if err := dev.Boot(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Shutdown(ctx)
//
//	outcome, err := dev.Run(ctx, image)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(outcome)
//
// # Message Discipline
//
// Exactly one message is in flight at any instant. Data referenced by a
// message (strings, slices, memory views) is borrowed from the sender and is
// valid only until the receiver acknowledges it; a receiver copies what it
// keeps before acknowledging.
package coredevice
