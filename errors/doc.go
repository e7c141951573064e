// Package errors provides structured error types for the coredevice runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries the offending message or symbol, the
// memory address involved, and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseProtocol, errors.KindUnexpectedMessage).
//		Message("RpcRecvReply").
//		Detail("waiting for WatchdogSetReply").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UnexpectedMessage("WatchdogSetReply", "RunFinished")
//	err := errors.OutOfBounds(errors.PhaseMemory, 0x1000, 8)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
