package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad     Phase = "load"     // image loading and linking
	PhaseProtocol Phase = "protocol" // mailbox message exchange
	PhaseMemory   Phase = "memory"   // program memory access
	PhaseRPC      Phase = "rpc"      // tag parsing, argument decoding, results
	PhaseRuntime  Phase = "runtime"  // kernel lifecycle
	PhaseHost     Phase = "host"     // host services
	PhaseEncode   Phase = "encode"   // wire and table encoding
	PhaseDecode   Phase = "decode"   // wire and table decoding
	PhaseConfig   Phase = "config"   // configuration
)

// Kind categorizes the error
type Kind string

const (
	KindMalformedImage    Kind = "malformed_image"
	KindUnresolvedSymbol  Kind = "unresolved_symbol"
	KindSignature         Kind = "signature_mismatch"
	KindInstantiation     Kind = "instantiation"
	KindUnexpectedMessage Kind = "unexpected_message"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindInvalidData       Kind = "invalid_data"
	KindInvalidTag        Kind = "invalid_tag"
	KindInvalidUTF8       Kind = "invalid_utf8"
	KindUnsupported       Kind = "unsupported"
	KindNotFound          Kind = "not_found"
	KindNotInitialized    Kind = "not_initialized"
	KindInvalidInput      Kind = "invalid_input"
	KindAllocation        Kind = "allocation"
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	Symbol  string
	Message string
	Detail  string
	Address uint32
	HasAddr bool
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Symbol != "" {
		b.WriteString(" symbol ")
		b.WriteString(e.Symbol)
	}

	if e.HasAddr {
		fmt.Fprintf(&b, " at 0x%x", e.Address)
	}

	if e.Message != "" {
		b.WriteString(": message ")
		b.WriteString(e.Message)
	}

	if e.Detail != "" {
		if e.Message != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Symbol sets the symbol name involved
func (b *Builder) Symbol(name string) *Builder {
	b.err.Symbol = name
	return b
}

// Message sets the protocol message name involved
func (b *Builder) Message(name string) *Builder {
	b.err.Message = name
	return b
}

// Address sets the memory address involved
func (b *Builder) Address(addr uint32) *Builder {
	b.err.Address = addr
	b.err.HasAddr = true
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// MalformedImage creates a load error for an image the loader cannot parse
func MalformedImage(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindMalformedImage,
		Detail: detail,
		Cause:  cause,
	}
}

// UnresolvedSymbol creates a load error for an import the resolver does not know
func UnresolvedSymbol(module, name string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindUnresolvedSymbol,
		Symbol: name,
		Detail: fmt.Sprintf("import %s.%s has no definition", module, name),
	}
}

// SignatureMismatch creates a load error for an import whose type disagrees with its definition
func SignatureMismatch(name, want, got string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindSignature,
		Symbol: name,
		Detail: fmt.Sprintf("expected %s, image declares %s", want, got),
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Detail: "instantiate image",
		Cause:  cause,
	}
}

// UnexpectedMessage creates a protocol violation error
func UnexpectedMessage(want, got string) *Error {
	return &Error{
		Phase:   PhaseProtocol,
		Kind:    KindUnexpectedMessage,
		Message: got,
		Detail:  fmt.Sprintf("waiting for %s", want),
	}
}

// OutOfBounds creates a memory access error
func OutOfBounds(phase Phase, addr, length uint32) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindOutOfBounds,
		Address: addr,
		HasAddr: true,
		Detail:  fmt.Sprintf("%d bytes out of bounds", length),
	}
}

// InvalidTag creates an RPC tag parsing error
func InvalidTag(tag []byte, pos int, detail string) *Error {
	return &Error{
		Phase:  PhaseRPC,
		Kind:   KindInvalidTag,
		Value:  string(tag),
		Detail: fmt.Sprintf("tag %q at %d: %s", tag, pos, detail),
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Symbol: name,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// UnresolvedSymbolsError is returned when an image imports several symbols
// the resolver cannot supply
type UnresolvedSymbolsError struct {
	Symbols []string // "module.name"
}

func (e *UnresolvedSymbolsError) Error() string {
	if len(e.Symbols) == 0 {
		return "[load] unresolved_symbol: no symbols specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "unresolved %d symbol(s):", len(e.Symbols))
	for _, s := range e.Symbols {
		b.WriteString("\n  - ")
		b.WriteString(s)
	}
	return b.String()
}

// Is reports whether target matches this error type. Any unresolved symbol
// error matches so callers can test with UnresolvedSymbol values too.
func (e *UnresolvedSymbolsError) Is(target error) bool {
	switch t := target.(type) {
	case *UnresolvedSymbolsError:
		return true
	case *Error:
		return t.Phase == PhaseLoad && t.Kind == KindUnresolvedSymbol
	}
	return false
}
