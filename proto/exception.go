package proto

import (
	"strconv"
	"strings"
)

// ExceptionNamespace prefixes builtin exception names raised by the runtime.
const ExceptionNamespace = "0:coredevice.exceptions."

// Exception is an exception record crossing the domain boundary. Its strings
// may be borrowed from the sender; call Clone before retaining one past the
// exchange that delivered it.
type Exception struct {
	Name     string
	File     string
	Function string
	Message  string
	Params   [3]int64
	Line     uint32
	Column   uint32
}

// Clone returns a copy that shares no memory with e.
func (e Exception) Clone() Exception {
	return Exception{
		Name:     strings.Clone(e.Name),
		File:     strings.Clone(e.File),
		Function: strings.Clone(e.Function),
		Message:  strings.Clone(e.Message),
		Params:   e.Params,
		Line:     e.Line,
		Column:   e.Column,
	}
}

// ShortName strips the namespace from Name: "0:pkg.mod.ValueError" -> "ValueError".
func (e Exception) ShortName() string {
	name := e.Name
	if _, rest, ok := strings.Cut(name, ":"); ok {
		name = rest
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// FormatMessage substitutes {0}, {1} and {2} in Message with Params.
func (e Exception) FormatMessage() string {
	if !strings.Contains(e.Message, "{") {
		return e.Message
	}
	var b strings.Builder
	msg := e.Message
	for {
		i := strings.IndexByte(msg, '{')
		if i < 0 {
			b.WriteString(msg)
			break
		}
		if i+2 < len(msg) && msg[i+2] == '}' && msg[i+1] >= '0' && msg[i+1] <= '2' {
			b.WriteString(msg[:i])
			b.WriteString(strconv.FormatInt(e.Params[msg[i+1]-'0'], 10))
			msg = msg[i+3:]
			continue
		}
		b.WriteString(msg[:i+1])
		msg = msg[i+1:]
	}
	return b.String()
}

// Error implements error so a record can travel through error returns.
func (e Exception) Error() string {
	var b strings.Builder
	b.WriteString(e.ShortName())
	if msg := e.FormatMessage(); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.File != "" {
		b.WriteString(" (")
		b.WriteString(e.File)
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(uint64(e.Line), 10))
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(uint64(e.Column), 10))
		if e.Function != "" {
			b.WriteString(" in ")
			b.WriteString(e.Function)
		}
		b.WriteByte(')')
	}
	return b.String()
}
