package host

import (
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/wippyai/coredevice/errors"
	"github.com/wippyai/coredevice/proto"
)

// OutcomeKind classifies how a run ended.
type OutcomeKind uint8

const (
	LoadFailed OutcomeKind = iota + 1
	Finished
	Aborted
	Exception
	WatchdogExpired
)

func (k OutcomeKind) String() string {
	switch k {
	case LoadFailed:
		return "load failed"
	case Finished:
		return "finished"
	case Aborted:
		return "aborted"
	case Exception:
		return "exception"
	case WatchdogExpired:
		return "watchdog expired"
	}
	return fmt.Sprintf("outcome(%d)", uint8(k))
}

// Outcome is the result of one Session.Run.
type Outcome struct {
	LoadErr   error
	Exception *proto.Exception
	Backtrace []uint32 // program-relative, innermost first
	Log       []string
	Duration  time.Duration
	Now       uint64 // clock after the run
	ID        uuid.UUID
	Kind      OutcomeKind
}

func (o *Outcome) String() string {
	switch o.Kind {
	case LoadFailed:
		return fmt.Sprintf("%s: %v", o.Kind, o.LoadErr)
	case Exception:
		return fmt.Sprintf("%s: %s", o.Kind, o.Exception.Error())
	}
	return o.Kind.String()
}

// EncodeReport writes o in wire framing:
//
//	u8 kind, bytes run id, u64 now, u64 duration ns,
//	u32 n + n strings (log),
//	LoadFailed: string error
//	Exception:  exception, u32 n + n u32 frames
func EncodeReport(w io.Writer, o *Outcome) error {
	if err := writeReport(w, o); err != nil {
		return errors.Wrap(errors.PhaseEncode, errors.KindInvalidData, err, "report")
	}
	return nil
}

func writeReport(w io.Writer, o *Outcome) error {
	if err := proto.WriteU8(w, uint8(o.Kind)); err != nil {
		return err
	}
	if err := proto.WriteBytes(w, o.ID[:]); err != nil {
		return err
	}
	if err := proto.WriteU64(w, o.Now); err != nil {
		return err
	}
	if err := proto.WriteU64(w, uint64(o.Duration)); err != nil {
		return err
	}
	if err := proto.WriteU32(w, uint32(len(o.Log))); err != nil {
		return err
	}
	for _, line := range o.Log {
		if err := proto.WriteString(w, line); err != nil {
			return err
		}
	}

	switch o.Kind {
	case LoadFailed:
		msg := ""
		if o.LoadErr != nil {
			msg = o.LoadErr.Error()
		}
		return proto.WriteString(w, msg)
	case Exception:
		if o.Exception == nil {
			return stderrors.New("exception outcome without exception")
		}
		if err := proto.WriteException(w, o.Exception); err != nil {
			return err
		}
		if err := proto.WriteU32(w, uint32(len(o.Backtrace))); err != nil {
			return err
		}
		for _, addr := range o.Backtrace {
			if err := proto.WriteU32(w, addr); err != nil {
				return err
			}
		}
	}
	return nil
}

// DecodeReport reads a report written by EncodeReport. A load error comes
// back as its message only.
func DecodeReport(r io.Reader) (*Outcome, error) {
	o, err := readReport(r)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "report")
	}
	return o, nil
}

func readReport(r io.Reader) (*Outcome, error) {
	kind, err := proto.ReadU8(r)
	if err != nil {
		return nil, err
	}
	o := &Outcome{Kind: OutcomeKind(kind)}
	if o.Kind < LoadFailed || o.Kind > WatchdogExpired {
		return nil, fmt.Errorf("unknown outcome kind %d", kind)
	}
	id, err := proto.ReadBytes(r)
	if err != nil {
		return nil, err
	}
	if o.ID, err = uuid.FromBytes(id); err != nil {
		return nil, err
	}
	if o.Now, err = proto.ReadU64(r); err != nil {
		return nil, err
	}
	d, err := proto.ReadU64(r)
	if err != nil {
		return nil, err
	}
	o.Duration = time.Duration(d)

	n, err := proto.ReadU32(r)
	if err != nil {
		return nil, err
	}
	for range n {
		line, err := proto.ReadString(r)
		if err != nil {
			return nil, err
		}
		o.Log = append(o.Log, line)
	}

	switch o.Kind {
	case LoadFailed:
		msg, err := proto.ReadString(r)
		if err != nil {
			return nil, err
		}
		o.LoadErr = stderrors.New(msg)
	case Exception:
		if o.Exception, err = proto.ReadException(r); err != nil {
			return nil, err
		}
		n, err := proto.ReadU32(r)
		if err != nil {
			return nil, err
		}
		if n > 1<<16 {
			return nil, fmt.Errorf("backtrace of %d frames", n)
		}
		o.Backtrace = make([]uint32, n)
		for i := range o.Backtrace {
			if o.Backtrace[i], err = proto.ReadU32(r); err != nil {
				return nil, err
			}
		}
	}
	return o, nil
}
