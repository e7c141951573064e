package proto

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/wippyai/coredevice/errors"
)

// Wire framing for network-facing collaborators: unsigned integers are big
// endian; byte strings carry a u32 length prefix; text strings are byte
// strings holding valid UTF-8.

// MaxWireBytes bounds a single decoded byte string.
const MaxWireBytes = 64 << 20

func ReadU8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func WriteU8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func ReadU16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func WriteU16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func ReadU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func WriteU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func ReadU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func WriteU64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadU32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxWireBytes {
		return nil, errors.InvalidData(errors.PhaseDecode, fmt.Sprintf("byte string of %d bytes exceeds limit", n))
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func WriteBytes(w io.Writer, v []byte) error {
	if err := WriteU32(w, uint32(len(v))); err != nil {
		return err
	}
	_, err := w.Write(v)
	return err
}

func ReadString(r io.Reader) (string, error) {
	buf, err := ReadBytes(r)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", errors.InvalidUTF8(errors.PhaseDecode, buf)
	}
	return string(buf), nil
}

func WriteString(w io.Writer, v string) error {
	if err := WriteU32(w, uint32(len(v))); err != nil {
		return err
	}
	_, err := io.WriteString(w, v)
	return err
}

// WriteException encodes e as name, message, three params, file, line,
// column, function.
func WriteException(w io.Writer, e *Exception) error {
	if err := WriteString(w, e.Name); err != nil {
		return err
	}
	if err := WriteString(w, e.Message); err != nil {
		return err
	}
	for _, p := range e.Params {
		if err := WriteU64(w, uint64(p)); err != nil {
			return err
		}
	}
	if err := WriteString(w, e.File); err != nil {
		return err
	}
	if err := WriteU32(w, e.Line); err != nil {
		return err
	}
	if err := WriteU32(w, e.Column); err != nil {
		return err
	}
	return WriteString(w, e.Function)
}

// ReadException decodes a record written by WriteException.
func ReadException(r io.Reader) (*Exception, error) {
	var (
		e   Exception
		err error
	)
	if e.Name, err = ReadString(r); err != nil {
		return nil, fmt.Errorf("exception name: %w", err)
	}
	if e.Message, err = ReadString(r); err != nil {
		return nil, fmt.Errorf("exception message: %w", err)
	}
	for i := range e.Params {
		p, err := ReadU64(r)
		if err != nil {
			return nil, fmt.Errorf("exception param %d: %w", i, err)
		}
		e.Params[i] = int64(p)
	}
	if e.File, err = ReadString(r); err != nil {
		return nil, fmt.Errorf("exception file: %w", err)
	}
	if e.Line, err = ReadU32(r); err != nil {
		return nil, fmt.Errorf("exception line: %w", err)
	}
	if e.Column, err = ReadU32(r); err != nil {
		return nil, fmt.Errorf("exception column: %w", err)
	}
	if e.Function, err = ReadString(r); err != nil {
		return nil, fmt.Errorf("exception function: %w", err)
	}
	return &e, nil
}
