// Package xdrutil provides the small set of XDR framing helpers every
// wire-facing package in fernfs needs on top of github.com/rasky/go-xdr:
// 4-byte alignment padding and a uniform invalid-data error.
package xdrutil

import (
	"encoding/binary"
	"io"

	"github.com/lunixbochs/fernfs/internal/ferr"
)

// Alignment is the XDR unit: every opaque/string field is padded to a
// multiple of this many bytes.
const Alignment = 4

// PaddingLen returns how many zero bytes follow an n-byte field to bring it
// up to the next 4-byte boundary.
func PaddingLen(n int) int {
	return (Alignment - (n % Alignment)) % Alignment
}

// ReadPadding discards the zero padding that follows an n-byte field.
func ReadPadding(n int, r io.Reader) error {
	padLen := PaddingLen(n)
	if padLen == 0 {
		return nil
	}
	var buf [Alignment]byte
	if _, err := io.ReadFull(r, buf[:padLen]); err != nil {
		return err
	}
	return nil
}

// WritePadding emits the zero padding that follows an n-byte field.
func WritePadding(n int, w io.Writer) error {
	padLen := PaddingLen(n)
	if padLen == 0 {
		return nil
	}
	var buf [Alignment]byte
	_, err := w.Write(buf[:padLen])
	return err
}

// ErrInvalidData is the uniform decode-failure signal for malformed XDR,
// equivalent to std::io::ErrorKind::InvalidData in the reference source.
var ErrInvalidData = ferr.New("invalid XDR data")

// InvalidData wraps msg as an ErrInvalidData-flavored error, preserving the
// caller's detail while keeping a single sentinel to match against.
func InvalidData(msg string) error {
	return ferr.Wrap(ErrInvalidData, msg)
}

// MaxOpaqueLen bounds a single opaque<> or string<> field, guarding against
// a malicious/garbled length prefix forcing a huge allocation.
const MaxOpaqueLen = 64 * 1024 * 1024

// WriteOpaque writes an XDR variable-length opaque: a uint32 length, the
// bytes themselves, then zero padding to the next 4-byte boundary.
func WriteOpaque(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	if len(data) > 0 {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return WritePadding(len(data), w)
}

// ReadOpaque reads an XDR variable-length opaque written by WriteOpaque.
func ReadOpaque(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n > MaxOpaqueLen {
		return nil, InvalidData("opaque field exceeds maximum length")
	}
	data := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
	}
	if err := ReadPadding(int(n), r); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteUint32 and ReadUint32 are the 4-byte-native case that never needs
// padding; spelled out so call sites read uniformly with the opaque helpers.
func WriteUint32(w io.Writer, v uint32) error {
	return binary.Write(w, binary.BigEndian, v)
}

func ReadUint32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func WriteUint64(w io.Writer, v uint64) error {
	return binary.Write(w, binary.BigEndian, v)
}

func ReadUint64(r io.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

// WriteBool and ReadBool encode an XDR bool as a 4-byte 0/1, the
// discriminant every optional sattr3 field and union arm is built from.
func WriteBool(w io.Writer, v bool) error {
	if v {
		return WriteUint32(w, 1)
	}
	return WriteUint32(w, 0)
}

func ReadBool(r io.Reader) (bool, error) {
	v, err := ReadUint32(r)
	if err != nil {
		return false, err
	}
	if v > 1 {
		return false, InvalidData("boolean discriminant out of range")
	}
	return v != 0, nil
}
