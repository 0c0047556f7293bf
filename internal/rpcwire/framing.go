package rpcwire

import (
	"encoding/binary"
	"io"

	"github.com/lunixbochs/fernfs/internal/xdrutil"
)

// lastFragmentBit marks the final fragment of a record in RFC 5531's
// record-marking header: a 4-byte big-endian value whose top bit is the
// "last fragment" flag and whose low 31 bits are the fragment length.
const lastFragmentBit = 1 << 31

// maxRecordLen bounds a single reassembled RPC message, guarding against a
// malformed or hostile fragment header forcing an unbounded allocation.
const maxRecordLen = 16 * 1024 * 1024

// ReadRecord reads one complete record-marked RPC message, reassembling
// fragments until one with the last-fragment bit set is seen.
func ReadRecord(r io.Reader) ([]byte, error) {
	var msg []byte
	for {
		var header [4]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return nil, err
		}
		raw := binary.BigEndian.Uint32(header[:])
		last := raw&lastFragmentBit != 0
		fragLen := raw &^ lastFragmentBit

		if uint64(len(msg))+uint64(fragLen) > maxRecordLen {
			return nil, xdrutil.InvalidData("record exceeds maximum length")
		}

		frag := make([]byte, fragLen)
		if _, err := io.ReadFull(r, frag); err != nil {
			return nil, err
		}
		msg = append(msg, frag...)

		if last {
			return msg, nil
		}
	}
}

// WriteRecord writes data as a single-fragment record-marked message.
func WriteRecord(w io.Writer, data []byte) error {
	if len(data) > maxRecordLen {
		return xdrutil.InvalidData("outgoing record exceeds maximum length")
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], lastFragmentBit|uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
