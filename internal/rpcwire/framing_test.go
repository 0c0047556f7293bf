package rpcwire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello fernfs")
	require.NoError(t, WriteRecord(&buf, payload))

	got, err := ReadRecord(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadRecordReassemblesMultipleFragments(t *testing.T) {
	var buf bytes.Buffer
	first := []byte("abc")
	second := []byte("defg")

	var header [4]byte
	writeFragHeader(header[:], uint32(len(first)), false)
	buf.Write(header[:])
	buf.Write(first)

	writeFragHeader(header[:], uint32(len(second)), true)
	buf.Write(header[:])
	buf.Write(second)

	got, err := ReadRecord(&buf)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, first...), second...), got)
}

func writeFragHeader(dst []byte, length uint32, last bool) {
	v := length
	if last {
		v |= lastFragmentBit
	}
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}

func TestCallHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	xidWant := uint32(42)
	writeUint32(&buf, xidWant)
	writeUint32(&buf, MsgCall)
	writeUint32(&buf, 2) // rpcvers
	writeUint32(&buf, 100003)
	writeUint32(&buf, 3)
	writeUint32(&buf, 1) // NFSPROC3_GETATTR
	writeOpaqueAuthBytes(&buf, AuthNull, nil)
	writeOpaqueAuthBytes(&buf, AuthNull, nil)
	buf.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF})

	header, rest, err := DecodeCallHeader(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, xidWant, header.XID)
	assert.Equal(t, uint32(100003), header.Prog)
	assert.Equal(t, uint32(1), header.Proc)

	remaining := make([]byte, rest.Len())
	rest.Read(remaining)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, remaining)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
	buf.Write(b[:])
}

func writeOpaqueAuthBytes(buf *bytes.Buffer, flavor uint32, body []byte) {
	writeUint32(buf, flavor)
	writeUint32(buf, uint32(len(body)))
	buf.Write(body)
}
