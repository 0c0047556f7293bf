package mount

import (
	"bytes"

	"github.com/lunixbochs/fernfs/internal/xdrutil"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// mountRequest mirrors MOUNTv3's dirpath argument, a single XDR string. It is
// simple enough to hand to the reflective codec rather than hand-rolling it.
type mountRequest struct {
	DirPath string
}

// DecodeDirPath decodes a MNT call's sole argument, the export-relative path
// the client wants a handle for.
func DecodeDirPath(body []byte) ([]byte, error) {
	var req mountRequest
	if _, err := xdr.Unmarshal(bytes.NewReader(body), &req); err != nil {
		return nil, xdrutil.InvalidData("malformed MNT dirpath")
	}
	return []byte(req.DirPath), nil
}

// EncodeResult XDR-encodes a Result as an MNT3 fhstatus3 reply: the status
// word, and on MNT3_OK the opaque file handle followed by the auth flavor
// array. Non-OK statuses carry no further payload.
func EncodeResult(r Result) []byte {
	var buf bytes.Buffer
	xdrutil.WriteUint32(&buf, r.Status)
	if r.Status != MNT3_OK {
		return buf.Bytes()
	}
	xdrutil.WriteOpaque(&buf, r.FileHandle)
	xdrutil.WriteUint32(&buf, uint32(len(r.AuthFlavors)))
	for _, flavor := range r.AuthFlavors {
		xdrutil.WriteUint32(&buf, flavor)
	}
	return buf.Bytes()
}
