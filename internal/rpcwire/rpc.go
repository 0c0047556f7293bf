package rpcwire

import (
	"bytes"

	"github.com/lunixbochs/fernfs/internal/nfs3"
	"github.com/lunixbochs/fernfs/internal/xdrutil"
)

// ONC RPC (RFC 5531) message type discriminants.
const (
	MsgCall  uint32 = 0
	MsgReply uint32 = 1
)

// Reply status discriminants.
const (
	MsgAccepted uint32 = 0
	MsgDenied   uint32 = 1
)

// accept_stat values, RFC 5531 section 7.4.
const (
	Success      uint32 = 0
	ProgUnavail  uint32 = 1
	ProgMismatch uint32 = 2
	ProcUnavail  uint32 = 3
	GarbageArgs  uint32 = 4
	SystemErr    uint32 = 5
)

// reject_stat and auth_stat values, RFC 5531 section 7.5/7.6. fernfs only
// ever rejects on authentication grounds.
const (
	RejectAuthError uint32 = 1
	AuthBadCred     uint32 = 1
)

// Auth flavors fernfs accepts.
const (
	AuthNull uint32 = 0
	AuthUnix uint32 = 1
)

// OpaqueAuth is RFC 5531's opaque_auth: a flavor tag plus an opaque body.
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte
}

// CallHeader is the fixed prefix of every RPC call, RFC 5531 section 8.
type CallHeader struct {
	XID     uint32
	RPCVers uint32
	Prog    uint32
	Vers    uint32
	Proc    uint32
	Cred    OpaqueAuth
	Verf    OpaqueAuth
}

func readOpaqueAuth(r *bytes.Reader) (OpaqueAuth, error) {
	flavor, err := xdrutil.ReadUint32(r)
	if err != nil {
		return OpaqueAuth{}, err
	}
	body, err := xdrutil.ReadOpaque(r)
	if err != nil {
		return OpaqueAuth{}, err
	}
	return OpaqueAuth{Flavor: flavor, Body: body}, nil
}

// DecodeCallHeader reads a CallHeader from the front of msg, returning the
// header and a reader positioned at the start of the procedure arguments.
func DecodeCallHeader(msg []byte) (CallHeader, *bytes.Reader, error) {
	r := bytes.NewReader(msg)
	var h CallHeader
	var err error

	if h.XID, err = xdrutil.ReadUint32(r); err != nil {
		return h, nil, err
	}
	msgType, err := xdrutil.ReadUint32(r)
	if err != nil {
		return h, nil, err
	}
	if msgType != MsgCall {
		return h, nil, xdrutil.InvalidData("expected CALL message")
	}
	if h.RPCVers, err = xdrutil.ReadUint32(r); err != nil {
		return h, nil, err
	}
	if h.Prog, err = xdrutil.ReadUint32(r); err != nil {
		return h, nil, err
	}
	if h.Vers, err = xdrutil.ReadUint32(r); err != nil {
		return h, nil, err
	}
	if h.Proc, err = xdrutil.ReadUint32(r); err != nil {
		return h, nil, err
	}
	if h.Cred, err = readOpaqueAuth(r); err != nil {
		return h, nil, err
	}
	if h.Verf, err = readOpaqueAuth(r); err != nil {
		return h, nil, err
	}
	return h, r, nil
}

// DecodeUnixCred parses an AUTH_UNIX credential body (RFC 5531 appendix A)
// into the nfs3.AuthUnix a FileSystem op expects.
func DecodeUnixCred(body []byte) (nfs3.AuthUnix, error) {
	r := bytes.NewReader(body)
	if _, err := xdrutil.ReadUint32(r); err != nil { // stamp
		return nfs3.AuthUnix{}, err
	}
	if _, err := xdrutil.ReadOpaque(r); err != nil { // machine name
		return nfs3.AuthUnix{}, err
	}
	uid, err := xdrutil.ReadUint32(r)
	if err != nil {
		return nfs3.AuthUnix{}, err
	}
	gid, err := xdrutil.ReadUint32(r)
	if err != nil {
		return nfs3.AuthUnix{}, err
	}
	n, err := xdrutil.ReadUint32(r)
	if err != nil {
		return nfs3.AuthUnix{}, err
	}
	if n > 16 {
		return nfs3.AuthUnix{}, xdrutil.InvalidData("too many supplementary gids")
	}
	gids := make([]uint32, n)
	for i := range gids {
		if gids[i], err = xdrutil.ReadUint32(r); err != nil {
			return nfs3.AuthUnix{}, err
		}
	}
	return nfs3.AuthUnix{UID: uid, GID: gid, GIDs: gids}, nil
}

// nullVerf is the AUTH_NULL verifier fernfs always replies with: it performs
// no authentication of its own beyond the at-most-once tracker.
var nullVerf = OpaqueAuth{Flavor: AuthNull}

func writeOpaqueAuth(w *bytes.Buffer, a OpaqueAuth) {
	xdrutil.WriteUint32(w, a.Flavor)
	xdrutil.WriteOpaque(w, a.Body)
}

// EncodeAcceptedReply builds a MSG_ACCEPTED reply with accept_stat stat and
// already-XDR-encoded procedure results.
func EncodeAcceptedReply(xid uint32, stat uint32, results []byte) []byte {
	var buf bytes.Buffer
	xdrutil.WriteUint32(&buf, xid)
	xdrutil.WriteUint32(&buf, MsgReply)
	xdrutil.WriteUint32(&buf, MsgAccepted)
	writeOpaqueAuth(&buf, nullVerf)
	xdrutil.WriteUint32(&buf, stat)
	buf.Write(results)
	return buf.Bytes()
}

// EncodeProgUnavail, EncodeProgMismatch and EncodeProcUnavail build the
// bodyless MSG_ACCEPTED error replies RFC 5531 defines.
func EncodeProgUnavail(xid uint32) []byte { return EncodeAcceptedReply(xid, ProgUnavail, nil) }
func EncodeProcUnavail(xid uint32) []byte { return EncodeAcceptedReply(xid, ProcUnavail, nil) }
func EncodeGarbageArgs(xid uint32) []byte { return EncodeAcceptedReply(xid, GarbageArgs, nil) }
func EncodeSystemErr(xid uint32) []byte   { return EncodeAcceptedReply(xid, SystemErr, nil) }

// EncodeProgMismatch reports the version range the server actually serves.
func EncodeProgMismatch(xid uint32, low, high uint32) []byte {
	var body bytes.Buffer
	xdrutil.WriteUint32(&body, low)
	xdrutil.WriteUint32(&body, high)
	return EncodeAcceptedReply(xid, ProgMismatch, body.Bytes())
}

// EncodeAuthReject builds a MSG_DENIED / RPC_MISMATCH-free auth rejection
// for any flavor other than AUTH_NULL/AUTH_UNIX.
func EncodeAuthReject(xid uint32) []byte {
	var buf bytes.Buffer
	xdrutil.WriteUint32(&buf, xid)
	xdrutil.WriteUint32(&buf, MsgReply)
	xdrutil.WriteUint32(&buf, MsgDenied)
	xdrutil.WriteUint32(&buf, RejectAuthError)
	xdrutil.WriteUint32(&buf, AuthBadCred)
	return buf.Bytes()
}
