// Package nfsd drives an nfs3.FileSystem from RFC 1813 NFSv3 procedure
// calls: this file holds the XDR encode/decode helpers for the compound
// structures (fattr3, sattr3, wcc_data, file handles) that internal/xdrutil's
// primitives don't cover on their own.
package nfsd

import (
	"bytes"
	"io"
	"time"

	"github.com/lunixbochs/fernfs/internal/nfs3"
	"github.com/lunixbochs/fernfs/internal/xdrutil"
)

// MaxFileHandleLen bounds an incoming fh3 opaque, which is always exactly
// the 8 bytes mirrorfs.IDToHandle produces, but a hostile client can claim
// any length up to XDR's own opaque cap.
const MaxFileHandleLen = 64

// ReadFileHandle decodes an fh3 (an opaque<64>).
func ReadFileHandle(r *bytes.Reader) ([]byte, error) {
	n, err := xdrutil.ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxFileHandleLen {
		return nil, xdrutil.InvalidData("file handle exceeds maximum length")
	}
	data := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
	}
	return data, xdrutil.ReadPadding(int(n), r)
}

// WriteFileHandle encodes an fh3.
func WriteFileHandle(buf *bytes.Buffer, handle []byte) {
	xdrutil.WriteOpaque(buf, handle)
}

// ReadFilename decodes an NFSv3 filename3 (an opaque string, not nul
// terminated).
func ReadFilename(r *bytes.Reader) ([]byte, error) {
	return xdrutil.ReadOpaque(r)
}

func writeNFSTime(buf *bytes.Buffer, t time.Time) {
	xdrutil.WriteUint32(buf, uint32(t.Unix()))
	xdrutil.WriteUint32(buf, uint32(t.Nanosecond()))
}

func readNFSTime(r *bytes.Reader) (time.Time, error) {
	sec, err := xdrutil.ReadUint32(r)
	if err != nil {
		return time.Time{}, err
	}
	nsec, err := xdrutil.ReadUint32(r)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(sec), int64(nsec)).UTC(), nil
}

// WriteFattr3 encodes a complete fattr3, RFC 1813 section 2.5.
func WriteFattr3(buf *bytes.Buffer, a nfs3.FAttr) {
	xdrutil.WriteUint32(buf, uint32(a.Type))
	xdrutil.WriteUint32(buf, a.Mode)
	xdrutil.WriteUint32(buf, a.Nlink)
	xdrutil.WriteUint32(buf, a.UID)
	xdrutil.WriteUint32(buf, a.GID)
	xdrutil.WriteUint64(buf, a.Size)
	xdrutil.WriteUint64(buf, a.Used)
	xdrutil.WriteUint32(buf, a.Rdev.Major)
	xdrutil.WriteUint32(buf, a.Rdev.Minor)
	xdrutil.WriteUint64(buf, a.FSID)
	xdrutil.WriteUint64(buf, a.FileID)
	writeNFSTime(buf, a.Atime)
	writeNFSTime(buf, a.Mtime)
	writeNFSTime(buf, a.Ctime)
}

// WritePostOpAttr encodes a post_op_attr: present=false writes just the
// discriminant, matching what every op does when it can't or needn't refresh
// attributes after a failure.
func WritePostOpAttr(buf *bytes.Buffer, attr nfs3.FAttr, present bool) {
	xdrutil.WriteBool(buf, present)
	if present {
		WriteFattr3(buf, attr)
	}
}

// WccAttr is the pre-operation subset of fattr3 carried in wcc_data: size
// plus the two mutation timestamps, RFC 1813 section 2.6.
type WccAttr struct {
	Size  uint64
	Mtime time.Time
	Ctime time.Time
}

func WccAttrOf(a nfs3.FAttr) WccAttr {
	return WccAttr{Size: a.Size, Mtime: a.Mtime, Ctime: a.Ctime}
}

// WritePreOpAttr encodes a pre_op_attr.
func WritePreOpAttr(buf *bytes.Buffer, attr WccAttr, present bool) {
	xdrutil.WriteBool(buf, present)
	if present {
		xdrutil.WriteUint64(buf, attr.Size)
		writeNFSTime(buf, attr.Mtime)
		writeNFSTime(buf, attr.Ctime)
	}
}

// WriteWccData encodes a wcc_data: the pre-op attributes captured before a
// mutating call, followed by the post-op attributes after it. Either half
// may be absent if the corresponding attr snapshot wasn't available.
func WriteWccData(buf *bytes.Buffer, pre WccAttr, havePre bool, post nfs3.FAttr, havePost bool) {
	WritePreOpAttr(buf, pre, havePre)
	WritePostOpAttr(buf, post, havePost)
}

// ReadSattr3 decodes an sattr3: every field is an optional union arm, set3
// true meaning present.
func ReadSattr3(r *bytes.Reader) (nfs3.SAttr, error) {
	var out nfs3.SAttr

	if set, err := xdrutil.ReadBool(r); err != nil {
		return out, err
	} else if set {
		mode, err := xdrutil.ReadUint32(r)
		if err != nil {
			return out, err
		}
		out.Mode = &mode
	}

	if set, err := xdrutil.ReadBool(r); err != nil {
		return out, err
	} else if set {
		uid, err := xdrutil.ReadUint32(r)
		if err != nil {
			return out, err
		}
		out.UID = &uid
	}

	if set, err := xdrutil.ReadBool(r); err != nil {
		return out, err
	} else if set {
		gid, err := xdrutil.ReadUint32(r)
		if err != nil {
			return out, err
		}
		out.GID = &gid
	}

	if set, err := xdrutil.ReadBool(r); err != nil {
		return out, err
	} else if set {
		size, err := xdrutil.ReadUint64(r)
		if err != nil {
			return out, err
		}
		out.Size = &size
	}

	// set_atime is a 3-way discriminant: DONT_CHANGE(0), SET_TO_SERVER_TIME(1),
	// SET_TO_CLIENT_TIME(2).
	atimeHow, err := xdrutil.ReadUint32(r)
	if err != nil {
		return out, err
	}
	switch atimeHow {
	case 1:
		now := time.Now().UTC()
		out.Atime = &now
	case 2:
		t, err := readNFSTime(r)
		if err != nil {
			return out, err
		}
		out.Atime = &t
	}

	mtimeHow, err := xdrutil.ReadUint32(r)
	if err != nil {
		return out, err
	}
	switch mtimeHow {
	case 1:
		now := time.Now().UTC()
		out.Mtime = &now
	case 2:
		t, err := readNFSTime(r)
		if err != nil {
			return out, err
		}
		out.Mtime = &t
	}

	return out, nil
}
