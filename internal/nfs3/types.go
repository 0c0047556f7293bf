// Package nfs3 holds the NFSv3 (RFC 1813) wire vocabulary fernfs speaks:
// the attribute and status types, the ACCESS bit evaluator, and the
// FileSystem capability interface the dispatch glue in internal/nfsd drives.
package nfs3

import "time"

// FileID is the server's stable 64-bit identifier for an inode (RFC 1813's
// fileid3). The root is always 0.
type FileID = uint64

// RootFileID is the distinguished id of the export root.
const RootFileID FileID = 0

// Filename is a raw, not-necessarily-UTF8 path component, exactly as the
// client sent it.
type Filename = []byte

// FType enumerates the RFC 1813 ftype3 values.
type FType uint32

const (
	NF3REG  FType = 1
	NF3DIR  FType = 2
	NF3BLK  FType = 3
	NF3CHR  FType = 4
	NF3LNK  FType = 5
	NF3SOCK FType = 6
	NF3FIFO FType = 7
)

// SpecData carries the major/minor device numbers for NF3CHR/NF3BLK nodes.
type SpecData struct {
	Major uint32
	Minor uint32
}

// FAttr is the fixed NFSv3 attribute record (RFC 1813 fattr3). Times are
// kept as time.Time internally and only split into seconds/nseconds at the
// wire boundary.
type FAttr struct {
	Type   FType
	Mode   uint32 // permission bits only, 0o7777
	Nlink  uint32
	UID    uint32
	GID    uint32
	Size   uint64
	Used   uint64
	Rdev   SpecData
	FSID   uint64
	FileID FileID
	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
}

// CoreEqual reports whether two attribute snapshots are bit-identical for
// the purpose of FSMap.refresh_entry step 5, ignoring the fileid (which is
// derived from the map, not observed from the host) and Used (a size-derived
// accounting field some backends round differently without anything having
// actually changed).
func (a FAttr) CoreEqual(b FAttr) bool {
	return a.Type == b.Type &&
		a.Mode == b.Mode &&
		a.Nlink == b.Nlink &&
		a.UID == b.UID &&
		a.GID == b.GID &&
		a.Size == b.Size &&
		a.Rdev == b.Rdev &&
		a.FSID == b.FSID &&
		a.Atime.Equal(b.Atime) &&
		a.Mtime.Equal(b.Mtime) &&
		a.Ctime.Equal(b.Ctime)
}

// SAttr is the RFC 1813 sattr3 union: every field is independently optional,
// signaled by a nil pointer, matching the wire discriminants.
type SAttr struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *uint64
	Atime *time.Time
	Mtime *time.Time
}

// StableHow mirrors RFC 1813's stable_how for WRITE requests.
type StableHow uint32

const (
	UNSTABLE StableHow = 0
	DATASYNC StableHow = 1
	FILESYNC StableHow = 2
)

// CookieVerf and WriteVerf are the 8-byte server-instance verifiers used by
// READDIR(PLUS)/WRITE respectively.
type CookieVerf = [8]byte
type WriteVerf = [8]byte

// CreateVerf is the exclusive-create verifier from RFC 1813 3.3.8; fernfs
// never honors it (CreateExclusive always returns NFS3ERR_NOTSUPP) but the
// type is part of the wire vocabulary so decode doesn't special-case it away.
type CreateVerf = [8]byte

// ACCESS3 bit constants, RFC 1813 section 3.3.4.
const (
	ACCESS3_READ    uint32 = 0x0001
	ACCESS3_LOOKUP  uint32 = 0x0002
	ACCESS3_MODIFY  uint32 = 0x0004
	ACCESS3_EXTEND  uint32 = 0x0008
	ACCESS3_DELETE  uint32 = 0x0010
	ACCESS3_EXECUTE uint32 = 0x0020
)
