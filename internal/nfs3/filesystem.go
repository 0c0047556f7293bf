package nfs3

import "context"

// ChildEntry is returned by every operation that resolves or creates a
// child: the new/looked-up FileID plus its current attributes, so callers
// never need a separate GetAttr round trip to learn what they just touched.
type ChildEntry struct {
	FileID FileID
	Attr   FAttr
}

// DirEntry is one readdir result row. Synthetic "." and ".." entries carry
// the same FileID as their directory/parent.
type DirEntry struct {
	FileID FileID
	Name   Filename
}

// ReadDirResult is the paginated readdir response: entries starting at the
// caller's cookie, and whether this page reached the end of the listing.
type ReadDirResult struct {
	Entries []DirEntry
	End     bool
}

// ReadResult is a READ reply: the bytes actually read (which may be shorter
// than requested at EOF) and whether EOF was hit.
type ReadResult struct {
	Data []byte
	EOF  bool
}

// FileSystem is the abstract capability set an NFSv3 server drives: the
// mirror VFS implements this against internal/fsmap and internal/hostfs,
// and internal/nfsd drives it from RFC 1813 procedures.
//
// Every method returns a Stat; NFS3_OK signals success. Implementations
// must never panic on a translatable host failure — a deleted inode is
// NFS3ERR_NOENT, not a crash.
type FileSystem interface {
	GetAttr(ctx context.Context, id FileID) (FAttr, Stat)
	SetAttr(ctx context.Context, id FileID, attr SAttr) (FAttr, Stat)
	Access(ctx context.Context, id FileID, auth AuthUnix, requested uint32) (uint32, Stat)

	Lookup(ctx context.Context, parent FileID, name Filename) (ChildEntry, Stat)

	Create(ctx context.Context, parent FileID, name Filename, attr SAttr) (ChildEntry, Stat)
	CreateExclusive(ctx context.Context, parent FileID, name Filename, verifier CreateVerf) (ChildEntry, Stat)
	Mkdir(ctx context.Context, parent FileID, name Filename, attr SAttr) (ChildEntry, Stat)
	Symlink(ctx context.Context, parent FileID, name Filename, target []byte, attr SAttr) (ChildEntry, Stat)
	Mknod(ctx context.Context, parent FileID, name Filename, ftype FType, dev SpecData, attr SAttr) (ChildEntry, Stat)
	Link(ctx context.Context, id FileID, newParent FileID, newName Filename) (FAttr, Stat)

	Remove(ctx context.Context, parent FileID, name Filename) Stat
	Rmdir(ctx context.Context, parent FileID, name Filename) Stat
	Rename(ctx context.Context, oldParent FileID, oldName Filename, newParent FileID, newName Filename) Stat

	ReadLink(ctx context.Context, id FileID) ([]byte, Stat)
	Read(ctx context.Context, id FileID, offset uint64, count uint32) (ReadResult, Stat)
	Write(ctx context.Context, id FileID, offset uint64, data []byte, stability StableHow) (uint32, WriteVerf, Stat)
	Commit(ctx context.Context, id FileID) (WriteVerf, Stat)

	Readdir(ctx context.Context, dir FileID, cookie uint64, maxEntries int) (ReadDirResult, Stat)

	FSInfo(ctx context.Context, id FileID) (FSInfoResult, Stat)
	PathConf(ctx context.Context, id FileID) (PathConfResult, Stat)
	StatFS(ctx context.Context, id FileID) (StatFSResult, Stat)

	// IDToHandle/HandleToID implement the file-handle <-> FileID encoding the
	// MOUNT procedure and every NFS call's fhandle argument rely on.
	IDToHandle(id FileID) []byte
	HandleToID(handle []byte) (FileID, Stat)

	// PathToID resolves an absolute, '/'-separated, already-trimmed export
	// path (as MOUNT produces) to a FileID, walking one Lookup per
	// component from the root.
	PathToID(ctx context.Context, path []byte) (FileID, Stat)

	Capabilities() Capabilities
}

// FSInfoResult answers FSINFO (RFC 1813 3.3.19); static and conservative,
// since fernfs mirrors a real filesystem with no meaningful upper bound
// beyond "whatever the host allows".
type FSInfoResult struct {
	RtMax         uint32
	RtPref        uint32
	RtMult        uint32
	WtMax         uint32
	WtPref        uint32
	WtMult        uint32
	DtPref        uint32
	MaxFileSize   uint64
	TimeDeltaSec  uint32
	TimeDeltaNSec uint32
	Properties    uint32
}

// PathConfResult answers PATHCONF (RFC 1813 3.3.20).
type PathConfResult struct {
	LinkMax         uint32
	NameMax         uint32
	NoTrunc         bool
	ChownRestricted bool
	CaseInsensitive bool
	CasePreserving  bool
}

// StatFSResult answers the FSSTAT procedure (RFC 1813 3.3.18).
type StatFSResult struct {
	TotalBytes uint64
	FreeBytes  uint64
	AvailBytes uint64
	TotalFiles uint64
	FreeFiles  uint64
	AvailFiles uint64
	InvarSec   uint32
}
