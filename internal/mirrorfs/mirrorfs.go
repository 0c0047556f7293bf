// Package mirrorfs implements the mirror VFS: the nfs3.FileSystem
// capability set driven by internal/nfsd, backed by internal/fsmap for
// identity and internal/hostfs for the actual syscalls.
package mirrorfs

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/golang/glog"
	"github.com/lunixbochs/fernfs/internal/ferr"
	"github.com/lunixbochs/fernfs/internal/fsmap"
	"github.com/lunixbochs/fernfs/internal/hostfs"
	"github.com/lunixbochs/fernfs/internal/nfs3"
)

// FS is the mirror filesystem: one export root, one identity map.
type FS struct {
	host *hostfs.FS
	m    *fsmap.Map
	caps nfs3.Capabilities

	writeVerf nfs3.WriteVerf
}

// New opens root on the host and seeds the identity map with it.
func New(root string, caps nfs3.Capabilities) (*FS, error) {
	host, err := hostfs.Open(root)
	if err != nil {
		return nil, err
	}
	m, err := fsmap.New(host.Root, host)
	if err != nil {
		host.Close()
		return nil, ferr.Wrapf(err, "seeding identity map for %q", root)
	}

	fs := &FS{host: host, m: m, caps: caps}
	if _, err := rand.Read(fs.writeVerf[:]); err != nil {
		// A predictable verifier just makes WRITE replay detection on the
		// client side less reliable across a server restart; it is not a
		// correctness hazard, so fall back rather than fail startup.
		binary.BigEndian.PutUint64(fs.writeVerf[:], 1)
	}
	return fs, nil
}

func (fs *FS) Capabilities() nfs3.Capabilities { return fs.caps }

// IDToHandle encodes a FileId as 8 big-endian bytes, a fixed-layout file
// handle small enough to stay well under NFSv3's 64-byte limit.
func (fs *FS) IDToHandle(id nfs3.FileID) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func (fs *FS) HandleToID(handle []byte) (nfs3.FileID, nfs3.Stat) {
	if len(handle) != 8 {
		return 0, nfs3.NFS3ERR_BADHANDLE
	}
	return binary.BigEndian.Uint64(handle), nfs3.NFS3_OK
}

// PathToID walks path one Lookup per component from the root, resolving
// the already-trimmed export-relative path MOUNT produces to a FileID.
func (fs *FS) PathToID(ctx context.Context, path []byte) (nfs3.FileID, nfs3.Stat) {
	id := nfs3.RootFileID
	for _, comp := range bytes.Split(path, []byte("/")) {
		if len(comp) == 0 {
			continue
		}
		child, stat := fs.Lookup(ctx, id, comp)
		if stat != nfs3.NFS3_OK {
			return 0, stat
		}
		id = child.FileID
	}
	return id, nfs3.NFS3_OK
}

func (fs *FS) refreshed(id nfs3.FileID) (nfs3.FAttr, nfs3.Stat) {
	result, stat := fs.m.RefreshEntry(id)
	if stat != nfs3.NFS3_OK {
		return nfs3.FAttr{}, stat
	}
	if result == fsmap.Delete {
		return nfs3.FAttr{}, nfs3.NFS3ERR_NOENT
	}
	entry, stat := fs.m.FindEntry(id)
	if stat != nfs3.NFS3_OK {
		return nfs3.FAttr{}, stat
	}
	return entry.FSMeta, nfs3.NFS3_OK
}

func (fs *FS) GetAttr(ctx context.Context, id nfs3.FileID) (nfs3.FAttr, nfs3.Stat) {
	return fs.refreshed(id)
}

func (fs *FS) SetAttr(ctx context.Context, id nfs3.FileID, attr nfs3.SAttr) (nfs3.FAttr, nfs3.Stat) {
	entry, stat := fs.m.FindEntry(id)
	if stat != nfs3.NFS3_OK {
		return nfs3.FAttr{}, stat
	}
	path := fs.m.SymToPath(entry.Name)

	meta, err := fs.host.SetAttr(path, attr)
	if err != nil {
		return nfs3.FAttr{}, nfs3.FromErrno(err)
	}
	newID := fs.m.CreateEntry(entry.Name, meta)
	if newID != id {
		// The path now resolves to a different inode than the one the
		// caller named; surface it as a vanished file rather than silently
		// reporting someone else's attributes.
		return nfs3.FAttr{}, nfs3.NFS3ERR_NOENT
	}
	return meta.Attr, nfs3.NFS3_OK
}

func (fs *FS) Access(ctx context.Context, id nfs3.FileID, auth nfs3.AuthUnix, requested uint32) (uint32, nfs3.Stat) {
	attr, stat := fs.refreshed(id)
	if stat != nfs3.NFS3_OK {
		return 0, stat
	}
	return nfs3.AccessMask(attr, auth, fs.caps, requested), nfs3.NFS3_OK
}

// Lookup refreshes the parent's children only when the cache doesn't
// already contain name, avoiding a host directory scan on every lookup.
func (fs *FS) Lookup(ctx context.Context, parent nfs3.FileID, name nfs3.Filename) (nfs3.ChildEntry, nfs3.Stat) {
	sym, known := fs.m.CheckInterned(name)
	if !known || !fs.m.HasCachedChild(parent, sym) {
		if stat := fs.m.RefreshDirList(parent); stat != nfs3.NFS3_OK {
			return nfs3.ChildEntry{}, stat
		}
	}

	id, stat := fs.m.FindChild(parent, name)
	if stat != nfs3.NFS3_OK {
		return nfs3.ChildEntry{}, stat
	}
	entry, stat := fs.m.FindEntry(id)
	if stat != nfs3.NFS3_OK {
		return nfs3.ChildEntry{}, stat
	}
	return nfs3.ChildEntry{FileID: id, Attr: entry.FSMeta}, nfs3.NFS3_OK
}

func (fs *FS) childPath(parent nfs3.FileID, name nfs3.Filename) (fsmap.PathVec, string, nfs3.Stat) {
	entry, stat := fs.m.FindEntry(parent)
	if stat != nfs3.NFS3_OK {
		return nil, "", stat
	}
	if !entry.IsDirectory() {
		return nil, "", nfs3.NFS3ERR_NOTDIR
	}
	sym := fs.m.Intern(name)
	childPath := entry.Name.Append(sym)
	return childPath, fs.m.SymToPath(childPath), nfs3.NFS3_OK
}

func modeOf(attr nfs3.SAttr, def uint32) uint32 {
	if attr.Mode != nil {
		return *attr.Mode & 07777
	}
	return def
}

// applyRest applies every SAttr field except Mode (already handled at
// creation time) to a freshly created node, returning refreshed metadata.
func (fs *FS) applyRest(path string, attr nfs3.SAttr) (fsmap.HostMeta, error) {
	rest := attr
	rest.Mode = nil
	if rest.UID == nil && rest.GID == nil && rest.Size == nil && rest.Atime == nil && rest.Mtime == nil {
		return fs.host.Lstat(path)
	}
	return fs.host.SetAttr(path, rest)
}

func (fs *FS) Create(ctx context.Context, parent nfs3.FileID, name nfs3.Filename, attr nfs3.SAttr) (nfs3.ChildEntry, nfs3.Stat) {
	childPath, path, stat := fs.childPath(parent, name)
	if stat != nfs3.NFS3_OK {
		return nfs3.ChildEntry{}, stat
	}
	f, _, err := fs.host.Create(path, modeOf(attr, 0644), false)
	if err != nil {
		return nfs3.ChildEntry{}, nfs3.FromErrno(err)
	}
	f.Close()
	meta, err := fs.applyRest(path, attr)
	if err != nil {
		return nfs3.ChildEntry{}, nfs3.FromErrno(err)
	}
	id := fs.m.CreateEntry(childPath, meta)
	return nfs3.ChildEntry{FileID: id, Attr: meta.Attr}, nfs3.NFS3_OK
}

// CreateExclusive always declines: exclusive-create semantics need a
// verifier the host filesystem has no native slot for, so fernfs reports
// it unsupported rather than faking atomicity it can't guarantee.
func (fs *FS) CreateExclusive(ctx context.Context, parent nfs3.FileID, name nfs3.Filename, verifier nfs3.CreateVerf) (nfs3.ChildEntry, nfs3.Stat) {
	return nfs3.ChildEntry{}, nfs3.NFS3ERR_NOTSUPP
}

func (fs *FS) Mkdir(ctx context.Context, parent nfs3.FileID, name nfs3.Filename, attr nfs3.SAttr) (nfs3.ChildEntry, nfs3.Stat) {
	childPath, path, stat := fs.childPath(parent, name)
	if stat != nfs3.NFS3_OK {
		return nfs3.ChildEntry{}, stat
	}
	if _, err := fs.host.Mkdir(path, modeOf(attr, 0755)); err != nil {
		return nfs3.ChildEntry{}, nfs3.FromErrno(err)
	}
	meta, err := fs.applyRest(path, attr)
	if err != nil {
		return nfs3.ChildEntry{}, nfs3.FromErrno(err)
	}
	id := fs.m.CreateEntry(childPath, meta)
	return nfs3.ChildEntry{FileID: id, Attr: meta.Attr}, nfs3.NFS3_OK
}

func (fs *FS) Symlink(ctx context.Context, parent nfs3.FileID, name nfs3.Filename, target []byte, attr nfs3.SAttr) (nfs3.ChildEntry, nfs3.Stat) {
	childPath, path, stat := fs.childPath(parent, name)
	if stat != nfs3.NFS3_OK {
		return nfs3.ChildEntry{}, stat
	}
	meta, err := fs.host.Symlink(string(target), path)
	if err != nil {
		return nfs3.ChildEntry{}, nfs3.FromErrno(err)
	}
	id := fs.m.CreateEntry(childPath, meta)
	return nfs3.ChildEntry{FileID: id, Attr: meta.Attr}, nfs3.NFS3_OK
}

func (fs *FS) Mknod(ctx context.Context, parent nfs3.FileID, name nfs3.Filename, ftype nfs3.FType, dev nfs3.SpecData, attr nfs3.SAttr) (nfs3.ChildEntry, nfs3.Stat) {
	childPath, path, stat := fs.childPath(parent, name)
	if stat != nfs3.NFS3_OK {
		return nfs3.ChildEntry{}, stat
	}

	var typeBit uint32
	switch ftype {
	case nfs3.NF3CHR:
		typeBit = 0020000
	case nfs3.NF3BLK:
		typeBit = 0060000
	case nfs3.NF3SOCK:
		typeBit = 0140000
	case nfs3.NF3FIFO:
		typeBit = 0010000
	default:
		return nfs3.ChildEntry{}, nfs3.NFS3ERR_INVAL
	}

	meta, err := fs.host.Mknod(path, typeBit|modeOf(attr, 0600), dev.Major, dev.Minor)
	if err != nil {
		return nfs3.ChildEntry{}, nfs3.FromErrno(err)
	}
	id := fs.m.CreateEntry(childPath, meta)
	return nfs3.ChildEntry{FileID: id, Attr: meta.Attr}, nfs3.NFS3_OK
}

func (fs *FS) Link(ctx context.Context, id nfs3.FileID, newParent nfs3.FileID, newName nfs3.Filename) (nfs3.FAttr, nfs3.Stat) {
	entry, stat := fs.m.FindEntry(id)
	if stat != nfs3.NFS3_OK {
		return nfs3.FAttr{}, stat
	}
	oldPath := fs.m.SymToPath(entry.Name)

	newChildPath, newPath, stat := fs.childPath(newParent, newName)
	if stat != nfs3.NFS3_OK {
		return nfs3.FAttr{}, stat
	}

	meta, err := fs.host.Link(oldPath, newPath)
	if err != nil {
		return nfs3.FAttr{}, nfs3.FromErrno(err)
	}
	linkedID := fs.m.CreateEntry(newChildPath, meta)
	if linkedID != id {
		glog.Warningf("mirrorfs: host link reported a different inode for %q than FileId %d held", newPath, id)
	}
	updated, stat := fs.m.FindEntry(linkedID)
	if stat != nfs3.NFS3_OK {
		return nfs3.FAttr{}, stat
	}
	return updated.FSMeta, nfs3.NFS3_OK
}

func (fs *FS) Remove(ctx context.Context, parent nfs3.FileID, name nfs3.Filename) nfs3.Stat {
	childPath, path, stat := fs.childPath(parent, name)
	if stat != nfs3.NFS3_OK {
		return stat
	}
	if err := fs.host.Remove(path); err != nil {
		return nfs3.FromErrno(err)
	}
	fs.m.RemovePath(childPath)
	return nfs3.NFS3_OK
}

func (fs *FS) Rmdir(ctx context.Context, parent nfs3.FileID, name nfs3.Filename) nfs3.Stat {
	childPath, path, stat := fs.childPath(parent, name)
	if stat != nfs3.NFS3_OK {
		return stat
	}
	if err := fs.host.Rmdir(path); err != nil {
		return nfs3.FromErrno(err)
	}
	fs.m.RemovePath(childPath)
	return nfs3.NFS3_OK
}

func (fs *FS) Rename(ctx context.Context, oldParent nfs3.FileID, oldName nfs3.Filename, newParent nfs3.FileID, newName nfs3.Filename) nfs3.Stat {
	oldChildPath, oldPath, stat := fs.childPath(oldParent, oldName)
	if stat != nfs3.NFS3_OK {
		return stat
	}
	newChildPath, newPath, stat := fs.childPath(newParent, newName)
	if stat != nfs3.NFS3_OK {
		return stat
	}

	replacedID, replaced := fs.m.FindChild(newParent, newName)

	if err := fs.host.Rename(oldPath, newPath); err != nil {
		return nfs3.FromErrno(err)
	}

	if replaced == nfs3.NFS3_OK {
		fs.m.DeleteEntry(replacedID)
	}
	fs.m.RenamePathPrefix(oldChildPath, newChildPath)
	return nfs3.NFS3_OK
}

func (fs *FS) ReadLink(ctx context.Context, id nfs3.FileID) ([]byte, nfs3.Stat) {
	path, stat := fs.m.PathOf(id)
	if stat != nfs3.NFS3_OK {
		return nil, stat
	}
	target, err := fs.host.Readlink(path)
	if err != nil {
		return nil, nfs3.FromErrno(err)
	}
	return target, nfs3.NFS3_OK
}

func (fs *FS) Read(ctx context.Context, id nfs3.FileID, offset uint64, count uint32) (nfs3.ReadResult, nfs3.Stat) {
	path, stat := fs.m.PathOf(id)
	if stat != nfs3.NFS3_OK {
		return nfs3.ReadResult{}, stat
	}
	f, err := fs.host.Open(path)
	if err != nil {
		return nfs3.ReadResult{}, nfs3.FromErrno(err)
	}
	defer f.Close()

	buf := make([]byte, count)
	n, err := f.ReadAt(buf, int64(offset))
	eof := err == io.EOF
	if err != nil && !eof {
		return nfs3.ReadResult{}, nfs3.FromErrno(err)
	}
	return nfs3.ReadResult{Data: buf[:n], EOF: eof}, nfs3.NFS3_OK
}

func (fs *FS) Write(ctx context.Context, id nfs3.FileID, offset uint64, data []byte, stability nfs3.StableHow) (uint32, nfs3.WriteVerf, nfs3.Stat) {
	path, stat := fs.m.PathOf(id)
	if stat != nfs3.NFS3_OK {
		return 0, fs.writeVerf, stat
	}
	f, err := fs.host.Open(path)
	if err != nil {
		return 0, fs.writeVerf, nfs3.FromErrno(err)
	}
	defer f.Close()

	n, err := f.WriteAt(data, int64(offset))
	if err != nil {
		return uint32(n), fs.writeVerf, nfs3.FromErrno(err)
	}
	if stability == nfs3.FILESYNC || stability == nfs3.DATASYNC {
		if err := f.Sync(); err != nil {
			return uint32(n), fs.writeVerf, nfs3.FromErrno(err)
		}
	}

	if entry, estat := fs.m.FindEntry(id); estat == nfs3.NFS3_OK {
		if meta, err := fs.host.Lstat(path); err == nil {
			fs.m.CreateEntry(entry.Name, meta)
		}
	}
	return uint32(n), fs.writeVerf, nfs3.NFS3_OK
}

func (fs *FS) Commit(ctx context.Context, id nfs3.FileID) (nfs3.WriteVerf, nfs3.Stat) {
	path, stat := fs.m.PathOf(id)
	if stat != nfs3.NFS3_OK {
		return fs.writeVerf, stat
	}
	f, err := fs.host.Open(path)
	if err != nil {
		return fs.writeVerf, nfs3.FromErrno(err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fs.writeVerf, nfs3.FromErrno(err)
	}
	return fs.writeVerf, nfs3.NFS3_OK
}

func (fs *FS) Readdir(ctx context.Context, dir nfs3.FileID, cookie uint64, maxEntries int) (nfs3.ReadDirResult, nfs3.Stat) {
	if stat := fs.m.RefreshDirList(dir); stat != nfs3.NFS3_OK {
		return nfs3.ReadDirResult{}, stat
	}
	entry, stat := fs.m.FindEntry(dir)
	if stat != nfs3.NFS3_OK {
		return nfs3.ReadDirResult{}, stat
	}

	parentID := dir
	if !entry.Name.Equal(nil) {
		if pid, ok := fs.m.IDForPath(entry.Name[:len(entry.Name)-1]); ok {
			parentID = pid
		}
	}

	combined := make([]nfs3.DirEntry, 0, 2+entry.Children.Len())
	combined = append(combined, nfs3.DirEntry{FileID: dir, Name: []byte(".")})
	combined = append(combined, nfs3.DirEntry{FileID: parentID, Name: []byte("..")})
	for i := 0; i < entry.Children.Len(); i++ {
		sym, childID := entry.Children.At(i)
		combined = append(combined, nfs3.DirEntry{FileID: childID, Name: fs.m.SymbolBytes(sym)})
	}

	if cookie >= uint64(len(combined)) {
		return nfs3.ReadDirResult{Entries: nil, End: true}, nfs3.NFS3_OK
	}
	end := uint64(len(combined))
	if maxEntries > 0 && cookie+uint64(maxEntries) < end {
		end = cookie + uint64(maxEntries)
	}
	page := combined[cookie:end]
	return nfs3.ReadDirResult{Entries: page, End: end == uint64(len(combined))}, nfs3.NFS3_OK
}

func (fs *FS) FSInfo(ctx context.Context, id nfs3.FileID) (nfs3.FSInfoResult, nfs3.Stat) {
	const blockSize = 64 * 1024
	return nfs3.FSInfoResult{
		RtMax: blockSize, RtPref: blockSize, RtMult: 4096,
		WtMax: blockSize, WtPref: blockSize, WtMult: 4096,
		DtPref:      blockSize,
		MaxFileSize: 1 << 44,
		Properties:  0x0B, // FSF3_LINK | FSF3_SYMLINK | FSF3_HOMOGENEOUS
	}, nfs3.NFS3_OK
}

func (fs *FS) PathConf(ctx context.Context, id nfs3.FileID) (nfs3.PathConfResult, nfs3.Stat) {
	return nfs3.PathConfResult{
		LinkMax:         32000,
		NameMax:         255,
		NoTrunc:         true,
		ChownRestricted: true,
		CaseInsensitive: false,
		CasePreserving:  true,
	}, nfs3.NFS3_OK
}

func (fs *FS) StatFS(ctx context.Context, id nfs3.FileID) (nfs3.StatFSResult, nfs3.Stat) {
	path, stat := fs.m.PathOf(id)
	if stat != nfs3.NFS3_OK {
		return nfs3.StatFSResult{}, stat
	}
	result, err := fs.host.StatFS(path)
	if err != nil {
		return nfs3.StatFSResult{}, nfs3.FromErrno(err)
	}
	return result, nfs3.NFS3_OK
}

// Close releases the pinned export-root handle.
func (fs *FS) Close() error {
	return fs.host.Close()
}
