package nfsd

import (
	"bytes"
	"context"
	"io"

	"github.com/lunixbochs/fernfs/internal/nfs3"
	"github.com/lunixbochs/fernfs/internal/rpcwire"
	"github.com/lunixbochs/fernfs/internal/xdrutil"
)

// NFSv3 procedure numbers, RFC 1813 section 3.3.
const (
	NFSPROC3_NULL        uint32 = 0
	NFSPROC3_GETATTR     uint32 = 1
	NFSPROC3_SETATTR     uint32 = 2
	NFSPROC3_LOOKUP      uint32 = 3
	NFSPROC3_ACCESS      uint32 = 4
	NFSPROC3_READLINK    uint32 = 5
	NFSPROC3_READ        uint32 = 6
	NFSPROC3_WRITE       uint32 = 7
	NFSPROC3_CREATE      uint32 = 8
	NFSPROC3_MKDIR       uint32 = 9
	NFSPROC3_SYMLINK     uint32 = 10
	NFSPROC3_MKNOD       uint32 = 11
	NFSPROC3_REMOVE      uint32 = 12
	NFSPROC3_RMDIR       uint32 = 13
	NFSPROC3_RENAME      uint32 = 14
	NFSPROC3_LINK        uint32 = 15
	NFSPROC3_READDIR     uint32 = 16
	NFSPROC3_READDIRPLUS uint32 = 17
	NFSPROC3_FSSTAT      uint32 = 18
	NFSPROC3_FSINFO      uint32 = 19
	NFSPROC3_PATHCONF    uint32 = 20
	NFSPROC3_COMMIT      uint32 = 21
)

// Program/version identifiers for the MOUNT and NFS ONC RPC programs.
const (
	MountProg    uint32 = 100005
	MountVers    uint32 = 3
	NFSProg      uint32 = 100003
	NFSVers      uint32 = 3
	MountProcMnt uint32 = 1
)

// Dispatcher drives an nfs3.FileSystem from decoded NFSv3 procedure calls.
type Dispatcher struct {
	FS nfs3.FileSystem
}

type handlerFunc func(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32)

var procTable = map[uint32]handlerFunc{
	NFSPROC3_NULL:        handleNull,
	NFSPROC3_GETATTR:     handleGetAttr,
	NFSPROC3_SETATTR:     handleSetAttr,
	NFSPROC3_LOOKUP:      handleLookup,
	NFSPROC3_ACCESS:      handleAccess,
	NFSPROC3_READLINK:    handleReadLink,
	NFSPROC3_READ:        handleRead,
	NFSPROC3_WRITE:       handleWrite,
	NFSPROC3_CREATE:      handleCreate,
	NFSPROC3_MKDIR:       handleMkdir,
	NFSPROC3_SYMLINK:     handleSymlink,
	NFSPROC3_MKNOD:       handleMknod,
	NFSPROC3_REMOVE:      handleRemove,
	NFSPROC3_RMDIR:       handleRmdir,
	NFSPROC3_RENAME:      handleRename,
	NFSPROC3_LINK:        handleLink,
	NFSPROC3_READDIR:     handleReaddir,
	NFSPROC3_READDIRPLUS: handleReaddirPlus,
	NFSPROC3_FSSTAT:      handleFSStat,
	NFSPROC3_FSINFO:      handleFSInfo,
	NFSPROC3_PATHCONF:    handlePathConf,
	NFSPROC3_COMMIT:      handleCommit,
}

// Dispatch looks up and runs the handler for proc, returning the encoded
// procedure result body and the accept_stat to wrap it in.
func (d *Dispatcher) Dispatch(ctx context.Context, auth nfs3.AuthUnix, proc uint32, args *bytes.Reader) ([]byte, uint32) {
	fn, ok := procTable[proc]
	if !ok {
		return nil, rpcwire.ProcUnavail
	}
	return fn(d, ctx, auth, args)
}

func handleNull(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	return nil, rpcwire.Success
}

// resolveHandle decodes a leading fh3 and translates it to a FileID.
func (d *Dispatcher) resolveHandle(r *bytes.Reader) (nfs3.FileID, nfs3.Stat, error) {
	handle, err := ReadFileHandle(r)
	if err != nil {
		return 0, 0, err
	}
	id, stat := d.FS.HandleToID(handle)
	return id, stat, nil
}

func writeStat(buf *bytes.Buffer, stat nfs3.Stat) {
	xdrutil.WriteUint32(buf, uint32(stat))
}

// postOpAttrOf fetches current attributes for a best-effort post_op_attr;
// failures are reported as absent rather than propagated, since GETATTR
// failing after a successful mutation shouldn't fail the whole reply.
func (d *Dispatcher) postOpAttrOf(ctx context.Context, id nfs3.FileID) (nfs3.FAttr, bool) {
	attr, stat := d.FS.GetAttr(ctx, id)
	if stat != nfs3.NFS3_OK {
		return nfs3.FAttr{}, false
	}
	return attr, true
}

func handleGetAttr(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	id, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	var buf bytes.Buffer
	if stat != nfs3.NFS3_OK {
		writeStat(&buf, stat)
		return buf.Bytes(), rpcwire.Success
	}
	attr, stat := d.FS.GetAttr(ctx, id)
	writeStat(&buf, stat)
	if stat == nfs3.NFS3_OK {
		WriteFattr3(&buf, attr)
	}
	return buf.Bytes(), rpcwire.Success
}

func handleSetAttr(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	id, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	sattr, err := ReadSattr3(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	// sattr_guard3 (an optional pre-op ctime check); fernfs never rejects on
	// mismatch, it only needs to consume the bytes so the stream stays in
	// sync with whatever follows in this message.
	if guarded, err := xdrutil.ReadBool(args); err == nil && guarded {
		if _, err := readNFSTime(args); err != nil {
			return nil, rpcwire.GarbageArgs
		}
	}

	var buf bytes.Buffer
	if stat != nfs3.NFS3_OK {
		writeStat(&buf, stat)
		WriteWccData(&buf, WccAttr{}, false, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}

	pre, havePre := d.postOpAttrOf(ctx, id)
	newAttr, stat := d.FS.SetAttr(ctx, id, sattr)
	writeStat(&buf, stat)
	if havePre {
		WriteWccData(&buf, WccAttrOf(pre), true, newAttr, stat == nfs3.NFS3_OK)
	} else {
		WriteWccData(&buf, WccAttr{}, false, newAttr, stat == nfs3.NFS3_OK)
	}
	return buf.Bytes(), rpcwire.Success
}

func handleLookup(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	parent, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	name, err := ReadFilename(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}

	var buf bytes.Buffer
	if stat != nfs3.NFS3_OK {
		writeStat(&buf, stat)
		WritePostOpAttr(&buf, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}

	child, stat := d.FS.Lookup(ctx, parent, name)
	writeStat(&buf, stat)
	if stat == nfs3.NFS3_OK {
		WriteFileHandle(&buf, d.FS.IDToHandle(child.FileID))
		WritePostOpAttr(&buf, child.Attr, true)
		dirAttr, haveDir := d.postOpAttrOf(ctx, parent)
		WritePostOpAttr(&buf, dirAttr, haveDir)
	} else {
		dirAttr, haveDir := d.postOpAttrOf(ctx, parent)
		WritePostOpAttr(&buf, dirAttr, haveDir)
	}
	return buf.Bytes(), rpcwire.Success
}

func handleAccess(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	id, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	requested, err := xdrutil.ReadUint32(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}

	var buf bytes.Buffer
	if stat != nfs3.NFS3_OK {
		writeStat(&buf, stat)
		WritePostOpAttr(&buf, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}

	granted, stat := d.FS.Access(ctx, id, auth, requested)
	writeStat(&buf, stat)
	attr, have := d.postOpAttrOf(ctx, id)
	WritePostOpAttr(&buf, attr, have)
	if stat == nfs3.NFS3_OK {
		xdrutil.WriteUint32(&buf, granted)
	}
	return buf.Bytes(), rpcwire.Success
}

func handleReadLink(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	id, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}

	var buf bytes.Buffer
	if stat != nfs3.NFS3_OK {
		writeStat(&buf, stat)
		WritePostOpAttr(&buf, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}

	target, stat := d.FS.ReadLink(ctx, id)
	writeStat(&buf, stat)
	attr, have := d.postOpAttrOf(ctx, id)
	WritePostOpAttr(&buf, attr, have)
	if stat == nfs3.NFS3_OK {
		xdrutil.WriteOpaque(&buf, target)
	}
	return buf.Bytes(), rpcwire.Success
}

func handleRead(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	id, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	offset, err := xdrutil.ReadUint64(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	count, err := xdrutil.ReadUint32(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}

	var buf bytes.Buffer
	if stat != nfs3.NFS3_OK {
		writeStat(&buf, stat)
		WritePostOpAttr(&buf, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}

	result, stat := d.FS.Read(ctx, id, offset, count)
	writeStat(&buf, stat)
	attr, have := d.postOpAttrOf(ctx, id)
	WritePostOpAttr(&buf, attr, have)
	if stat == nfs3.NFS3_OK {
		xdrutil.WriteUint32(&buf, uint32(len(result.Data)))
		xdrutil.WriteBool(&buf, result.EOF)
		xdrutil.WriteOpaque(&buf, result.Data)
	}
	return buf.Bytes(), rpcwire.Success
}

func handleWrite(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	id, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	offset, err := xdrutil.ReadUint64(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	if _, err := xdrutil.ReadUint32(args); err != nil { // count, redundant with len(data)
		return nil, rpcwire.GarbageArgs
	}
	stability, err := xdrutil.ReadUint32(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	data, err := xdrutil.ReadOpaque(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}

	var buf bytes.Buffer
	if stat != nfs3.NFS3_OK {
		writeStat(&buf, stat)
		WriteWccData(&buf, WccAttr{}, false, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}

	pre, havePre := d.postOpAttrOf(ctx, id)
	n, verf, stat := d.FS.Write(ctx, id, offset, data, nfs3.StableHow(stability))
	writeStat(&buf, stat)
	post, havePost := d.postOpAttrOf(ctx, id)
	if havePre {
		WriteWccData(&buf, WccAttrOf(pre), true, post, havePost)
	} else {
		WriteWccData(&buf, WccAttr{}, false, post, havePost)
	}
	if stat == nfs3.NFS3_OK {
		xdrutil.WriteUint32(&buf, n)
		xdrutil.WriteUint32(&buf, stability)
		buf.Write(verf[:])
	}
	return buf.Bytes(), rpcwire.Success
}

// createResult writes the shared CREATE/MKDIR/SYMLINK/MKNOD reply shape:
// stat, post_op_fh3 + post_op_attr on success, then the parent's wcc_data.
func (d *Dispatcher) createResult(ctx context.Context, parent nfs3.FileID, havePreParent bool, preParent nfs3.FAttr, child nfs3.ChildEntry, stat nfs3.Stat) []byte {
	var buf bytes.Buffer
	writeStat(&buf, stat)
	if stat == nfs3.NFS3_OK {
		xdrutil.WriteBool(&buf, true)
		WriteFileHandle(&buf, d.FS.IDToHandle(child.FileID))
		WritePostOpAttr(&buf, child.Attr, true)
	}
	postParent, havePostParent := d.postOpAttrOf(ctx, parent)
	if havePreParent {
		WriteWccData(&buf, WccAttrOf(preParent), true, postParent, havePostParent)
	} else {
		WriteWccData(&buf, WccAttr{}, false, postParent, havePostParent)
	}
	return buf.Bytes()
}

func handleCreate(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	parent, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	name, err := ReadFilename(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	mode, err := xdrutil.ReadUint32(args) // createmode3: UNCHECKED/GUARDED/EXCLUSIVE
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}

	if stat != nfs3.NFS3_OK {
		var buf bytes.Buffer
		writeStat(&buf, stat)
		WriteWccData(&buf, WccAttr{}, false, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}
	preParent, havePre := d.postOpAttrOf(ctx, parent)

	var child nfs3.ChildEntry
	switch mode {
	case 2: // EXCLUSIVE
		var verifier nfs3.CreateVerf
		if _, err := io.ReadFull(args, verifier[:]); err != nil {
			return nil, rpcwire.GarbageArgs
		}
		child, stat = d.FS.CreateExclusive(ctx, parent, name, verifier)
	default: // UNCHECKED, GUARDED: both carry an sattr3
		sattr, err := ReadSattr3(args)
		if err != nil {
			return nil, rpcwire.GarbageArgs
		}
		child, stat = d.FS.Create(ctx, parent, name, sattr)
	}

	return d.createResult(ctx, parent, havePre, preParent, child, stat), rpcwire.Success
}

func handleMkdir(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	parent, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	name, err := ReadFilename(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	sattr, err := ReadSattr3(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	if stat != nfs3.NFS3_OK {
		var buf bytes.Buffer
		writeStat(&buf, stat)
		WriteWccData(&buf, WccAttr{}, false, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}
	preParent, havePre := d.postOpAttrOf(ctx, parent)
	child, stat := d.FS.Mkdir(ctx, parent, name, sattr)
	return d.createResult(ctx, parent, havePre, preParent, child, stat), rpcwire.Success
}

func handleSymlink(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	parent, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	name, err := ReadFilename(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	sattr, err := ReadSattr3(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	target, err := xdrutil.ReadOpaque(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	if stat != nfs3.NFS3_OK {
		var buf bytes.Buffer
		writeStat(&buf, stat)
		WriteWccData(&buf, WccAttr{}, false, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}
	preParent, havePre := d.postOpAttrOf(ctx, parent)
	child, stat := d.FS.Symlink(ctx, parent, name, target, sattr)
	return d.createResult(ctx, parent, havePre, preParent, child, stat), rpcwire.Success
}

func handleMknod(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	parent, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	name, err := ReadFilename(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	ftype, err := xdrutil.ReadUint32(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}

	var sattr nfs3.SAttr
	var dev nfs3.SpecData
	switch nfs3.FType(ftype) {
	case nfs3.NF3CHR, nfs3.NF3BLK:
		sattr, err = ReadSattr3(args)
		if err != nil {
			return nil, rpcwire.GarbageArgs
		}
		dev.Major, err = xdrutil.ReadUint32(args)
		if err != nil {
			return nil, rpcwire.GarbageArgs
		}
		dev.Minor, err = xdrutil.ReadUint32(args)
		if err != nil {
			return nil, rpcwire.GarbageArgs
		}
	default:
		sattr, err = ReadSattr3(args)
		if err != nil {
			return nil, rpcwire.GarbageArgs
		}
	}

	if stat != nfs3.NFS3_OK {
		var buf bytes.Buffer
		writeStat(&buf, stat)
		WriteWccData(&buf, WccAttr{}, false, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}
	preParent, havePre := d.postOpAttrOf(ctx, parent)
	child, stat := d.FS.Mknod(ctx, parent, name, nfs3.FType(ftype), dev, sattr)
	return d.createResult(ctx, parent, havePre, preParent, child, stat), rpcwire.Success
}

func (d *Dispatcher) removeLike(ctx context.Context, args *bytes.Reader, op func(parent nfs3.FileID, name nfs3.Filename) nfs3.Stat) ([]byte, uint32) {
	parent, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	name, err := ReadFilename(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}

	var buf bytes.Buffer
	if stat != nfs3.NFS3_OK {
		writeStat(&buf, stat)
		WriteWccData(&buf, WccAttr{}, false, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}

	preParent, havePre := d.postOpAttrOf(ctx, parent)
	stat = op(parent, name)
	writeStat(&buf, stat)
	postParent, havePost := d.postOpAttrOf(ctx, parent)
	if havePre {
		WriteWccData(&buf, WccAttrOf(preParent), true, postParent, havePost)
	} else {
		WriteWccData(&buf, WccAttr{}, false, postParent, havePost)
	}
	return buf.Bytes(), rpcwire.Success
}

func handleRemove(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	return d.removeLike(ctx, args, func(parent nfs3.FileID, name nfs3.Filename) nfs3.Stat {
		return d.FS.Remove(ctx, parent, name)
	})
}

func handleRmdir(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	return d.removeLike(ctx, args, func(parent nfs3.FileID, name nfs3.Filename) nfs3.Stat {
		return d.FS.Rmdir(ctx, parent, name)
	})
}

func handleRename(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	oldParent, stat1, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	oldName, err := ReadFilename(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	newParent, stat2, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	newName, err := ReadFilename(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}

	var buf bytes.Buffer
	if stat1 != nfs3.NFS3_OK || stat2 != nfs3.NFS3_OK {
		stat := stat1
		if stat == nfs3.NFS3_OK {
			stat = stat2
		}
		writeStat(&buf, stat)
		WriteWccData(&buf, WccAttr{}, false, nfs3.FAttr{}, false)
		WriteWccData(&buf, WccAttr{}, false, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}

	preOld, haveOld := d.postOpAttrOf(ctx, oldParent)
	preNew, haveNew := d.postOpAttrOf(ctx, newParent)

	stat := d.FS.Rename(ctx, oldParent, oldName, newParent, newName)
	writeStat(&buf, stat)

	postOld, havePostOld := d.postOpAttrOf(ctx, oldParent)
	postNew, havePostNew := d.postOpAttrOf(ctx, newParent)
	if haveOld {
		WriteWccData(&buf, WccAttrOf(preOld), true, postOld, havePostOld)
	} else {
		WriteWccData(&buf, WccAttr{}, false, postOld, havePostOld)
	}
	if haveNew {
		WriteWccData(&buf, WccAttrOf(preNew), true, postNew, havePostNew)
	} else {
		WriteWccData(&buf, WccAttr{}, false, postNew, havePostNew)
	}
	return buf.Bytes(), rpcwire.Success
}

func handleLink(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	id, stat1, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	linkDir, stat2, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	linkName, err := ReadFilename(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}

	var buf bytes.Buffer
	if stat1 != nfs3.NFS3_OK || stat2 != nfs3.NFS3_OK {
		stat := stat1
		if stat == nfs3.NFS3_OK {
			stat = stat2
		}
		writeStat(&buf, stat)
		WritePostOpAttr(&buf, nfs3.FAttr{}, false)
		WriteWccData(&buf, WccAttr{}, false, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}

	preDir, haveDir := d.postOpAttrOf(ctx, linkDir)
	attr, stat := d.FS.Link(ctx, id, linkDir, linkName)
	writeStat(&buf, stat)
	WritePostOpAttr(&buf, attr, stat == nfs3.NFS3_OK)
	postDir, havePostDir := d.postOpAttrOf(ctx, linkDir)
	if haveDir {
		WriteWccData(&buf, WccAttrOf(preDir), true, postDir, havePostDir)
	} else {
		WriteWccData(&buf, WccAttr{}, false, postDir, havePostDir)
	}
	return buf.Bytes(), rpcwire.Success
}

func handleReaddir(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	dir, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	cookie, err := xdrutil.ReadUint64(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	var cookieverf [8]byte
	if _, err := io.ReadFull(args, cookieverf[:]); err != nil {
		return nil, rpcwire.GarbageArgs
	}
	count, err := xdrutil.ReadUint32(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}

	var buf bytes.Buffer
	if stat != nfs3.NFS3_OK {
		writeStat(&buf, stat)
		WritePostOpAttr(&buf, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}

	// A rough entries-per-reply bound derived from the client's requested
	// byte count; actual wire size varies with filename length, so this is
	// a conservative estimate rather than an exact packing.
	const approxEntryBytes = 64
	maxEntries := int(count / approxEntryBytes)
	if maxEntries <= 0 {
		maxEntries = 32
	}

	result, stat := d.FS.Readdir(ctx, dir, cookie, maxEntries)
	writeStat(&buf, stat)
	attr, have := d.postOpAttrOf(ctx, dir)
	WritePostOpAttr(&buf, attr, have)
	if stat != nfs3.NFS3_OK {
		return buf.Bytes(), rpcwire.Success
	}
	buf.Write(cookieverf[:])
	for i, e := range result.Entries {
		xdrutil.WriteBool(&buf, true) // value_follows
		xdrutil.WriteUint64(&buf, e.FileID)
		xdrutil.WriteOpaque(&buf, e.Name)
		xdrutil.WriteUint64(&buf, cookie+uint64(i)+1)
	}
	xdrutil.WriteBool(&buf, false) // no more entries in this page
	xdrutil.WriteBool(&buf, result.End)
	return buf.Bytes(), rpcwire.Success
}

func handleReaddirPlus(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	dir, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	cookie, err := xdrutil.ReadUint64(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	var cookieverf [8]byte
	if _, err := io.ReadFull(args, cookieverf[:]); err != nil {
		return nil, rpcwire.GarbageArgs
	}
	if _, err := xdrutil.ReadUint32(args); err != nil { // dircount
		return nil, rpcwire.GarbageArgs
	}
	maxcount, err := xdrutil.ReadUint32(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}

	var buf bytes.Buffer
	if stat != nfs3.NFS3_OK {
		writeStat(&buf, stat)
		WritePostOpAttr(&buf, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}

	const approxEntryBytes = 128 // a READDIRPLUS row also carries a handle and fattr3
	maxEntries := int(maxcount / approxEntryBytes)
	if maxEntries <= 0 {
		maxEntries = 16
	}

	result, stat := d.FS.Readdir(ctx, dir, cookie, maxEntries)
	writeStat(&buf, stat)
	attr, have := d.postOpAttrOf(ctx, dir)
	WritePostOpAttr(&buf, attr, have)
	if stat != nfs3.NFS3_OK {
		return buf.Bytes(), rpcwire.Success
	}
	buf.Write(cookieverf[:])
	for i, e := range result.Entries {
		xdrutil.WriteBool(&buf, true)
		xdrutil.WriteUint64(&buf, e.FileID)
		xdrutil.WriteOpaque(&buf, e.Name)
		xdrutil.WriteUint64(&buf, cookie+uint64(i)+1)
		entryAttr, haveEntry := d.postOpAttrOf(ctx, e.FileID)
		WritePostOpAttr(&buf, entryAttr, haveEntry)
		xdrutil.WriteBool(&buf, true) // handle_follows
		WriteFileHandle(&buf, d.FS.IDToHandle(e.FileID))
	}
	xdrutil.WriteBool(&buf, false)
	xdrutil.WriteBool(&buf, result.End)
	return buf.Bytes(), rpcwire.Success
}

func handleFSStat(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	id, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	var buf bytes.Buffer
	if stat != nfs3.NFS3_OK {
		writeStat(&buf, stat)
		WritePostOpAttr(&buf, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}
	result, stat := d.FS.StatFS(ctx, id)
	writeStat(&buf, stat)
	attr, have := d.postOpAttrOf(ctx, id)
	WritePostOpAttr(&buf, attr, have)
	if stat == nfs3.NFS3_OK {
		xdrutil.WriteUint64(&buf, result.TotalBytes)
		xdrutil.WriteUint64(&buf, result.FreeBytes)
		xdrutil.WriteUint64(&buf, result.AvailBytes)
		xdrutil.WriteUint64(&buf, result.TotalFiles)
		xdrutil.WriteUint64(&buf, result.FreeFiles)
		xdrutil.WriteUint64(&buf, result.AvailFiles)
		xdrutil.WriteUint32(&buf, result.InvarSec)
	}
	return buf.Bytes(), rpcwire.Success
}

func handleFSInfo(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	id, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	var buf bytes.Buffer
	if stat != nfs3.NFS3_OK {
		writeStat(&buf, stat)
		WritePostOpAttr(&buf, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}
	result, stat := d.FS.FSInfo(ctx, id)
	writeStat(&buf, stat)
	attr, have := d.postOpAttrOf(ctx, id)
	WritePostOpAttr(&buf, attr, have)
	if stat == nfs3.NFS3_OK {
		xdrutil.WriteUint32(&buf, result.RtMax)
		xdrutil.WriteUint32(&buf, result.RtPref)
		xdrutil.WriteUint32(&buf, result.RtMult)
		xdrutil.WriteUint32(&buf, result.WtMax)
		xdrutil.WriteUint32(&buf, result.WtPref)
		xdrutil.WriteUint32(&buf, result.WtMult)
		xdrutil.WriteUint32(&buf, result.DtPref)
		xdrutil.WriteUint64(&buf, result.MaxFileSize)
		xdrutil.WriteUint32(&buf, result.TimeDeltaSec)
		xdrutil.WriteUint32(&buf, result.TimeDeltaNSec)
		xdrutil.WriteUint32(&buf, result.Properties)
	}
	return buf.Bytes(), rpcwire.Success
}

func handlePathConf(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	id, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	var buf bytes.Buffer
	if stat != nfs3.NFS3_OK {
		writeStat(&buf, stat)
		WritePostOpAttr(&buf, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}
	result, stat := d.FS.PathConf(ctx, id)
	writeStat(&buf, stat)
	attr, have := d.postOpAttrOf(ctx, id)
	WritePostOpAttr(&buf, attr, have)
	if stat == nfs3.NFS3_OK {
		xdrutil.WriteUint32(&buf, result.LinkMax)
		xdrutil.WriteUint32(&buf, result.NameMax)
		xdrutil.WriteBool(&buf, result.NoTrunc)
		xdrutil.WriteBool(&buf, result.ChownRestricted)
		xdrutil.WriteBool(&buf, result.CaseInsensitive)
		xdrutil.WriteBool(&buf, result.CasePreserving)
	}
	return buf.Bytes(), rpcwire.Success
}

func handleCommit(d *Dispatcher, ctx context.Context, auth nfs3.AuthUnix, args *bytes.Reader) ([]byte, uint32) {
	id, stat, err := d.resolveHandle(args)
	if err != nil {
		return nil, rpcwire.GarbageArgs
	}
	if _, err := xdrutil.ReadUint64(args); err != nil { // offset, advisory only
		return nil, rpcwire.GarbageArgs
	}
	if _, err := xdrutil.ReadUint32(args); err != nil { // count, advisory only
		return nil, rpcwire.GarbageArgs
	}

	var buf bytes.Buffer
	if stat != nfs3.NFS3_OK {
		writeStat(&buf, stat)
		WriteWccData(&buf, WccAttr{}, false, nfs3.FAttr{}, false)
		return buf.Bytes(), rpcwire.Success
	}

	pre, havePre := d.postOpAttrOf(ctx, id)
	verf, stat := d.FS.Commit(ctx, id)
	writeStat(&buf, stat)
	post, havePost := d.postOpAttrOf(ctx, id)
	if havePre {
		WriteWccData(&buf, WccAttrOf(pre), true, post, havePost)
	} else {
		WriteWccData(&buf, WccAttr{}, false, post, havePost)
	}
	if stat == nfs3.NFS3_OK {
		buf.Write(verf[:])
	}
	return buf.Bytes(), rpcwire.Success
}
