package nfsd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/lunixbochs/fernfs/internal/nfs3"
	"github.com/lunixbochs/fernfs/internal/rpcwire"
	"github.com/lunixbochs/fernfs/internal/xdrutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFS struct {
	attrs map[nfs3.FileID]nfs3.FAttr
}

func newFakeFS() *fakeFS {
	return &fakeFS{attrs: map[nfs3.FileID]nfs3.FAttr{
		0: {Type: nfs3.NF3DIR, Mode: 0755, FileID: 0, Mtime: time.Unix(1, 0), Ctime: time.Unix(1, 0), Atime: time.Unix(1, 0)},
		1: {Type: nfs3.NF3REG, Mode: 0644, FileID: 1, Size: 10, Mtime: time.Unix(2, 0), Ctime: time.Unix(2, 0), Atime: time.Unix(2, 0)},
	}}
}

func (f *fakeFS) GetAttr(ctx context.Context, id nfs3.FileID) (nfs3.FAttr, nfs3.Stat) {
	a, ok := f.attrs[id]
	if !ok {
		return nfs3.FAttr{}, nfs3.NFS3ERR_NOENT
	}
	return a, nfs3.NFS3_OK
}
func (f *fakeFS) SetAttr(ctx context.Context, id nfs3.FileID, attr nfs3.SAttr) (nfs3.FAttr, nfs3.Stat) {
	return f.attrs[id], nfs3.NFS3_OK
}
func (f *fakeFS) Access(ctx context.Context, id nfs3.FileID, auth nfs3.AuthUnix, requested uint32) (uint32, nfs3.Stat) {
	return requested, nfs3.NFS3_OK
}
func (f *fakeFS) Lookup(ctx context.Context, parent nfs3.FileID, name nfs3.Filename) (nfs3.ChildEntry, nfs3.Stat) {
	if string(name) == "file" {
		return nfs3.ChildEntry{FileID: 1, Attr: f.attrs[1]}, nfs3.NFS3_OK
	}
	return nfs3.ChildEntry{}, nfs3.NFS3ERR_NOENT
}
func (f *fakeFS) Create(ctx context.Context, parent nfs3.FileID, name nfs3.Filename, attr nfs3.SAttr) (nfs3.ChildEntry, nfs3.Stat) {
	return nfs3.ChildEntry{}, nfs3.NFS3ERR_NOTSUPP
}
func (f *fakeFS) CreateExclusive(ctx context.Context, parent nfs3.FileID, name nfs3.Filename, verifier nfs3.CreateVerf) (nfs3.ChildEntry, nfs3.Stat) {
	return nfs3.ChildEntry{}, nfs3.NFS3ERR_NOTSUPP
}
func (f *fakeFS) Mkdir(ctx context.Context, parent nfs3.FileID, name nfs3.Filename, attr nfs3.SAttr) (nfs3.ChildEntry, nfs3.Stat) {
	return nfs3.ChildEntry{}, nfs3.NFS3ERR_NOTSUPP
}
func (f *fakeFS) Symlink(ctx context.Context, parent nfs3.FileID, name nfs3.Filename, target []byte, attr nfs3.SAttr) (nfs3.ChildEntry, nfs3.Stat) {
	return nfs3.ChildEntry{}, nfs3.NFS3ERR_NOTSUPP
}
func (f *fakeFS) Mknod(ctx context.Context, parent nfs3.FileID, name nfs3.Filename, ftype nfs3.FType, dev nfs3.SpecData, attr nfs3.SAttr) (nfs3.ChildEntry, nfs3.Stat) {
	return nfs3.ChildEntry{}, nfs3.NFS3ERR_NOTSUPP
}
func (f *fakeFS) Link(ctx context.Context, id nfs3.FileID, newParent nfs3.FileID, newName nfs3.Filename) (nfs3.FAttr, nfs3.Stat) {
	return nfs3.FAttr{}, nfs3.NFS3ERR_NOTSUPP
}
func (f *fakeFS) Remove(ctx context.Context, parent nfs3.FileID, name nfs3.Filename) nfs3.Stat {
	return nfs3.NFS3_OK
}
func (f *fakeFS) Rmdir(ctx context.Context, parent nfs3.FileID, name nfs3.Filename) nfs3.Stat {
	return nfs3.NFS3_OK
}
func (f *fakeFS) Rename(ctx context.Context, oldParent nfs3.FileID, oldName nfs3.Filename, newParent nfs3.FileID, newName nfs3.Filename) nfs3.Stat {
	return nfs3.NFS3_OK
}
func (f *fakeFS) ReadLink(ctx context.Context, id nfs3.FileID) ([]byte, nfs3.Stat) {
	return nil, nfs3.NFS3ERR_INVAL
}
func (f *fakeFS) Read(ctx context.Context, id nfs3.FileID, offset uint64, count uint32) (nfs3.ReadResult, nfs3.Stat) {
	return nfs3.ReadResult{Data: []byte("hello"), EOF: true}, nfs3.NFS3_OK
}
func (f *fakeFS) Write(ctx context.Context, id nfs3.FileID, offset uint64, data []byte, stability nfs3.StableHow) (uint32, nfs3.WriteVerf, nfs3.Stat) {
	return uint32(len(data)), nfs3.WriteVerf{1}, nfs3.NFS3_OK
}
func (f *fakeFS) Commit(ctx context.Context, id nfs3.FileID) (nfs3.WriteVerf, nfs3.Stat) {
	return nfs3.WriteVerf{1}, nfs3.NFS3_OK
}
func (f *fakeFS) Readdir(ctx context.Context, dir nfs3.FileID, cookie uint64, maxEntries int) (nfs3.ReadDirResult, nfs3.Stat) {
	return nfs3.ReadDirResult{}, nfs3.NFS3_OK
}
func (f *fakeFS) FSInfo(ctx context.Context, id nfs3.FileID) (nfs3.FSInfoResult, nfs3.Stat) {
	return nfs3.FSInfoResult{}, nfs3.NFS3_OK
}
func (f *fakeFS) PathConf(ctx context.Context, id nfs3.FileID) (nfs3.PathConfResult, nfs3.Stat) {
	return nfs3.PathConfResult{}, nfs3.NFS3_OK
}
func (f *fakeFS) StatFS(ctx context.Context, id nfs3.FileID) (nfs3.StatFSResult, nfs3.Stat) {
	return nfs3.StatFSResult{}, nfs3.NFS3_OK
}
func (f *fakeFS) IDToHandle(id nfs3.FileID) []byte { return []byte{byte(id)} }
func (f *fakeFS) HandleToID(handle []byte) (nfs3.FileID, nfs3.Stat) {
	if len(handle) != 1 {
		return 0, nfs3.NFS3ERR_BADHANDLE
	}
	return nfs3.FileID(handle[0]), nfs3.NFS3_OK
}
func (f *fakeFS) PathToID(ctx context.Context, path []byte) (nfs3.FileID, nfs3.Stat) {
	return 0, nfs3.NFS3_OK
}
func (f *fakeFS) Capabilities() nfs3.Capabilities { return nfs3.ReadWrite }

func encodeFH(id byte) []byte {
	var buf bytes.Buffer
	xdrutil.WriteOpaque(&buf, []byte{id})
	return buf.Bytes()
}

func TestDispatchGetAttr(t *testing.T) {
	d := &Dispatcher{FS: newFakeFS()}
	args := bytes.NewReader(encodeFH(1))
	body, stat := d.Dispatch(context.Background(), nfs3.AuthUnix{}, NFSPROC3_GETATTR, args)
	require.Equal(t, rpcwire.Success, stat)

	r := bytes.NewReader(body)
	var statusBytes [4]byte
	r.Read(statusBytes[:])
	assert.Equal(t, []byte{0, 0, 0, 0}, statusBytes[:]) // NFS3_OK
}

func TestDispatchLookupFindsChild(t *testing.T) {
	d := &Dispatcher{FS: newFakeFS()}
	var buf bytes.Buffer
	buf.Write(encodeFH(0))
	xdrutil.WriteOpaque(&buf, []byte("file"))

	body, stat := d.Dispatch(context.Background(), nfs3.AuthUnix{}, NFSPROC3_LOOKUP, bytes.NewReader(buf.Bytes()))
	require.Equal(t, rpcwire.Success, stat)
	require.True(t, len(body) >= 4)
	assert.Equal(t, []byte{0, 0, 0, 0}, body[:4])
}

func TestDispatchUnknownProcReturnsProcUnavail(t *testing.T) {
	d := &Dispatcher{FS: newFakeFS()}
	_, stat := d.Dispatch(context.Background(), nfs3.AuthUnix{}, 999, bytes.NewReader(nil))
	assert.Equal(t, rpcwire.ProcUnavail, stat)
}

func TestDispatchNullTakesNoArgsReturnsEmptyBody(t *testing.T) {
	d := &Dispatcher{FS: newFakeFS()}
	body, stat := d.Dispatch(context.Background(), nfs3.AuthUnix{}, NFSPROC3_NULL, bytes.NewReader(nil))
	assert.Equal(t, rpcwire.Success, stat)
	assert.Nil(t, body)
}

func TestDispatchReadReturnsRequestedData(t *testing.T) {
	d := &Dispatcher{FS: newFakeFS()}
	var buf bytes.Buffer
	buf.Write(encodeFH(1))
	xdrutil.WriteUint64(&buf, 0)
	xdrutil.WriteUint32(&buf, 5)

	body, stat := d.Dispatch(context.Background(), nfs3.AuthUnix{}, NFSPROC3_READ, bytes.NewReader(buf.Bytes()))
	require.Equal(t, rpcwire.Success, stat)
	assert.Contains(t, string(body), "hello")
}
