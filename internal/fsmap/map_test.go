package fsmap

import (
	"os"
	"testing"
	"time"

	"github.com/lunixbochs/fernfs/internal/nfs3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHost is an in-memory stand-in for internal/hostfs, keyed by the full
// joined path exactly as Map.symToPathLocked builds it.
type fakeHost struct {
	nodes map[string]*fakeNode
}

type fakeNode struct {
	inode    InodeKey
	attr     nfs3.FAttr
	children []string // ordered child paths, for directories only
}

func newFakeHost() *fakeHost {
	return &fakeHost{nodes: make(map[string]*fakeNode)}
}

var nextFakeIno uint64 = 1

func (h *fakeHost) addDir(path string) {
	h.nodes[path] = &fakeNode{
		inode: InodeKey{Dev: 1, Ino: nextFakeIno},
		attr:  nfs3.FAttr{Type: nfs3.NF3DIR, Mode: 0755, Nlink: 2},
	}
	nextFakeIno++
}

func (h *fakeHost) addFile(path string, size uint64) {
	h.nodes[path] = &fakeNode{
		inode: InodeKey{Dev: 1, Ino: nextFakeIno},
		attr:  nfs3.FAttr{Type: nfs3.NF3REG, Mode: 0644, Nlink: 1, Size: size, Mtime: time.Unix(1000, 0)},
	}
	nextFakeIno++
}

// link makes existingPath and newPath resolve to the same inode, as a hard
// link would, bumping Nlink on both views.
func (h *fakeHost) link(existingPath, newPath string) {
	n := h.nodes[existingPath]
	n.attr.Nlink++
	cp := *n
	h.nodes[newPath] = &cp
}

func (h *fakeHost) remove(path string) {
	delete(h.nodes, path)
}

func (h *fakeHost) Lstat(path string) (HostMeta, error) {
	n, ok := h.nodes[path]
	if !ok {
		return HostMeta{}, &os.PathError{Op: "lstat", Path: path, Err: os.ErrNotExist}
	}
	return HostMeta{Inode: n.inode, Attr: n.attr}, nil
}

func (h *fakeHost) Exists(path string) bool {
	_, ok := h.nodes[path]
	return ok
}

func (h *fakeHost) ReadDir(path string) ([]HostEntry, error) {
	n, ok := h.nodes[path]
	if !ok {
		return nil, &os.PathError{Op: "readdir", Path: path, Err: os.ErrNotExist}
	}
	out := make([]HostEntry, 0, len(n.children))
	for _, childPath := range n.children {
		cn, ok := h.nodes[childPath]
		if !ok {
			continue
		}
		out = append(out, HostEntry{
			Name: []byte(baseName(childPath)),
			Meta: HostMeta{Inode: cn.inode, Attr: cn.attr},
		})
	}
	return out, nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func newTestMap(t *testing.T, h *fakeHost) *Map {
	t.Helper()
	h.addDir("/export")
	m, err := New("/export", h)
	require.NoError(t, err)
	return m
}

func TestNewSeedsRootEntry(t *testing.T) {
	h := newFakeHost()
	m := newTestMap(t, h)

	entry, stat := m.FindEntry(nfs3.RootFileID)
	require.Equal(t, nfs3.NFS3_OK, stat)
	assert.True(t, entry.IsDirectory())
	assert.Empty(t, entry.Name)
}

func TestCreateEntryAssignsNewIDForNewInode(t *testing.T) {
	h := newFakeHost()
	m := newTestMap(t, h)
	h.addFile("/export/a.txt", 10)

	aSym := m.intern.Intern([]byte("a.txt"))
	id := m.CreateEntry(PathVec{aSym}, mustLstat(t, h, "/export/a.txt"))

	assert.NotEqual(t, nfs3.RootFileID, id)
	entry, stat := m.FindEntry(id)
	require.Equal(t, nfs3.NFS3_OK, stat)
	assert.Equal(t, uint64(10), entry.FSMeta.Size)
}

func TestCreateEntryDiscoversHardLink(t *testing.T) {
	h := newFakeHost()
	m := newTestMap(t, h)
	h.addFile("/export/a.txt", 5)
	h.link("/export/a.txt", "/export/b.txt")

	aSym := m.intern.Intern([]byte("a.txt"))
	bSym := m.intern.Intern([]byte("b.txt"))

	idA := m.CreateEntry(PathVec{aSym}, mustLstat(t, h, "/export/a.txt"))
	idB := m.CreateEntry(PathVec{bSym}, mustLstat(t, h, "/export/b.txt"))

	assert.Equal(t, idA, idB, "two paths to the same inode must share one FileID")

	entry, _ := m.FindEntry(idA)
	assert.Len(t, entry.Aliases, 2)
}

func TestFindChildNeverInternsUnknownName(t *testing.T) {
	h := newFakeHost()
	m := newTestMap(t, h)

	_, stat := m.FindChild(nfs3.RootFileID, []byte("nope"))
	assert.Equal(t, nfs3.NFS3ERR_NOENT, stat)

	_, ok := m.intern.CheckInterned([]byte("nope"))
	assert.False(t, ok, "an unresolved lookup must not allocate a symbol")
}

func TestRemovePathDropsAliasKeepsEntryWhileOthersRemain(t *testing.T) {
	h := newFakeHost()
	m := newTestMap(t, h)
	h.addFile("/export/a.txt", 1)
	h.link("/export/a.txt", "/export/b.txt")

	aSym := m.intern.Intern([]byte("a.txt"))
	bSym := m.intern.Intern([]byte("b.txt"))
	id := m.CreateEntry(PathVec{aSym}, mustLstat(t, h, "/export/a.txt"))
	m.CreateEntry(PathVec{bSym}, mustLstat(t, h, "/export/b.txt"))

	m.RemovePath(PathVec{aSym})

	entry, stat := m.FindEntry(id)
	require.Equal(t, nfs3.NFS3_OK, stat, "entry must survive with one alias left")
	assert.Len(t, entry.Aliases, 1)
	assert.True(t, entry.Name.Equal(PathVec{bSym}), "primary must move to the surviving alias")

	m.RemovePath(PathVec{bSym})
	_, stat = m.FindEntry(id)
	assert.Equal(t, nfs3.NFS3ERR_NOENT, stat, "entry must be destroyed once no alias remains")
}

func TestRenamePathPrefixUpdatesDescendants(t *testing.T) {
	h := newFakeHost()
	m := newTestMap(t, h)
	h.addDir("/export/old")
	h.addFile("/export/old/child.txt", 1)

	oldSym := m.intern.Intern([]byte("old"))
	newSym := m.intern.Intern([]byte("new"))
	childSym := m.intern.Intern([]byte("child.txt"))

	dirID := m.CreateEntry(PathVec{oldSym}, mustLstat(t, h, "/export/old"))
	childID := m.CreateEntry(PathVec{oldSym, childSym}, mustLstat(t, h, "/export/old/child.txt"))

	m.RenamePathPrefix(PathVec{oldSym}, PathVec{newSym})

	dirEntry, stat := m.FindEntry(dirID)
	require.Equal(t, nfs3.NFS3_OK, stat)
	assert.True(t, dirEntry.Name.Equal(PathVec{newSym}))

	childEntry, stat := m.FindEntry(childID)
	require.Equal(t, nfs3.NFS3_OK, stat)
	assert.True(t, childEntry.Name.Equal(PathVec{newSym, childSym}), "descendant path must be rewritten too")

	id, stat := m.FindChild(dirID, []byte("child.txt"))
	require.Equal(t, nfs3.NFS3_OK, stat)
	assert.Equal(t, childID, id)
}

func TestRemovePathTreeRecursesIntoDirectories(t *testing.T) {
	h := newFakeHost()
	m := newTestMap(t, h)
	h.addDir("/export/d")
	h.addFile("/export/d/f.txt", 1)

	dSym := m.intern.Intern([]byte("d"))
	fSym := m.intern.Intern([]byte("f.txt"))

	dirID := m.CreateEntry(PathVec{dSym}, mustLstat(t, h, "/export/d"))
	fileID := m.CreateEntry(PathVec{dSym, fSym}, mustLstat(t, h, "/export/d/f.txt"))
	children := NewChildMap()
	children.Set(fSym, fileID)
	m.idToPath[dirID].Children = children

	m.RemovePathTree(PathVec{dSym}, dirID)

	_, stat := m.FindEntry(dirID)
	assert.Equal(t, nfs3.NFS3ERR_NOENT, stat)
	_, stat = m.FindEntry(fileID)
	assert.Equal(t, nfs3.NFS3ERR_NOENT, stat)
}

func TestRefreshEntryNoopWhenNothingChanged(t *testing.T) {
	h := newFakeHost()
	m := newTestMap(t, h)
	h.addFile("/export/a.txt", 1)
	aSym := m.intern.Intern([]byte("a.txt"))
	id := m.CreateEntry(PathVec{aSym}, mustLstat(t, h, "/export/a.txt"))

	result, stat := m.RefreshEntry(id)
	require.Equal(t, nfs3.NFS3_OK, stat)
	assert.Equal(t, Noop, result)
}

func TestRefreshEntryReloadOnMetadataChange(t *testing.T) {
	h := newFakeHost()
	m := newTestMap(t, h)
	h.addFile("/export/a.txt", 1)
	aSym := m.intern.Intern([]byte("a.txt"))
	id := m.CreateEntry(PathVec{aSym}, mustLstat(t, h, "/export/a.txt"))

	h.nodes["/export/a.txt"].attr.Size = 99
	h.nodes["/export/a.txt"].attr.Mtime = time.Unix(2000, 0)

	result, stat := m.RefreshEntry(id)
	require.Equal(t, nfs3.NFS3_OK, stat)
	assert.Equal(t, Reload, result)

	entry, _ := m.FindEntry(id)
	assert.Equal(t, uint64(99), entry.FSMeta.Size)
}

func TestRefreshEntryDeletesWhenAllAliasesGone(t *testing.T) {
	h := newFakeHost()
	m := newTestMap(t, h)
	h.addFile("/export/a.txt", 1)
	aSym := m.intern.Intern([]byte("a.txt"))
	id := m.CreateEntry(PathVec{aSym}, mustLstat(t, h, "/export/a.txt"))

	h.remove("/export/a.txt")

	result, stat := m.RefreshEntry(id)
	require.Equal(t, nfs3.NFS3_OK, stat)
	assert.Equal(t, Delete, result)

	_, stat = m.FindEntry(id)
	assert.Equal(t, nfs3.NFS3ERR_NOENT, stat)
}

func TestRefreshEntryDeletesOnAtomicReplace(t *testing.T) {
	h := newFakeHost()
	m := newTestMap(t, h)
	h.addFile("/export/a.txt", 1)
	aSym := m.intern.Intern([]byte("a.txt"))
	id := m.CreateEntry(PathVec{aSym}, mustLstat(t, h, "/export/a.txt"))

	// Simulate `mv` replacing the file out from under the same path: same
	// name, a new inode entirely.
	h.nodes["/export/a.txt"] = &fakeNode{
		inode: InodeKey{Dev: 1, Ino: nextFakeIno},
		attr:  nfs3.FAttr{Type: nfs3.NF3REG, Mode: 0644, Nlink: 1, Size: 7},
	}
	nextFakeIno++

	result, stat := m.RefreshEntry(id)
	require.Equal(t, nfs3.NFS3_OK, stat)
	assert.Equal(t, Delete, result, "a changed inode behind the same path must be treated as delete")
}

func TestRefreshDirListDiscoversNewAndPrunesGone(t *testing.T) {
	h := newFakeHost()
	m := newTestMap(t, h)
	h.addDir("/export/d")
	h.addFile("/export/d/one.txt", 1)
	h.nodes["/export/d"].children = []string{"/export/d/one.txt"}

	dSym := m.intern.Intern([]byte("d"))
	dirID := m.CreateEntry(PathVec{dSym}, mustLstat(t, h, "/export/d"))

	stat := m.RefreshDirList(dirID)
	require.Equal(t, nfs3.NFS3_OK, stat)

	entry, _ := m.FindEntry(dirID)
	require.Equal(t, 1, entry.Children.Len())
	oneSym, ok := m.intern.CheckInterned([]byte("one.txt"))
	require.True(t, ok)
	oneID, ok := entry.Children.Get(oneSym)
	require.True(t, ok)

	h.addFile("/export/d/two.txt", 2)
	h.nodes["/export/d"].children = []string{"/export/d/two.txt"}
	h.remove("/export/d/one.txt")

	stat = m.RefreshDirList(dirID)
	require.Equal(t, nfs3.NFS3_OK, stat)

	entry, _ = m.FindEntry(dirID)
	require.Equal(t, 1, entry.Children.Len())
	twoSym, _ := m.intern.CheckInterned([]byte("two.txt"))
	_, ok = entry.Children.Get(twoSym)
	assert.True(t, ok)

	_, stat = m.FindEntry(oneID)
	assert.Equal(t, nfs3.NFS3ERR_NOENT, stat, "an entry pruned from the directory must be fully removed")
}

func TestAliasOrderingIsDeterministic(t *testing.T) {
	h := newFakeHost()
	m := newTestMap(t, h)
	h.addFile("/export/z.txt", 1)
	h.link("/export/z.txt", "/export/a.txt")

	zSym := m.intern.Intern([]byte("z.txt"))
	aSym := m.intern.Intern([]byte("a.txt"))
	id := m.CreateEntry(PathVec{zSym}, mustLstat(t, h, "/export/z.txt"))
	m.CreateEntry(PathVec{aSym}, mustLstat(t, h, "/export/a.txt"))

	entry, _ := m.FindEntry(id)
	keys := sortedAliasKeys(&entry)
	got := make([]string, len(entry.Aliases))
	for i, a := range entry.Aliases {
		got[i] = a.Key()
	}
	assert.Equal(t, keys, got, "aliases must be stored in sorted order")
}

func mustLstat(t *testing.T, h *fakeHost, path string) HostMeta {
	t.Helper()
	meta, err := h.Lstat(path)
	require.NoError(t, err)
	return meta
}
