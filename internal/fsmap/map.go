// Package fsmap implements the identity map: the process-wide structure
// that assigns stable FileIDs to host inodes, tracks every hard-link alias
// reaching an inode, and detects out-of-band host changes (external
// rename, unlink, atomic replace, type change).
//
// Every exported method on Map is internally serialized by a single mutex:
// callers never need their own locking, and every method appears atomic
// with respect to every other.
package fsmap

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/golang/glog"
	"github.com/lunixbochs/fernfs/internal/nfs3"
)

// RefreshResult is the outcome of RefreshEntry.
type RefreshResult int

const (
	Noop RefreshResult = iota
	Reload
	Delete
)

func (r RefreshResult) String() string {
	switch r {
	case Noop:
		return "Noop"
	case Reload:
		return "Reload"
	case Delete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// Map is the identity-map singleton for one export.
type Map struct {
	root string
	host Host

	mu         sync.Mutex
	nextID     nfs3.FileID
	intern     *SymbolTable
	idToPath   map[nfs3.FileID]*Entry
	pathToID   map[string]nfs3.FileID // keyed by PathVec.Key()
	inodeToID  map[InodeKey]nfs3.FileID
	idToInode  map[nfs3.FileID]InodeKey
}

// New stats root via host and seeds the root entry as FileID 0. Fails only
// if the root stat fails, which is a fatal startup condition.
func New(root string, host Host) (*Map, error) {
	rootMeta, err := host.Lstat(root)
	if err != nil {
		return nil, err
	}

	m := &Map{
		root:      root,
		host:      host,
		nextID:    1,
		intern:    NewSymbolTable(),
		idToPath:  make(map[nfs3.FileID]*Entry),
		pathToID:  make(map[string]nfs3.FileID),
		inodeToID: make(map[InodeKey]nfs3.FileID),
		idToInode: make(map[nfs3.FileID]InodeKey),
	}

	rootMeta.Attr.FileID = nfs3.RootFileID
	rootEntry := newEntry(PathVec{}, rootMeta.Attr)
	m.idToPath[nfs3.RootFileID] = rootEntry
	m.pathToID[PathVec{}.Key()] = nfs3.RootFileID
	m.inodeToID[rootMeta.Inode] = nfs3.RootFileID
	m.idToInode[nfs3.RootFileID] = rootMeta.Inode

	return m, nil
}

// SymToPath concatenates the root with each symbol's original bytes in
// order.
func (m *Map) SymToPath(p PathVec) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.symToPathLocked(p)
}

func (m *Map) symToPathLocked(p PathVec) string {
	parts := make([]string, 0, len(p)+1)
	parts = append(parts, m.root)
	for _, sym := range p {
		parts = append(parts, string(m.intern.Get(sym)))
	}
	return filepath.Join(parts...)
}

// PathOf resolves id's current primary path on the host in one locked step,
// the composition internal/mirrorfs needs before every syscall.
func (m *Map) PathOf(id nfs3.FileID) (string, nfs3.Stat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.idToPath[id]
	if !ok {
		return "", nfs3.NFS3ERR_NOENT
	}
	return m.symToPathLocked(entry.Name), nfs3.NFS3_OK
}

// Intern exposes the symbol table so callers composing child paths (e.g.
// internal/mirrorfs.Lookup) can intern a raw name before appending it.
func (m *Map) Intern(name []byte) Symbol {
	return m.intern.Intern(name)
}

// SymbolBytes returns the raw bytes a symbol was interned from, for callers
// building a DirEntry.Name from a ChildMap entry.
func (m *Map) SymbolBytes(sym Symbol) []byte {
	return m.intern.Get(sym)
}

// CheckInterned exposes a read-only symbol lookup, so a caller can test
// whether a name has ever been seen without allocating a symbol for it.
func (m *Map) CheckInterned(name []byte) (Symbol, bool) {
	return m.intern.CheckInterned(name)
}

// HasCachedChild reports whether parent's cached children listing already
// contains sym, without touching the host. Used by Lookup to decide
// whether a directory-listing refresh is needed first.
func (m *Map) HasCachedChild(parent nfs3.FileID, sym Symbol) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.idToPath[parent]
	if !ok || entry.Children == nil {
		return false
	}
	return entry.Children.Has(sym)
}

// FindEntry returns a clone of the entry for id.
func (m *Map) FindEntry(id nfs3.FileID) (Entry, nfs3.Stat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.idToPath[id]
	if !ok {
		return Entry{}, nfs3.NFS3ERR_NOENT
	}
	return e.clone(), nfs3.NFS3_OK
}

// IDForPath resolves an already-known PathVec to its FileID, used to find a
// directory's parent id (the path with its last symbol dropped) for the
// synthetic ".." readdir entry.
func (m *Map) IDForPath(p PathVec) (nfs3.FileID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.pathToID[p.Key()]
	return id, ok
}

// FindChild resolves name under parent without ever interning an unknown
// name.
func (m *Map) FindChild(parent nfs3.FileID, filename []byte) (nfs3.FileID, nfs3.Stat) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parentEntry, ok := m.idToPath[parent]
	if !ok {
		return 0, nfs3.NFS3ERR_NOENT
	}
	sym, ok := m.intern.CheckInterned(filename)
	if !ok {
		return 0, nfs3.NFS3ERR_NOENT
	}
	childPath := parentEntry.Name.Append(sym)
	id, ok := m.pathToID[childPath.Key()]
	if !ok {
		return 0, nfs3.NFS3ERR_NOENT
	}
	return id, nfs3.NFS3_OK
}

// CreateEntry resolves fullpath/meta against the three cases a freshly
// observed host entry can fall into: an already-known path, a newly
// discovered hard link to a known inode, or a genuinely new inode.
func (m *Map) CreateEntry(fullpath PathVec, meta HostMeta) nfs3.FileID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createEntryLocked(fullpath, meta)
}

func (m *Map) createEntryLocked(fullpath PathVec, meta HostMeta) nfs3.FileID {
	key := fullpath.Key()

	// Case 1: fullpath is already known.
	if id, ok := m.pathToID[key]; ok {
		entry := m.idToPath[id]
		meta.Attr.FileID = id
		entry.FSMeta = meta.Attr
		return id
	}

	// Case 2: the inode is already known under a different path - a newly
	// discovered hard link.
	if id, ok := m.inodeToID[meta.Inode]; ok {
		entry := m.idToPath[id]
		meta.Attr.FileID = id
		entry.FSMeta = meta.Attr
		entry.addAlias(fullpath)
		m.pathToID[key] = id
		return id
	}

	// Case 3: a genuinely new inode.
	id := m.nextID
	m.nextID++
	meta.Attr.FileID = id
	entry := newEntry(fullpath, meta.Attr)
	m.idToPath[id] = entry
	m.pathToID[key] = id
	m.inodeToID[meta.Inode] = id
	m.idToInode[id] = meta.Inode
	return id
}

// RemovePath removes one alias: drops the path from the path index, drops
// it from the owning entry's aliases, picks a new primary if necessary,
// and destroys the entry (and its inode mapping) if no alias survives.
func (m *Map) RemovePath(path PathVec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removePathLocked(path)
}

func (m *Map) removePathLocked(path PathVec) {
	key := path.Key()
	id, ok := m.pathToID[key]
	if !ok {
		return
	}
	delete(m.pathToID, key)

	entry, ok := m.idToPath[id]
	if !ok {
		return
	}
	entry.removeAlias(path)
	if entry.Name.Equal(path) {
		if primary, ok := entry.firstAlias(); ok {
			entry.Name = primary
		}
	}
	if len(entry.Aliases) == 0 {
		delete(m.idToPath, id)
		if inode, ok := m.idToInode[id]; ok {
			delete(m.idToInode, id)
			delete(m.inodeToID, inode)
		}
	}
}

// RenamePathPrefix atomically rewrites every path index key (and the
// owning entries' aliases/name) that starts with from to start with to
// instead. The scan is split from the mutation to avoid mutating the map
// mid-iteration.
func (m *Map) RenamePathPrefix(from, to PathVec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renamePathPrefixLocked(from, to)
}

type renameUpdate struct {
	oldPath PathVec
	newPath PathVec
	id      nfs3.FileID
}

func (m *Map) renamePathPrefixLocked(from, to PathVec) {
	if from.Equal(to) {
		return
	}

	var updates []renameUpdate
	for key, id := range m.pathToID {
		entry, ok := m.idToPath[id]
		if !ok {
			continue
		}
		// path_to_id is keyed by PathVec.Key(); recover the alias whose key
		// matches so the HasPrefix test operates on the real PathVec.
		for _, alias := range entry.Aliases {
			if alias.Key() == key && alias.HasPrefix(from) {
				updates = append(updates, renameUpdate{
					oldPath: alias,
					newPath: alias.WithPrefixReplaced(from, to),
					id:      id,
				})
			}
		}
	}

	for _, u := range updates {
		delete(m.pathToID, u.oldPath.Key())
		m.pathToID[u.newPath.Key()] = u.id
		entry := m.idToPath[u.id]
		if entry == nil {
			continue
		}
		if entry.removeAlias(u.oldPath) {
			entry.addAlias(u.newPath)
		}
		if entry.Name.Equal(u.oldPath) {
			entry.Name = u.newPath
		}
	}
}

// RemovePathTree recursively removes a subtree rooted at path/id:
// directories recurse into their children first.
func (m *Map) RemovePathTree(path PathVec, id nfs3.FileID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removePathTreeLocked(path, id)
}

func (m *Map) removePathTreeLocked(path PathVec, id nfs3.FileID) {
	entry, ok := m.idToPath[id]
	if !ok {
		return
	}
	if entry.IsDirectory() && entry.Children != nil {
		for i := 0; i < entry.Children.Len(); i++ {
			name, childID := entry.Children.At(i)
			childPath := path.Append(name)
			if childEntry, ok := m.idToPath[childID]; ok && childEntry.IsDirectory() {
				m.removePathTreeLocked(childPath, childID)
			} else {
				m.removePathLocked(childPath)
			}
		}
	}
	m.removePathLocked(path)
}

// DeleteEntry removes id's primary path and the entire subtree beneath it.
// The entry itself is destroyed once that was its last alias; an entry that
// still has other hard-link aliases keeps its id under them.
func (m *Map) DeleteEntry(id nfs3.FileID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteEntryLocked(id)
}

func (m *Map) deleteEntryLocked(id nfs3.FileID) {
	entry, ok := m.idToPath[id]
	if !ok {
		return
	}
	m.removePathTreeLocked(entry.Name, id)
}

// RefreshEntry validates that id still reflects the host, through a
// seven-step check: drop stale aliases, pick a surviving primary, detect a
// vanished or inode-swapped target, and reconcile attributes otherwise.
func (m *Map) RefreshEntry(id nfs3.FileID) (RefreshResult, nfs3.Stat) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.idToPath[id]
	if !ok {
		return Noop, nfs3.NFS3ERR_NOENT
	}

	// Step 1: drop aliases that no longer exist; pick the first surviving
	// one as the new primary.
	surviving := entry.Aliases[:0:0]
	var primary PathVec
	havePrimary := false
	for _, alias := range entry.Aliases {
		path := m.symToPathLocked(alias)
		if m.host.Exists(path) {
			surviving = append(surviving, alias)
			if !havePrimary {
				primary = alias
				havePrimary = true
			}
		} else {
			delete(m.pathToID, alias.Key())
		}
	}
	entry.Aliases = surviving

	// Step 2: no alias survived.
	if !havePrimary {
		m.deleteEntryLocked(id)
		glog.V(1).Infof("fsmap: entry %d has no surviving alias, deleting", id)
		return Delete, nfs3.NFS3_OK
	}
	entry.Name = primary

	// Step 3: stat the primary path without following symlinks.
	path := m.symToPathLocked(primary)
	meta, err := m.host.Lstat(path)
	if err != nil {
		return Noop, nfs3.FromErrno(err)
	}

	// Step 4: inode identity changed underfoot - an out-of-band replace.
	if m.idToInode[id] != meta.Inode {
		m.deleteEntryLocked(id)
		glog.V(1).Infof("fsmap: entry %d at %q now resolves to a different inode, deleting", id, path)
		return Delete, nfs3.NFS3_OK
	}

	meta.Attr.FileID = id

	// Step 5: nothing observable changed.
	if meta.Attr.CoreEqual(entry.FSMeta) {
		return Noop, nfs3.NFS3_OK
	}

	// Step 6: the file type changed - treat as a replacement.
	if meta.Attr.Type != entry.FSMeta.Type {
		m.deleteEntryLocked(id)
		glog.V(1).Infof("fsmap: entry %d at %q changed type, deleting", id, path)
		return Delete, nfs3.NFS3_OK
	}

	// Step 7: in-place update.
	entry.FSMeta = meta.Attr
	return Reload, nfs3.NFS3_OK
}

// RefreshDirList re-scans a directory's children. Unlike a naive
// mtime-gated cache, this re-scans unconditionally every call: some
// backends mirror remote storage and never bump the directory's own
// mtime/ctime when a child changes, so gating on that would silently go
// stale. See DESIGN.md for why this departs from a straightforward
// "stat first, skip if unchanged" cache.
func (m *Map) RefreshDirList(id nfs3.FileID) nfs3.Stat {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.idToPath[id]
	if !ok {
		return nfs3.NFS3ERR_NOENT
	}
	if !entry.IsDirectory() {
		return nfs3.NFS3_OK
	}

	path := m.symToPathLocked(entry.Name)
	hostEntries, err := m.host.ReadDir(path)
	if err != nil {
		return nfs3.FromErrno(err)
	}

	newChildren := NewChildMap()
	for _, he := range hostEntries {
		sym := m.intern.Intern(he.Name)
		childPath := entry.Name.Append(sym)
		childID := m.createEntryLocked(childPath, he.Meta)
		newChildren.Set(sym, childID)
	}

	if entry.Children != nil {
		for i := 0; i < entry.Children.Len(); i++ {
			name, _ := entry.Children.At(i)
			if !newChildren.Has(name) {
				oldPath := entry.Name.Append(name)
				m.removePathLocked(oldPath)
			}
		}
	}

	entry.Children = newChildren
	entry.ChildrenMeta = entry.FSMeta
	return nfs3.NFS3_OK
}

// sortedAliasKeys is a test/debug helper exposing deterministic iteration
// over an entry's current aliases.
func sortedAliasKeys(e *Entry) []string {
	keys := make([]string, len(e.Aliases))
	for i, a := range e.Aliases {
		keys[i] = a.Key()
	}
	sort.Strings(keys)
	return keys
}
