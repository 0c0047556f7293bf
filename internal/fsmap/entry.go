package fsmap

import (
	"sort"

	"github.com/lunixbochs/fernfs/internal/nfs3"
)

// ChildMap is the ordered Symbol -> FileID map for a directory's
// lazily-populated listing: entries keep the order they were discovered in
// (the host readdir's own order), which is what makes paginated readdir()
// stable across calls.
type ChildMap struct {
	order []Symbol
	ids   map[Symbol]nfs3.FileID
}

func NewChildMap() *ChildMap {
	return &ChildMap{ids: make(map[Symbol]nfs3.FileID)}
}

func (c *ChildMap) Set(name Symbol, id nfs3.FileID) {
	if _, ok := c.ids[name]; !ok {
		c.order = append(c.order, name)
	}
	c.ids[name] = id
}

func (c *ChildMap) Get(name Symbol) (nfs3.FileID, bool) {
	id, ok := c.ids[name]
	return id, ok
}

func (c *ChildMap) Has(name Symbol) bool {
	_, ok := c.ids[name]
	return ok
}

// Len returns the number of children.
func (c *ChildMap) Len() int {
	return len(c.order)
}

// At returns the name/id pair at insertion-order index i.
func (c *ChildMap) At(i int) (Symbol, nfs3.FileID) {
	name := c.order[i]
	return name, c.ids[name]
}

func (c *ChildMap) clone() *ChildMap {
	cp := &ChildMap{
		order: append([]Symbol(nil), c.order...),
		ids:   make(map[Symbol]nfs3.FileID, len(c.ids)),
	}
	for k, v := range c.ids {
		cp.ids[k] = v
	}
	return cp
}

// Entry is the in-memory record for one FileID.
type Entry struct {
	Name    PathVec
	Aliases []PathVec // ordered set: sorted ascending by PathVec.Less, unique

	FSMeta       nfs3.FAttr
	ChildrenMeta nfs3.FAttr
	Children     *ChildMap // nil for regulars/symlinks and un-listed directories

	ExclusiveVerifier *nfs3.CreateVerf
}

// newEntry builds a fresh entry whose sole alias is name.
func newEntry(name PathVec, meta nfs3.FAttr) *Entry {
	return &Entry{
		Name:         name.Clone(),
		Aliases:      []PathVec{name.Clone()},
		FSMeta:       meta,
		ChildrenMeta: meta,
	}
}

// IsDirectory reports whether the entry names a directory.
func (e *Entry) IsDirectory() bool {
	return e.FSMeta.Type == nfs3.NF3DIR
}

// HasChildren reports whether the children listing has been populated.
func (e *Entry) HasChildren() bool {
	return e.Children != nil
}

// clone deep-copies e for the read-only snapshot FindEntry hands callers.
func (e *Entry) clone() Entry {
	cp := Entry{
		Name:         e.Name.Clone(),
		FSMeta:       e.FSMeta,
		ChildrenMeta: e.ChildrenMeta,
	}
	cp.Aliases = make([]PathVec, len(e.Aliases))
	for i, a := range e.Aliases {
		cp.Aliases[i] = a.Clone()
	}
	if e.Children != nil {
		cp.Children = e.Children.clone()
	}
	if e.ExclusiveVerifier != nil {
		v := *e.ExclusiveVerifier
		cp.ExclusiveVerifier = &v
	}
	return cp
}

// addAlias inserts path into the alias set, maintaining sorted order.
func (e *Entry) addAlias(path PathVec) {
	i := sort.Search(len(e.Aliases), func(i int) bool { return !e.Aliases[i].Less(path) })
	if i < len(e.Aliases) && e.Aliases[i].Equal(path) {
		return
	}
	e.Aliases = append(e.Aliases, nil)
	copy(e.Aliases[i+1:], e.Aliases[i:])
	e.Aliases[i] = path.Clone()
}

// removeAlias drops path from the alias set, reporting whether it was
// present.
func (e *Entry) removeAlias(path PathVec) bool {
	i := sort.Search(len(e.Aliases), func(i int) bool { return !e.Aliases[i].Less(path) })
	if i >= len(e.Aliases) || !e.Aliases[i].Equal(path) {
		return false
	}
	e.Aliases = append(e.Aliases[:i], e.Aliases[i+1:]...)
	return true
}

// firstAlias returns the smallest remaining alias, the deterministic
// tie-break used when a primary path is removed.
func (e *Entry) firstAlias() (PathVec, bool) {
	if len(e.Aliases) == 0 {
		return nil, false
	}
	return e.Aliases[0], true
}
