package fsmap

import "github.com/lunixbochs/fernfs/internal/nfs3"

// InodeKey is the <device, inode> pair identifying a physical on-disk
// inode.
type InodeKey struct {
	Dev uint64
	Ino uint64
}

// HostMeta is what the Host collaborator reports for one path: the
// physical inode it resolves to and its translated attributes. FileID in
// Attr is left zero; FSMap fills it in once an id is assigned.
type HostMeta struct {
	Inode InodeKey
	Attr  nfs3.FAttr
}

// HostEntry is one row of a directory listing.
type HostEntry struct {
	Name []byte
	Meta HostMeta
}

// Host is the narrow host-filesystem surface FSMap needs: bindings to the
// specific host syscalls it depends on, implemented for real by
// internal/hostfs and faked in tests.
type Host interface {
	// Lstat stats path without following a trailing symlink.
	Lstat(path string) (HostMeta, error)

	// Exists reports whether path exists, without following a trailing
	// symlink. It must not be fooled by permission errors into reporting
	// false: only ENOENT (or ENOTDIR on an interior component) means
	// "does not exist".
	Exists(path string) bool

	// ReadDir lists path's immediate children. Returns NFS3ERR_ACCES or
	// NFS3ERR_IO (translated by the caller) on failure.
	ReadDir(path string) ([]HostEntry, error)
}
