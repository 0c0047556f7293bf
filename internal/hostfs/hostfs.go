// Package hostfs is the thin syscall boundary fernfs's mirror filesystem
// sits on top of: a single golang.org/x/sys/unix implementation covering
// the POSIX surface fernfs needs, rather than a set of per-OS shims.
package hostfs

import (
	"os"
	"path/filepath"
	"time"

	"github.com/lunixbochs/fernfs/internal/ferr"
	"github.com/lunixbochs/fernfs/internal/fsmap"
	"github.com/lunixbochs/fernfs/internal/nfs3"
	"golang.org/x/sys/unix"
)

// FS binds a mirror export to one root directory on the host, held open for
// the lifetime of the server (until Close), which keeps the file system it
// lives on busy against an unmount.
type FS struct {
	Root     string
	rootFile *os.File
	dev      uint64
}

// Open validates root and keeps it pinned open.
func Open(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, ferr.Wrapf(err, "resolving export root %q", root)
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, ferr.Wrapf(err, "opening export root %q", abs)
	}
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		f.Close()
		return nil, ferr.Wrapf(err, "statting export root %q", abs)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		f.Close()
		return nil, ferr.Errorf("export root %q is not a directory", abs)
	}
	return &FS{Root: abs, rootFile: f, dev: uint64(st.Dev)}, nil
}

// Close releases the pinned root handle.
func (fs *FS) Close() error {
	return fs.rootFile.Close()
}

// Dev is the device number of the export root, as recorded by Open.
func (fs *FS) Dev() uint64 {
	return fs.dev
}

func toInodeKey(st *unix.Stat_t) fsmap.InodeKey {
	return fsmap.InodeKey{Dev: uint64(st.Dev), Ino: st.Ino}
}

func tsToTime(ts unix.Timespec) time.Time {
	return time.Unix(ts.Sec, ts.Nsec)
}

func toFType(mode uint32) nfs3.FType {
	switch mode & unix.S_IFMT {
	case unix.S_IFREG:
		return nfs3.NF3REG
	case unix.S_IFDIR:
		return nfs3.NF3DIR
	case unix.S_IFLNK:
		return nfs3.NF3LNK
	case unix.S_IFCHR:
		return nfs3.NF3CHR
	case unix.S_IFBLK:
		return nfs3.NF3BLK
	case unix.S_IFIFO:
		return nfs3.NF3FIFO
	case unix.S_IFSOCK:
		return nfs3.NF3SOCK
	default:
		return nfs3.NF3REG
	}
}

func statToAttr(st *unix.Stat_t) nfs3.FAttr {
	return nfs3.FAttr{
		Type:  toFType(st.Mode),
		Mode:  uint32(st.Mode) & 07777,
		Nlink: uint32(st.Nlink),
		UID:   st.Uid,
		GID:   st.Gid,
		Size:  uint64(st.Size),
		Used:  uint64(st.Blocks) * 512,
		Rdev: nfs3.SpecData{
			Major: uint32(unix.Major(uint64(st.Rdev))),
			Minor: uint32(unix.Minor(uint64(st.Rdev))),
		},
		FSID:  uint64(st.Dev),
		Atime: tsToTime(st.Atim),
		Mtime: tsToTime(st.Mtim),
		Ctime: tsToTime(st.Ctim),
	}
}

// Lstat implements fsmap.Host.
func (fs *FS) Lstat(path string) (fsmap.HostMeta, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return fsmap.HostMeta{}, &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	return fsmap.HostMeta{Inode: toInodeKey(&st), Attr: statToAttr(&st)}, nil
}

// Exists implements fsmap.Host. ENOENT and ENOTDIR both mean "does not
// exist"; any other error (e.g. EACCES on an ancestor) must not be mistaken
// for nonexistence, per fsmap.Host's contract.
func (fs *FS) Exists(path string) bool {
	var st unix.Stat_t
	err := unix.Lstat(path, &st)
	if err == nil {
		return true
	}
	return err != unix.ENOENT && err != unix.ENOTDIR
}

// ReadDir implements fsmap.Host, listing path's immediate children in the
// order the host directory stream returns them.
func (fs *FS) ReadDir(path string) ([]fsmap.HostEntry, error) {
	dir, err := os.Open(path)
	if err != nil {
		return nil, &os.PathError{Op: "opendir", Path: path, Err: err}
	}
	defer dir.Close()

	names, err := dir.Readdirnames(0)
	if err != nil {
		return nil, ferr.Wrapf(err, "reading directory %q", path)
	}

	entries := make([]fsmap.HostEntry, 0, len(names))
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		childPath := filepath.Join(path, name)
		var st unix.Stat_t
		if err := unix.Lstat(childPath, &st); err != nil {
			// Entry vanished between Readdirnames and Lstat: a benign race,
			// skip it rather than fail the whole listing.
			continue
		}
		entries = append(entries, fsmap.HostEntry{
			Name: []byte(name),
			Meta: fsmap.HostMeta{Inode: toInodeKey(&st), Attr: statToAttr(&st)},
		})
	}
	return entries, nil
}

// Mkdir creates a directory with mode, returning its metadata.
func (fs *FS) Mkdir(path string, mode uint32) (fsmap.HostMeta, error) {
	if err := unix.Mkdir(path, mode); err != nil {
		return fsmap.HostMeta{}, &os.PathError{Op: "mkdir", Path: path, Err: err}
	}
	return fs.Lstat(path)
}

// Create opens (and creates if necessary) a regular file for writing,
// returning both the open descriptor and its metadata.
func (fs *FS) Create(path string, mode uint32, excl bool) (*os.File, fsmap.HostMeta, error) {
	flags := os.O_RDWR | os.O_CREATE
	if excl {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, os.FileMode(mode))
	if err != nil {
		return nil, fsmap.HostMeta{}, &os.PathError{Op: "open", Path: path, Err: err}
	}
	meta, err := fs.Lstat(path)
	if err != nil {
		f.Close()
		return nil, fsmap.HostMeta{}, err
	}
	return f, meta, nil
}

// Open opens an existing file for reading and writing.
func (fs *FS) Open(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return f, nil
}

// Symlink creates a symlink at path pointing at target.
func (fs *FS) Symlink(target, path string) (fsmap.HostMeta, error) {
	if err := unix.Symlink(target, path); err != nil {
		return fsmap.HostMeta{}, &os.PathError{Op: "symlink", Path: path, Err: err}
	}
	return fs.Lstat(path)
}

// Readlink returns a symlink's target.
func (fs *FS) Readlink(path string) ([]byte, error) {
	buf := make([]byte, 4096)
	n, err := unix.Readlink(path, buf)
	if err != nil {
		return nil, &os.PathError{Op: "readlink", Path: path, Err: err}
	}
	return buf[:n], nil
}

// Mknod creates a device node or FIFO/socket.
func (fs *FS) Mknod(path string, mode uint32, major, minor uint32) (fsmap.HostMeta, error) {
	dev := unix.Mkdev(major, minor)
	if err := unix.Mknod(path, mode, int(dev)); err != nil {
		return fsmap.HostMeta{}, &os.PathError{Op: "mknod", Path: path, Err: err}
	}
	return fs.Lstat(path)
}

// Link creates newPath as a hard link to existingPath.
func (fs *FS) Link(existingPath, newPath string) (fsmap.HostMeta, error) {
	if err := unix.Link(existingPath, newPath); err != nil {
		return fsmap.HostMeta{}, &os.LinkError{Op: "link", Old: existingPath, New: newPath, Err: err}
	}
	return fs.Lstat(newPath)
}

// Rename moves oldPath to newPath, replacing newPath if it already exists
// (subject to POSIX rename semantics: non-empty directory targets fail).
func (fs *FS) Rename(oldPath, newPath string) error {
	if err := unix.Rename(oldPath, newPath); err != nil {
		return &os.LinkError{Op: "rename", Old: oldPath, New: newPath, Err: err}
	}
	return nil
}

// Remove unlinks a non-directory.
func (fs *FS) Remove(path string) error {
	if err := unix.Unlink(path); err != nil {
		return &os.PathError{Op: "unlink", Path: path, Err: err}
	}
	return nil
}

// Rmdir removes an empty directory.
func (fs *FS) Rmdir(path string) error {
	if err := unix.Rmdir(path); err != nil {
		return &os.PathError{Op: "rmdir", Path: path, Err: err}
	}
	return nil
}

// SetAttr applies an independently-optional attribute set, matching RFC
// 1813 sattr3's per-field granularity.
func (fs *FS) SetAttr(path string, attr nfs3.SAttr) (fsmap.HostMeta, error) {
	if attr.Size != nil {
		if err := unix.Truncate(path, int64(*attr.Size)); err != nil {
			return fsmap.HostMeta{}, &os.PathError{Op: "truncate", Path: path, Err: err}
		}
	}
	if attr.Mode != nil {
		if err := unix.Chmod(path, *attr.Mode); err != nil {
			return fsmap.HostMeta{}, &os.PathError{Op: "chmod", Path: path, Err: err}
		}
	}
	if attr.UID != nil || attr.GID != nil {
		uid, gid := -1, -1
		if attr.UID != nil {
			uid = int(*attr.UID)
		}
		if attr.GID != nil {
			gid = int(*attr.GID)
		}
		if err := unix.Lchown(path, uid, gid); err != nil {
			return fsmap.HostMeta{}, &os.PathError{Op: "chown", Path: path, Err: err}
		}
	}
	if attr.Atime != nil || attr.Mtime != nil {
		now := time.Now()
		atime, mtime := now, now
		if attr.Atime != nil {
			atime = *attr.Atime
		}
		if attr.Mtime != nil {
			mtime = *attr.Mtime
		}
		ts := []unix.Timespec{
			unix.NsecToTimespec(atime.UnixNano()),
			unix.NsecToTimespec(mtime.UnixNano()),
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return fsmap.HostMeta{}, &os.PathError{Op: "utimes", Path: path, Err: err}
		}
	}
	return fs.Lstat(path)
}

// StatFS reports the file-system-wide capacity figures for FSSTAT3.
func (fs *FS) StatFS(path string) (nfs3.StatFSResult, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return nfs3.StatFSResult{}, &os.PathError{Op: "statfs", Path: path, Err: err}
	}
	bsize := uint64(st.Bsize)
	return nfs3.StatFSResult{
		TotalBytes: st.Blocks * bsize,
		FreeBytes:  st.Bfree * bsize,
		AvailBytes: st.Bavail * bsize,
		TotalFiles: st.Files,
		FreeFiles:  st.Ffree,
		AvailFiles: st.Ffree,
		InvarSec:   0,
	}, nil
}
