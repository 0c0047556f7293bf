package nfs3

import "fmt"

// Stat is the RFC 1813 nfsstat3 wire status, and also fernfs's internal
// error type for anything the VFS layer returns: every public FileSystem
// method returns (result, Stat) rather than a bare Go error, so a caller
// can go straight from a failed operation to the wire status it must send.
type Stat uint32

const (
	NFS3_OK             Stat = 0
	NFS3ERR_PERM        Stat = 1
	NFS3ERR_NOENT       Stat = 2
	NFS3ERR_IO          Stat = 5
	NFS3ERR_NXIO        Stat = 6
	NFS3ERR_ACCES       Stat = 13
	NFS3ERR_EXIST       Stat = 17
	NFS3ERR_XDEV        Stat = 18
	NFS3ERR_NODEV       Stat = 19
	NFS3ERR_NOTDIR      Stat = 20
	NFS3ERR_ISDIR       Stat = 21
	NFS3ERR_INVAL       Stat = 22
	NFS3ERR_FBIG        Stat = 27
	NFS3ERR_NOSPC       Stat = 28
	NFS3ERR_ROFS        Stat = 30
	NFS3ERR_MLINK       Stat = 31
	NFS3ERR_NAMETOOLONG Stat = 63
	NFS3ERR_NOTEMPTY    Stat = 66
	NFS3ERR_DQUOT       Stat = 69
	NFS3ERR_STALE       Stat = 70
	NFS3ERR_BADHANDLE   Stat = 10001
	NFS3ERR_NOTSUPP     Stat = 10004
	NFS3ERR_SERVERFAULT Stat = 10006
)

func (s Stat) Error() string {
	if name, ok := statNames[s]; ok {
		return name
	}
	return fmt.Sprintf("NFS3ERR_UNKNOWN(%d)", uint32(s))
}

var statNames = map[Stat]string{
	NFS3_OK:             "NFS3_OK",
	NFS3ERR_PERM:        "NFS3ERR_PERM",
	NFS3ERR_NOENT:       "NFS3ERR_NOENT",
	NFS3ERR_IO:          "NFS3ERR_IO",
	NFS3ERR_NXIO:        "NFS3ERR_NXIO",
	NFS3ERR_ACCES:       "NFS3ERR_ACCES",
	NFS3ERR_EXIST:       "NFS3ERR_EXIST",
	NFS3ERR_XDEV:        "NFS3ERR_XDEV",
	NFS3ERR_NODEV:       "NFS3ERR_NODEV",
	NFS3ERR_NOTDIR:      "NFS3ERR_NOTDIR",
	NFS3ERR_ISDIR:       "NFS3ERR_ISDIR",
	NFS3ERR_INVAL:       "NFS3ERR_INVAL",
	NFS3ERR_FBIG:        "NFS3ERR_FBIG",
	NFS3ERR_NOSPC:       "NFS3ERR_NOSPC",
	NFS3ERR_ROFS:        "NFS3ERR_ROFS",
	NFS3ERR_MLINK:       "NFS3ERR_MLINK",
	NFS3ERR_NAMETOOLONG: "NFS3ERR_NAMETOOLONG",
	NFS3ERR_NOTEMPTY:    "NFS3ERR_NOTEMPTY",
	NFS3ERR_DQUOT:       "NFS3ERR_DQUOT",
	NFS3ERR_STALE:       "NFS3ERR_STALE",
	NFS3ERR_BADHANDLE:   "NFS3ERR_BADHANDLE",
	NFS3ERR_NOTSUPP:     "NFS3ERR_NOTSUPP",
	NFS3ERR_SERVERFAULT: "NFS3ERR_SERVERFAULT",
}

// FromErrno translates a raw host syscall error into the nearest NFS3 status
// at the mirror VFS boundary. Anything unrecognized maps to NFS3ERR_IO.
func FromErrno(err error) Stat {
	return fromErrno(err)
}
