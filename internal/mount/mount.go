// Package mount implements the MOUNTv3 MNT procedure (RFC 1813 Appendix I):
// stripping the configured export prefix from a client's requested path and
// resolving the remainder to a root file handle through the mirror VFS.
package mount

import (
	"bytes"
	"context"
	"strings"

	"github.com/lunixbochs/fernfs/internal/nfs3"
)

// MNT3 status codes, RFC 1813 Appendix I.
const (
	MNT3_OK        uint32 = 0
	MNT3ERR_NOENT  uint32 = 2
	MNT3ERR_ACCES  uint32 = 13
	MNT3ERR_NOTDIR uint32 = 20
)

// Exporter resolves a path under the export root to a file handle. mirrorfs.FS
// satisfies this via PathToID/IDToHandle.
type Exporter interface {
	PathToID(ctx context.Context, path []byte) (nfs3.FileID, nfs3.Stat)
	IDToHandle(id nfs3.FileID) []byte
}

// AuthFlavors is the fixed set of flavors fernfs accepts: it never
// negotiates RPCSEC_GSS or AUTH_DES.
var AuthFlavors = []uint32{0, 1} // AUTH_NULL, AUTH_UNIX

// Handler serves MNT requests against a single configured export.
type Handler struct {
	ExportName string
	FS         Exporter

	// Signal, if non-nil, receives a non-blocking notification every time a
	// MNT call succeeds. A full channel just means nobody's listening for
	// this particular mount; it never slows down or fails the reply.
	Signal chan<- struct{}
}

// Result is the outcome of a Mount call: either a handle plus the flavors
// above, or a non-OK status with no further payload.
type Result struct {
	Status      uint32
	FileHandle  []byte
	AuthFlavors []uint32
}

// stripExportPrefix matches a client's requested path against the single
// configured export: requests must name a path under that export, and the
// character following the prefix (if the export isn't "/") must be a path
// separator.
func stripExportPrefix(exportName, path string) (string, bool) {
	if exportName == "/" {
		if !strings.HasPrefix(path, "/") {
			return "", false
		}
		return path, true
	}
	if !strings.HasPrefix(path, exportName) {
		return "", false
	}
	rest := path[len(exportName):]
	if rest == "" {
		return "", true
	}
	if rest[0] != '/' {
		return "", false
	}
	return rest, true
}

// Mount resolves dirpath (the raw, NUL-free bytes of the MNT request's
// dirpath field) against the configured export and returns the root handle.
func (h *Handler) Mount(ctx context.Context, dirpath []byte) Result {
	raw := string(bytes.TrimRight(dirpath, "\x00"))
	rest, ok := stripExportPrefix(h.ExportName, raw)
	if !ok {
		return Result{Status: MNT3ERR_NOENT}
	}

	trimmed := strings.Trim(rest, "/")
	resolved := "/" + trimmed

	id, stat := h.FS.PathToID(ctx, []byte(resolved))
	if stat != nfs3.NFS3_OK {
		return Result{Status: statToMNT3(stat)}
	}

	if h.Signal != nil {
		select {
		case h.Signal <- struct{}{}:
		default:
		}
	}

	return Result{
		Status:      MNT3_OK,
		FileHandle:  h.FS.IDToHandle(id),
		AuthFlavors: AuthFlavors,
	}
}

func statToMNT3(stat nfs3.Stat) uint32 {
	switch stat {
	case nfs3.NFS3ERR_NOENT:
		return MNT3ERR_NOENT
	case nfs3.NFS3ERR_NOTDIR:
		return MNT3ERR_NOTDIR
	case nfs3.NFS3ERR_ACCES, nfs3.NFS3ERR_PERM:
		return MNT3ERR_ACCES
	default:
		return MNT3ERR_NOENT
	}
}
