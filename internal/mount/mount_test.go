package mount

import (
	"context"
	"testing"

	"github.com/lunixbochs/fernfs/internal/nfs3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExporter struct {
	paths map[string]nfs3.FileID
}

func (f *fakeExporter) PathToID(ctx context.Context, path []byte) (nfs3.FileID, nfs3.Stat) {
	id, ok := f.paths[string(path)]
	if !ok {
		return 0, nfs3.NFS3ERR_NOENT
	}
	return id, nfs3.NFS3_OK
}

func (f *fakeExporter) IDToHandle(id nfs3.FileID) []byte {
	return []byte{byte(id)}
}

func TestMountRootExportResolvesAbsolutePath(t *testing.T) {
	h := &Handler{ExportName: "/", FS: &fakeExporter{paths: map[string]nfs3.FileID{
		"/": 0, "/sub": 5,
	}}}

	r := h.Mount(context.Background(), []byte("/sub"))
	require.Equal(t, MNT3_OK, r.Status)
	assert.Equal(t, []byte{5}, r.FileHandle)
	assert.Equal(t, AuthFlavors, r.AuthFlavors)
}

func TestMountNamedExportStripsPrefix(t *testing.T) {
	h := &Handler{ExportName: "/export", FS: &fakeExporter{paths: map[string]nfs3.FileID{
		"/": 0, "/data": 9,
	}}}

	r := h.Mount(context.Background(), []byte("/export/data"))
	require.Equal(t, MNT3_OK, r.Status)
	assert.Equal(t, []byte{9}, r.FileHandle)
}

func TestMountNamedExportRejectsPartialPrefixMatch(t *testing.T) {
	h := &Handler{ExportName: "/export", FS: &fakeExporter{}}

	r := h.Mount(context.Background(), []byte("/exported/data"))
	assert.Equal(t, MNT3ERR_NOENT, r.Status)
}

func TestMountNamedExportBareMatchResolvesRoot(t *testing.T) {
	h := &Handler{ExportName: "/export", FS: &fakeExporter{paths: map[string]nfs3.FileID{
		"/": 0,
	}}}

	r := h.Mount(context.Background(), []byte("/export"))
	require.Equal(t, MNT3_OK, r.Status)
	assert.Equal(t, []byte{0}, r.FileHandle)
}

func TestMountUnresolvablePathReturnsNoEnt(t *testing.T) {
	h := &Handler{ExportName: "/", FS: &fakeExporter{paths: map[string]nfs3.FileID{"/": 0}}}

	r := h.Mount(context.Background(), []byte("/missing"))
	assert.Equal(t, MNT3ERR_NOENT, r.Status)
	assert.Nil(t, r.FileHandle)
}

func TestEncodeResultNonOKCarriesNoPayload(t *testing.T) {
	encoded := EncodeResult(Result{Status: MNT3ERR_NOENT})
	assert.Equal(t, []byte{0, 0, 0, byte(MNT3ERR_NOENT)}, encoded)
}

func TestEncodeResultOKIncludesHandleAndFlavors(t *testing.T) {
	encoded := EncodeResult(Result{
		Status:      MNT3_OK,
		FileHandle:  []byte{1, 2, 3, 4},
		AuthFlavors: []uint32{0, 1},
	})
	// status(4) + handle len(4) + handle(4, already 4-byte aligned) +
	// flavor count(4) + 2 flavors(4 each)
	assert.Equal(t, 4+4+4+4+8, len(encoded))
}
