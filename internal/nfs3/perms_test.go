package nfs3

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func regularAttr(mode uint32, uid, gid uint32) FAttr {
	return FAttr{Type: NF3REG, Mode: mode, UID: uid, GID: gid}
}

func TestComputePermsRootBypassesMode(t *testing.T) {
	attr := regularAttr(0o000, 1000, 1000)
	perms := ComputePerms(attr, AuthUnix{UID: 0})
	require.Equal(t, UnixPerms{Read: true, Write: true, Exec: true}, perms)
}

func TestComputePermsOwnerTriad(t *testing.T) {
	attr := regularAttr(0o640, 1000, 2000)
	perms := ComputePerms(attr, AuthUnix{UID: 1000, GID: 9999})
	require.Equal(t, UnixPerms{Read: true, Write: true, Exec: false}, perms)
}

func TestComputePermsGroupTriadViaSupplementary(t *testing.T) {
	attr := regularAttr(0o460, 1000, 2000)
	perms := ComputePerms(attr, AuthUnix{UID: 3000, GID: 9999, GIDs: []uint32{2000}})
	require.Equal(t, UnixPerms{Read: true, Write: true, Exec: false}, perms)
}

func TestComputePermsOtherTriad(t *testing.T) {
	attr := regularAttr(0o004, 1000, 2000)
	perms := ComputePerms(attr, AuthUnix{UID: 3000, GID: 9999})
	require.Equal(t, UnixPerms{Read: true, Write: false, Exec: false}, perms)
}

func TestAccessMaskRegularOnlyRequestedBitsGranted(t *testing.T) {
	attr := regularAttr(0o600, 1000, 1000)
	auth := AuthUnix{UID: 1000}
	granted := AccessMask(attr, auth, ReadWrite, ACCESS3_READ)
	require.Equal(t, ACCESS3_READ, granted)
}

func TestAccessMaskRegularWriteNeedsReadWriteCapability(t *testing.T) {
	attr := regularAttr(0o600, 1000, 1000)
	auth := AuthUnix{UID: 1000}
	requested := ACCESS3_MODIFY | ACCESS3_EXTEND

	require.Equal(t, uint32(0), AccessMask(attr, auth, ReadOnly, requested))
	require.Equal(t, requested, AccessMask(attr, auth, ReadWrite, requested))
}

func TestAccessMaskDirectoryDeleteRequiresExec(t *testing.T) {
	attr := FAttr{Type: NF3DIR, Mode: 0o600, UID: 1000, GID: 1000}
	auth := AuthUnix{UID: 1000}
	requested := ACCESS3_DELETE

	require.Equal(t, uint32(0), AccessMask(attr, auth, ReadWrite, requested),
		"delete must be denied without directory exec bit")

	attr.Mode = 0o700
	require.Equal(t, ACCESS3_DELETE, AccessMask(attr, auth, ReadWrite, requested))
}

func TestAccessMaskSymlinkNeverGrantsWrite(t *testing.T) {
	attr := FAttr{Type: NF3LNK, Mode: 0o777, UID: 1000, GID: 1000}
	auth := AuthUnix{UID: 1000}
	requested := ACCESS3_READ | ACCESS3_MODIFY | ACCESS3_EXTEND | ACCESS3_EXECUTE
	granted := AccessMask(attr, auth, ReadWrite, requested)
	require.Equal(t, ACCESS3_READ|ACCESS3_EXECUTE, granted)
}
