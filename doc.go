// Package fernfs implements a user-space NFSv3 server that mirrors a
// directory tree from the host filesystem.
//
// Unlike JDFS, the distributed filesystem this module started from, fernfs
// speaks the standard NFSv3/MOUNTv3 wire protocols (RFC 1813, RFC 1057), so
// any stock NFS client can mount an export without a companion client
// process or a kernel module of its own. Per-export identity and attribute
// caching live in internal/fsmap; the host-side syscalls live in
// internal/hostfs; the two are glued together by internal/mirrorfs, which
// implements internal/nfs3.FileSystem. internal/rpcwire and internal/nfsd
// carry the RPC framing and NFSv3 procedure dispatch respectively.
package fernfs
