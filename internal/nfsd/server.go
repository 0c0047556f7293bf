package nfsd

import (
	"bytes"
	"context"
	"io"
	"net"
	"time"

	"github.com/golang/glog"
	"github.com/lunixbochs/fernfs/internal/mount"
	"github.com/lunixbochs/fernfs/internal/nfs3"
	"github.com/lunixbochs/fernfs/internal/rpcwire"
	"github.com/lunixbochs/fernfs/internal/xdrutil"
)

// TrackerRetention is the at-most-once cache lifetime; five minutes
// comfortably outlives the TCP retransmit windows real NFSv3 clients use.
const TrackerRetention = 5 * time.Minute

// Server accepts connections for a single export: one mirrorfs.FS served
// under both the MOUNT and NFS ONC RPC programs.
type Server struct {
	Mount *mount.Handler
	NFS   *Dispatcher

	tracker *rpcwire.Tracker
}

// NewServer wires a Server with its own transaction tracker.
func NewServer(m *mount.Handler, fs nfs3.FileSystem) *Server {
	return &Server{
		Mount:   m,
		NFS:     &Dispatcher{FS: fs},
		tracker: rpcwire.NewTracker(TrackerRetention),
	}
}

// Serve accepts connections on ln until it errors or the context is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener, allowUnprivilegedSourcePort bool) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		if !allowUnprivilegedSourcePort && !isPrivilegedSource(conn) {
			glog.Warningf("nfsd: rejecting connection from unprivileged source %s", conn.RemoteAddr())
			conn.Close()
			continue
		}
		go s.serveConn(ctx, conn)
	}
}

func isPrivilegedSource(conn net.Conn) bool {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return true
	}
	return addr.Port < 1024
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	addr := conn.RemoteAddr().String()

	for {
		msg, err := rpcwire.ReadRecord(conn)
		if err != nil {
			return
		}

		reply, ok := s.handleMessage(ctx, addr, msg)
		if !ok {
			continue
		}
		if err := rpcwire.WriteRecord(conn, reply); err != nil {
			return
		}
	}
}

// handleMessage decodes one RPC call, consults the transaction tracker, and
// dispatches to the MOUNT or NFS program. ok is false when the call should
// be silently dropped (an in-flight duplicate, or a message whose call
// header does not decode).
func (s *Server) handleMessage(ctx context.Context, addr string, msg []byte) (reply []byte, ok bool) {
	header, argsReader, err := rpcwire.DecodeCallHeader(msg)
	if err != nil {
		return nil, false
	}

	status, cached := s.tracker.Check(header.XID, addr)
	switch status {
	case rpcwire.InProgress:
		return nil, false
	case rpcwire.Completed:
		return cached, true
	}

	if header.Cred.Flavor != rpcwire.AuthNull && header.Cred.Flavor != rpcwire.AuthUnix {
		s.tracker.Clear(header.XID, addr)
		return rpcwire.EncodeAuthReject(header.XID), true
	}

	var auth nfs3.AuthUnix
	if header.Cred.Flavor == rpcwire.AuthUnix {
		auth, err = rpcwire.DecodeUnixCred(header.Cred.Body)
		if err != nil {
			s.tracker.Clear(header.XID, addr)
			return rpcwire.EncodeGarbageArgs(header.XID), true
		}
	}

	body, acceptStat := s.callProgram(ctx, auth, header, argsReader)
	reply = rpcwire.EncodeAcceptedReply(header.XID, acceptStat, body)
	s.tracker.RecordResponse(header.XID, addr, reply)
	return reply, true
}

func (s *Server) callProgram(ctx context.Context, auth nfs3.AuthUnix, header rpcwire.CallHeader, args *bytes.Reader) ([]byte, uint32) {
	switch header.Prog {
	case MountProg:
		if header.Vers != MountVers {
			return encodeMismatch(MountVers), rpcwire.ProgMismatch
		}
		return s.callMount(ctx, header.Proc, args)
	case NFSProg:
		if header.Vers != NFSVers {
			return encodeMismatch(NFSVers), rpcwire.ProgMismatch
		}
		return s.NFS.Dispatch(ctx, auth, header.Proc, args)
	default:
		return nil, rpcwire.ProgUnavail
	}
}

func encodeMismatch(vers uint32) []byte {
	var buf bytes.Buffer
	xdrutil.WriteUint32(&buf, vers)
	xdrutil.WriteUint32(&buf, vers)
	return buf.Bytes()
}

func (s *Server) callMount(ctx context.Context, proc uint32, args *bytes.Reader) ([]byte, uint32) {
	switch proc {
	case 0: // MOUNTPROC3_NULL
		return nil, rpcwire.Success
	case MountProcMnt:
		remaining := make([]byte, args.Len())
		if _, err := io.ReadFull(args, remaining); err != nil {
			return nil, rpcwire.GarbageArgs
		}
		dirpath, err := mount.DecodeDirPath(remaining)
		if err != nil {
			return nil, rpcwire.GarbageArgs
		}
		result := s.Mount.Mount(ctx, dirpath)
		return mount.EncodeResult(result), rpcwire.Success
	default:
		return nil, rpcwire.ProcUnavail
	}
}
