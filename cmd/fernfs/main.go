// Command fernfs runs a user-space NFSv3 server mirroring a single host
// directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/lunixbochs/fernfs/internal/mirrorfs"
	"github.com/lunixbochs/fernfs/internal/mount"
	"github.com/lunixbochs/fernfs/internal/nfs3"
	"github.com/lunixbochs/fernfs/internal/nfsd"
	"github.com/spf13/pflag"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 11111
)

func init() {
	if glog.V(0) {
		if err := flag.CommandLine.Set("logtostderr", "true"); err != nil {
			fmt.Fprintf(os.Stderr, "failed changing glog default destination: %s\n", err)
		}
	}
}

func main() {
	var (
		host                        string
		port                        uint16
		allowUnprivilegedSourcePort bool
		readWrite                   bool
	)
	pflag.StringVar(&host, "host", defaultHost, "bind host")
	pflag.Uint16Var(&port, "port", defaultPort, "bind port")
	pflag.BoolVar(&allowUnprivilegedSourcePort, "allow-unprivileged-source-port", false,
		"allow client source ports >= 1024 (default: require privileged)")
	pflag.BoolVar(&readWrite, "rw", true, "export the directory read-write instead of read-only")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [--host H] [--port P] [--allow-unprivileged-source-port] <DIRECTORY>\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}
	root := pflag.Arg(0)

	caps := nfs3.ReadWrite
	if !readWrite {
		caps = nfs3.ReadOnly
	}

	fs, err := mirrorfs.New(root, caps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fernfs: cannot export %q: %s\n", root, err)
		os.Exit(3)
	}
	defer fs.Close()

	bindAddr := joinHostPort(host, port)
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fernfs: cannot listen on %s: %s\n", bindAddr, err)
		os.Exit(3)
	}

	mountHandler := &mount.Handler{ExportName: "/", FS: fs}
	server := nfsd.NewServer(mountHandler, fs)

	glog.Infof("fernfs: exporting %q on %s (read-write=%v, privileged-source-only=%v)",
		root, bindAddr, readWrite, !allowUnprivilegedSourcePort)

	if err := server.Serve(context.Background(), ln, allowUnprivilegedSourcePort); err != nil {
		fmt.Fprintf(os.Stderr, "fernfs: server exited: %s\n", err)
		os.Exit(3)
	}
}

// joinHostPort wraps bare IPv6 literals in brackets before appending the
// port.
func joinHostPort(host string, port uint16) string {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return host + ":" + strconv.Itoa(int(port))
}
