//go:build !windows

package conn

import (
	"net"

	"golang.org/x/sys/unix"
)

// tuneSocket sets TCP_NODELAY and sizes the kernel's SO_SNDBUF/SO_RCVBUF
// to match this connection's userspace send/recv buffers, directly via
// the raw file descriptor (spec §5: individual socket operations are
// non-blocking and sized to the backend's own I/O buffers; net.Conn
// exposes neither knob). A socket that isn't a *net.TCPConn — a test's
// net.Pipe, for instance — is left untouched.
func tuneSocket(sock net.Conn, sendBufSize, recvBufSize int) error {
	tc, ok := sock.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	err = raw.Control(func(fd uintptr) {
		if opErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); opErr != nil {
			return
		}
		if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, sendBufSize); opErr != nil {
			return
		}
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, recvBufSize)
	})
	if err != nil {
		return err
	}
	return opErr
}
