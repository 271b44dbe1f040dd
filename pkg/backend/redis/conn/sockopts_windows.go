//go:build windows

package conn

import "net"

// tuneSocket is a no-op on platforms without golang.org/x/sys/unix; Go's
// net package already applies TCP_NODELAY by default there.
func tuneSocket(sock net.Conn, sendBufSize, recvBufSize int) error {
	return nil
}
