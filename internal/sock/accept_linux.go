//go:build linux

package sock

import "golang.org/x/sys/unix"

// Accept takes one pending connection from a listening descriptor. The
// returned descriptor is non-blocking. EAGAIN means nothing was pending.
func Accept(fd int) (int, string, error) {
	for {
		nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EINTR || err == unix.ECONNABORTED {
			continue
		}
		if err != nil {
			return -1, "", normalize(err)
		}
		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		return nfd, Format(sa), nil
	}
}
