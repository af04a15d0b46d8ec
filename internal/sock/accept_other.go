//go:build unix && !linux

package sock

import "golang.org/x/sys/unix"

// Accept takes one pending connection from a listening descriptor. The
// returned descriptor is non-blocking. EAGAIN means nothing was pending.
func Accept(fd int) (int, string, error) {
	for {
		nfd, sa, err := unix.Accept(fd)
		if err == unix.EINTR || err == unix.ECONNABORTED {
			continue
		}
		if err != nil {
			return -1, "", normalize(err)
		}
		unix.CloseOnExec(nfd)
		if err := unix.SetNonblock(nfd, true); err != nil {
			unix.Close(nfd)
			return -1, "", err
		}
		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		return nfd, Format(sa), nil
	}
}
