//go:build unix

// File: internal/sock/sock_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sock

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// Resolve maps a host name or literal address and a port to a socket
// address and its family.
func Resolve(host string, port int) (unix.Sockaddr, int, error) {
	if port < 0 || port > 0xffff {
		return nil, 0, fmt.Errorf("port %d out of range", port)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ipa, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return nil, 0, err
		}
		ip = ipa.IP
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return sa, unix.AF_INET6, nil
}

// Format renders a socket address as host:port.
func Format(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	default:
		return "?"
	}
}

func socket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket create: %w", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set nonblock: %w", err)
	}
	return fd, nil
}

// Listen binds host:port and starts listening with the given backlog.
func Listen(host string, port, backlog int) (int, error) {
	sa, family, err := Resolve(host, port)
	if err != nil {
		return -1, err
	}
	fd, err := socket(family)
	if err != nil {
		return -1, err
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", Format(sa), err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen %s: %w", Format(sa), err)
	}
	return fd, nil
}

// Connect starts a non-blocking connect. inProgress reports that the
// handshake has not resolved yet; completion is observed as writability
// followed by Error.
func Connect(host string, port int) (fd int, inProgress bool, err error) {
	sa, family, err := Resolve(host, port)
	if err != nil {
		return -1, false, err
	}
	fd, err = socket(family)
	if err != nil {
		return -1, false, err
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	for {
		err = unix.Connect(fd, sa)
		if err != unix.EINTR {
			break
		}
	}
	switch {
	case err == nil:
		return fd, false, nil
	case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EALREADY):
		return fd, true, nil
	default:
		unix.Close(fd)
		return -1, false, fmt.Errorf("connect %s: %w", Format(sa), err)
	}
}

// Error fetches and clears the pending socket error (SO_ERROR).
func Error(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return nil
}

// Read reads into p, retrying on EINTR. A would-block condition is
// returned as unix.EAGAIN; an orderly shutdown by the peer as (0, nil).
func Read(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, normalize(err)
		}
		return n, nil
	}
}

// Peek reads into p without consuming the bytes. Results follow Read.
func Peek(fd int, p []byte) (int, error) {
	for {
		n, _, err := unix.Recvfrom(fd, p, unix.MSG_PEEK)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, normalize(err)
		}
		return n, nil
	}
}

// Write writes from p, retrying on EINTR. A would-block condition is
// returned as unix.EAGAIN.
func Write(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Write(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, normalize(err)
		}
		return n, nil
	}
}

// WouldBlock reports whether err is the non-blocking retry condition.
func WouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN)
}

func normalize(err error) error {
	if err == unix.EWOULDBLOCK {
		return unix.EAGAIN
	}
	return err
}

// LocalAddr returns the bound address of fd.
func LocalAddr(fd int) (string, int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return "", 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String(), a.Port, nil
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String(), a.Port, nil
	}
	return "", 0, unix.EAFNOSUPPORT
}

// Close releases fd.
func Close(fd int) error {
	return unix.Close(fd)
}
