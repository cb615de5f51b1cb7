/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

package device

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// isEAGAIN reports whether err is the "would block" condition on a
// non-blocking descriptor. TUN reads go through *os.File and surface the
// stdlib's own syscall.Errno; raw socket calls surface golang.org/x/sys/unix's
// distinct Errno type, so both are checked.
func isEAGAIN(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func sockaddrInet4(addr *net.UDPAddr) (*unix.SockaddrInet4, error) {
	v4 := addr.IP.To4()
	if v4 == nil {
		return nil, fmt.Errorf("device: %s is not an IPv4 address", addr.IP)
	}
	sa := &unix.SockaddrInet4{Port: addr.Port}
	copy(sa.Addr[:], v4)
	return sa, nil
}

// newListenSocket opens a non-blocking UDP socket bound to 0.0.0.0:port
// with address reuse enabled, for receiving from any peer.
func newListenSocket(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, fmt.Errorf("device: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("device: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("device: set nonblocking: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("device: bind :%d: %w", port, err)
	}
	return fd, nil
}

// newConnectedSocket opens a non-blocking UDP socket connect()ed to remote.
// It attempts to bind the same local port as the listening socket first
// (address reuse lets several sockets share it, demultiplexed by the
// kernel's connected-socket routing); platforms that reject that bind fall
// back to an unbound connect, per the documented compatibility note.
func newConnectedSocket(listenPort int, remote *net.UDPAddr) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, fmt.Errorf("device: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("device: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("device: set nonblocking: %w", err)
	}
	_ = unix.Bind(fd, &unix.SockaddrInet4{Port: listenPort})

	sa, err := sockaddrInet4(remote)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("device: connect %s: %w", remote, err)
	}
	return fd, nil
}

func sendTo(fd int, b []byte, addr *net.UDPAddr) (int, error) {
	sa, err := sockaddrInet4(addr)
	if err != nil {
		return 0, err
	}
	if err := unix.Sendto(fd, b, 0, sa); err != nil {
		return 0, err
	}
	return len(b), nil
}

func recvFrom(fd int, buf []byte) (int, *net.UDPAddr, error) {
	n, from, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		return 0, nil, err
	}
	sa4, ok := from.(*unix.SockaddrInet4)
	if !ok {
		return n, nil, errors.New("device: non-IPv4 source address")
	}
	ip := make(net.IP, net.IPv4len)
	copy(ip, sa4.Addr[:])
	return n, &net.UDPAddr{IP: ip, Port: sa4.Port}, nil
}

func sendOnConnected(fd int, b []byte) (int, error) {
	return unix.Write(fd, b)
}

func recvOnConnected(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}
