/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

package tun

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const utunControlName = "com.apple.net.utun_control"

// _CTLIOCGINFO value derived from /usr/include/sys/{kern_control,ioccom}.h
const _CTLIOCGINFO = (0x40000000 | 0x80000000) | ((100 & 0x1fff) << 16) | uint32(byte('N'))<<8 | 3

const defaultMTU = 1500

// sockaddrCtl mirrors struct sockaddr_ctl from /usr/include/sys/kern_control.h
type sockaddrCtl struct {
	scLen      uint8
	scFamily   uint8
	ssSysaddr  uint16
	scID       uint32
	scUnit     uint32
	scReserved [5]uint32
}

var sockaddrCtlSize uintptr = 32

// nativeTun wraps a utun character device. Every frame the kernel hands
// back is prefixed with a 4-byte address-family header; Read/Write hide
// that so callers only ever see a bare IPv4 packet.
type nativeTun struct {
	name    string
	tunFile *os.File
	fd      uintptr
}

// CreateTUN opens a utun device. name must be "utun" (pick any free unit)
// or "utunN" for a specific unit.
func CreateTUN(name string) (Device, error) {
	ifIndex := -1
	if name != "utun" {
		if _, err := fmt.Sscanf(name, "utun%d", &ifIndex); err != nil || ifIndex < 0 {
			return nil, fmt.Errorf("tun: interface name must be utun[0-9]*")
		}
	}

	fd, err := unix.Socket(unix.AF_SYSTEM, unix.SOCK_DGRAM, 2)
	if err != nil {
		return nil, err
	}

	ctlInfo := &struct {
		ctlID   uint32
		ctlName [96]byte
	}{}
	copy(ctlInfo.ctlName[:], []byte(utunControlName))

	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		uintptr(fd),
		uintptr(_CTLIOCGINFO),
		uintptr(unsafe.Pointer(ctlInfo)),
	)
	if errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("tun: CTLIOCGINFO: %v", errno)
	}

	sc := sockaddrCtl{
		scLen:     uint8(sockaddrCtlSize),
		scFamily:  unix.AF_SYSTEM,
		ssSysaddr: 2,
		scID:      ctlInfo.ctlID,
		scUnit:    uint32(ifIndex) + 1,
	}

	_, _, errno = unix.RawSyscall(
		unix.SYS_CONNECT,
		uintptr(fd),
		uintptr(unsafe.Pointer(&sc)),
		uintptr(sockaddrCtlSize),
	)
	if errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("tun: connect: %v", errno)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return createTUNFromFile(os.NewFile(uintptr(fd), ""))
}

func createTUNFromFile(file *os.File) (Device, error) {
	t := &nativeTun{tunFile: file, fd: file.Fd()}

	if _, err := t.Name(); err != nil {
		t.tunFile.Close()
		return nil, err
	}

	if err := t.setMTU(defaultMTU); err != nil {
		t.tunFile.Close()
		return nil, err
	}

	return t, nil
}

func (t *nativeTun) Name() (string, error) {
	var ifName struct {
		name [16]byte
	}
	ifNameSize := uintptr(16)

	_, _, errno := unix.Syscall6(
		unix.SYS_GETSOCKOPT,
		uintptr(t.fd),
		2, /* SYSPROTO_CONTROL */
		2, /* UTUN_OPT_IFNAME */
		uintptr(unsafe.Pointer(&ifName)),
		uintptr(unsafe.Pointer(&ifNameSize)), 0)
	if errno != 0 {
		return "", fmt.Errorf("tun: getsockopt ifname: %v", errno)
	}

	t.name = string(ifName.name[:ifNameSize-1])
	return t.name, nil
}

func (t *nativeTun) File() *os.File {
	return t.tunFile
}

// utun frames are prefixed with a 4-byte address family header that has
// no equivalent on Linux; Read/Write strip and add it respectively so the
// Device contract stays platform-independent.
func (t *nativeTun) Read(buf []byte) (int, error) {
	raw := make([]byte, len(buf)+4)
	n, err := t.tunFile.Read(raw)
	if n < 4 {
		return 0, err
	}
	copy(buf, raw[4:n])
	return n - 4, err
}

func (t *nativeTun) Write(buf []byte) (int, error) {
	raw := make([]byte, len(buf)+4)
	raw[0], raw[1], raw[2] = 0, 0, 0
	if len(buf) > 0 && buf[0]>>4 == 6 {
		raw[3] = unix.AF_INET6
	} else {
		raw[3] = unix.AF_INET
	}
	copy(raw[4:], buf)
	n, err := t.tunFile.Write(raw)
	if n < 4 {
		return 0, err
	}
	return n - 4, err
}

func (t *nativeTun) Close() error {
	return t.tunFile.Close()
}

func (t *nativeTun) setMTU(n int) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	var ifr [32]byte
	copy(ifr[:], t.name)
	*(*uint32)(unsafe.Pointer(&ifr[unix.IFNAMSIZ])) = uint32(n)
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		uintptr(fd),
		uintptr(unix.SIOCSIFMTU),
		uintptr(unsafe.Pointer(&ifr[0])),
	)
	if errno != 0 {
		return fmt.Errorf("tun: set MTU on %s: %v", t.name, errno)
	}
	return nil
}
