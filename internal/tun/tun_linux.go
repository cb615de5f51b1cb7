/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

package tun

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"strconv"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	cloneDevicePath = "/dev/net/tun"
	ifReqSize       = unix.IFNAMSIZ + 64
)

// nativeTun opens /dev/net/tun in IFF_TUN mode (no packet-information
// header, no link layer): every read and write is exactly one IPv4 packet.
type nativeTun struct {
	fd   *os.File
	name string
}

func (t *nativeTun) File() *os.File {
	return t.fd
}

func (t *nativeTun) Name() (string, error) {
	var ifr [ifReqSize]byte
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		t.fd.Fd(),
		uintptr(unix.TUNGETIFF),
		uintptr(unsafe.Pointer(&ifr[0])),
	)
	if errno != 0 {
		return "", errors.New("tun: get name: " + strconv.FormatInt(int64(errno), 10))
	}
	raw := ifr[:]
	if i := bytes.IndexByte(raw, 0); i != -1 {
		raw = raw[:i]
	}
	t.name = string(raw)
	return t.name, nil
}

func (t *nativeTun) Read(buf []byte) (int, error) {
	return t.fd.Read(buf)
}

func (t *nativeTun) Write(buf []byte) (int, error) {
	return t.fd.Write(buf)
}

func (t *nativeTun) Close() error {
	return t.fd.Close()
}

// CreateTUN opens (creating if necessary) a TUN interface with the given
// name in non-blocking IFF_TUN mode.
func CreateTUN(name string) (Device, error) {
	nfd, err := unix.Open(cloneDevicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return nil, err
	}

	fd := os.NewFile(uintptr(nfd), cloneDevicePath)

	var ifr [ifReqSize]byte
	nameBytes := []byte(name)
	if len(nameBytes) >= unix.IFNAMSIZ {
		fd.Close()
		return nil, errors.New("tun: interface name too long")
	}
	copy(ifr[:], nameBytes)
	binary.LittleEndian.PutUint16(ifr[unix.IFNAMSIZ:], unix.IFF_TUN|unix.IFF_NO_PI)

	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		fd.Fd(),
		uintptr(unix.TUNSETIFF),
		uintptr(unsafe.Pointer(&ifr[0])),
	)
	if errno != 0 {
		fd.Close()
		return nil, errno
	}

	t := &nativeTun{fd: fd}
	if _, err := t.Name(); err != nil {
		fd.Close()
		return nil, err
	}
	return t, nil
}
