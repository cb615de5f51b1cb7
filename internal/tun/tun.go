/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

// Package tun defines the narrow TUN device capability the device package
// consumes: open by name, non-blocking mode, byte-accurate IPv4 framing on
// read/write, and the interface's current name. Platform-specific files
// (tun_linux.go, tun_darwin.go) supply the concrete implementation.
package tun

import "os"

// MaxFrame is the largest frame the device ever reads or writes: MTU 1500
// plus slack for frames the kernel hands back slightly oversized.
const MaxFrame = 1504

// Device is a userspace handle to a kernel virtual network interface. All
// methods must be safe to call from the single thread that also drives the
// poll loop; none of them block once the descriptor is in non-blocking mode.
type Device interface {
	// File returns the underlying descriptor, for registration with a
	// poll set.
	File() *os.File

	// Read returns one IPv4 packet with no link-layer header. It returns
	// an error satisfying errors.Is(err, syscall.EAGAIN) when nothing is
	// currently available.
	Read(buf []byte) (int, error)

	// Write sends one IPv4 packet with no link-layer header.
	Write(buf []byte) (int, error)

	// Name returns the interface's current name (e.g. "tunmesh0").
	Name() (string, error)

	// Close releases the underlying descriptor.
	Close() error
}
