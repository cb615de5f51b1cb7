/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

// Package poll provides the edge-triggered readiness dispatcher the device
// loop runs on: epoll on Linux, kqueue on the BSD/Darwin family, behind one
// shared Token/SockID encoding.
package poll

import "fmt"

// SockID distinguishes the listening (unconnected) UDP socket from a
// per-peer connected socket, identified by the peer's local index.
type SockID struct {
	connected bool
	localIdx  uint32
}

// Unconnected is the SockID of the device's single listening socket.
var Unconnected = SockID{connected: false}

// Connected returns the SockID of the connected socket belonging to the
// peer with the given local index.
func Connected(localIdx uint32) SockID {
	return SockID{connected: true, localIdx: localIdx}
}

// IsConnected reports whether id identifies a per-peer connected socket,
// and if so returns that peer's local index.
func (id SockID) IsConnected() (uint32, bool) {
	return id.localIdx, id.connected
}

func (id SockID) toI32() int32 {
	if !id.connected {
		return -1
	}
	return int32(id.localIdx)
}

func sockIDFromI32(v int32) SockID {
	if v == -1 {
		return Unconnected
	}
	return Connected(uint32(v))
}

// Token is the readiness-set registration key for one of the device's two
// kinds of descriptor: the TUN fd, or a UDP socket (listening or connected).
type Token struct {
	isTun bool
	sock  SockID
}

// Tun is the token registered for the TUN fd.
var Tun = Token{isTun: true}

// Sock returns the token registered for the UDP socket identified by id.
func Sock(id SockID) Token {
	return Token{sock: id}
}

// IsTun reports whether the token identifies the TUN fd.
func (t Token) IsTun() bool {
	return t.isTun
}

// SockID returns the socket identity for a non-Tun token. Calling it on the
// Tun token returns the zero SockID.
func (t Token) SockID() SockID {
	return t.sock
}

// Encode packs the token into the 64-bit value the kernel readiness
// mechanism hands back verbatim: Tun is 1<<32, Sock(id) is
// 2<<32 | uint32(id).
func (t Token) Encode() uint64 {
	if t.isTun {
		return 1 << 32
	}
	return 2<<32 | uint64(uint32(t.sock.toI32()))
}

// UnknownToken is returned by Decode when the high 32 bits of a value do
// not correspond to a registered kind.
type UnknownToken uint64

func (e UnknownToken) Error() string {
	return fmt.Sprintf("poll: unknown token: %d", uint64(e))
}

// Decode is the inverse of Encode.
func Decode(v uint64) (Token, error) {
	switch v >> 32 {
	case 1:
		return Tun, nil
	case 2:
		return Sock(sockIDFromI32(int32(uint32(v)))), nil
	default:
		return Token{}, UnknownToken(v)
	}
}
