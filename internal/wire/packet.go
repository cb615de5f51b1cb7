/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Packet type tags, as they appear in the first byte of every non-empty
// datagram. All multi-byte fields are little-endian.
const (
	TagHandshakeInit     = 1
	TagHandshakeResponse = 2
	TagData              = 3
)

const (
	handshakeInitSize     = NameSize + 5
	handshakeResponseSize = 9
	dataMinSize           = 5
)

// ErrInvalidPacketType is returned when the first byte of a datagram does
// not match any known tag.
var ErrInvalidPacketType = errors.New("wire: invalid packet type")

// ErrProtocol is returned when the tag is recognized but the datagram's
// length does not match that tag's wire shape.
var ErrProtocol = errors.New("wire: protocol error")

// Packet is one parsed datagram. The concrete type is one of
// HandshakeInit, HandshakeResponse, Data or Empty.
type Packet interface {
	// Format encodes the packet into dst, which must be at least Len()
	// bytes, and returns the number of bytes written.
	Format(dst []byte) int
	// Len returns the encoded size of the packet.
	Len() int
}

// HandshakeInit is sent by the initiating side of a handshake. It carries
// the sender's chosen peer name and the index the sender has assigned to
// the receiver locally.
type HandshakeInit struct {
	SenderName  Name
	AssignedIdx uint32
}

func (h HandshakeInit) Len() int { return handshakeInitSize }

func (h HandshakeInit) Format(dst []byte) int {
	if len(dst) < handshakeInitSize {
		panic("wire: dst too small for HandshakeInit")
	}
	dst[0] = TagHandshakeInit
	binary.LittleEndian.PutUint32(dst[1:5], h.AssignedIdx)
	copy(dst[5:105], h.SenderName[:])
	return handshakeInitSize
}

// HandshakeResponse answers a HandshakeInit, exchanging index assignments.
type HandshakeResponse struct {
	AssignedIdx uint32
	SenderIdx   uint32
}

func (h HandshakeResponse) Len() int { return handshakeResponseSize }

func (h HandshakeResponse) Format(dst []byte) int {
	if len(dst) < handshakeResponseSize {
		panic("wire: dst too small for HandshakeResponse")
	}
	dst[0] = TagHandshakeResponse
	binary.LittleEndian.PutUint32(dst[1:5], h.AssignedIdx)
	binary.LittleEndian.PutUint32(dst[5:9], h.SenderIdx)
	return handshakeResponseSize
}

// Data carries decapsulated payload bytes, tagged with the index the
// receiver has assigned to the sender locally.
type Data struct {
	SenderIdx uint32
	Payload   []byte
}

func (d Data) Len() int { return dataMinSize + len(d.Payload) }

func (d Data) Format(dst []byte) int {
	n := d.Len()
	if len(dst) < n {
		panic("wire: dst too small for Data")
	}
	dst[0] = TagData
	binary.LittleEndian.PutUint32(dst[1:5], d.SenderIdx)
	copy(dst[5:n], d.Payload)
	return n
}

// Empty is the zero-length datagram: no tag byte, no payload.
type Empty struct{}

func (Empty) Len() int { return 0 }

func (Empty) Format([]byte) int { return 0 }

// Parse decodes src into a Packet. A zero-length src decodes as Empty.
func Parse(src []byte) (Packet, error) {
	if len(src) == 0 {
		return Empty{}, nil
	}

	tag := src[0]
	switch {
	case tag == TagHandshakeInit && len(src) == handshakeInitSize:
		var name Name
		copy(name[:], src[5:105])
		return HandshakeInit{
			SenderName:  name,
			AssignedIdx: binary.LittleEndian.Uint32(src[1:5]),
		}, nil

	case tag == TagHandshakeResponse && len(src) == handshakeResponseSize:
		return HandshakeResponse{
			AssignedIdx: binary.LittleEndian.Uint32(src[1:5]),
			SenderIdx:   binary.LittleEndian.Uint32(src[5:9]),
		}, nil

	case tag == TagData && len(src) >= dataMinSize:
		payload := make([]byte, len(src)-dataMinSize)
		copy(payload, src[5:])
		return Data{
			SenderIdx: binary.LittleEndian.Uint32(src[1:5]),
			Payload:   payload,
		}, nil

	case tag != TagHandshakeInit && tag != TagHandshakeResponse && tag != TagData:
		return nil, fmt.Errorf("%w: %d", ErrInvalidPacketType, tag)

	default:
		return nil, ErrProtocol
	}
}
