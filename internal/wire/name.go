/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

// Package wire implements the on-the-wire framing: fixed-width peer names
// and the four packet kinds (HandshakeInit, HandshakeResponse, Data, Empty)
// exchanged between tunmesh nodes.
package wire

import (
	"bytes"
	"errors"
)

// NameSize is the fixed width of a peer name on the wire.
const NameSize = 100

// ErrNameTooLong is returned when a source string exceeds NameSize bytes.
var ErrNameTooLong = errors.New("wire: peer name exceeds 100 bytes")

// Name is a peer identifier, always exactly NameSize bytes on the wire,
// right-zero-padded from its source string. Two names compare byte-for-byte
// including padding, so the padding itself is part of identity.
type Name [NameSize]byte

// NewName right-zero-pads s into a Name. It fails if s is longer than
// NameSize bytes.
func NewName(s string) (Name, error) {
	var n Name
	if len(s) > NameSize {
		return n, ErrNameTooLong
	}
	copy(n[:], s)
	return n, nil
}

// String returns the name with trailing zero padding stripped.
func (n Name) String() string {
	i := bytes.IndexByte(n[:], 0)
	if i == -1 {
		return string(n[:])
	}
	return string(n[:i])
}

// Equal reports whether two names are byte-identical, including padding.
func (n Name) Equal(other Name) bool {
	return n == other
}
