/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

package poll

import "unsafe"

// kqueue's Kevent_t.Udata is an opaque *byte; it is never dereferenced,
// only round-tripped, so a Token's encoded bits ride in the pointer value
// itself rather than pointing at anything.
func udataFromToken(t Token) *byte {
	return (*byte)(unsafe.Pointer(uintptr(t.Encode())))
}

func tokenFromUdata(p *byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(p)))
}
