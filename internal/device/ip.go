/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

package device

import (
	"net"

	"golang.org/x/net/ipv4"
)

// Byte offsets of the source and destination addresses within an IPv4
// header, per RFC 791.
const (
	ipv4offsetSrc = 12
	ipv4offsetDst = 16
)

// parseIPv4Source returns the source address of frame if it is a
// well-formed IPv4 header, or nil otherwise.
func parseIPv4Source(frame []byte) net.IP {
	if !isIPv4(frame) {
		return nil
	}
	return net.IP(frame[ipv4offsetSrc : ipv4offsetSrc+4])
}

// parseIPv4Dest returns the destination address of frame if it is a
// well-formed IPv4 header, or nil otherwise.
func parseIPv4Dest(frame []byte) net.IP {
	if !isIPv4(frame) {
		return nil
	}
	return net.IP(frame[ipv4offsetDst : ipv4offsetDst+4])
}

func isIPv4(frame []byte) bool {
	return len(frame) >= ipv4.HeaderLen && frame[0]>>4 == ipv4.Version
}
