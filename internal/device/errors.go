/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

package device

import "errors"

var (
	errNoEndpointAddr           = errors.New("device: peer has no known endpoint address")
	errEndpointAlreadyConnected = errors.New("device: peer endpoint already has a connected socket")
	errUnknownPeerIndex         = errors.New("device: unknown peer index")
	errUnknownPeerName          = errors.New("device: unknown peer name")
	errPacketNotAllowed         = errors.New("device: source address not covered by peer's allowed-ips")
)
