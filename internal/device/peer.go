/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

package device

import (
	"net"
	"sync"

	"github.com/caetun/tunmesh/internal/wire"
)

// HandshakeState is a peer's position in the asymmetric handshake state
// machine described by the (state, event) -> (state, action) table this
// file implements.
type HandshakeState int

const (
	StateNone HandshakeState = iota
	StateHandshakeSent
	StateHandshakeReceived
	StateConnected
)

func (s HandshakeState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateHandshakeSent:
		return "handshake-sent"
	case StateHandshakeReceived:
		return "handshake-received"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ActionKind is the side effect a state transition asks the device to
// perform.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionWriteToTun
	ActionWriteToNetwork
)

// Action describes one side effect produced by a Peer transition. SrcAddr
// is only meaningful for ActionWriteToTun: the device must check it
// against the peer's allowed-IPs before actually writing.
type Action struct {
	Kind    ActionKind
	Bytes   []byte
	SrcAddr net.IP
}

func noAction() Action { return Action{Kind: ActionNone} }

func writeToNetwork(b []byte) Action {
	return Action{Kind: ActionWriteToNetwork, Bytes: b}
}

func writeToTun(b []byte, src net.IP) Action {
	return Action{Kind: ActionWriteToTun, Bytes: b, SrcAddr: src}
}

// endpoint is the peer's last observed remote address plus, once promoted,
// a connected socket fd to reach it without a destination lookup per send.
// fd is -1 when absent.
type endpoint struct {
	mu   sync.RWMutex
	addr *net.UDPAddr
	fd   int
}

func sameUDPAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

func (e *endpoint) get() (*net.UDPAddr, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.addr, e.fd
}

// setAddr implements the fast-path-then-writer pattern: a reader lock
// checks for the common case of an unchanged address before ever taking
// the writer. Returns whether the address changed and the fd that was
// registered before the change, if any (-1 if none).
func (e *endpoint) setAddr(addr *net.UDPAddr) (changed bool, prevFd int) {
	e.mu.RLock()
	same := sameUDPAddr(e.addr, addr)
	e.mu.RUnlock()
	if same {
		return false, -1
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if sameUDPAddr(e.addr, addr) {
		return false, -1
	}
	prevFd = e.fd
	e.addr = addr
	e.fd = -1
	return true, prevFd
}

func (e *endpoint) installConn(fd int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fd = fd
}

// Peer is one configured remote node: its identity, its allowed-IP set,
// its endpoint, and its handshake state. It is shared by the device's name
// map, index vector and routing trie, and is never freed during the
// device's run.
type Peer struct {
	name       wire.Name
	localIdx   uint32
	allowedIPs []*net.IPNet

	// handshake state is kept behind its own lock, separate from the
	// endpoint's, per the concurrency model: a single-threaded loop
	// could collapse both to plain fields, but the locks are kept to
	// leave the door open for a multi-threaded dispatcher later.
	mu        sync.RWMutex
	state     HandshakeState
	remoteIdx uint32

	endpoint endpoint
}

// NewPeer constructs a peer in state None. presetEndpoint is the
// statically-configured remote address, if any; a peer with no preset
// endpoint only ever reaches HandshakeReceived/Connected by being
// discovered from an incoming HandshakeInit.
func NewPeer(name wire.Name, localIdx uint32, allowedIPs []*net.IPNet, presetEndpoint *net.UDPAddr) *Peer {
	p := &Peer{
		name:       name,
		localIdx:   localIdx,
		allowedIPs: allowedIPs,
	}
	p.endpoint.fd = -1
	p.endpoint.addr = presetEndpoint
	return p
}

func (p *Peer) Name() wire.Name    { return p.name }
func (p *Peer) LocalIdx() uint32   { return p.localIdx }
func (p *Peer) Addr() *net.UDPAddr { addr, _ := p.endpoint.get(); return addr }

// ConnFd returns the peer's connected socket fd, if the endpoint has been
// promoted.
func (p *Peer) ConnFd() (int, bool) {
	_, fd := p.endpoint.get()
	return fd, fd != -1
}

// SetEndpoint is the device-facing half of endpoint mutation: see endpoint.setAddr.
func (p *Peer) SetEndpoint(addr *net.UDPAddr) (changed bool, prevFd int) {
	return p.endpoint.setAddr(addr)
}

// ConnectEndpoint opens a socket connected to the peer's current address
// and installs it as the endpoint's connected socket. The caller must
// register the returned fd with the poll set.
func (p *Peer) ConnectEndpoint(listenPort int) (int, error) {
	addr, fd := p.endpoint.get()
	if addr == nil {
		return -1, errNoEndpointAddr
	}
	if fd != -1 {
		return -1, errEndpointAlreadyConnected
	}
	newFd, err := newConnectedSocket(listenPort, addr)
	if err != nil {
		return -1, err
	}
	p.endpoint.installConn(newFd)
	return newFd, nil
}

// IsAllowedIP reports whether addr is covered by the peer's own configured
// allowed-IP set. A nil addr (an unparseable or too-short inner packet) is
// never allowed.
func (p *Peer) IsAllowedIP(addr net.IP) bool {
	if addr == nil {
		return false
	}
	for _, n := range p.allowedIPs {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

// InitiateHandshake sends a HandshakeInit if the peer is in state None and
// its endpoint address is already known (static configuration). It is the
// only way a peer becomes the client side of a handshake: both peers
// discovering each other and both calling this would race to HandshakeSent
// and then ignore each other's init (see HandleHandshakeInit), which this
// implementation preserves rather than papering over with a timeout.
func (p *Peer) InitiateHandshake(deviceName wire.Name) Action {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateNone {
		return noAction()
	}
	if p.Addr() == nil {
		return noAction()
	}

	p.state = StateHandshakeSent

	h := wire.HandshakeInit{SenderName: deviceName, AssignedIdx: p.localIdx}
	buf := make([]byte, h.Len())
	h.Format(buf)
	return writeToNetwork(buf)
}

// HandleHandshakeInit advances the state machine on a received
// HandshakeInit. A peer already waiting for its own response
// (HandshakeSent) or already mid-handshake as a responder
// (HandshakeReceived) ignores it, so that two statically-configured peers
// initiating simultaneously do not bounce each other back to the start.
func (p *Peer) HandleHandshakeInit(senderName wire.Name, assignedIdx uint32) Action {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateNone, StateConnected:
		p.state = StateHandshakeReceived
		p.remoteIdx = assignedIdx
		resp := wire.HandshakeResponse{AssignedIdx: p.localIdx, SenderIdx: assignedIdx}
		buf := make([]byte, resp.Len())
		resp.Format(buf)
		return writeToNetwork(buf)
	default:
		return noAction()
	}
}

// HandleHandshakeResponse completes the client side of a handshake. A
// response received in any state other than HandshakeSent is ignored; the
// sender_idx it carries is round-tripped by the wire codec but not
// otherwise validated here.
func (p *Peer) HandleHandshakeResponse(assignedIdx uint32) Action {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateHandshakeSent {
		return noAction()
	}
	p.state = StateConnected
	p.remoteIdx = assignedIdx

	d := wire.Data{SenderIdx: assignedIdx}
	buf := make([]byte, d.Len())
	d.Format(buf)
	return writeToNetwork(buf)
}

// HandleData advances a responder from HandshakeReceived to Connected on
// the first data frame, or stays Connected. The returned action's SrcAddr
// is the inner IPv4 packet's source, for the device to check against the
// peer's allowed-IPs before writing to the TUN.
func (p *Peer) HandleData(payload []byte) Action {
	p.mu.Lock()
	switch p.state {
	case StateHandshakeReceived:
		p.state = StateConnected
	case StateConnected:
	default:
		p.mu.Unlock()
		return noAction()
	}
	p.mu.Unlock()

	return writeToTun(payload, parseIPv4Source(payload))
}

// Encapsulate turns an outbound TUN frame into a Data frame addressed to
// this peer's last-known remote index, or a no-op if the peer is not
// Connected.
func (p *Peer) Encapsulate(frame []byte) Action {
	p.mu.RLock()
	state := p.state
	remoteIdx := p.remoteIdx
	p.mu.RUnlock()

	if state != StateConnected {
		return noAction()
	}

	d := wire.Data{SenderIdx: remoteIdx, Payload: frame}
	buf := make([]byte, d.Len())
	d.Format(buf)
	return writeToNetwork(buf)
}
