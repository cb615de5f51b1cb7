/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

// Package device ties the TUN handle, the listening UDP socket, the peer
// directory and the poll set together into the single-threaded event loop
// that forwards IPv4 packets between them.
package device

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/caetun/tunmesh/internal/allowedips"
	"github.com/caetun/tunmesh/internal/poll"
	"github.com/caetun/tunmesh/internal/tun"
	"github.com/caetun/tunmesh/internal/wire"
)

// scratchSize is the device's single receive buffer: MTU 1500 plus frame
// slack, shared by every dispatch since the loop is single-threaded.
const scratchSize = tun.MaxFrame

// Device owns the TUN fd, the listening UDP socket, the peer directory and
// the poll set, and runs the event loop dispatching readiness between them.
type Device struct {
	log              Logger
	name             wire.Name
	listenPort       int
	useConnectedPeer bool

	tunDev   tun.Device
	listenFd int
	pollSet  *poll.Set

	peersByName map[wire.Name]*Peer
	peersByIdx  []*Peer
	routes      *allowedips.Trie[*Peer]

	scratch [scratchSize]byte
}

// Config is the minimal set of parameters NewDevice needs; the config
// package is responsible for turning a parsed INI file into one of these.
type Config struct {
	Name             string
	ListenPort       int
	UseConnectedPeer bool
}

// NewDevice opens the listening socket and the poll set and registers
// tunDev and the socket with it. Peers are added afterward with AddPeer,
// and the handshake-initiation pass is run explicitly with Start.
func NewDevice(tunDev tun.Device, cfg Config, log Logger) (*Device, error) {
	name, err := wire.NewName(cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("device: interface name: %w", err)
	}

	listenFd, err := newListenSocket(cfg.ListenPort)
	if err != nil {
		return nil, err
	}

	set, err := poll.New()
	if err != nil {
		unix.Close(listenFd)
		return nil, err
	}

	d := &Device{
		log:              log,
		name:             name,
		listenPort:       cfg.ListenPort,
		useConnectedPeer: cfg.UseConnectedPeer,
		tunDev:           tunDev,
		listenFd:         listenFd,
		pollSet:          set,
		peersByName:      make(map[wire.Name]*Peer),
		routes:           allowedips.New[*Peer](),
	}

	if err := d.pollSet.RegisterRead(poll.Sock(poll.Unconnected), d.listenFd); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.pollSet.RegisterRead(poll.Tun, int(d.tunDev.File().Fd())); err != nil {
		d.Close()
		return nil, err
	}

	return d, nil
}

// AddPeer registers a new peer, assigning it the next local index, and
// seeds its allowed-IPs into the routing trie. It must be called before
// Start.
func (d *Device) AddPeer(name wire.Name, allowedIPs []*net.IPNet, presetEndpoint *net.UDPAddr) (*Peer, error) {
	if _, exists := d.peersByName[name]; exists {
		return nil, fmt.Errorf("device: duplicate peer name %q", name.String())
	}

	idx := uint32(len(d.peersByIdx))
	p := NewPeer(name, idx, allowedIPs, presetEndpoint)

	d.peersByName[name] = p
	d.peersByIdx = append(d.peersByIdx, p)
	for _, n := range allowedIPs {
		ones, _ := n.Mask.Size()
		d.routes.Insert(n.IP, uint(ones), p)
	}

	return p, nil
}

// Start performs the startup sequence's final step: initiating a handshake
// with every peer whose endpoint is already known. Peers without a preset
// endpoint no-op.
func (d *Device) Start() {
	for _, p := range d.peersByIdx {
		d.applyAction(p, p.InitiateHandshake(d.name))
	}
}

// Run blocks, dispatching readiness notifications until Wait returns an
// error.
func (d *Device) Run() error {
	for {
		tok, err := d.pollSet.Wait()
		if err != nil {
			return err
		}

		if tok.IsTun() {
			d.drainTun()
			continue
		}
		idx, connected := tok.SockID().IsConnected()
		if connected {
			d.drainConnected(idx)
		} else {
			d.drainListening()
		}
	}
}

func (d *Device) drainTun() {
	for {
		n, err := d.tunDev.Read(d.scratch[:])
		if err != nil {
			if isEAGAIN(err) {
				return
			}
			d.log.Errorf("tun read: %v", err)
			return
		}
		d.handleTunFrame(d.scratch[:n])
	}
}

func (d *Device) handleTunFrame(frame []byte) {
	dst := parseIPv4Dest(frame)
	if dst == nil {
		d.log.Debugf("dropping non-IPv4 tun frame of %d bytes", len(frame))
		return
	}
	p, ok := d.routes.Find(dst)
	if !ok {
		d.log.Debugf("no route for %s, dropping", dst)
		return
	}
	d.applyAction(p, p.Encapsulate(frame))
}

func (d *Device) drainListening() {
	for {
		n, from, err := recvFrom(d.listenFd, d.scratch[:])
		if err != nil {
			if isEAGAIN(err) {
				return
			}
			d.log.Errorf("recvfrom: %v", err)
			return
		}
		d.handleListeningDatagram(d.scratch[:n], from)
	}
}

func (d *Device) handleListeningDatagram(buf []byte, from *net.UDPAddr) {
	pkt, err := wire.Parse(buf)
	if err != nil {
		d.log.Debugf("parse: %v", err)
		return
	}

	p := d.lookupPeer(pkt)
	if p == nil {
		return
	}

	changed, prevFd := p.SetEndpoint(from)
	if changed {
		if prevFd != -1 {
			if err := d.pollSet.Delete(prevFd); err != nil {
				d.log.Errorf("poll delete on endpoint change: %v", err)
			}
			unix.Close(prevFd)
		}
		if d.useConnectedPeer {
			fd, err := p.ConnectEndpoint(d.listenPort)
			if err != nil {
				d.log.Errorf("connect_endpoint: %v", err)
			} else if err := d.pollSet.RegisterRead(poll.Sock(poll.Connected(p.LocalIdx())), fd); err != nil {
				d.log.Errorf("poll register connected socket: %v", err)
			}
		}
	}

	d.applyAction(p, d.deliver(p, pkt))
}

func (d *Device) drainConnected(idx uint32) {
	p := d.peerByIdx(idx)
	if p == nil {
		return
	}
	fd, ok := p.ConnFd()
	if !ok {
		return
	}
	for {
		n, err := recvOnConnected(fd, d.scratch[:])
		if err != nil {
			if isEAGAIN(err) {
				return
			}
			d.log.Errorf("recv on connected socket: %v", err)
			return
		}
		pkt, err := wire.Parse(d.scratch[:n])
		if err != nil {
			d.log.Debugf("parse: %v", err)
			continue
		}
		d.applyAction(p, d.deliver(p, pkt))
	}
}

// deliver hands a parsed packet to p's state machine. The connected-socket
// path skips endpoint rebinding entirely since the kernel fixes the remote
// address for a connected UDP socket; the caller has already resolved p
// (by name or by index) before calling this.
func (d *Device) deliver(p *Peer, pkt wire.Packet) Action {
	switch v := pkt.(type) {
	case wire.HandshakeInit:
		return p.HandleHandshakeInit(v.SenderName, v.AssignedIdx)
	case wire.HandshakeResponse:
		return p.HandleHandshakeResponse(v.AssignedIdx)
	case wire.Data:
		return p.HandleData(v.Payload)
	default:
		return noAction()
	}
}

// lookupPeer demultiplexes a datagram received on the listening socket to
// a peer: by sender_name for HandshakeInit, by sender_idx otherwise.
func (d *Device) lookupPeer(pkt wire.Packet) *Peer {
	switch v := pkt.(type) {
	case wire.HandshakeInit:
		p, ok := d.peersByName[v.SenderName]
		if !ok {
			d.log.Debugf("%v: %q", errUnknownPeerName, v.SenderName.String())
			return nil
		}
		return p
	case wire.HandshakeResponse:
		return d.peerByIdx(v.SenderIdx)
	case wire.Data:
		return d.peerByIdx(v.SenderIdx)
	default:
		return nil
	}
}

func (d *Device) peerByIdx(idx uint32) *Peer {
	if int(idx) >= len(d.peersByIdx) {
		d.log.Debugf("%v: %d", errUnknownPeerIndex, idx)
		return nil
	}
	return d.peersByIdx[idx]
}

// applyAction executes the side effect a Peer transition produced.
func (d *Device) applyAction(p *Peer, act Action) {
	switch act.Kind {
	case ActionWriteToTun:
		if !p.IsAllowedIP(act.SrcAddr) {
			d.log.Debugf("%v: src=%s peer=%q", errPacketNotAllowed, act.SrcAddr, p.Name().String())
			return
		}
		if _, err := d.tunDev.Write(act.Bytes); err != nil {
			d.log.Errorf("tun write: %v", err)
		}
	case ActionWriteToNetwork:
		if err := d.sendOverUDP(p, act.Bytes); err != nil {
			d.log.Errorf("send to %s: %v", p.Name().String(), err)
		}
	case ActionNone:
	}
}

// sendOverUDP implements the preferred-socket send policy: the peer's
// connected socket if it has one, else send_to on the listening socket
// with its last-known address, else a silent drop.
func (d *Device) sendOverUDP(p *Peer, b []byte) error {
	if fd, ok := p.ConnFd(); ok {
		_, err := sendOnConnected(fd, b)
		return err
	}
	addr := p.Addr()
	if addr == nil {
		return nil
	}
	_, err := sendTo(d.listenFd, b, addr)
	return err
}

// Close releases the TUN fd, the listening socket, every peer's connected
// socket and the poll set.
func (d *Device) Close() error {
	for _, p := range d.peersByIdx {
		if fd, ok := p.ConnFd(); ok {
			unix.Close(fd)
		}
	}
	unix.Close(d.listenFd)
	if d.tunDev != nil {
		d.tunDev.Close()
	}
	if d.pollSet != nil {
		return d.pollSet.Close()
	}
	return nil
}
