/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

package device

import (
	"net"
	"testing"

	"github.com/caetun/tunmesh/internal/wire"
)

func mustName(t *testing.T, s string) wire.Name {
	t.Helper()
	n, err := wire.NewName(s)
	if err != nil {
		t.Fatalf("NewName(%q): %v", s, err)
	}
	return n
}

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("ParseCIDR(%q): %v", s, err)
	}
	return n
}

// TestClientSideSequence is seed scenario S4.
func TestClientSideSequence(t *testing.T) {
	endpoint := &net.UDPAddr{IP: net.ParseIP("198.51.100.2"), Port: 19988}
	p := NewPeer(mustName(t, "srv"), 5, nil, endpoint)

	act := p.InitiateHandshake(mustName(t, "srv"))
	if p.state != StateHandshakeSent {
		t.Fatalf("state = %v, want HandshakeSent", p.state)
	}
	if act.Kind != ActionWriteToNetwork {
		t.Fatalf("action = %v, want WriteToNetwork", act.Kind)
	}
	init, err := wire.Parse(act.Bytes)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	hi, ok := init.(wire.HandshakeInit)
	if !ok {
		t.Fatalf("packet type = %T, want HandshakeInit", init)
	}
	if hi.AssignedIdx != 5 {
		t.Fatalf("AssignedIdx = %d, want 5", hi.AssignedIdx)
	}

	act = p.HandleHandshakeResponse(42)
	if p.state != StateConnected {
		t.Fatalf("state = %v, want Connected", p.state)
	}
	if p.remoteIdx != 42 {
		t.Fatalf("remoteIdx = %d, want 42", p.remoteIdx)
	}
	if act.Kind != ActionWriteToNetwork {
		t.Fatalf("action = %v, want WriteToNetwork", act.Kind)
	}
	d, ok := mustParse(t, act.Bytes).(wire.Data)
	if !ok {
		t.Fatalf("packet type = %T, want Data", mustParse(t, act.Bytes))
	}
	if d.SenderIdx != 42 {
		t.Fatalf("SenderIdx = %d, want 42", d.SenderIdx)
	}
	if len(d.Payload) != 0 {
		t.Fatalf("Payload len = %d, want 0", len(d.Payload))
	}
}

func mustParse(t *testing.T, b []byte) wire.Packet {
	t.Helper()
	pkt, err := wire.Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return pkt
}

// TestServerSideSequence is seed scenario S5.
func TestServerSideSequence(t *testing.T) {
	allowed := []*net.IPNet{mustCIDR(t, "10.0.0.0/24")}
	p := NewPeer(mustName(t, "client"), 7, allowed, nil)

	act := p.HandleHandshakeInit(mustName(t, "client"), 11)
	if p.state != StateHandshakeReceived {
		t.Fatalf("state = %v, want HandshakeReceived", p.state)
	}
	if p.remoteIdx != 11 {
		t.Fatalf("remoteIdx = %d, want 11", p.remoteIdx)
	}
	resp, ok := mustParse(t, act.Bytes).(wire.HandshakeResponse)
	if !ok {
		t.Fatalf("packet type = %T, want HandshakeResponse", mustParse(t, act.Bytes))
	}
	if resp.AssignedIdx != 7 || resp.SenderIdx != 11 {
		t.Fatalf("resp = %+v, want {AssignedIdx:7 SenderIdx:11}", resp)
	}

	inner := make([]byte, 20)
	inner[0] = 0x45
	copy(inner[12:16], net.ParseIP("10.0.0.5").To4())

	act = p.HandleData(inner)
	if p.state != StateConnected {
		t.Fatalf("state = %v, want Connected", p.state)
	}
	if act.Kind != ActionWriteToTun {
		t.Fatalf("action = %v, want WriteToTun", act.Kind)
	}
	if !p.IsAllowedIP(act.SrcAddr) {
		t.Fatalf("src %s should be allowed", act.SrcAddr)
	}

	outer := make([]byte, 20)
	outer[0] = 0x45
	copy(outer[12:16], net.ParseIP("192.0.2.9").To4())
	act = p.HandleData(outer)
	if act.Kind != ActionWriteToTun {
		t.Fatalf("action = %v, want WriteToTun (device suppresses the write)", act.Kind)
	}
	if p.IsAllowedIP(act.SrcAddr) {
		t.Fatalf("src %s should not be allowed", act.SrcAddr)
	}
}

// TestDeadlockAvoidance is seed scenario S6.
func TestDeadlockAvoidance(t *testing.T) {
	a := NewPeer(mustName(t, "b"), 1, nil, &net.UDPAddr{IP: net.ParseIP("198.51.100.1"), Port: 19988})
	b := NewPeer(mustName(t, "a"), 2, nil, &net.UDPAddr{IP: net.ParseIP("198.51.100.2"), Port: 19988})

	a.InitiateHandshake(mustName(t, "b"))
	b.InitiateHandshake(mustName(t, "a"))

	actA := a.HandleHandshakeInit(mustName(t, "b"), 2)
	actB := b.HandleHandshakeInit(mustName(t, "a"), 1)

	if actA.Kind != ActionNone {
		t.Fatalf("a's action = %v, want None", actA.Kind)
	}
	if actB.Kind != ActionNone {
		t.Fatalf("b's action = %v, want None", actB.Kind)
	}
	if a.state != StateHandshakeSent || b.state != StateHandshakeSent {
		t.Fatalf("states = %v/%v, want both HandshakeSent", a.state, b.state)
	}
}

// TestEndpointIdempotence is property 5.
func TestEndpointIdempotence(t *testing.T) {
	p := NewPeer(mustName(t, "x"), 1, nil, nil)
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 40000}

	changed, _ := p.SetEndpoint(addr)
	if !changed {
		t.Fatalf("first SetEndpoint should report changed")
	}
	p.endpoint.installConn(99)

	changed, prevFd := p.SetEndpoint(addr)
	if changed {
		t.Fatalf("second SetEndpoint with identical addr should report unchanged")
	}
	if prevFd != -1 {
		t.Fatalf("unchanged SetEndpoint should not report a previous fd")
	}
	if fd, ok := p.ConnFd(); !ok || fd != 99 {
		t.Fatalf("conn fd = %d,%v, want 99,true (untouched)", fd, ok)
	}
}

func TestEndpointChangeClearsConn(t *testing.T) {
	p := NewPeer(mustName(t, "x"), 1, nil, nil)
	first := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 40000}
	second := &net.UDPAddr{IP: net.ParseIP("203.0.113.6"), Port: 40000}

	p.SetEndpoint(first)
	p.endpoint.installConn(7)

	changed, prevFd := p.SetEndpoint(second)
	if !changed {
		t.Fatalf("changed addr should report changed")
	}
	if prevFd != 7 {
		t.Fatalf("prevFd = %d, want 7", prevFd)
	}
	if _, ok := p.ConnFd(); ok {
		t.Fatalf("conn fd should be cleared after endpoint change")
	}
}

// TestHandshakeResponseIgnoredOutsideHandshakeSent covers the determinism
// property (4): HandleHandshakeResponse outside HandshakeSent is a no-op.
func TestHandshakeResponseIgnoredOutsideHandshakeSent(t *testing.T) {
	p := NewPeer(mustName(t, "x"), 1, nil, nil)
	act := p.HandleHandshakeResponse(42)
	if act.Kind != ActionNone {
		t.Fatalf("action = %v, want None", act.Kind)
	}
	if p.state != StateNone {
		t.Fatalf("state = %v, want None", p.state)
	}
}

func TestEncapsulateRequiresConnected(t *testing.T) {
	p := NewPeer(mustName(t, "x"), 1, nil, nil)
	if act := p.Encapsulate([]byte{1, 2, 3}); act.Kind != ActionNone {
		t.Fatalf("action = %v, want None before Connected", act.Kind)
	}
}
