/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

package allowedips

import (
	"math/rand"
	"net"
	"sort"
	"testing"
)

const (
	numberOfPeers     = 100
	numberOfAddresses = 250
	numberOfTests     = 10000
)

type slowNode struct {
	value string
	cidr  uint
	bits  net.IP
}

type slowRouter []*slowNode

func (r slowRouter) Len() int      { return len(r) }
func (r slowRouter) Less(i, j int) bool { return r[i].cidr > r[j].cidr }
func (r slowRouter) Swap(i, j int) { r[i], r[j] = r[j], r[i] }

func (r slowRouter) Insert(addr net.IP, cidr uint, value string) slowRouter {
	for _, n := range r {
		if n.cidr == cidr && commonBits(n.bits, addr) >= cidr {
			n.value = value
			n.bits = addr
			return r
		}
	}
	r = append(r, &slowNode{cidr: cidr, bits: addr, value: value})
	sort.Sort(r)
	return r
}

func (r slowRouter) Lookup(addr net.IP) (string, bool) {
	for _, n := range r {
		if commonBits(n.bits, addr) >= n.cidr {
			return n.value, true
		}
	}
	return "", false
}

func randomTrieTest(t *testing.T, addressLength int) {
	trie := New[string]()
	var slow slowRouter
	var values []string

	rnd := rand.New(rand.NewSource(1))

	for n := 0; n < numberOfPeers; n++ {
		values = append(values, string(rune('a'+n%26))+string(rune(n)))
	}

	for n := 0; n < numberOfAddresses; n++ {
		addr := make(net.IP, addressLength)
		rnd.Read(addr)
		cidr := uint(rnd.Uint32() % uint32(addressLength*8))
		value := values[rnd.Int()%numberOfPeers]
		trie.Insert(addr, cidr, value)
		slow = slow.Insert(addr, cidr, value)
	}

	for n := 0; n < numberOfTests; n++ {
		addr := make(net.IP, addressLength)
		rnd.Read(addr)
		want, wantOK := slow.Lookup(addr)
		got, gotOK := trie.Find(addr)
		if wantOK != gotOK || want != got {
			t.Fatalf("trie mismatch for %v: got (%q,%v), want (%q,%v)", addr, got, gotOK, want, wantOK)
		}
	}
}

func TestTrieRandomIPv4(t *testing.T) {
	randomTrieTest(t, net.IPv4len)
}

func TestTrieRandomIPv6(t *testing.T) {
	randomTrieTest(t, net.IPv6len)
}
