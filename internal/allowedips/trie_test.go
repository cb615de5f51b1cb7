/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

package allowedips

import (
	"net"
	"testing"
)

func mustParseIP(t *testing.T, s string) net.IP {
	t.Helper()
	ip := net.ParseIP(s)
	if ip == nil {
		t.Fatalf("bad IP literal %q", s)
	}
	return ip
}

// TestSeedScenario mirrors the original allowed_ip.rs insertion/lookup
// fixture: six IPv4 networks of varying prefix length inserted in one
// order, then probed at addresses that exercise exact match, longest-prefix
// tie-breaking and miss.
func TestSeedScenario(t *testing.T) {
	trie := New[string]()

	type seed struct {
		addr string
		cidr uint
		val  string
	}
	seeds := []seed{
		{"127.0.0.1", 32, "1"},
		{"127.0.0.0", 16, "2"},
		{"127.1.15.0", 24, "3"},
		{"255.1.15.0", 24, "4"},
		{"60.25.15.1", 32, "5"},
		{"45.25.15.0", 30, "6"},
	}
	for _, s := range seeds {
		trie.Insert(mustParseIP(t, s.addr), s.cidr, s.val)
	}

	cases := []struct {
		addr string
		want string
		ok   bool
	}{
		{"127.0.0.1", "1", true},
		{"127.0.255.255", "2", true},
		{"127.1.255.255", "", false},
		{"127.1.15.255", "3", true},
		{"255.1.15.2", "4", true},
		{"20.0.0.100", "", false},
	}
	for _, c := range cases {
		got, ok := trie.Find(mustParseIP(t, c.addr))
		if ok != c.ok || got != c.want {
			t.Errorf("Find(%s) = (%q,%v), want (%q,%v)", c.addr, got, ok, c.want, c.ok)
		}
	}
}

func TestInsertReturnsPrevious(t *testing.T) {
	trie := New[string]()
	_, had := trie.Insert(mustParseIP(t, "10.0.0.0"), 24, "a")
	if had {
		t.Fatalf("first insert reported a previous value")
	}
	prev, had := trie.Insert(mustParseIP(t, "10.0.0.0"), 24, "b")
	if !had || prev != "a" {
		t.Fatalf("got (%q,%v), want (\"a\",true)", prev, had)
	}
	got, ok := trie.Find(mustParseIP(t, "10.0.0.5"))
	if !ok || got != "b" {
		t.Fatalf("Find after overwrite = (%q,%v)", got, ok)
	}
}

func TestRemoveWhere(t *testing.T) {
	trie := New[string]()
	trie.Insert(mustParseIP(t, "10.0.0.0"), 24, "a")
	trie.Insert(mustParseIP(t, "10.0.1.0"), 24, "b")

	trie.RemoveWhere(func(v string) bool { return v == "a" })

	if _, ok := trie.Find(mustParseIP(t, "10.0.0.5")); ok {
		t.Fatalf("entry 'a' still findable after removal")
	}
	if got, ok := trie.Find(mustParseIP(t, "10.0.1.5")); !ok || got != "b" {
		t.Fatalf("entry 'b' disturbed by unrelated removal: got (%q,%v)", got, ok)
	}
}

func TestInsertAll(t *testing.T) {
	trie := New[string]()
	trie.InsertAll([]struct {
		Addr      net.IP
		PrefixLen uint
		Value     string
	}{
		{mustParseIP(t, "192.168.0.0"), 16, "x"},
		{mustParseIP(t, "192.168.1.0"), 24, "y"},
	})

	if got, ok := trie.Find(mustParseIP(t, "192.168.5.5")); !ok || got != "x" {
		t.Fatalf("Find(192.168.5.5) = (%q,%v), want (\"x\",true)", got, ok)
	}
	if got, ok := trie.Find(mustParseIP(t, "192.168.1.200")); !ok || got != "y" {
		t.Fatalf("Find(192.168.1.200) = (%q,%v), want (\"y\",true)", got, ok)
	}
}

func TestIterYieldsAllEntries(t *testing.T) {
	trie := New[string]()
	trie.Insert(mustParseIP(t, "10.0.0.0"), 24, "a")
	trie.Insert(mustParseIP(t, "10.0.1.0"), 24, "b")

	entries := trie.Iter()
	if len(entries) != 2 {
		t.Fatalf("Iter returned %d entries, want 2", len(entries))
	}
	seen := map[string]bool{}
	for _, e := range entries {
		seen[e.Value] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("Iter missing entries: %+v", entries)
	}
}
