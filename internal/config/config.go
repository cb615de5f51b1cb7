/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

// Package config parses the INI configuration file the daemon and the
// config linter both consume: one required [Interface] section and zero
// or more [Peer] sections.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
)

// DefaultListenPort is used when an [Interface] section omits ListenPort.
const DefaultListenPort = 19988

// ErrExtraInterface is returned when more than one [Interface] section is
// present.
var ErrExtraInterface = fmt.Errorf("config: multiple [Interface] sections")

// ErrMissingInterface is returned when no [Interface] section is present.
var ErrMissingInterface = fmt.Errorf("config: missing [Interface] section")

// ErrAddressFormat is returned when [Interface] Address is not a valid
// "ip/prefix" pair.
var ErrAddressFormat = fmt.Errorf("config: invalid address format")

// CIDR is a parsed address/prefix-length pair.
type CIDR struct {
	IP        net.IP `json:"ip"`
	PrefixLen int    `json:"prefix_len"`
}

func (c CIDR) String() string {
	return fmt.Sprintf("%s/%d", c.IP, c.PrefixLen)
}

// InterfaceConf is the parsed [Interface] section.
type InterfaceConf struct {
	Name       string `json:"name"`
	Address    CIDR   `json:"address"`
	ListenPort int    `json:"listen_port"`
}

// PeerConf is one parsed [Peer] section.
type PeerConf struct {
	Name       string       `json:"name"`
	Endpoint   *net.UDPAddr `json:"endpoint,omitempty"`
	AllowedIPs []CIDR       `json:"allowed_ips"`
}

// Conf is a fully parsed configuration file.
type Conf struct {
	Interface InterfaceConf `json:"interface"`
	Peers     []PeerConf    `json:"peers"`
}

// Parse reads and validates source as an INI document. Section names other
// than "Interface" and "Peer" are rejected. Exactly one [Interface] section
// is required.
func Parse(source []byte) (*Conf, error) {
	f, err := ini.LoadSources(ini.LoadOptions{AllowNonUniqueSections: true}, source)
	if err != nil {
		return nil, fmt.Errorf("config: invalid ini: %w", err)
	}

	var conf Conf
	haveInterface := false

	for _, sec := range f.Sections() {
		switch sec.Name() {
		case ini.DefaultSection:
			if len(sec.Keys()) != 0 {
				return nil, fmt.Errorf("config: keys outside any section")
			}
		case "Interface":
			if haveInterface {
				return nil, ErrExtraInterface
			}
			iface, err := parseInterface(sec)
			if err != nil {
				return nil, err
			}
			conf.Interface = iface
			haveInterface = true
		case "Peer":
			peer, err := parsePeer(sec)
			if err != nil {
				return nil, err
			}
			conf.Peers = append(conf.Peers, peer)
		default:
			return nil, fmt.Errorf("config: unknown section %q", sec.Name())
		}
	}

	if !haveInterface {
		return nil, ErrMissingInterface
	}
	return &conf, nil
}

func parseInterface(sec *ini.Section) (InterfaceConf, error) {
	name := sec.Key("Name").String()
	if name == "" {
		return InterfaceConf{}, fmt.Errorf("config: [Interface] Name is required")
	}
	addrStr := sec.Key("Address").String()
	if addrStr == "" {
		return InterfaceConf{}, fmt.Errorf("config: [Interface] Address is required")
	}
	addr, err := parseAddress(addrStr)
	if err != nil {
		return InterfaceConf{}, err
	}

	port := DefaultListenPort
	if sec.HasKey("ListenPort") {
		port, err = sec.Key("ListenPort").Int()
		if err != nil {
			return InterfaceConf{}, fmt.Errorf("config: invalid ListenPort: %w", err)
		}
	}

	return InterfaceConf{Name: name, Address: addr, ListenPort: port}, nil
}

func parsePeer(sec *ini.Section) (PeerConf, error) {
	name := sec.Key("Name").String()
	if name == "" {
		return PeerConf{}, fmt.Errorf("config: [Peer] Name is required")
	}

	var endpoint *net.UDPAddr
	if ep := sec.Key("Endpoint").String(); ep != "" {
		udpAddr, err := net.ResolveUDPAddr("udp4", ep)
		if err != nil {
			return PeerConf{}, fmt.Errorf("config: invalid Endpoint %q: %w", ep, err)
		}
		endpoint = udpAddr
	}

	var allowed []CIDR
	for _, raw := range strings.Split(sec.Key("AllowedIPs").String(), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		c, err := parseAllowedIP(raw)
		if err != nil {
			return PeerConf{}, err
		}
		allowed = append(allowed, c)
	}

	return PeerConf{Name: name, Endpoint: endpoint, AllowedIPs: allowed}, nil
}

// parseAddress parses [Interface] Address as a plain "ip/prefix" pair, the
// way the reference implementation's parse_cidr does: a manual split on
// '/', an exact IPv4 literal, and a 0-32 prefix. Unlike parseAllowedIP it
// does not truncate to the network address, since Address is a host
// address that legitimately carries bits outside its own prefix.
func parseAddress(s string) (CIDR, error) {
	s = strings.TrimSpace(s)
	ipStr, prefixStr, ok := strings.Cut(s, "/")
	if !ok {
		return CIDR{}, fmt.Errorf("%w: %q", ErrAddressFormat, s)
	}

	ip := net.ParseIP(ipStr)
	if ip == nil || ip.To4() == nil {
		return CIDR{}, fmt.Errorf("%w: invalid ip address %q", ErrAddressFormat, ipStr)
	}

	prefix, err := strconv.Atoi(prefixStr)
	if err != nil || prefix < 0 || prefix > 32 {
		return CIDR{}, fmt.Errorf("%w: invalid prefix %q", ErrAddressFormat, prefixStr)
	}

	return CIDR{IP: ip.To4(), PrefixLen: prefix}, nil
}

// parseAllowedIP parses one AllowedIPs entry as a CIDR network, truncating
// any host bits set outside the prefix to the network address, matching
// the reference implementation's from_str_truncate behavior.
func parseAllowedIP(s string) (CIDR, error) {
	_, ipnet, err := net.ParseCIDR(strings.TrimSpace(s))
	if err != nil {
		return CIDR{}, fmt.Errorf("config: invalid cidr notation %q: %w", s, err)
	}
	ones, bits := ipnet.Mask.Size()
	if bits != 32 {
		return CIDR{}, fmt.Errorf("config: %q is not an IPv4 CIDR", s)
	}
	return CIDR{IP: ipnet.IP, PrefixLen: ones}, nil
}
