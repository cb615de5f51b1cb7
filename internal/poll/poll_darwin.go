/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

package poll

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Set is an edge-triggered readiness set backed by kqueue.
type Set struct {
	kq int
}

// New creates an empty kqueue instance.
func New() (*Set, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("poll: kqueue: %w", err)
	}
	return &Set{kq: kq}, nil
}

// RegisterRead adds fd to the set in edge-triggered read mode, tagged with
// token.
func (s *Set) RegisterRead(token Token, fd int) error {
	changes := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
		Udata:  (*byte)(nil),
	}}
	changes[0].Udata = udataFromToken(token)
	if _, err := unix.Kevent(s.kq, changes, nil, nil); err != nil {
		return fmt.Errorf("poll: kevent add: %w", err)
	}
	return nil
}

// Delete removes fd's registration from the set.
func (s *Set) Delete(fd int) error {
	changes := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_DELETE,
	}}
	if _, err := unix.Kevent(s.kq, changes, nil, nil); err != nil {
		return fmt.Errorf("poll: kevent delete: %w", err)
	}
	return nil
}

// Wait blocks until exactly one registered descriptor becomes ready, and
// returns its token.
func (s *Set) Wait() (Token, error) {
	events := make([]unix.Kevent_t, 1)
	for {
		n, err := unix.Kevent(s.kq, nil, events, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return Token{}, fmt.Errorf("poll: kevent wait: %w", err)
		}
		if n != 1 {
			continue
		}
		return Decode(tokenFromUdata(events[0].Udata))
	}
}

// Close releases the kqueue fd.
func (s *Set) Close() error {
	return unix.Close(s.kq)
}
