/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

package poll

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// unix.EpollEvent's Fd/Pad pair is the kernel's 8-byte epoll_data union;
// treating it as a single uint64 lets a full Token ride through untouched.
func eventData(ev *unix.EpollEvent) *uint64 {
	return (*uint64)(unsafe.Pointer(&ev.Fd))
}

// Set is an edge-triggered readiness set backed by epoll.
type Set struct {
	epfd int
}

// New creates an empty epoll instance.
func New() (*Set, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poll: epoll_create1: %w", err)
	}
	return &Set{epfd: epfd}, nil
}

// RegisterRead adds fd to the set in edge-triggered read mode, tagged with
// token.
func (s *Set) RegisterRead(token Token, fd int) error {
	event := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLET,
	}
	*(*uint64)(eventData(&event)) = token.Encode()
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return fmt.Errorf("poll: epoll_ctl add: %w", err)
	}
	return nil
}

// Delete removes fd's registration from the set.
func (s *Set) Delete(fd int) error {
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("poll: epoll_ctl del: %w", err)
	}
	return nil
}

// Wait blocks until exactly one registered descriptor becomes ready, and
// returns its token.
func (s *Set) Wait() (Token, error) {
	events := make([]unix.EpollEvent, 1)
	for {
		n, err := unix.EpollWait(s.epfd, events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return Token{}, fmt.Errorf("poll: epoll_wait: %w", err)
		}
		if n != 1 {
			continue
		}
		return Decode(*(*uint64)(eventData(&events[0])))
	}
}

// Close releases the epoll fd.
func (s *Set) Close() error {
	return unix.Close(s.epfd)
}
