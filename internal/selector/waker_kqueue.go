//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package selector

import (
	"os"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"trpc.group/trpc-go/tpoll/metrics"
)

// kqueueUserWaker is an EVFILT_USER trigger registered on the owning
// selector's kqueue instance, identified by ident (0 is reserved for the
// always-present internal waker created by newSelector; NewWaker allocates
// idents starting at 1). Firing it delivers a bare NOTE_TRIGGER event that
// Select recognizes by (ident, EVFILT_USER) without involving a real fd.
type kqueueUserWaker struct {
	sel      *kqueueSelector
	ident    uint64
	token    Token
	internal bool
	closed   atomic.Bool
}

func newKqueueUserWaker(sel *kqueueSelector, ident uint64, token Token, internal bool) (*kqueueUserWaker, error) {
	w := &kqueueUserWaker{sel: sel, ident: ident, token: token, internal: internal}
	ev := unix.Kevent_t{
		Ident:  ident,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}
	if _, err := unix.Kevent(sel.fd, []unix.Kevent_t{ev}, nil, nil); err != nil {
		return nil, os.NewSyscallError("kevent", err)
	}
	return w, nil
}

// Wake implements selector.Waker.
func (w *kqueueUserWaker) Wake() error {
	metrics.Add(metrics.WakerWakes, 1)
	ev := unix.Kevent_t{
		Ident:  w.ident,
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}
	if _, err := unix.Kevent(w.sel.fd, []unix.Kevent_t{ev}, nil, nil); err != nil {
		return os.NewSyscallError("kevent", err)
	}
	return nil
}

// drainLocked is a no-op placeholder: EV_CLEAR already resets the user
// filter's trigger state once delivered, so there is nothing left to read
// the way an eventfd needs draining. Kept for symmetry with the epoll
// backend's waker.
func (w *kqueueUserWaker) drainLocked() {}

// Close implements selector.Waker.
func (w *kqueueUserWaker) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	ev := unix.Kevent_t{Ident: w.ident, Filter: unix.EVFILT_USER, Flags: unix.EV_DELETE}
	_, err := unix.Kevent(w.sel.fd, []unix.Kevent_t{ev}, nil, nil)
	if err != nil {
		return os.NewSyscallError("kevent", err)
	}
	return nil
}

// kqueueWaitRetry wraps kevent. On EINTR it retries when timeout is nil
// (wait indefinitely); with any non-nil timeout it reports zero events.
func kqueueWaitRetry(kq int, events []unix.Kevent_t, timeout *unix.Timespec) (int, error) {
	for {
		n, err := unix.Kevent(kq, nil, events, timeout)
		if err == nil {
			return n, nil
		}
		if err == unix.EINTR {
			if timeout != nil {
				return 0, nil
			}
			continue
		}
		return 0, os.NewSyscallError("kevent", err)
	}
}
