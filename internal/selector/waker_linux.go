//go:build linux
// +build linux

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

// epollEventFDWaker is an eventfd registered with the owning selector's
// epoll instance. One is created automatically by newSelector (internal:
// true) to let Publish unblock Select to drain the custom-readiness
// queue without surfacing a user-visible event; NewWaker creates one per
// caller (internal: false) whose firing does surface Event{token, Readable}.
type epollEventFDWaker struct {
	sel      *epollSelector
	fd       int
	token    Token
	internal bool
	buf      [8]byte
	closed   atomic.Bool
}

func newEpollEventFDWaker(sel *epollSelector, token Token, internal bool) (*epollEventFDWaker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("eventfd", err)
	}
	w := &epollEventFDWaker{sel: sel, fd: fd, token: token, internal: internal}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(sel.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("epoll_ctl", err)
	}
	return w, nil
}

func (w *epollEventFDWaker) owns(handle Handle) bool {
	return w.internal && Handle(w.fd) == handle
}

// Wake implements selector.Waker.
func (w *epollEventFDWaker) Wake() error {
	metrics.Add(metrics.WakerWakes, 1)
	var one [8]byte
	one[7] = 1
	for {
		_, err := unix.Write(w.fd, one[:])
		if err == nil || err == unix.EAGAIN {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		return os.NewSyscallError("write", err)
	}
}

func (w *epollEventFDWaker) drain() {
	for {
		_, err := unix.Read(w.fd, w.buf[:])
		if err == unix.EINTR {
			continue
		}
		return
	}
}

// Close implements selector.Waker.
func (w *epollEventFDWaker) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = unix.EpollCtl(w.sel.fd, unix.EPOLL_CTL_DEL, w.fd, nil)
	return os.NewSyscallError("close", unix.Close(w.fd))
}

// epollWaitRetry wraps epoll_wait. On EINTR it retries when msec is zero
// or negative (no timeout); with a positive msec it reports zero events.
func epollWaitRetry(epfd int, events []unix.EpollEvent, msec int) (int, error) {
	for {
		n, err := unix.EpollWait(epfd, events, msec)
		if err == nil {
			return n, nil
		}
		if err == unix.EINTR {
			if msec > 0 {
				return 0, nil
			}
			continue
		}
		return 0, os.NewSyscallError("epoll_wait", err)
	}
}
