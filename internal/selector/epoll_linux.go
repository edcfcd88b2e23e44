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
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"trpc.group/trpc-go/tpoll/log"
	"trpc.group/trpc-go/tpoll/metrics"
)

const defaultEpollEvents = 128

// epollRegistration is the per-fd record kept by the epoll backend. Token,
// interests and opts are mutated by Reregister and read back by handle, so
// they are held in atomics rather than protected by the selector-wide lock.
type epollRegistration struct {
	handle    Handle
	token     atomic.Uint64
	interests atomic.Uint32 // Interests
	opts      atomic.Uint32 // PollOpt
	armed     atomic.Bool   // cleared once a oneshot registration fires
}

func (r *epollRegistration) load() (Token, Interests, PollOpt) {
	return Token(r.token.Load()), Interests(r.interests.Load()), PollOpt(r.opts.Load())
}

type epollSelector struct {
	fd     int
	events []unix.EpollEvent

	mu      sync.RWMutex
	regs    map[Handle]*epollRegistration
	wakers  map[Handle]*epollEventFDWaker

	queue customQueue

	internal *epollEventFDWaker
	closed   atomic.Bool
}

func newSelector() (Selector, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	s := &epollSelector{
		fd:     fd,
		events: make([]unix.EpollEvent, defaultEpollEvents),
		regs:   make(map[Handle]*epollRegistration),
		wakers: make(map[Handle]*epollEventFDWaker),
	}
	w, err := newEpollEventFDWaker(s, 0, true)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	s.internal = w
	return s, nil
}

func epollEvents(i Interests) uint32 {
	var ev uint32
	if i.IsReadable() {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLPRI
	}
	if i.IsWritable() {
		ev |= unix.EPOLLOUT | unix.EPOLLHUP | unix.EPOLLERR
	}
	return ev
}

func (s *epollSelector) ctl(op int, handle Handle, reg *epollRegistration, interests Interests, opts PollOpt) error {
	var ev unix.EpollEvent
	ev.Events = epollEvents(interests)
	if opts.IsEdge() {
		ev.Events |= unix.EPOLLET
	}
	if opts.IsOneshot() {
		ev.Events |= unix.EPOLLONESHOT
	}
	ev.Fd = int32(handle)
	if err := unix.EpollCtl(s.fd, op, int(handle), &ev); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	_ = reg
	return nil
}

// Register implements Selector.
func (s *epollSelector) Register(handle Handle, token Token, interests Interests, opts PollOpt) error {
	if interests.Empty() {
		return ErrInvalidInterests
	}
	if !opts.Valid() {
		return ErrInvalidPollOpt
	}
	s.mu.Lock()
	if _, ok := s.regs[handle]; ok {
		s.mu.Unlock()
		return ErrAlreadyRegistered
	}
	reg := &epollRegistration{handle: handle}
	reg.token.Store(uint64(token))
	reg.interests.Store(uint32(interests))
	reg.opts.Store(uint32(opts))
	reg.armed.Store(true)
	s.regs[handle] = reg
	s.mu.Unlock()

	if err := s.ctl(unix.EPOLL_CTL_ADD, handle, reg, interests, opts); err != nil {
		s.mu.Lock()
		delete(s.regs, handle)
		s.mu.Unlock()
		return errors.Wrap(err, "epoll register")
	}
	return nil
}

// Reregister implements Selector.
func (s *epollSelector) Reregister(handle Handle, token Token, interests Interests, opts PollOpt) error {
	if interests.Empty() {
		return ErrInvalidInterests
	}
	if !opts.Valid() {
		return ErrInvalidPollOpt
	}
	s.mu.RLock()
	reg, ok := s.regs[handle]
	s.mu.RUnlock()
	if !ok {
		return ErrNotRegistered
	}
	reg.token.Store(uint64(token))
	reg.interests.Store(uint32(interests))
	reg.opts.Store(uint32(opts))
	reg.armed.Store(true)
	if err := s.ctl(unix.EPOLL_CTL_MOD, handle, reg, interests, opts); err != nil {
		return errors.Wrap(err, "epoll reregister")
	}
	return nil
}

// Deregister implements Selector.
func (s *epollSelector) Deregister(handle Handle) error {
	s.mu.Lock()
	reg, ok := s.regs[handle]
	if ok {
		delete(s.regs, handle)
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotRegistered
	}
	if err := unix.EpollCtl(s.fd, unix.EPOLL_CTL_DEL, int(handle), nil); err != nil {
		return errors.Wrap(os.NewSyscallError("epoll_ctl", err), "epoll deregister")
	}
	_ = reg
	return nil
}

// Select implements Selector.
func (s *epollSelector) Select(out *Events, timeout *time.Duration) (int, error) {
	out.reset()
	msec := -1
	if timeout != nil {
		msec = int(timeout.Milliseconds())
	}
	if msec == 0 {
		metrics.Add(metrics.SelectNoWait, 1)
	} else {
		metrics.Add(metrics.SelectCalls, 1)
	}

	n, err := epollWaitRetry(s.fd, s.events, msec)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		runtime.Gosched()
		return 0, nil
	}

	wokeInternal := false
	for i := 0; i < n; i++ {
		ev := s.events[i]
		handle := Handle(ev.Fd)
		if s.internal.owns(handle) {
			s.internal.drain()
			wokeInternal = true
			continue
		}
		if w, ok := s.lookupWaker(handle); ok {
			w.drain()
			metrics.Add(metrics.WakerDeliveries, 1)
			out.push(Event{Token: w.token, Readiness: ReadinessReadable})
			continue
		}
		s.mu.RLock()
		reg, ok := s.regs[handle]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		s.deliver(out, reg, ev.Events)
	}
	if wokeInternal {
		s.drainCustom(out)
	}
	metrics.Add(metrics.SelectEvents, uint64(out.Len()))
	return out.Len(), nil
}

func (s *epollSelector) deliver(out *Events, reg *epollRegistration, native uint32) {
	token, interests, opts := reg.load()
	var r Readiness
	if native&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		r |= ReadinessReadable
	}
	if native&unix.EPOLLOUT != 0 {
		r |= ReadinessWritable
	}
	if native&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		r |= ReadinessHup
	}
	if native&unix.EPOLLERR != 0 {
		r |= ReadinessError
	}
	if r.IsEmpty() {
		return
	}
	if opts.IsOneshot() {
		if !reg.armed.CompareAndSwap(true, false) {
			return // already disarmed by a racing delivery; drop silently
		}
	}
	_ = interests
	out.push(Event{Token: token, Readiness: r})
}

func (s *epollSelector) drainCustom(out *Events) {
	for _, node := range s.queue.drainAll() {
		bits := node.clearReadiness()
		interests := node.Interests()
		want := fromInterests(interests)
		if bits&want == 0 {
			continue
		}
		token, opts := node.TokenOpts()
		if opts.IsOneshot() && !node.disarmOnce() {
			continue // already disarmed by a racing delivery; drop silently
		}
		metrics.Add(metrics.CustomDelivered, 1)
		out.push(Event{Token: token, Readiness: bits & (want | ReadinessError | ReadinessHup)})
	}
}

func (s *epollSelector) lookupWaker(handle Handle) (*epollEventFDWaker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wakers[handle]
	return w, ok
}

// Close implements Selector.
func (s *epollSelector) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.internal.Close()
	return os.NewSyscallError("close", unix.Close(s.fd))
}

// NewWaker implements Selector.
func (s *epollSelector) NewWaker(token Token) (Waker, error) {
	w, err := newEpollEventFDWaker(s, token, false)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.wakers[Handle(w.fd)] = w
	s.mu.Unlock()
	return w, nil
}

// RegisterCustom, ReregisterCustom, DeregisterCustom, Publish implement the
// custom-registration hooks of Selector; like every other backend, they use
// the OS-agnostic customQueue from custom.go as the pending queue.
func (s *epollSelector) RegisterCustom(node *CustomNode, token Token, interests Interests, opts PollOpt) error {
	if interests.Empty() {
		return ErrInvalidInterests
	}
	node.bind(s, token, interests, opts)
	if node.Readiness()&fromInterests(interests) != 0 {
		s.Publish(node)
	}
	return nil
}

func (s *epollSelector) ReregisterCustom(node *CustomNode, token Token, interests Interests, opts PollOpt) error {
	return s.RegisterCustom(node, token, interests, opts)
}

func (s *epollSelector) DeregisterCustom(node *CustomNode) error {
	node.unbind()
	return nil
}

func (s *epollSelector) Publish(node *CustomNode) {
	if s.queue.push(node) {
		metrics.Add(metrics.CustomPublished, 1)
		if err := s.internal.Wake(); err != nil {
			log.Debugf("tpoll: internal wake failed: %v", err)
		}
	}
}
