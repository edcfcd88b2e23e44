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
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"trpc.group/trpc-go/tpoll/log"
	"trpc.group/trpc-go/tpoll/metrics"
)

const defaultKevents = 128

// kqueueRegistration is the per-fd record kept by the kqueue backend.
// Unlike epoll, a single logical registration may correspond to up to two
// native filters (read and write), so interests is tracked here to compute
// the add/delete delta on Reregister (spec.md §4.1.3).
type kqueueRegistration struct {
	handle    Handle
	token     atomic.Uint64
	interests atomic.Uint32
	opts      atomic.Uint32
	armed     atomic.Bool
}

func (r *kqueueRegistration) load() (Token, Interests, PollOpt) {
	return Token(r.token.Load()), Interests(r.interests.Load()), PollOpt(r.opts.Load())
}

type kqueueSelector struct {
	fd     int
	events []unix.Kevent_t

	mu     sync.RWMutex
	regs   map[Handle]*kqueueRegistration
	wakers map[uint64]*kqueueUserWaker

	nextIdent atomic.Uint64
	queue     customQueue
	internal  *kqueueUserWaker
	closed    atomic.Bool
}

func newSelector() (Selector, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, err
	}
	s := &kqueueSelector{
		fd:     fd,
		events: make([]unix.Kevent_t, defaultKevents),
		regs:   make(map[Handle]*kqueueRegistration),
		wakers: make(map[uint64]*kqueueUserWaker),
	}
	s.nextIdent.Store(1) // ident 0 is reserved for the internal wake trigger
	w, err := newKqueueUserWaker(s, 0, 0, true)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	s.internal = w
	return s, nil
}

func kqueueFlags(opts PollOpt) uint16 {
	var f uint16
	if opts.IsEdge() {
		f |= unix.EV_CLEAR
	}
	if opts.IsOneshot() {
		f |= unix.EV_ONESHOT
	}
	return f
}

func (s *kqueueSelector) apply(handle Handle, add, del Interests, flags uint16) error {
	var changes []unix.Kevent_t
	if add.IsReadable() {
		changes = append(changes, unix.Kevent_t{Ident: uint64(handle), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE | flags})
	}
	if add.IsWritable() {
		changes = append(changes, unix.Kevent_t{Ident: uint64(handle), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_ENABLE | flags})
	}
	if del.IsReadable() {
		changes = append(changes, unix.Kevent_t{Ident: uint64(handle), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if del.IsWritable() {
		changes = append(changes, unix.Kevent_t{Ident: uint64(handle), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(s.fd, changes, nil, nil); err != nil {
		return os.NewSyscallError("kevent", err)
	}
	return nil
}

// Register implements Selector.
func (s *kqueueSelector) Register(handle Handle, token Token, interests Interests, opts PollOpt) error {
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
	reg := &kqueueRegistration{handle: handle}
	reg.token.Store(uint64(token))
	reg.interests.Store(uint32(interests))
	reg.opts.Store(uint32(opts))
	reg.armed.Store(true)
	s.regs[handle] = reg
	s.mu.Unlock()

	if err := s.apply(handle, interests, 0, kqueueFlags(opts)); err != nil {
		s.mu.Lock()
		delete(s.regs, handle)
		s.mu.Unlock()
		return errors.Wrap(err, "kqueue register")
	}
	return nil
}

// Reregister implements Selector.
func (s *kqueueSelector) Reregister(handle Handle, token Token, interests Interests, opts PollOpt) error {
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
	old := Interests(reg.interests.Load())
	added := interests &^ old
	dropped := old &^ interests
	// Surviving filters are re-added with EV_ADD, which atomically updates
	// their flags (EV_CLEAR/EV_ONESHOT) without needing a separate delete.
	survive := interests & old
	flags := kqueueFlags(opts)
	if err := s.apply(handle, added|survive, dropped, flags); err != nil {
		return errors.Wrap(err, "kqueue reregister")
	}
	reg.token.Store(uint64(token))
	reg.interests.Store(uint32(interests))
	reg.opts.Store(uint32(opts))
	reg.armed.Store(true)
	return nil
}

// Deregister implements Selector.
func (s *kqueueSelector) Deregister(handle Handle) error {
	s.mu.Lock()
	reg, ok := s.regs[handle]
	if ok {
		delete(s.regs, handle)
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotRegistered
	}
	interests := Interests(reg.interests.Load())
	if err := s.apply(handle, 0, interests, 0); err != nil {
		return errors.Wrap(err, "kqueue deregister")
	}
	return nil
}

// Select implements Selector.
func (s *kqueueSelector) Select(out *Events, timeout *time.Duration) (int, error) {
	out.reset()
	var ts *unix.Timespec
	if timeout != nil {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	if ts != nil && ts.Sec == 0 && ts.Nsec == 0 {
		metrics.Add(metrics.SelectNoWait, 1)
	} else {
		metrics.Add(metrics.SelectCalls, 1)
	}

	n, err := kqueueWaitRetry(s.fd, s.events, ts)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		runtime.Gosched()
		return 0, nil
	}

	wokeInternal := false
	// Coalesce multiple native events for the same ident within this batch
	// into one delivered Event, unioning their readiness (spec.md §4.1.3).
	coalesced := make(map[Handle]Readiness)
	order := make([]Handle, 0, n)
	for i := 0; i < n; i++ {
		ev := s.events[i]
		ident := Handle(ev.Ident)
		if ev.Filter == unix.EVFILT_USER {
			if w, ok := s.lookupWaker(ev.Ident); ok {
				w.drainLocked()
				if w.internal {
					wokeInternal = true
				} else {
					metrics.Add(metrics.WakerDeliveries, 1)
					out.push(Event{Token: w.token, Readiness: ReadinessReadable})
				}
			}
			continue
		}
		s.mu.RLock()
		_, ok := s.regs[ident]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		var r Readiness
		if ev.Filter == unix.EVFILT_READ {
			r |= ReadinessReadable
		}
		if ev.Filter == unix.EVFILT_WRITE {
			r |= ReadinessWritable
		}
		if ev.Flags&unix.EV_EOF != 0 {
			if ev.Fflags == 0 {
				r |= ReadinessHup
			} else {
				r |= ReadinessError
			}
		}
		if prev, ok := coalesced[ident]; ok {
			coalesced[ident] = prev | r
		} else {
			coalesced[ident] = r
			order = append(order, ident)
		}
	}
	for _, ident := range order {
		s.mu.RLock()
		reg, ok := s.regs[ident]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		s.deliver(out, reg, coalesced[ident])
	}
	if wokeInternal {
		s.drainCustom(out)
	}
	metrics.Add(metrics.SelectEvents, uint64(out.Len()))
	return out.Len(), nil
}

func (s *kqueueSelector) deliver(out *Events, reg *kqueueRegistration, r Readiness) {
	if r.IsEmpty() {
		return
	}
	token, _, opts := reg.load()
	if opts.IsOneshot() {
		if !reg.armed.CompareAndSwap(true, false) {
			return
		}
	}
	out.push(Event{Token: token, Readiness: r})
}

func (s *kqueueSelector) drainCustom(out *Events) {
	for _, node := range s.queue.drainAll() {
		bits := node.clearReadiness()
		want := fromInterests(node.Interests())
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

func (s *kqueueSelector) lookupWaker(ident uint64) (*kqueueUserWaker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wakers[ident]
	return w, ok
}

// Close implements Selector.
func (s *kqueueSelector) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.internal.Close()
	return os.NewSyscallError("close", unix.Close(s.fd))
}

// NewWaker implements Selector.
func (s *kqueueSelector) NewWaker(token Token) (Waker, error) {
	ident := s.nextIdent.Add(1) - 1
	w, err := newKqueueUserWaker(s, ident, token, false)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.wakers[ident] = w
	s.mu.Unlock()
	return w, nil
}

func (s *kqueueSelector) RegisterCustom(node *CustomNode, token Token, interests Interests, opts PollOpt) error {
	if interests.Empty() {
		return ErrInvalidInterests
	}
	node.bind(s, token, interests, opts)
	if node.Readiness()&fromInterests(interests) != 0 {
		s.Publish(node)
	}
	return nil
}

func (s *kqueueSelector) ReregisterCustom(node *CustomNode, token Token, interests Interests, opts PollOpt) error {
	return s.RegisterCustom(node, token, interests, opts)
}

func (s *kqueueSelector) DeregisterCustom(node *CustomNode) error {
	node.unbind()
	return nil
}

func (s *kqueueSelector) Publish(node *CustomNode) {
	if s.queue.push(node) {
		metrics.Add(metrics.CustomPublished, 1)
		if err := s.internal.Wake(); err != nil {
			log.Debugf("tpoll: internal wake failed: %v", err)
		}
	}
}
