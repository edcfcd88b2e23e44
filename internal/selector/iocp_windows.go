//go:build windows
// +build windows

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
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/windows"

	"trpc.group/trpc-go/tpoll/log"
	"trpc.group/trpc-go/tpoll/metrics"
)

const (
	opRead uint8 = iota
	opWrite
)

// iocpOverlapped embeds the native OVERLAPPED structure GetQueuedCompletionStatus
// hands back on completion, tagged with which zero-byte probe it belongs to so
// handleCompletion can tell a read probe from a write probe for the same handle.
type iocpOverlapped struct {
	windows.Overlapped
	kind uint8
}

// iocpRegistration tracks one registered handle. Readiness is approximated by
// keeping a zero-byte WSARecv/WSASend permanently outstanding: its completion
// signals the handle is readable/writable without consuming any data, the
// same trick classic IOCP-based reactors use to turn a completion port into a
// readiness notifier (spec.md §7 already disclaims that readiness implies a
// subsequent call succeeds, which this relies on).
type iocpRegistration struct {
	handle    Handle
	token     atomic.Uint64
	interests atomic.Uint32
	opts      atomic.Uint32
	armed     atomic.Bool

	readOv       iocpOverlapped
	writeOv      iocpOverlapped
	readPosted   atomic.Bool
	writePosted  atomic.Bool
}

func (r *iocpRegistration) load() (Token, Interests, PollOpt) {
	return Token(r.token.Load()), Interests(r.interests.Load()), PollOpt(r.opts.Load())
}

type iocpWaker struct {
	sel      *iocpSelector
	key      uint64
	token    Token
	internal bool
	closed   atomic.Bool
}

func (w *iocpWaker) Wake() error {
	metrics.Add(metrics.WakerWakes, 1)
	return windows.PostQueuedCompletionStatus(w.sel.iocp, 0, uintptr(w.key), nil)
}

func (w *iocpWaker) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.sel.mu.Lock()
	delete(w.sel.wakers, w.key)
	w.sel.mu.Unlock()
	return nil
}

type iocpSelector struct {
	iocp windows.Handle

	mu     sync.RWMutex
	regs   map[Handle]*iocpRegistration
	wakers map[uint64]*iocpWaker

	nextWakerKey atomic.Uint64
	queue        customQueue
	internal     *iocpWaker
	closed       atomic.Bool
}

func newSelector() (Selector, error) {
	iocp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, errors.Wrap(err, "CreateIoCompletionPort")
	}
	s := &iocpSelector{
		iocp:   iocp,
		regs:   make(map[Handle]*iocpRegistration),
		wakers: make(map[uint64]*iocpWaker),
	}
	s.nextWakerKey.Store(1) // key 0 is reserved for the internal wake trigger
	s.internal = &iocpWaker{sel: s, key: 0, internal: true}
	return s, nil
}

// Register implements Selector.
func (s *iocpSelector) Register(handle Handle, token Token, interests Interests, opts PollOpt) error {
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
	reg := &iocpRegistration{handle: handle}
	reg.token.Store(uint64(token))
	reg.interests.Store(uint32(interests))
	reg.opts.Store(uint32(opts))
	reg.armed.Store(true)
	reg.readOv.kind = opRead
	reg.writeOv.kind = opWrite
	s.regs[handle] = reg
	s.mu.Unlock()

	if _, err := windows.CreateIoCompletionPort(windows.Handle(handle), s.iocp, uintptr(handle), 0); err != nil {
		s.mu.Lock()
		delete(s.regs, handle)
		s.mu.Unlock()
		return errors.Wrap(err, "CreateIoCompletionPort")
	}
	s.arm(reg, interests)
	return nil
}

// Reregister implements Selector.
func (s *iocpSelector) Reregister(handle Handle, token Token, interests Interests, opts PollOpt) error {
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
	s.arm(reg, interests)
	return nil
}

// Deregister implements Selector.
func (s *iocpSelector) Deregister(handle Handle) error {
	s.mu.Lock()
	_, ok := s.regs[handle]
	if ok {
		delete(s.regs, handle)
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotRegistered
	}
	// Any zero-byte probe already posted for handle still completes; its
	// arrival finds no entry in regs and is dropped silently by
	// handleCompletion. Windows reclaims the handle's IOCP association when
	// the handle itself is closed by the caller.
	return nil
}

func (s *iocpSelector) arm(reg *iocpRegistration, interests Interests) {
	if interests.IsReadable() && reg.readPosted.CompareAndSwap(false, true) {
		if err := windows.WSARecv(windows.Handle(reg.handle), nil, 0, new(uint32), new(uint32), &reg.readOv.Overlapped, 0); err != nil && err != windows.ERROR_IO_PENDING {
			reg.readPosted.Store(false)
			log.Debugf("tpoll: WSARecv probe failed: %v", err)
		}
	}
	if interests.IsWritable() && reg.writePosted.CompareAndSwap(false, true) {
		if err := windows.WSASend(windows.Handle(reg.handle), nil, 0, new(uint32), 0, &reg.writeOv.Overlapped, 0); err != nil && err != windows.ERROR_IO_PENDING {
			reg.writePosted.Store(false)
			log.Debugf("tpoll: WSASend probe failed: %v", err)
		}
	}
}

// Select implements Selector.
func (s *iocpSelector) Select(out *Events, timeout *time.Duration) (int, error) {
	out.reset()
	if timeout != nil && *timeout == 0 {
		metrics.Add(metrics.SelectNoWait, 1)
	} else {
		metrics.Add(metrics.SelectCalls, 1)
	}

	first := true
	wokeInternal := false
	for out.Remaining() > 0 {
		var wait *time.Duration
		if first {
			wait = timeout
		} else {
			zero := time.Duration(0)
			wait = &zero
		}
		key, bytes, ov, err := s.wait(wait)
		if err == errIOCPTimeout {
			break
		}
		if err != nil {
			if first {
				return 0, err
			}
			break
		}
		first = false
		if s.handleCompletion(out, key, bytes, ov) {
			wokeInternal = true
		}
	}
	if wokeInternal {
		s.drainCustom(out)
	}
	metrics.Add(metrics.SelectEvents, uint64(out.Len()))
	return out.Len(), nil
}

var errIOCPTimeout = errors.New("iocp wait timeout")

func (s *iocpSelector) wait(timeout *time.Duration) (key uintptr, bytes uint32, ov *windows.Overlapped, err error) {
	ms := uint32(windows.INFINITE)
	if timeout != nil {
		ms = uint32(timeout.Milliseconds())
	}
	e := windows.GetQueuedCompletionStatus(s.iocp, &bytes, &key, &ov, ms)
	if e == nil {
		return key, bytes, ov, nil
	}
	if e == windows.WAIT_TIMEOUT {
		return 0, 0, nil, errIOCPTimeout
	}
	return 0, 0, nil, errors.Wrap(e, "GetQueuedCompletionStatus")
}

func (s *iocpSelector) handleCompletion(out *Events, key uintptr, bytes uint32, ov *windows.Overlapped) bool {
	if ov == nil {
		// A PostQueuedCompletionStatus wake, not a real I/O completion.
		if key == 0 {
			return true
		}
		s.mu.RLock()
		w, ok := s.wakers[uint64(key)]
		s.mu.RUnlock()
		if ok {
			metrics.Add(metrics.WakerDeliveries, 1)
			out.push(Event{Token: w.token, Readiness: ReadinessReadable})
		}
		return false
	}
	s.mu.RLock()
	reg, ok := s.regs[Handle(key)]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	iow := (*iocpOverlapped)(unsafe.Pointer(ov))
	token, interests, opts := reg.load()
	var r Readiness
	switch iow.kind {
	case opRead:
		reg.readPosted.Store(false)
		if interests.IsReadable() {
			r |= ReadinessReadable
		}
	case opWrite:
		reg.writePosted.Store(false)
		if interests.IsWritable() {
			r |= ReadinessWritable
		}
	}
	metrics.Add(metrics.IOCPCompletions, 1)
	if !r.IsEmpty() {
		deliver := true
		if opts.IsOneshot() {
			deliver = reg.armed.CompareAndSwap(true, false)
		}
		if deliver {
			out.push(Event{Token: token, Readiness: r})
		}
	}
	if !opts.IsOneshot() {
		// TODO: re-posting the probe here means a busy writable source can
		// fill out with repeated completions for the same registration in
		// one Select call; latch the readiness on reg instead of
		// re-arming unconditionally so Select coalesces them like the
		// kqueue backend's coalesced map does.
		s.arm(reg, interests)
	}
	return false
}

func (s *iocpSelector) drainCustom(out *Events) {
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

// Close implements Selector.
func (s *iocpSelector) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return windows.CloseHandle(s.iocp)
}

// NewWaker implements Selector.
func (s *iocpSelector) NewWaker(token Token) (Waker, error) {
	key := s.nextWakerKey.Add(1) - 1
	w := &iocpWaker{sel: s, key: key, token: token}
	s.mu.Lock()
	s.wakers[key] = w
	s.mu.Unlock()
	return w, nil
}

func (s *iocpSelector) RegisterCustom(node *CustomNode, token Token, interests Interests, opts PollOpt) error {
	if interests.Empty() {
		return ErrInvalidInterests
	}
	node.bind(s, token, interests, opts)
	if node.Readiness()&fromInterests(interests) != 0 {
		s.Publish(node)
	}
	return nil
}

func (s *iocpSelector) ReregisterCustom(node *CustomNode, token Token, interests Interests, opts PollOpt) error {
	return s.RegisterCustom(node, token, interests, opts)
}

func (s *iocpSelector) DeregisterCustom(node *CustomNode) error {
	node.unbind()
	return nil
}

func (s *iocpSelector) Publish(node *CustomNode) {
	if s.queue.push(node) {
		metrics.Add(metrics.CustomPublished, 1)
		if err := s.internal.Wake(); err != nil {
			log.Debugf("tpoll: internal wake failed: %v", err)
		}
	}
}
