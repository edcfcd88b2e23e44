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

import "time"

// Handle identifies a registrable kernel object to the selector. On Unix
// backends it is a file descriptor; on the Windows backend it is a socket
// handle. The zero value never identifies a live object.
type Handle uintptr

// Waker is the backend-specific object that can unblock a concurrent
// Select call and have it observe a synthetic (token, Readable) event.
// Package tpoll's exported Waker is a thin wrapper around this.
type Waker interface {
	// Wake causes some current or future Select call to return an event
	// carrying this waker's token. Multiple Wake calls may coalesce.
	Wake() error
	// Close releases the waker's kernel resources. It does not affect the
	// selector itself.
	Close() error
}

// Selector is the per-Poll backend: epoll on Linux, kqueue on BSD/Darwin,
// IOCP on Windows. It is the only component that touches kernel
// multiplexing APIs. All methods are safe to call concurrently with each
// other and with a concurrent Select, except Select itself which must
// only ever have one caller in flight at a time (see package tpoll's Poll,
// which enforces single-caller serialization).
type Selector interface {
	// Register binds handle to token/interests/opts. Returns
	// ErrAlreadyRegistered if handle is already registered with this
	// selector, ErrInvalidInterests if interests is empty. Registration with
	// another selector is not detected here.
	Register(handle Handle, token Token, interests Interests, opts PollOpt) error
	// Reregister changes the token/interests/opts of an existing
	// registration. Returns ErrNotRegistered if handle isn't registered.
	Reregister(handle Handle, token Token, interests Interests, opts PollOpt) error
	// Deregister removes the registration for handle. After it returns, no
	// later Select call observes new events for handle (already-materialized
	// events in an unread Events batch may still surface).
	Deregister(handle Handle) error

	// Select blocks until at least one event is materialized, timeout
	// elapses, or a spurious wakeup occurs, then fills events up to its
	// capacity and returns the count. timeout == nil means wait
	// indefinitely; a zero duration means poll without blocking.
	Select(events *Events, timeout *time.Duration) (int, error)

	// Close releases the selector's kernel resources (epoll/kqueue fd,
	// internal wake fd, IOCP handle). Registered sources are not closed.
	Close() error

	// NewWaker creates a backend-specific Waker bound to this selector,
	// publishing token on Wake.
	NewWaker(token Token) (Waker, error)

	// RegisterCustom, ReregisterCustom and DeregisterCustom bind a
	// CustomNode (see custom.go) to this selector so that Publish can wake
	// a blocked Select and have it drain the node during the next pass.
	RegisterCustom(node *CustomNode, token Token, interests Interests, opts PollOpt) error
	ReregisterCustom(node *CustomNode, token Token, interests Interests, opts PollOpt) error
	DeregisterCustom(node *CustomNode) error
	// Publish enqueues node onto the selector's pending queue (if not
	// already pending) and wakes a blocked Select.
	Publish(node *CustomNode)
}

// New constructs the platform-appropriate Selector.
func New() (Selector, error) {
	return newSelector()
}
