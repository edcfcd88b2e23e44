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

// Package tpoll is a cross-platform readiness-based I/O notification core,
// unifying Linux epoll, BSD/Darwin kqueue and Windows IOCP behind a single
// programming model: register a Source under a Token and a set of
// Interests, then block in Poll.Poll until a batch of Events reports which
// registrations became ready.
package tpoll

import "trpc.group/trpc-go/tpoll/internal/selector"

// Token is an opaque caller-chosen identifier attached to a registration.
// It is round-tripped unchanged from Register to every Event delivered for
// that registration.
type Token = selector.Token

// Handle identifies a registrable kernel object: a file descriptor on Unix
// backends, a socket handle on Windows. Source implementations obtain one
// from their own fd and pass it to Registry's low-level methods.
type Handle = selector.Handle

// Interests is a non-empty set over {Readable, Writable} describing what a
// caller wants to be notified about.
type Interests = selector.Interests

// Interests bits.
const (
	Readable = selector.Readable
	Writable = selector.Writable
)

// Readiness is a set over {Readable, Writable, Error, Hup} describing
// observed I/O-ready kinds for a source at one wake. Error and Hup are
// never interests: they may be delivered unsolicited.
type Readiness = selector.Readiness

// Readiness bits.
const (
	ReadinessReadable = selector.ReadinessReadable
	ReadinessWritable = selector.ReadinessWritable
	ReadinessError    = selector.ReadinessError
	ReadinessHup      = selector.ReadinessHup
)

// PollOpt is the delivery policy for a registration: exactly one of
// Edge/Level, optionally combined with Oneshot.
type PollOpt = selector.PollOpt

// Edge returns an edge-triggered PollOpt: a registration only reports a
// readiness transition once, and the caller must drain the source until it
// would block before the next transition is observed.
func Edge() PollOpt { return selector.Edge() }

// Level returns a level-triggered PollOpt: a registration keeps reporting
// readiness on every Poll call for as long as the condition holds.
func Level() PollOpt { return selector.Level() }

// Oneshot composes opt with the oneshot flag: after one event is delivered,
// the registration is automatically disarmed until Reregister rearms it.
func Oneshot(opt PollOpt) PollOpt { return selector.Oneshot(opt) }

// Event is a (Token, Readiness) pair returned by a Poll call.
type Event = selector.Event

// Events is an ordered, fixed-capacity, reusable batch of Event values.
// Poll overwrites it in place up to its capacity.
type Events = selector.Events

// NewEvents allocates an Events batch with the given fixed capacity.
func NewEvents(capacity int) *Events {
	return selector.NewEvents(capacity)
}
