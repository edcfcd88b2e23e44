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

package tpoll

import (
	"errors"

	"trpc.group/trpc-go/tpoll/internal/selector"
)

// Sentinel errors. Compare with errors.Is; Registry methods return the
// selector's error unchanged: the registration sentinels below as they are,
// syscall failures wrapped with the failing operation's context.
var (
	// ErrWouldBlock is returned by a Source's I/O methods when the
	// operation cannot complete without blocking. It carries no
	// syscall-level information; sources that wrap a raw fd normally
	// return this in place of EAGAIN/EWOULDBLOCK.
	ErrWouldBlock = errors.New("tpoll: operation would block")
	// ErrAlreadyRegistered is returned by Registry.Register for a net
	// source already registered with some Poll. CustomRegistration does not
	// return it (see its doc).
	ErrAlreadyRegistered = selector.ErrAlreadyRegistered
	// ErrNotRegistered is returned by Registry.Reregister/Deregister for a
	// net source that isn't currently registered. CustomRegistration does
	// not return it (see its doc).
	ErrNotRegistered = selector.ErrNotRegistered
	// ErrInvalidInterests is returned when interests is empty.
	ErrInvalidInterests = selector.ErrInvalidInterests
	// ErrInvalidPollOpt is returned when opt does not set exactly one of
	// Edge or Level. CustomRegistration does not validate opt.
	ErrInvalidPollOpt = selector.ErrInvalidPollOpt
	// ErrWrongPoll is returned by a net source's Reregister/Deregister when
	// the source is registered with one Poll and is passed to a Registry
	// belonging to a different Poll.
	ErrWrongPoll = errors.New("tpoll: source belongs to a different Poll")
)
