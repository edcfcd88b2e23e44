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

import "errors"

// Sentinel errors returned by registration operations. Callers are expected
// to compare with errors.Is; package tpoll re-exports these under its own
// names so they survive the %w chain unchanged.
var (
	// ErrAlreadyRegistered is returned when Register is called twice for the
	// same handle on the same selector.
	ErrAlreadyRegistered = errors.New("selector: handle already registered")
	// ErrNotRegistered is returned by Reregister/Deregister for a handle that
	// was never registered (or was already deregistered).
	ErrNotRegistered = errors.New("selector: handle not registered")
	// ErrInvalidInterests is returned by Register when interests is empty.
	ErrInvalidInterests = errors.New("selector: interests must not be empty")
	// ErrInvalidPollOpt is returned when opt does not set exactly one of edge/level.
	ErrInvalidPollOpt = errors.New("selector: exactly one of edge or level must be set")
	// ErrClosed names the closed-selector condition. No backend returns it:
	// operations on a closed selector fail with the error of the closed
	// kernel handle instead.
	ErrClosed = errors.New("selector: closed")
)
