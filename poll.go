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
	"time"

	"trpc.group/trpc-go/tpoll/internal/locker"
	"trpc.group/trpc-go/tpoll/internal/selector"
)

// Poll owns one platform selector (epoll/kqueue/IOCP) and the Registry
// bound to it. A process may hold any number of independent Polls, each
// with its own token namespace.
type Poll struct {
	registry *Registry
	pollLock *locker.Locker
}

// New constructs a Poll backed by the platform-appropriate selector.
func New() (*Poll, error) {
	sel, err := selector.New()
	if err != nil {
		return nil, err
	}
	return &Poll{
		registry: newRegistry(sel),
		pollLock: locker.New(),
	}, nil
}

// Registry returns the Registry used to register, reregister and
// deregister Sources against this Poll. It may be shared across goroutines
// and used concurrently with an in-flight Poll call.
func (p *Poll) Registry() *Registry {
	return p.registry
}

// Poll blocks until at least one registered Source becomes ready, timeout
// elapses, or a spurious wakeup occurs, then fills events (up to its fixed
// capacity) and returns how many were written. timeout == nil waits
// indefinitely; a zero duration polls without blocking.
//
// Only one goroutine may be inside Poll at a time; concurrent callers are
// serialized, not rejected.
func (p *Poll) Poll(events *Events, timeout *time.Duration) (int, error) {
	p.pollLock.Lock()
	defer p.pollLock.Unlock()
	return p.registry.sel.Select(events, timeout)
}

// Close releases the Poll's kernel resources. Registered sources are not
// closed; callers must deregister and close them independently.
func (p *Poll) Close() error {
	return p.registry.sel.Close()
}
