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

import "trpc.group/trpc-go/tpoll/internal/selector"

// Waker lets any goroutine unblock a concurrent Poll call from outside the
// normal readiness flow: calling Wake causes some current or future Poll
// call on the Poll it was created from to return an Event{token, Readable}.
// Multiple Wake calls before the next Poll call may coalesce into one
// Event.
type Waker struct {
	inner selector.Waker
}

// NewWaker creates a Waker bound to r's Poll, publishing token on Wake.
func NewWaker(r *Registry, token Token) (*Waker, error) {
	w, err := r.sel.NewWaker(token)
	if err != nil {
		return nil, err
	}
	return &Waker{inner: w}, nil
}

// Wake unblocks a current or future Poll call on the owning Poll.
func (w *Waker) Wake() error {
	return w.inner.Wake()
}

// Close releases the waker's kernel resources. It does not affect the
// owning Poll.
func (w *Waker) Close() error {
	return w.inner.Close()
}
