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

// CustomRegistration is a user-owned readiness source with no backing fd:
// its readiness is driven entirely by calls to the paired SetReadiness
// rather than by a kernel notification. It implements Source, so it
// registers with a Registry exactly like any net source.
//
// Readiness set before the first Register is cached and observed as soon
// as Register completes, per spec.md §3's CustomRegistration lifecycle.
//
// Its Source methods do not check registration state: Register on a
// registered CustomRegistration rebinds it to r's Poll instead of returning
// ErrAlreadyRegistered, Reregister on an unregistered one registers it
// instead of returning ErrNotRegistered, Deregister always returns nil, and
// opts is not validated, so ErrInvalidPollOpt is never returned.
type CustomRegistration struct {
	node *selector.CustomNode
}

// SetReadiness is the write side of a CustomRegistration: it may be handed
// to another goroutine (or kept by the same one) to drive the paired
// CustomRegistration's readiness independently of registration state.
type SetReadiness struct {
	node *selector.CustomNode
}

// NewCustomRegistration creates a linked CustomRegistration/SetReadiness
// pair with no readiness bits set.
func NewCustomRegistration() (*CustomRegistration, *SetReadiness) {
	node := selector.NewCustomNode()
	return &CustomRegistration{node: node}, &SetReadiness{node: node}
}

// Register implements Source.
func (c *CustomRegistration) Register(r *Registry, token Token, interests Interests, opts PollOpt) error {
	return r.registerCustomNode(c.node, token, interests, opts)
}

// Reregister implements Source.
func (c *CustomRegistration) Reregister(r *Registry, token Token, interests Interests, opts PollOpt) error {
	return r.reregisterCustomNode(c.node, token, interests, opts)
}

// Deregister implements Source.
func (c *CustomRegistration) Deregister(r *Registry) error {
	return r.deregisterCustomNode(c.node)
}

// SetReadiness merges r into the cached readiness bits and, if the paired
// CustomRegistration is currently registered, wakes the owning Poll so a
// subsequent Poll call observes the change.
func (s *SetReadiness) SetReadiness(r Readiness) error {
	s.node.SetReadiness(r)
	return nil
}
