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

// Registry is the registration side of a Poll: the only thing Sources ever
// touch directly. It is obtained from Poll.Registry and is safe to share
// across goroutines and to call concurrently with an in-flight Poll.Poll.
type Registry struct {
	sel selector.Selector
}

func newRegistry(sel selector.Selector) *Registry {
	return &Registry{sel: sel}
}

// Register binds s under token/interests/opts. It is equivalent to calling
// s.Register(r, token, interests, opts); Source implementations call back
// into RegisterHandle (fd-backed sources) or the package-private
// custom-node methods (CustomRegistration).
func (r *Registry) Register(s Source, token Token, interests Interests, opts PollOpt) error {
	return s.Register(r, token, interests, opts)
}

// Reregister changes the token/interests/opts of an existing registration
// of s.
func (r *Registry) Reregister(s Source, token Token, interests Interests, opts PollOpt) error {
	return s.Reregister(r, token, interests, opts)
}

// Deregister removes the registration of s.
func (r *Registry) Deregister(s Source) error {
	return s.Deregister(r)
}

// RegisterHandle binds a raw Handle (file descriptor or socket handle)
// under token/interests/opts. Fd-backed Sources in the net subpackage call
// this from their Register method.
func (r *Registry) RegisterHandle(h Handle, token Token, interests Interests, opts PollOpt) error {
	return r.sel.Register(h, token, interests, opts)
}

// ReregisterHandle changes the token/interests/opts of an existing
// handle registration.
func (r *Registry) ReregisterHandle(h Handle, token Token, interests Interests, opts PollOpt) error {
	return r.sel.Reregister(h, token, interests, opts)
}

// DeregisterHandle removes a handle's registration.
func (r *Registry) DeregisterHandle(h Handle) error {
	return r.sel.Deregister(h)
}

// registerCustomNode, reregisterCustomNode and deregisterCustomNode back
// CustomRegistration's Source implementation (custom.go, same package).
func (r *Registry) registerCustomNode(n *selector.CustomNode, token Token, interests Interests, opts PollOpt) error {
	return r.sel.RegisterCustom(n, token, interests, opts)
}

func (r *Registry) reregisterCustomNode(n *selector.CustomNode, token Token, interests Interests, opts PollOpt) error {
	return r.sel.ReregisterCustom(n, token, interests, opts)
}

func (r *Registry) deregisterCustomNode(n *selector.CustomNode) error {
	return r.sel.DeregisterCustom(n)
}
