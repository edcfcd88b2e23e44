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
	"sync/atomic"
)

// stateRegistered marks that a node has been bound to a selector via
// RegisterCustom. stateBitsShift is where the cached readiness bits start;
// the low bits below it are flags.
const (
	stateRegistered uint32 = 1 << 0
	statePending    uint32 = 1 << 1
	stateArmed      uint32 = 1 << 2 // cleared once a oneshot registration fires
	stateBitsShift         = 8
)

// CustomNode is the shared state behind one CustomRegistration: a single
// machine-word atomic holding the current readiness bits plus flags, and
// an intrusive next-pointer used only while the node sits in a selector's
// pending queue. It is co-owned by the source handle and the
// set-readiness handle described in spec.md §3 "CustomRegistration
// lifecycle"; either may be dropped independently without invalidating
// the other's use of the node.
type CustomNode struct {
	mu        sync.Mutex
	next      *CustomNode
	state     atomic.Uint32
	token     Token
	interests Interests
	opts      PollOpt
	sel       Selector
}

// NewCustomNode allocates an unregistered node with no readiness bits set.
func NewCustomNode() *CustomNode {
	return &CustomNode{}
}

// SetReadiness atomically ORs new into the cached readiness bits. It
// reports whether the word actually changed and, if the node is currently
// bound to a selector, arranges for that selector to observe the change
// (pushing the node onto the pending queue and waking Select) exactly
// once per transition out of "quiescent".
func (n *CustomNode) SetReadiness(new Readiness) bool {
	for {
		old := n.state.Load()
		oldBits := Readiness(old >> stateBitsShift)
		merged := oldBits | new
		if merged == oldBits {
			return false // no new bits, nothing to publish
		}
		updated := (old &^ (0xff << stateBitsShift)) | uint32(merged)<<stateBitsShift
		if n.state.CompareAndSwap(old, updated) {
			n.maybePublish()
			return true
		}
	}
}

// Readiness returns the currently cached readiness bits.
func (n *CustomNode) Readiness() Readiness {
	return Readiness(n.state.Load() >> stateBitsShift)
}

// clearReadiness atomically clears bits from the cached word, returning
// what was cleared. Used by the selector while draining the pending queue.
// An unbound node, or a oneshot node that has already fired, reports no
// bits and keeps them cached, so they are observed after the next bind.
func (n *CustomNode) clearReadiness() Readiness {
	_, opts := n.TokenOpts()
	for {
		old := n.state.Load()
		if old&stateRegistered == 0 || (opts.IsOneshot() && old&stateArmed == 0) {
			return 0
		}
		bits := Readiness(old >> stateBitsShift)
		if bits == 0 {
			return 0
		}
		updated := old &^ (0xff << stateBitsShift)
		if n.state.CompareAndSwap(old, updated) {
			return bits
		}
	}
}

// Interests returns the interests recorded at the last register/reregister.
func (n *CustomNode) Interests() Interests {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.interests
}

// TokenOpts returns the token/opts recorded at the last register/reregister.
func (n *CustomNode) TokenOpts() (Token, PollOpt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.token, n.opts
}

// bind associates the node with a selector and records its registration
// parameters. Called by RegisterCustom/ReregisterCustom; each call rearms
// a oneshot registration, matching the fd-backed registrations' armed
// field being reset on both Register and Reregister.
func (n *CustomNode) bind(sel Selector, token Token, interests Interests, opts PollOpt) {
	n.mu.Lock()
	n.sel = sel
	n.token = token
	n.interests = interests
	n.opts = opts
	n.mu.Unlock()
	n.setFlag(stateArmed, true)
	n.setFlag(stateRegistered, true)
}

// disarmOnce clears stateArmed if it is set, reporting whether it did. Used
// by drainCustom to honor Oneshot: only the first successful disarm after a
// bind delivers an event; later attempts (before the next Reregister) drop
// silently, same as the fd-backed registrations' armed.CompareAndSwap.
func (n *CustomNode) disarmOnce() bool {
	for {
		old := n.state.Load()
		if old&stateArmed == 0 {
			return false
		}
		updated := old &^ stateArmed
		if n.state.CompareAndSwap(old, updated) {
			return true
		}
	}
}

// unbind clears the selector association; the node keeps its cached
// readiness bits, and a drain of a node still pending from before unbind
// delivers nothing, since clearReadiness reports no bits for it.
func (n *CustomNode) unbind() {
	n.mu.Lock()
	n.sel = nil
	n.mu.Unlock()
	n.setFlag(stateRegistered, false)
}

// setFlag atomically sets or clears a single flag bit without disturbing
// the cached readiness bits or the other flags.
func (n *CustomNode) setFlag(bit uint32, on bool) {
	for {
		old := n.state.Load()
		var updated uint32
		if on {
			updated = old | bit
		} else {
			updated = old &^ bit
		}
		if old == updated || n.state.CompareAndSwap(old, updated) {
			return
		}
	}
}

// selector returns the currently bound selector, or nil.
func (n *CustomNode) selector() Selector {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sel
}

// maybePublish pushes the node onto its selector's pending queue (if it is
// bound to one and not already pending) and wakes that selector.
func (n *CustomNode) maybePublish() {
	sel := n.selector()
	if sel == nil {
		// set_readiness before registration: the bits stay cached on the
		// node and are observed by the first poll-drain after the source
		// is eventually registered, since RegisterCustom re-checks them.
		return
	}
	sel.Publish(n)
}

// customQueue is a lock-free (Treiber-stack) singly-linked pending list,
// embedded by each backend Selector. set-readiness pushes; Select drains.
type customQueue struct {
	head atomic.Pointer[CustomNode]
}

// push enqueues node unless it is already marked pending, returning whether
// it pushed. Safe for concurrent callers.
func (q *customQueue) push(node *CustomNode) bool {
	for {
		state := node.state.Load()
		if state&statePending != 0 {
			return false
		}
		if !node.state.CompareAndSwap(state, state|statePending) {
			continue
		}
		break
	}
	for {
		head := q.head.Load()
		node.next = head
		if q.head.CompareAndSwap(head, node) {
			return true
		}
	}
}

// drainAll atomically takes the whole list and returns it head-first. The
// order among nodes pushed in the same batch is unspecified, matching
// spec.md §5's "order of events is unspecified" guarantee.
func (q *customQueue) drainAll() []*CustomNode {
	head := q.head.Swap(nil)
	var nodes []*CustomNode
	for n := head; n != nil; {
		next := n.next
		n.next = nil
		n.setFlag(statePending, false)
		nodes = append(nodes, n)
		n = next
	}
	return nodes
}
