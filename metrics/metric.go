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

// Package metrics provides tpoll runtime monitoring counters, useful for
// tuning poller batch sizes and diagnosing custom-readiness publish volume.
package metrics

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// All metrics definitions.
const (
	// SelectCalls counts selector Select invocations that actually blocked in the kernel.
	SelectCalls = iota
	// SelectNoWait counts selector Select invocations issued with a zero timeout.
	SelectNoWait
	// SelectEvents counts the total number of events returned across all Select calls.
	SelectEvents
	// WakerWakes counts Waker.Wake invocations, including coalesced ones.
	WakerWakes
	// WakerDeliveries counts the number of waker events actually delivered to a Select caller.
	WakerDeliveries
	// CustomPublished counts custom-registration nodes pushed onto a selector's pending queue.
	CustomPublished
	// CustomDelivered counts custom-registration events materialized by a Select call.
	CustomDelivered
	// IOCPCompletions counts completion packets drained from the IOCP queue.
	IOCPCompletions
	// Max is the number of defined counters.
	Max
)

var counters [Max]atomic.Uint64

// Add adds delta to the named counter.
func Add(name int, delta uint64) {
	if name < 0 || name >= Max {
		return
	}
	counters[name].Add(delta)
}

// Get returns the value of the named counter.
func Get(name int) uint64 {
	if name < 0 || name >= Max {
		return 0
	}
	return counters[name].Load()
}

// GetAll returns a snapshot of all counters.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range counters {
		m[i] = counters[i].Load()
	}
	return m
}

// ShowMetrics prints a snapshot of all counters to stdout.
func ShowMetrics() {
	m := GetAll()
	fmt.Printf("######### tpoll metrics (%s) ###########\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Printf("%-40s: %d\n", "# selector Select calls (blocking)", m[SelectCalls])
	fmt.Printf("%-40s: %d\n", "# selector Select calls (non-blocking)", m[SelectNoWait])
	fmt.Printf("%-40s: %d\n", "# total events returned", m[SelectEvents])
	fmt.Printf("%-40s: %d\n", "# Waker.Wake calls", m[WakerWakes])
	fmt.Printf("%-40s: %d\n", "# Waker events delivered", m[WakerDeliveries])
	fmt.Printf("%-40s: %d\n", "# custom readiness published", m[CustomPublished])
	fmt.Printf("%-40s: %d\n", "# custom readiness delivered", m[CustomDelivered])
	fmt.Printf("%-40s: %d\n", "# IOCP completions drained", m[IOCPCompletions])
}
