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

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

// Package iovec provides utilities to work with unix.Iovec for the
// readv/writev batching used by TCPStream.
package iovec

import "golang.org/x/sys/unix"

// DefaultLength is the default IOData vector capacity.
const DefaultLength = 8

// IOData wraps byte slices and the unix.Iovec slice describing them, kept
// in sync by SetIOVec.
type IOData struct {
	ByteVec [][]byte
	IOVec   []unix.Iovec
}

// NewIOData creates an IOData with vector capacity length.
func NewIOData(length int) IOData {
	if length <= 0 {
		length = DefaultLength
	}
	return IOData{
		ByteVec: make([][]byte, length),
		IOVec:   make([]unix.Iovec, length),
	}
}

// IsNil reports whether d hasn't been allocated.
func (d *IOData) IsNil() bool {
	return d.ByteVec == nil || d.IOVec == nil
}

// Release clears the first sliceCnt entries so they can be garbage
// collected, without shrinking the backing arrays.
func (d *IOData) Release(sliceCnt int) {
	if sliceCnt > len(d.ByteVec) {
		sliceCnt = len(d.ByteVec)
	}
	for i := 0; i < sliceCnt; i++ {
		d.ByteVec[i] = nil
		d.IOVec[i].Base = nil
	}
}

// Reset truncates both vectors to length 0, keeping their backing arrays.
func (d *IOData) Reset() {
	d.ByteVec = d.ByteVec[:0]
	d.IOVec = d.IOVec[:0]
}
