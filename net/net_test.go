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

package net_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/tpoll"
	tnet "trpc.group/trpc-go/tpoll/net"
)

// pollUntilEstablished is a small helper used where a test only needs to know
// that a non-blocking connect finished, without needing a full Poll/Registry
// round trip: it polls Established in a tight loop bounded by a deadline.
func pollUntilEstablished(t *testing.T, established func() error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := established(); err == nil {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("connect did not complete in time")
}

func TestTCPStreamWritev(t *testing.T) {
	ln, err := tnet.ListenTCP("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	dialer, err := tnet.DialTCP("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer dialer.Close()

	var accepted *tnet.TCPStream
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		accepted, err = ln.Accept()
		if err == nil {
			break
		}
		if !errors.Is(err, tpoll.ErrWouldBlock) {
			require.NoError(t, err)
		}
		time.Sleep(time.Millisecond)
	}
	require.NotNil(t, accepted)
	defer accepted.Close()

	pollUntilEstablished(t, dialer.Established)

	n, err := dialer.Writev([][]byte{[]byte("foo"), []byte("bar")})
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	buf := make([]byte, 16)
	readDeadline := time.Now().Add(2 * time.Second)
	var total int
	for total < 6 && time.Now().Before(readDeadline) {
		m, err := accepted.Read(buf[total:])
		if err != nil {
			if errors.Is(err, tpoll.ErrWouldBlock) {
				time.Sleep(time.Millisecond)
				continue
			}
			require.NoError(t, err)
		}
		total += m
	}
	assert.Equal(t, "foobar", string(buf[:total]))
}

func TestUnixStreamEcho(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tpoll-test.sock")

	ln, err := tnet.ListenUnix(path)
	require.NoError(t, err)
	defer ln.Close()

	dialer, err := tnet.DialUnix(path)
	require.NoError(t, err)
	defer dialer.Close()

	var accepted *tnet.UnixStream
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		accepted, err = ln.Accept()
		if err == nil {
			break
		}
		if !errors.Is(err, tpoll.ErrWouldBlock) {
			require.NoError(t, err)
		}
		time.Sleep(time.Millisecond)
	}
	require.NotNil(t, accepted)
	defer accepted.Close()

	pollUntilEstablished(t, dialer.Established)

	_, err = dialer.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	readDeadline := time.Now().Add(2 * time.Second)
	var n int
	for n == 0 && time.Now().Before(readDeadline) {
		var err error
		n, err = accepted.Read(buf)
		if err != nil {
			if errors.Is(err, tpoll.ErrWouldBlock) {
				time.Sleep(time.Millisecond)
				continue
			}
			require.NoError(t, err)
		}
	}
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestUnixDatagram(t *testing.T) {
	aPath := filepath.Join(t.TempDir(), "a.sock")
	bPath := filepath.Join(t.TempDir(), "b.sock")

	a, err := tnet.ListenUnixgram(aPath)
	require.NoError(t, err)
	defer a.Close()

	b, err := tnet.ListenUnixgram(bPath)
	require.NoError(t, err)
	defer b.Close()

	_, err = a.WriteTo([]byte("hi"), b.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, 16)
	deadline := time.Now().Add(2 * time.Second)
	var n int
	for n == 0 && time.Now().Before(deadline) {
		var rerr error
		n, _, rerr = b.ReadFrom(buf)
		if rerr != nil {
			if errors.Is(rerr, tpoll.ErrWouldBlock) {
				time.Sleep(time.Millisecond)
				continue
			}
			require.NoError(t, rerr)
		}
	}
	assert.Equal(t, "hi", string(buf[:n]))
}
