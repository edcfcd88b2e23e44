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

// Package net provides fd-backed tpoll.Source implementations: TCP, UDP and
// Unix-domain listeners and connections, each non-blocking and driven
// entirely by the readiness events a Poll reports for it.
package net

import (
	"io"
	"net"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"trpc.group/trpc-go/tpoll"
	"trpc.group/trpc-go/tpoll/internal/netutil"
)

type fdType int

const (
	fdTCP fdType = iota
	fdUDP
	fdUnix
	fdUnixgram
	fdListen
)

// netFD is the common fd-backed Source embedded by every type in this
// package. It owns the raw file descriptor and the bookkeeping needed to
// register, reregister and deregister it against exactly one Registry.
type netFD struct {
	fd     int
	fdtype fdType
	laddr  net.Addr
	raddr  net.Addr
	closed atomic.Bool
	locker sync.Mutex
	reg    *tpoll.Registry

	// sock, when set, is the *net.TCPConn/*net.UDPConn/*net.UnixConn (or
	// *net.TCPListener) this fd was taken from via netutil.GetFD. Closing
	// through it instead of a raw unix.Close avoids racing the Go runtime's
	// finalizer for that object, which would otherwise also try to close
	// the fd.
	sock io.Closer
}

// FD returns the underlying file descriptor.
func (nfd *netFD) FD() int { return nfd.fd }

// LocalAddr returns the local network address.
func (nfd *netFD) LocalAddr() net.Addr { return nfd.laddr }

// RemoteAddr returns the remote network address, nil for listeners and
// unconnected packet sockets.
func (nfd *netFD) RemoteAddr() net.Addr { return nfd.raddr }

// Register implements tpoll.Source.
func (nfd *netFD) Register(r *tpoll.Registry, token tpoll.Token, interests tpoll.Interests, opts tpoll.PollOpt) error {
	nfd.locker.Lock()
	defer nfd.locker.Unlock()
	if nfd.closed.Load() {
		return tpoll.ErrNotRegistered
	}
	if nfd.reg != nil {
		return tpoll.ErrAlreadyRegistered
	}
	if err := r.RegisterHandle(tpoll.Handle(nfd.fd), token, interests, opts); err != nil {
		return err
	}
	nfd.reg = r
	return nil
}

// Reregister implements tpoll.Source.
func (nfd *netFD) Reregister(r *tpoll.Registry, token tpoll.Token, interests tpoll.Interests, opts tpoll.PollOpt) error {
	nfd.locker.Lock()
	defer nfd.locker.Unlock()
	if nfd.closed.Load() || nfd.reg == nil {
		return tpoll.ErrNotRegistered
	}
	if nfd.reg != r {
		return tpoll.ErrWrongPoll
	}
	return r.ReregisterHandle(tpoll.Handle(nfd.fd), token, interests, opts)
}

// Deregister implements tpoll.Source.
func (nfd *netFD) Deregister(r *tpoll.Registry) error {
	nfd.locker.Lock()
	defer nfd.locker.Unlock()
	if nfd.reg == nil {
		return tpoll.ErrNotRegistered
	}
	if nfd.reg != r {
		return tpoll.ErrWrongPoll
	}
	err := r.DeregisterHandle(tpoll.Handle(nfd.fd))
	nfd.reg = nil
	return err
}

// close is idempotent and safe to call concurrently with Register/
// Reregister/Deregister: it deregisters from the last-known Registry (best
// effort) before closing the fd.
func (nfd *netFD) close() error {
	if !nfd.closed.CAS(false, true) {
		return nil
	}
	nfd.locker.Lock()
	reg := nfd.reg
	nfd.reg = nil
	nfd.locker.Unlock()
	if reg != nil {
		reg.DeregisterHandle(tpoll.Handle(nfd.fd))
	}
	if nfd.sock != nil {
		return nfd.sock.Close()
	}
	return unix.Close(nfd.fd)
}

// setNoDelay sets or clears TCP_NODELAY.
func (nfd *netFD) setNoDelay(noDelay bool) error {
	v := 0
	if noDelay {
		v = 1
	}
	return unix.SetsockoptInt(nfd.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}

// setKeepAlive enables TCP keepalive with the given period in seconds, or
// disables it when secs <= 0.
func (nfd *netFD) setKeepAlive(secs int) error {
	if secs <= 0 {
		return unix.SetsockoptInt(nfd.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 0)
	}
	return netutil.SetKeepAlive(nfd.fd, secs)
}

// translateIOErr maps EAGAIN/EWOULDBLOCK to tpoll.ErrWouldBlock so callers
// can use errors.Is uniformly across platforms.
func translateIOErr(err error) error {
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return tpoll.ErrWouldBlock
	}
	return err
}
