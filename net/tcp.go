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

package net

import (
	"fmt"
	"io"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"

	"trpc.group/trpc-go/tpoll"
	"trpc.group/trpc-go/tpoll/internal/iovec"
	"trpc.group/trpc-go/tpoll/internal/netutil"
	"trpc.group/trpc-go/tpoll/internal/reuseport"
)

// TCPListener is a non-blocking TCP listener Source. Registering it
// readable signals that Accept will return a connection without blocking.
type TCPListener struct {
	nfd netFD
}

// ListenTCP creates a non-blocking TCP listener bound to address. network
// is one of "tcp", "tcp4", "tcp6".
func ListenTCP(network, address string) (*TCPListener, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("ListenTCP: unexpected listener type %T for network %q", ln, network)
	}
	return newTCPListener(tcpLn)
}

// ListenTCPReusable is like ListenTCP but sets SO_REUSEPORT, so several
// processes (or several Polls in one process) may each bind a listener to
// the same address.
func ListenTCPReusable(network, address string) (*TCPListener, error) {
	ln, err := reuseport.ListenTCP(network, address)
	if err != nil {
		return nil, err
	}
	return newTCPListener(ln)
}

func newTCPListener(ln *net.TCPListener) (*TCPListener, error) {
	fd, err := netutil.GetFD(ln)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("TCP listener fd: %w", err)
	}
	if err := netutil.SetNonblock(fd); err != nil {
		ln.Close()
		return nil, fmt.Errorf("TCP listener nonblock: %w", err)
	}
	return &TCPListener{nfd: netFD{fd: fd, fdtype: fdListen, laddr: ln.Addr(), sock: ln}}, nil
}

// Register implements tpoll.Source.
func (t *TCPListener) Register(r *tpoll.Registry, token tpoll.Token, interests tpoll.Interests, opts tpoll.PollOpt) error {
	return t.nfd.Register(r, token, interests, opts)
}

// Reregister implements tpoll.Source.
func (t *TCPListener) Reregister(r *tpoll.Registry, token tpoll.Token, interests tpoll.Interests, opts tpoll.PollOpt) error {
	return t.nfd.Reregister(r, token, interests, opts)
}

// Deregister implements tpoll.Source.
func (t *TCPListener) Deregister(r *tpoll.Registry) error {
	return t.nfd.Deregister(r)
}

// FD returns the listener's file descriptor.
func (t *TCPListener) FD() int { return t.nfd.FD() }

// Addr returns the listener's local address.
func (t *TCPListener) Addr() net.Addr { return t.nfd.LocalAddr() }

// Close closes the listener.
func (t *TCPListener) Close() error { return t.nfd.close() }

// Accept accepts a pending connection without blocking, returning
// tpoll.ErrWouldBlock if none is pending. The caller is expected to call
// Accept only after observing a readable event for t (or, under level
// triggering, in a loop until ErrWouldBlock).
func (t *TCPListener) Accept() (*TCPStream, error) {
	fd, sa, err := netutil.Accept(t.nfd.FD())
	if err != nil {
		return nil, translateIOErr(err)
	}
	stream := &TCPStream{
		nfd: netFD{
			fd:     fd,
			fdtype: fdTCP,
			laddr:  t.nfd.LocalAddr(),
			raddr:  netutil.SockaddrToTCPOrUnixAddr(sa),
		},
	}
	if err := stream.nfd.setNoDelay(true); err != nil {
		stream.Close()
		return nil, fmt.Errorf("accepted stream set no delay: %w", err)
	}
	return stream, nil
}

// TCPStream is a non-blocking TCP connection Source.
type TCPStream struct {
	nfd      netFD
	connDone bool
}

// DialTCP initiates a non-blocking connect to address and returns
// immediately; successful completion (or failure) is signaled by a
// writable event on the registered stream, at which point the caller
// should call Established to learn the outcome, per spec.md's "connect is
// non-blocking: ... successful completion is signaled by a writable
// event."
func DialTCP(network, address string) (*TCPStream, error) {
	raddr, err := net.ResolveTCPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("resolve tcp addr %q: %w", address, err)
	}
	domain := unix.AF_INET
	if raddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	sa, err := netutil.AddrToSockAddr(localAddrFor(raddr), raddr)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}
	stream := &TCPStream{nfd: netFD{fd: fd, fdtype: fdTCP, raddr: raddr}}
	if lsa, err := unix.Getsockname(fd); err == nil {
		stream.nfd.laddr = netutil.SockaddrToTCPOrUnixAddr(lsa)
	}
	if err := stream.nfd.setNoDelay(true); err != nil {
		stream.Close()
		return nil, fmt.Errorf("set no delay: %w", err)
	}
	return stream, nil
}

// localAddrFor returns the IPv4 or IPv6 wildcard TCPAddr matching raddr's
// family, used only to pick the sockaddr family in AddrToSockAddr.
func localAddrFor(raddr *net.TCPAddr) *net.TCPAddr {
	if raddr.IP.To4() != nil {
		return &net.TCPAddr{IP: net.IPv4zero}
	}
	return &net.TCPAddr{IP: net.IPv6zero}
}

// Register implements tpoll.Source.
func (s *TCPStream) Register(r *tpoll.Registry, token tpoll.Token, interests tpoll.Interests, opts tpoll.PollOpt) error {
	return s.nfd.Register(r, token, interests, opts)
}

// Reregister implements tpoll.Source.
func (s *TCPStream) Reregister(r *tpoll.Registry, token tpoll.Token, interests tpoll.Interests, opts tpoll.PollOpt) error {
	return s.nfd.Reregister(r, token, interests, opts)
}

// Deregister implements tpoll.Source.
func (s *TCPStream) Deregister(r *tpoll.Registry) error {
	return s.nfd.Deregister(r)
}

// FD returns the stream's file descriptor.
func (s *TCPStream) FD() int { return s.nfd.FD() }

// LocalAddr returns the stream's local address.
func (s *TCPStream) LocalAddr() net.Addr { return s.nfd.LocalAddr() }

// RemoteAddr returns the stream's remote address.
func (s *TCPStream) RemoteAddr() net.Addr { return s.nfd.RemoteAddr() }

// Close closes the stream.
func (s *TCPStream) Close() error { return s.nfd.close() }

// SetKeepAlive enables or disables TCP keepalive, secs <= 0 disables it.
func (s *TCPStream) SetKeepAlive(secs int) error { return s.nfd.setKeepAlive(secs) }

// Established reports whether an in-progress non-blocking connect (see
// DialTCP) has completed, returning the connect error if it failed. It
// should be called once, after the first writable event following Dial.
func (s *TCPStream) Established() error {
	if s.connDone {
		return nil
	}
	errno, err := unix.GetsockoptInt(s.nfd.FD(), unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("getsockopt SO_ERROR: %w", err)
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	s.connDone = true
	return nil
}

// Read reads into p, returning tpoll.ErrWouldBlock if no data is
// available.
func (s *TCPStream) Read(p []byte) (int, error) {
	n, err := unix.Read(s.nfd.FD(), p)
	if err != nil {
		return n, translateIOErr(err)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write writes p, returning tpoll.ErrWouldBlock if the socket send buffer
// is full.
func (s *TCPStream) Write(p []byte) (int, error) {
	n, err := unix.Write(s.nfd.FD(), p)
	if err != nil {
		return n, translateIOErr(err)
	}
	return n, nil
}

// Writev writes bufs in a single writev(2) batch, returning the total
// bytes written.
func (s *TCPStream) Writev(bufs [][]byte) (int, error) {
	if len(bufs) == 0 {
		return 0, nil
	}
	data := iovec.NewIOData(len(bufs))
	copy(data.ByteVec, bufs)
	data.SetIOVec(len(bufs))
	if len(data.IOVec) == 0 {
		return 0, nil
	}
	r, _, e := unix.RawSyscall(unix.SYS_WRITEV, uintptr(s.nfd.FD()),
		uintptr(unsafe.Pointer(&data.IOVec[0])), uintptr(len(data.IOVec)))
	if e != 0 {
		return int(r), translateIOErr(unix.Errno(e))
	}
	return int(r), nil
}
