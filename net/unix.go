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

	"golang.org/x/sys/unix"

	"trpc.group/trpc-go/tpoll"
	"trpc.group/trpc-go/tpoll/internal/netutil"
)

// UnixListener is a non-blocking Unix-domain stream listener Source.
type UnixListener struct {
	nfd netFD
}

// ListenUnix creates a non-blocking Unix-domain stream listener bound to
// path.
func ListenUnix(path string) (*UnixListener, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	unixLn, ok := ln.(*net.UnixListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("ListenUnix: unexpected listener type %T", ln)
	}
	fd, err := netutil.GetFD(unixLn)
	if err != nil {
		unixLn.Close()
		return nil, fmt.Errorf("unix listener fd: %w", err)
	}
	if err := netutil.SetNonblock(fd); err != nil {
		unixLn.Close()
		return nil, fmt.Errorf("unix listener nonblock: %w", err)
	}
	return &UnixListener{nfd: netFD{fd: fd, fdtype: fdListen, laddr: unixLn.Addr(), sock: unixLn}}, nil
}

// Register implements tpoll.Source.
func (l *UnixListener) Register(r *tpoll.Registry, token tpoll.Token, interests tpoll.Interests, opts tpoll.PollOpt) error {
	return l.nfd.Register(r, token, interests, opts)
}

// Reregister implements tpoll.Source.
func (l *UnixListener) Reregister(r *tpoll.Registry, token tpoll.Token, interests tpoll.Interests, opts tpoll.PollOpt) error {
	return l.nfd.Reregister(r, token, interests, opts)
}

// Deregister implements tpoll.Source.
func (l *UnixListener) Deregister(r *tpoll.Registry) error {
	return l.nfd.Deregister(r)
}

// FD returns the listener's file descriptor.
func (l *UnixListener) FD() int { return l.nfd.FD() }

// Addr returns the listener's bound path.
func (l *UnixListener) Addr() net.Addr { return l.nfd.LocalAddr() }

// Close closes the listener and removes its socket file.
func (l *UnixListener) Close() error { return l.nfd.close() }

// Accept accepts a pending connection without blocking, returning
// tpoll.ErrWouldBlock if none is pending.
func (l *UnixListener) Accept() (*UnixStream, error) {
	fd, sa, err := netutil.Accept(l.nfd.FD())
	if err != nil {
		return nil, translateIOErr(err)
	}
	return &UnixStream{nfd: netFD{
		fd:     fd,
		fdtype: fdUnix,
		laddr:  l.nfd.LocalAddr(),
		raddr:  netutil.SockaddrToTCPOrUnixAddr(sa),
	}}, nil
}

// UnixStream is a non-blocking Unix-domain stream connection Source.
type UnixStream struct {
	nfd      netFD
	connDone bool
}

// DialUnix initiates a non-blocking connect to the Unix-domain socket at
// path, mirroring DialTCP's "completion signaled by a writable event"
// contract.
func DialUnix(path string) (*UnixStream, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	return &UnixStream{nfd: netFD{fd: fd, fdtype: fdUnix, raddr: &net.UnixAddr{Name: path, Net: "unix"}}}, nil
}

// Register implements tpoll.Source.
func (s *UnixStream) Register(r *tpoll.Registry, token tpoll.Token, interests tpoll.Interests, opts tpoll.PollOpt) error {
	return s.nfd.Register(r, token, interests, opts)
}

// Reregister implements tpoll.Source.
func (s *UnixStream) Reregister(r *tpoll.Registry, token tpoll.Token, interests tpoll.Interests, opts tpoll.PollOpt) error {
	return s.nfd.Reregister(r, token, interests, opts)
}

// Deregister implements tpoll.Source.
func (s *UnixStream) Deregister(r *tpoll.Registry) error {
	return s.nfd.Deregister(r)
}

// FD returns the stream's file descriptor.
func (s *UnixStream) FD() int { return s.nfd.FD() }

// LocalAddr returns the stream's local address.
func (s *UnixStream) LocalAddr() net.Addr { return s.nfd.LocalAddr() }

// RemoteAddr returns the stream's remote address.
func (s *UnixStream) RemoteAddr() net.Addr { return s.nfd.RemoteAddr() }

// Close closes the stream.
func (s *UnixStream) Close() error { return s.nfd.close() }

// Established reports whether an in-progress non-blocking connect (see
// DialUnix) has completed, returning the connect error if it failed.
func (s *UnixStream) Established() error {
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
func (s *UnixStream) Read(p []byte) (int, error) {
	n, err := unix.Read(s.nfd.FD(), p)
	if err != nil {
		return 0, translateIOErr(err)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write writes p, returning tpoll.ErrWouldBlock if the socket send buffer
// is full.
func (s *UnixStream) Write(p []byte) (int, error) {
	n, err := unix.Write(s.nfd.FD(), p)
	if err != nil {
		return n, translateIOErr(err)
	}
	return n, nil
}

// UnixDatagram is a non-blocking Unix-domain datagram (SOCK_DGRAM) Source,
// the Unix-socket counterpart of UDPSocket.
type UnixDatagram struct {
	nfd netFD
}

// ListenUnixgram creates a non-blocking Unix-domain datagram socket bound
// to path.
func ListenUnixgram(path string) (*UnixDatagram, error) {
	pc, err := net.ListenPacket("unixgram", path)
	if err != nil {
		return nil, err
	}
	unixConn, ok := pc.(*net.UnixConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("ListenUnixgram: unexpected packet conn type %T", pc)
	}
	fd, err := netutil.GetFD(unixConn)
	if err != nil {
		unixConn.Close()
		return nil, fmt.Errorf("unixgram fd: %w", err)
	}
	if err := netutil.SetNonblock(fd); err != nil {
		unixConn.Close()
		return nil, fmt.Errorf("unixgram nonblock: %w", err)
	}
	return &UnixDatagram{nfd: netFD{fd: fd, fdtype: fdUnixgram, laddr: unixConn.LocalAddr(), sock: unixConn}}, nil
}

// Register implements tpoll.Source.
func (u *UnixDatagram) Register(r *tpoll.Registry, token tpoll.Token, interests tpoll.Interests, opts tpoll.PollOpt) error {
	return u.nfd.Register(r, token, interests, opts)
}

// Reregister implements tpoll.Source.
func (u *UnixDatagram) Reregister(r *tpoll.Registry, token tpoll.Token, interests tpoll.Interests, opts tpoll.PollOpt) error {
	return u.nfd.Reregister(r, token, interests, opts)
}

// Deregister implements tpoll.Source.
func (u *UnixDatagram) Deregister(r *tpoll.Registry) error {
	return u.nfd.Deregister(r)
}

// FD returns the socket's file descriptor.
func (u *UnixDatagram) FD() int { return u.nfd.FD() }

// LocalAddr returns the socket's bound path.
func (u *UnixDatagram) LocalAddr() net.Addr { return u.nfd.LocalAddr() }

// Close closes the socket. The socket file at its bound path is not
// removed.
func (u *UnixDatagram) Close() error { return u.nfd.close() }

// ReadFrom reads a datagram into p, returning tpoll.ErrWouldBlock if none
// is pending.
func (u *UnixDatagram) ReadFrom(p []byte) (int, net.Addr, error) {
	n, sa, err := unix.Recvfrom(u.nfd.FD(), p, 0)
	if err != nil {
		return 0, nil, translateIOErr(err)
	}
	var addr net.Addr
	if su, ok := sa.(*unix.SockaddrUnix); ok {
		addr = &net.UnixAddr{Name: su.Name, Net: "unixgram"}
	}
	return n, addr, nil
}

// WriteTo sends p to the Unix-domain datagram socket bound at addr.Name,
// returning tpoll.ErrWouldBlock if the socket send buffer is full.
func (u *UnixDatagram) WriteTo(p []byte, addr net.Addr) (int, error) {
	unixAddr, ok := addr.(*net.UnixAddr)
	if !ok {
		return 0, fmt.Errorf("WriteTo: address %T is not a *net.UnixAddr", addr)
	}
	if err := unix.Sendto(u.nfd.FD(), p, 0, &unix.SockaddrUnix{Name: unixAddr.Name}); err != nil {
		return 0, translateIOErr(err)
	}
	return len(p), nil
}
