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

// Package netutil provides the fd and address plumbing shared by the net
// subpackage's listener and connection sources.
package netutil

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// GetFD returns the integer Unix file descriptor backing socket, which must
// implement syscall.Conn (as *net.TCPConn, *net.UDPConn, *net.UnixConn,
// *net.TCPListener and *net.UnixListener all do).
func GetFD(socket interface{}) (int, error) {
	conn, ok := socket.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("type %T doesn't implement syscall.Conn interface", socket)
	}
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("get raw connection: %w", err)
	}

	fd := -1
	if err := rawConn.Control(func(sysfd uintptr) {
		fd = int(sysfd)
	}); err != nil {
		return -1, err
	}
	if fd == -1 {
		return -1, errors.New("invalid file descriptor")
	}
	return fd, nil
}

// SetNonblock puts fd into non-blocking mode, required before registering it
// with a selector: every net source is driven by readiness events rather
// than blocking syscalls.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

// Accept accepts a connection on listener fd, returning the new connection's
// fd (already non-blocking and close-on-exec) and its peer address.
func Accept(fd int) (int, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	return nfd, sa, nil
}

