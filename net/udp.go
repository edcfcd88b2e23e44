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
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"trpc.group/trpc-go/tpoll"
	"trpc.group/trpc-go/tpoll/internal/netutil"
	"trpc.group/trpc-go/tpoll/internal/reuseport"
)

// UDPSocket is a non-blocking UDP packet Source. A readable event means
// ReadFrom will return a datagram without blocking.
type UDPSocket struct {
	nfd  netFD
	pc   *ipv4.PacketConn // lazily built, backs multicast group membership
	conn *net.UDPConn     // only set when pc has been built, to keep it alive
}

// ListenUDP creates a non-blocking UDP socket bound to address. network is
// one of "udp", "udp4", "udp6".
func ListenUDP(network, address string) (*UDPSocket, error) {
	pc, err := net.ListenPacket(network, address)
	if err != nil {
		return nil, err
	}
	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("ListenUDP: unexpected packet conn type %T for network %q", pc, network)
	}
	return newUDPSocket(udpConn)
}

// ListenUDPReusable is like ListenUDP but sets SO_REUSEPORT.
func ListenUDPReusable(network, address string) (*UDPSocket, error) {
	udpConn, err := reuseport.ListenPacket(network, address)
	if err != nil {
		return nil, err
	}
	return newUDPSocket(udpConn)
}

func newUDPSocket(conn *net.UDPConn) (*UDPSocket, error) {
	fd, err := netutil.GetFD(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("UDP socket fd: %w", err)
	}
	if err := netutil.SetNonblock(fd); err != nil {
		conn.Close()
		return nil, fmt.Errorf("UDP socket nonblock: %w", err)
	}
	return &UDPSocket{nfd: netFD{fd: fd, fdtype: fdUDP, laddr: conn.LocalAddr(), sock: conn}, conn: conn}, nil
}

// Register implements tpoll.Source.
func (u *UDPSocket) Register(r *tpoll.Registry, token tpoll.Token, interests tpoll.Interests, opts tpoll.PollOpt) error {
	return u.nfd.Register(r, token, interests, opts)
}

// Reregister implements tpoll.Source.
func (u *UDPSocket) Reregister(r *tpoll.Registry, token tpoll.Token, interests tpoll.Interests, opts tpoll.PollOpt) error {
	return u.nfd.Reregister(r, token, interests, opts)
}

// Deregister implements tpoll.Source.
func (u *UDPSocket) Deregister(r *tpoll.Registry) error {
	return u.nfd.Deregister(r)
}

// FD returns the socket's file descriptor.
func (u *UDPSocket) FD() int { return u.nfd.FD() }

// LocalAddr returns the socket's local address.
func (u *UDPSocket) LocalAddr() net.Addr { return u.nfd.LocalAddr() }

// Close closes the socket.
func (u *UDPSocket) Close() error { return u.nfd.close() }

// ReadFrom reads a datagram into p, returning tpoll.ErrWouldBlock if none
// is pending.
func (u *UDPSocket) ReadFrom(p []byte) (int, net.Addr, error) {
	n, sa, err := unix.Recvfrom(u.nfd.FD(), p, 0)
	if err != nil {
		return n, nil, translateIOErr(err)
	}
	return n, netutil.SockaddrToUDPAddr(sa), nil
}

// WriteTo sends p to addr, returning tpoll.ErrWouldBlock if the socket send
// buffer is full.
func (u *UDPSocket) WriteTo(p []byte, addr net.Addr) (int, error) {
	laddr := u.nfd.LocalAddr()
	if laddr == nil {
		laddr = &net.UDPAddr{}
	}
	sa, err := netutil.AddrToSockAddr(laddr, addr)
	if err != nil {
		return 0, err
	}
	if err := unix.Sendto(u.nfd.FD(), p, 0, sa); err != nil {
		return 0, translateIOErr(err)
	}
	return len(p), nil
}

// packetConn lazily builds the golang.org/x/net/ipv4.PacketConn wrapping
// this socket's underlying *net.UDPConn, used only for multicast group
// membership.
func (u *UDPSocket) packetConn() (*ipv4.PacketConn, error) {
	if u.pc != nil {
		return u.pc, nil
	}
	if u.conn == nil {
		return nil, fmt.Errorf("UDPSocket: multicast requires a socket created by ListenUDP/ListenUDPReusable")
	}
	u.pc = ipv4.NewPacketConn(u.conn)
	return u.pc, nil
}

// JoinMulticastV4 joins the IPv4 multicast group addr on interface ifi (nil
// selects the default interface), letting ReadFrom receive datagrams sent
// to that group.
func (u *UDPSocket) JoinMulticastV4(ifi *net.Interface, group net.IP) error {
	pc, err := u.packetConn()
	if err != nil {
		return err
	}
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
		return fmt.Errorf("join multicast group %s: %w", group, err)
	}
	return pc.SetMulticastLoopback(true)
}

// LeaveMulticastV4 leaves a group previously joined with JoinMulticastV4.
func (u *UDPSocket) LeaveMulticastV4(ifi *net.Interface, group net.IP) error {
	pc, err := u.packetConn()
	if err != nil {
		return err
	}
	if err := pc.LeaveGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
		return fmt.Errorf("leave multicast group %s: %w", group, err)
	}
	return nil
}
