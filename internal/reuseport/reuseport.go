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

// Package reuseport constructs SO_REUSEPORT listeners and packet conns so
// multiple Polls, in one process or several, can each own a listener bound
// to the same address.
package reuseport

import (
	"net"

	"github.com/kavu/go_reuseport"
)

// ListenTCP returns a *net.TCPListener bound to address with SO_REUSEPORT
// set, so a second call with the same network/address from another process
// or Poll succeeds instead of returning EADDRINUSE.
func ListenTCP(network, address string) (*net.TCPListener, error) {
	ln, err := reuseport.Listen(network, address)
	if err != nil {
		return nil, err
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, errUnexpectedListenerType{ln}
	}
	return tcpLn, nil
}

// ListenPacket returns a *net.UDPConn bound to address with SO_REUSEPORT
// set.
func ListenPacket(network, address string) (*net.UDPConn, error) {
	pc, err := reuseport.ListenPacket(network, address)
	if err != nil {
		return nil, err
	}
	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, errUnexpectedPacketConnType{pc}
	}
	return udpConn, nil
}

type errUnexpectedListenerType struct{ ln net.Listener }

func (e errUnexpectedListenerType) Error() string {
	return "reuseport: unexpected listener type from go_reuseport"
}

type errUnexpectedPacketConnType struct{ pc net.PacketConn }

func (e errUnexpectedPacketConnType) Error() string {
	return "reuseport: unexpected packet conn type from go_reuseport"
}
