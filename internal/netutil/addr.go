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

package netutil

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// SockaddrToTCPOrUnixAddr converts a Sockaddr returned by Accept into a
// net.TCPAddr or net.UnixAddr. Returns nil if sa's type isn't recognized.
func SockaddrToTCPOrUnixAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: sa.Addr[:], Port: sa.Port}
	case *unix.SockaddrInet6:
		ip, zone := sa.Addr[:], ip6ZoneToString(int(sa.ZoneId))
		return &net.TCPAddr{IP: ip, Port: sa.Port, Zone: zone}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: sa.Name, Net: "unix"}
	}
	return nil
}

// SockaddrToUDPAddr converts a Sockaddr into a net.UDPAddr. Returns nil if
// sa's type isn't recognized.
func SockaddrToUDPAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: sa.Addr[:], Port: sa.Port}
	case *unix.SockaddrInet6:
		ip, zone := sa.Addr[:], ip6ZoneToString(int(sa.ZoneId))
		return &net.UDPAddr{IP: ip, Port: sa.Port, Zone: zone}
	}
	return nil
}

func ip6ZoneToString(zone int) string {
	if zone == 0 {
		return ""
	}
	if ifi, err := net.InterfaceByIndex(zone); err == nil {
		return ifi.Name
	}
	return strconv.Itoa(zone)
}

func stringToZoneID(zone string) (uint32, error) {
	if zone == "" {
		return 0, nil
	}
	if ifi, err := net.InterfaceByName(zone); err == nil {
		return uint32(ifi.Index), nil
	}
	n, err := strconv.Atoi(zone)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// AddrToSockAddr converts a destination net.Addr (*net.TCPAddr or
// *net.UDPAddr) into a unix.Sockaddr suitable for Connect/Sendto, validating
// it shares laddr's IP family.
func AddrToSockAddr(laddr, raddr net.Addr) (unix.Sockaddr, error) {
	switch raddr := raddr.(type) {
	case *net.TCPAddr:
		lip, ok := laddr.(*net.TCPAddr)
		if !ok {
			return nil, fmt.Errorf("laddr %T is not a *net.TCPAddr", laddr)
		}
		return ipToSockaddr(lip.IP, raddr.IP, raddr.Port, raddr.Zone)
	case *net.UDPAddr:
		lip, ok := laddr.(*net.UDPAddr)
		if !ok {
			return nil, fmt.Errorf("laddr %T is not a *net.UDPAddr", laddr)
		}
		return ipToSockaddr(lip.IP, raddr.IP, raddr.Port, raddr.Zone)
	default:
		return nil, fmt.Errorf("address type %T is not supported", raddr)
	}
}

// ipToSockaddr builds a unix.Sockaddr for ip/port/zone, picking IPv4 or IPv6
// to match lip's family (mirrors net/tcpsock_posix.go's private helper of
// the same name).
func ipToSockaddr(lip, ip net.IP, port int, zone string) (unix.Sockaddr, error) {
	if lip.To4() != nil {
		if len(ip) == 0 {
			ip = net.IPv4zero
		}
		ip4 := ip.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("non-IPv4 address: %s", ip)
		}
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	if len(ip) == 0 || ip.Equal(net.IPv4zero) {
		ip = net.IPv6zero
	}
	ip6 := ip.To16()
	if ip6 == nil {
		return nil, fmt.Errorf("non-IPv6 address: %s", ip)
	}
	zoneID, err := stringToZoneID(zone)
	if err != nil {
		return nil, err
	}
	sa := &unix.SockaddrInet6{Port: port, ZoneId: zoneID}
	copy(sa.Addr[:], ip6)
	return sa, nil
}

// ValidateTCP reports an error unless listener is listening on TCP.
func ValidateTCP(listener net.Listener) error {
	switch network := listener.Addr().Network(); network {
	case "tcp", "tcp4", "tcp6":
		return nil
	default:
		return fmt.Errorf("expected a TCP listener, got network %q", network)
	}
}

// ValidateUDP reports an error unless conn is a UDP packet conn.
func ValidateUDP(conn net.PacketConn) error {
	switch network := conn.LocalAddr().Network(); network {
	case "udp", "udp4", "udp6":
		return nil
	default:
		return fmt.Errorf("expected a UDP packet conn, got network %q", network)
	}
}

// TestableNetwork reports whether network can be exercised on this host,
// used by tests to skip IPv4/IPv6-only scenarios on hosts lacking one
// family.
func TestableNetwork(network string) bool {
	switch network {
	case "unix", "unixgram":
		return true
	case "tcp4", "udp4":
		return hasIPv4Addr()
	case "tcp6", "udp6":
		return hasIPv6Addr()
	case "tcp", "udp":
		return hasIPv4Addr() || hasIPv6Addr()
	default:
		return false
	}
}

func hasIPv4Addr() bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if ip, ok := addr.(*net.IPNet); ok && ip.IP.To4() != nil {
			return true
		}
	}
	return false
}

func hasIPv6Addr() bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if ip, ok := addr.(*net.IPNet); ok && ip.IP.To4() == nil {
			return true
		}
	}
	return false
}
