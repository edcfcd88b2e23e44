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

package tpoll

// Source is anything a Registry can watch for readiness: the net
// subpackage's TCPListener/TCPStream/UDPSocket/UnixListener/UnixStream/
// UnixDatagram, and CustomRegistration. Implementations hold their own
// handle (or, for CustomRegistration, their own *selector.CustomNode) and
// forward to the Registry's Handle-based or custom-node-based methods.
//
// A Source must not be registered with more than one Registry at a time.
type Source interface {
	// Register binds the source to token/interests/opts under r.
	Register(r *Registry, token Token, interests Interests, opts PollOpt) error
	// Reregister changes the token/interests/opts of an existing
	// registration of the source under r.
	Reregister(r *Registry, token Token, interests Interests, opts PollOpt) error
	// Deregister removes the source's registration under r.
	Deregister(r *Registry) error
}
