/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package netutils

import (
	"net"
)

func IsInAddrAny(addr string) bool {
	return addr == "" || addr == "::" || addr == "::/0" || addr == "0.0.0.0"
}

// GetAdvertiseAddress returns the address other nodes should use to reach a
// listener bound to bindAddress.
func GetAdvertiseAddress(bindAddress string) (string, error) {
	// if we are not bound to inaddr_any, the bind address is reachable as-is.
	if !IsInAddrAny(bindAddress) {
		return bindAddress, nil
	}

	outboundIP, err := GetOutboundIP()
	if err != nil {
		return "", err
	}

	return outboundIP.String(), nil
}

// GetOutboundIP finds the local address the system would use for outbound
// traffic.  No packets are sent, dialing udp only selects a route.
func GetOutboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	_ = conn.Close()

	return localAddr.IP, nil
}
