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
	"fmt"
	"net"
	"strconv"
	"strings"
)

// FormatEndpoint builds a host:port endpoint, bracketing IPv6 hosts.
func FormatEndpoint(host string, port int) string {
	return net.JoinHostPort(strings.ToLower(host), strconv.Itoa(port))
}

// NormalizeEndpoint canonicalizes an address into host:port form.  The host
// is lower-cased and defaultPort is used when the address carries no port.
func NormalizeEndpoint(addr string, defaultPort int) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("empty address")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// if we couldn't split the host/port, assume there is no port
		host = strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
		if strings.ContainsAny(host, "[]") {
			return "", fmt.Errorf("invalid address %q", addr)
		}

		return FormatEndpoint(host, defaultPort), nil
	}

	if host == "" {
		return "", fmt.Errorf("missing host in address %q", addr)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", fmt.Errorf("invalid port in address %q", addr)
	}

	return FormatEndpoint(host, port), nil
}
