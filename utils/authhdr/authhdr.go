/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package authhdr

import (
	"encoding/base64"
	"strings"
)

const basicPrefix = "Basic "

// EncodeBasicAuth builds the value of a Basic authorization header.
func EncodeBasicAuth(username, password string) string {
	return basicPrefix + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// DecodeBasicAuth parses the value of a Basic authorization header.  The
// scheme is matched case-insensitively.
func DecodeBasicAuth(hdr string) (string, string, bool) {
	if len(hdr) < len(basicPrefix) || !strings.EqualFold(hdr[:len(basicPrefix)], basicPrefix) {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(hdr[len(basicPrefix):])
	if err != nil {
		return "", "", false
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", false
	}

	return username, password, true
}
