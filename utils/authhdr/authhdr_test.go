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
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeMatchesHttp(t *testing.T) {
	hdr := EncodeBasicAuth("monitor", "s3cr:et")

	r := http.Request{Header: http.Header{"Authorization": {hdr}}}
	httpUser, httpPass, ok := r.BasicAuth()
	require.True(t, ok)

	username, password, ok := DecodeBasicAuth(hdr)
	require.True(t, ok)
	require.Equal(t, httpUser, username)
	require.Equal(t, httpPass, password)
	require.Equal(t, "s3cr:et", password)
}

func TestDecodeBasicAuth(t *testing.T) {
	testCases := []struct {
		name string
		hdr  string
		ok   bool
	}{
		{"Valid", "Basic YWxhZGRpbjpvcGVuc2VzYW1l", true},
		{"MixedCaseScheme", "bAsIc YWxhZGRpbjpvcGVuc2VzYW1l", true},
		{"Empty", "", false},
		{"SchemeOnly", "Basic", false},
		{"Bearer", "Bearer abc", false},
		{"BadBase64", "Basic !!!!", false},
		{"NoColon", "Basic YWxhZGRpbg==", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			username, password, ok := DecodeBasicAuth(tc.hdr)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.Equal(t, "aladdin", username)
				require.Equal(t, "opensesame", password)
			}
		})
	}
}
