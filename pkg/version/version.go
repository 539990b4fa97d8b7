/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package version

import (
	"runtime/debug"
)

const ModulePath = "github.com/couchbase/stellar-topology"

// GetVersion returns the version of the named module as recorded in the build
// information of the running binary.
func GetVersion(modulePath string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	if info.Main.Path == modulePath {
		if info.Main.Version == "" {
			return "(devel)"
		}
		return info.Main.Version
	}

	for _, dep := range info.Deps {
		if dep.Path == modulePath {
			return dep.Version
		}
	}

	return "unknown"
}
