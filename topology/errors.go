/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package topology

import (
	"errors"
	"fmt"
)

var (
	ErrClusterDisposed        = errors.New("cluster has been disposed")
	ErrServerSelectionTimeout = errors.New("timed out while selecting a server")
	ErrSelectionCancelled     = errors.New("server selection was cancelled")
	ErrNoSeeds                = errors.New("no seed addresses were specified")
	ErrInvalidSeedList        = errors.New("invalid seed list")
	ErrConflictingClusterType = errors.New("conflicting cluster type")
	ErrIncompatibleServer     = errors.New("server is incompatible with the cluster")
	ErrNoProber               = errors.New("a prober must be specified")
)

// ServerSelectionTimeoutError is returned when no eligible server became
// available before the selection deadline.  It carries the last description
// which was evaluated to help with diagnosing why nothing was eligible.
type ServerSelectionTimeoutError struct {
	Description *ClusterDescription
}

func (e *ServerSelectionTimeoutError) Error() string {
	return fmt.Sprintf("%s, last cluster description: %s", ErrServerSelectionTimeout, e.Description)
}

func (e *ServerSelectionTimeoutError) Unwrap() error {
	return ErrServerSelectionTimeout
}
