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
	"strings"
	"time"

	"github.com/couchbase/stellar-topology/utils/netutils"
	"github.com/couchbase/stellar-topology/utils/sliceutils"
	"github.com/couchbaselabs/gocbconnstr"
	"github.com/pkg/errors"
)

// SeedList is the result of parsing a connection string such as
// `topo://h1:27017,h2/?replicaSet=rs0&heartbeatInterval=5s`.
type SeedList struct {
	Seeds          []string
	Type           ClusterType
	ReplicaSetName string

	HeartbeatInterval      time.Duration
	LocalThreshold         time.Duration
	ServerSelectionTimeout time.Duration
}

// SeedListScheme is the only scheme accepted in connection strings.  The
// scheme may also be omitted.
const SeedListScheme = "topo"

// ParseSeedList parses a connection string into a seed list.  Hosts without a
// port use DefaultPort.
func ParseSeedList(connStr string) (*SeedList, error) {
	if scheme, rest, found := strings.Cut(connStr, "://"); found {
		if !strings.EqualFold(scheme, SeedListScheme) {
			return nil, errors.Wrapf(ErrInvalidSeedList, "unsupported scheme %q", scheme)
		}
		// the connection string parser only knows the couchbase schemes
		connStr = rest
	}

	connSpec, err := gocbconnstr.Parse(connStr)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidSeedList, "failed to parse connection string: %s", err)
	}

	if len(connSpec.Addresses) == 0 {
		return nil, ErrNoSeeds
	}

	list := &SeedList{}
	for _, address := range connSpec.Addresses {
		if address.Host == "" {
			return nil, errors.Wrap(ErrInvalidSeedList, "empty host in connection string")
		}

		port := address.Port
		if port < 0 {
			port = DefaultPort
		}
		if port == 0 || port > 65535 {
			return nil, errors.Wrapf(ErrInvalidSeedList, "invalid port %d for host %s", address.Port, address.Host)
		}

		host := strings.TrimSuffix(strings.TrimPrefix(address.Host, "["), "]")
		list.Seeds = append(list.Seeds, netutils.FormatEndpoint(host, port))
	}
	list.Seeds = sliceutils.RemoveDuplicates(list.Seeds)

	for key, values := range connSpec.Options {
		if len(values) == 0 {
			continue
		}
		value := values[len(values)-1]

		switch strings.ToLower(key) {
		case "replicaset":
			list.ReplicaSetName = value
		case "connect":
			list.Type, err = parseConnectMode(value)
		case "heartbeatinterval":
			list.HeartbeatInterval, err = time.ParseDuration(value)
		case "localthreshold":
			list.LocalThreshold, err = time.ParseDuration(value)
		case "serverselectiontimeout":
			list.ServerSelectionTimeout, err = time.ParseDuration(value)
		}
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidSeedList, "invalid value for option %s: %s", key, err)
		}
	}

	if _, err := resolveInitialClusterType(list.Type, list.ReplicaSetName, len(list.Seeds)); err != nil {
		return nil, err
	}

	return list, nil
}

func parseConnectMode(mode string) (ClusterType, error) {
	switch strings.ToLower(mode) {
	case "direct":
		return ClusterTypeStandalone, nil
	case "replicaset":
		return ClusterTypeReplicaSet, nil
	case "sharded":
		return ClusterTypeSharded, nil
	case "automatic", "":
		return ClusterTypeUnknown, nil
	}
	return ClusterTypeUnknown, errors.Errorf("unknown connect mode %q", mode)
}

// ApplyTo copies the parsed settings into opts, leaving settings which were
// not present in the connection string untouched.
func (l *SeedList) ApplyTo(opts *ClusterOptions) {
	opts.Seeds = l.Seeds
	if l.Type != ClusterTypeUnknown {
		opts.Type = l.Type
	}
	if l.ReplicaSetName != "" {
		opts.ReplicaSetName = l.ReplicaSetName
	}
	if l.HeartbeatInterval > 0 {
		opts.HeartbeatInterval = l.HeartbeatInterval
	}
	if l.LocalThreshold > 0 {
		opts.LocalThreshold = l.LocalThreshold
	}
	if l.ServerSelectionTimeout > 0 {
		opts.ServerSelectionTimeout = l.ServerSelectionTimeout
	}
}
