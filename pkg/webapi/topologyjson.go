package webapi

import (
	"sort"

	"github.com/couchbase/stellar-topology/topology"
)

type wireVersionJson struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type replicaSetConfigJson struct {
	Name    string   `json:"name"`
	Version int64    `json:"version"`
	Members []string `json:"members"`
}

type serverJson struct {
	Endpoint             string                `json:"endpoint"`
	Type                 string                `json:"type"`
	State                string                `json:"state"`
	AverageRoundTripTime string                `json:"averageRoundTripTime,omitempty"`
	LastHeartbeat        string                `json:"lastHeartbeat,omitempty"`
	HeartbeatErr         string                `json:"heartbeatError,omitempty"`
	Tags                 map[string]string     `json:"tags,omitempty"`
	WireVersion          *wireVersionJson      `json:"wireVersion,omitempty"`
	ReplicaSetConfig     *replicaSetConfigJson `json:"replicaSetConfig,omitempty"`
}

type clusterJson struct {
	ClusterID        string                `json:"clusterId"`
	Type             string                `json:"type"`
	State            string                `json:"state"`
	Revision         uint64                `json:"revision"`
	Servers          []serverJson          `json:"servers"`
	ReplicaSetConfig *replicaSetConfigJson `json:"replicaSetConfig,omitempty"`
}

func newReplicaSetConfigJson(c *topology.ReplicaSetConfig) *replicaSetConfigJson {
	if c == nil {
		return nil
	}
	return &replicaSetConfigJson{
		Name:    c.Name,
		Version: c.Version,
		Members: c.Members,
	}
}

func newServerJson(s *topology.ServerDescription) serverJson {
	out := serverJson{
		Endpoint:         s.ID.Endpoint,
		Type:             s.Type.String(),
		State:            s.State.String(),
		Tags:             s.Tags,
		ReplicaSetConfig: newReplicaSetConfigJson(s.ReplicaSetConfig),
	}
	if s.AverageRoundTripTime > 0 {
		out.AverageRoundTripTime = s.AverageRoundTripTime.String()
	}
	if !s.LastHeartbeat.IsZero() {
		out.LastHeartbeat = s.LastHeartbeat.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	if s.HeartbeatErr != nil {
		out.HeartbeatErr = s.HeartbeatErr.Error()
	}
	if s.WireVersion != nil {
		out.WireVersion = &wireVersionJson{Min: s.WireVersion.Min, Max: s.WireVersion.Max}
	}
	return out
}

func newClusterJson(desc *topology.ClusterDescription) clusterJson {
	servers := make([]serverJson, 0, len(desc.Servers))
	for _, server := range desc.Servers {
		servers = append(servers, newServerJson(server))
	}
	sort.Slice(servers, func(i, j int) bool {
		return servers[i].Endpoint < servers[j].Endpoint
	})

	return clusterJson{
		ClusterID:        desc.ClusterID,
		Type:             desc.Type.String(),
		State:            desc.State.String(),
		Revision:         desc.Revision,
		Servers:          servers,
		ReplicaSetConfig: newReplicaSetConfigJson(desc.ReplicaSetConfig),
	}
}
