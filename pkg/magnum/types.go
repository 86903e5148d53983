/*
Copyright 2024 VEXXHOST, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package magnum holds the orchestration record data model: the persisted,
// authoritative description of a cluster's desired state and its last known
// lifecycle status.
package magnum

// Role distinguishes the two kinds of node groups a cluster carries.
type Role string

const (
	// RoleMaster is the control-plane node group role.
	RoleMaster Role = "master"

	// RoleWorker is the worker node group role.
	RoleWorker Role = "worker"
)

// ClusterTemplate carries the subset of template fields the driver needs when
// submitting desired state.
type ClusterTemplate struct {
	UUID        string
	KubeVersion string
	Labels      map[string]string
}

// Cluster is the orchestration record for a single managed cluster. Status is
// mutated only by the resolvers and persisted through a Store after each
// transition.
type Cluster struct {
	UUID      string
	Name      string
	ProjectID string
	UserID    string

	// StackID is the generated name of the Cluster API objects backing this
	// record. It is assigned once, on creation, and never changes.
	StackID string

	APIAddress   string
	COEVersion   string
	Status       Status
	StatusReason string

	Labels   map[string]string
	Template *ClusterTemplate

	NodeGroups []*NodeGroup
}

// NodeGroup is a named, homogeneous set of cluster members with an independent
// lifecycle status. It is owned by its Cluster.
type NodeGroup struct {
	Name         string
	Role         Role
	Status       Status
	StatusReason string

	NodeCount    int
	MinNodeCount int
	MaxNodeCount int

	// NodesToRemove holds provider instance identifiers requested for removal
	// by the most recent resize operation.
	NodesToRemove []string
}

// DefaultWorkerNodeGroup returns the first worker-role node group, or nil when
// the cluster has none.
func (c *Cluster) DefaultWorkerNodeGroup() *NodeGroup {
	for _, ng := range c.NodeGroups {
		if ng.Role != RoleMaster {
			return ng
		}
	}

	return nil
}

// RemoveNodeGroup drops the named node group from the record's collection.
func (c *Cluster) RemoveNodeGroup(name string) {
	kept := c.NodeGroups[:0]

	for _, ng := range c.NodeGroups {
		if ng.Name != name {
			kept = append(kept, ng)
		}
	}

	c.NodeGroups = kept
}

// DeepCopy returns a full copy of the record, detached from the original.
func (c *Cluster) DeepCopy() *Cluster {
	out := *c

	out.Labels = copyMap(c.Labels)

	if c.Template != nil {
		tpl := *c.Template
		tpl.Labels = copyMap(c.Template.Labels)
		out.Template = &tpl
	}

	out.NodeGroups = make([]*NodeGroup, 0, len(c.NodeGroups))
	for _, ng := range c.NodeGroups {
		out.NodeGroups = append(out.NodeGroups, ng.DeepCopy())
	}

	return &out
}

// DeepCopy returns a copy of the node group, detached from the original.
func (ng *NodeGroup) DeepCopy() *NodeGroup {
	out := *ng

	if ng.NodesToRemove != nil {
		out.NodesToRemove = append([]string(nil), ng.NodesToRemove...)
	}

	return &out
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}

	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}
