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

package magnum

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrClusterNotFound is returned by Store lookups for unknown records.
var ErrClusterNotFound = errors.New("cluster record not found")

// Store persists orchestration records. Implementations are expected to be
// durable and read-after-write consistent from the caller's perspective.
type Store interface {
	GetCluster(ctx context.Context, uuid string) (*Cluster, error)
	ListClusters(ctx context.Context) ([]*Cluster, error)

	// SaveCluster persists the record, including its node group collection.
	SaveCluster(ctx context.Context, cluster *Cluster) error

	// SaveNodeGroup persists a single node group of the record.
	SaveNodeGroup(ctx context.Context, cluster *Cluster, nodeGroup *NodeGroup) error

	// DeleteNodeGroup removes the node group from the record's collection.
	DeleteNodeGroup(ctx context.Context, cluster *Cluster, nodeGroup *NodeGroup) error
}

// MemoryStore is an in-process Store used by the agent's tests and for local
// development. Records are copied on the way in and out so callers never share
// memory with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	clusters map[string]*Cluster
}

var _ Store = &MemoryStore{}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clusters: map[string]*Cluster{}}
}

// GetCluster implements Store.
func (s *MemoryStore) GetCluster(_ context.Context, uuid string) (*Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cluster, ok := s.clusters[uuid]
	if !ok {
		return nil, errors.Wrap(ErrClusterNotFound, uuid)
	}

	return cluster.DeepCopy(), nil
}

// ListClusters implements Store.
func (s *MemoryStore) ListClusters(_ context.Context) ([]*Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Cluster, 0, len(s.clusters))
	for _, cluster := range s.clusters {
		out = append(out, cluster.DeepCopy())
	}

	return out, nil
}

// SaveCluster implements Store.
func (s *MemoryStore) SaveCluster(_ context.Context, cluster *Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clusters[cluster.UUID] = cluster.DeepCopy()

	return nil
}

// SaveNodeGroup implements Store.
func (s *MemoryStore) SaveNodeGroup(_ context.Context, cluster *Cluster, nodeGroup *NodeGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.clusters[cluster.UUID]
	if !ok {
		return errors.Wrap(ErrClusterNotFound, cluster.UUID)
	}

	for i, ng := range stored.NodeGroups {
		if ng.Name == nodeGroup.Name {
			stored.NodeGroups[i] = nodeGroup.DeepCopy()

			return nil
		}
	}

	stored.NodeGroups = append(stored.NodeGroups, nodeGroup.DeepCopy())

	return nil
}

// DeleteNodeGroup implements Store.
func (s *MemoryStore) DeleteNodeGroup(_ context.Context, cluster *Cluster, nodeGroup *NodeGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.clusters[cluster.UUID]
	if !ok {
		return errors.Wrap(ErrClusterNotFound, cluster.UUID)
	}

	stored.RemoveNodeGroup(nodeGroup.Name)

	return nil
}
