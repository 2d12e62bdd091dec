package checkpoint

import (
	"context"
	"sync"
)

// MemRegistry is an in-memory Registry used by tests and single-node
// deployments that don't need a durable checkpoint record.
type MemRegistry struct {
	mu  sync.Mutex
	rev *Revision
}

// NewMemRegistry returns a registry with no checkpoint registered.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{}
}

// Set registers rev as the oldest revision to keep. Passing nil clears it.
func (m *MemRegistry) Set(rev *Revision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rev = rev
}

func (m *MemRegistry) OldestRevisionToKeep(context.Context) (*Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rev, nil
}
