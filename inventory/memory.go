package inventory

import (
	"context"
	"sync"

	"github.com/LdDl/brick-tracker/tracker"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Instance is a logical brick instance kept by an inventory
type Instance struct {
	Handle   tracker.InstanceHandle
	TypeID   tracker.LegoTypeID
	Centroid tracker.Point
}

// MemoryService keeps instances in a map. Safe for concurrent use.
type MemoryService struct {
	mu        sync.RWMutex
	instances map[tracker.InstanceHandle]Instance
}

func NewMemoryService() *MemoryService {
	return &MemoryService{
		instances: make(map[tracker.InstanceHandle]Instance),
	}
}

func (s *MemoryService) CreateInstance(ctx context.Context, typeID tracker.LegoTypeID, centroid tracker.Point) (tracker.InstanceHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handle := tracker.InstanceHandle(uuid.New().String())
	s.mu.Lock()
	s.instances[handle] = Instance{
		Handle:   handle,
		TypeID:   typeID,
		Centroid: centroid,
	}
	s.mu.Unlock()
	return handle, nil
}

func (s *MemoryService) RemoveInstance(ctx context.Context, handle tracker.InstanceHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[handle]; !ok {
		return errors.Wrapf(ErrUnknownInstance, "handle %s", handle)
	}
	delete(s.instances, handle)
	return nil
}

// Instances returns a snapshot of live instances
func (s *MemoryService) Instances() []Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Instance, 0, len(s.instances))
	for _, instance := range s.instances {
		out = append(out, instance)
	}
	return out
}

// Len returns number of live instances
func (s *MemoryService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}
