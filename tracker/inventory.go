package tracker

import "context"

// InstanceHandle identifies a logical instance inside the inventory service
type InstanceHandle string

// InventoryService is the external world-model that mirrors tracked bricks as logical instances.
type InventoryService interface {
	// CreateInstance creates a logical instance of given type at centroid and returns its handle
	CreateInstance(ctx context.Context, typeID LegoTypeID, centroid Point) (InstanceHandle, error)
	// RemoveInstance removes a previously created instance
	RemoveInstance(ctx context.Context, handle InstanceHandle) error
}

// NopInventory accepts every call and keeps nothing
type NopInventory struct{}

func (NopInventory) CreateInstance(context.Context, LegoTypeID, Point) (InstanceHandle, error) {
	return "", nil
}

func (NopInventory) RemoveInstance(context.Context, InstanceHandle) error {
	return nil
}
