package tracker

import (
	"github.com/pkg/errors"
)

// BrickRecord is categorized metadata of a tracked brick
type BrickRecord struct {
	ID       int
	Centroid Point
	Shape    Shape
	Color    Color
}

// BrickStore keeps brick records partitioned into four (shape, color) buckets.
// Records are owned by the store and addressed by id only.
type BrickStore struct {
	buckets [len(bucketOrder)][]BrickRecord
	empty   bool
}

// NewBrickStore creates an empty store
func NewBrickStore() *BrickStore {
	return &BrickStore{
		empty: true,
	}
}

// Create appends a new record to the bucket selected by shape and color.
// There is no duplicate check: the caller owns id uniqueness.
func (store *BrickStore) Create(id int, centroid Point, shape Shape, color Color) error {
	idx, err := bucketIndex(shape, color)
	if err != nil {
		return err
	}
	store.buckets[idx] = append(store.buckets[idx], BrickRecord{
		ID:       id,
		Centroid: centroid,
		Shape:    shape,
		Color:    color,
	})
	store.empty = false
	return nil
}

// Delete removes the record with given id
func (store *BrickStore) Delete(id int) error {
	bucketIdx, recordIdx, ok := store.locate(id)
	if !ok {
		return errors.Wrapf(ErrNotFound, "can't delete brick %d", id)
	}
	bucket := store.buckets[bucketIdx]
	store.buckets[bucketIdx] = append(bucket[:recordIdx], bucket[recordIdx+1:]...)
	store.empty = store.allEmpty()
	return nil
}

// Move sets centroid of the record with given id
func (store *BrickStore) Move(id int, newCentroid Point) error {
	bucketIdx, recordIdx, ok := store.locate(id)
	if !ok {
		return errors.Wrapf(ErrNotFound, "can't move brick %d", id)
	}
	store.buckets[bucketIdx][recordIdx].Centroid = newCentroid
	return nil
}

// Find returns a copy of the record with given id
func (store *BrickStore) Find(id int) (BrickRecord, bool) {
	bucketIdx, recordIdx, ok := store.locate(id)
	if !ok {
		return BrickRecord{}, false
	}
	return store.buckets[bucketIdx][recordIdx], true
}

// IsEmpty returns true when no bucket holds a record
func (store *BrickStore) IsEmpty() bool {
	return store.empty
}

// Clear drops every record
func (store *BrickStore) Clear() {
	for i := range store.buckets {
		store.buckets[i] = nil
	}
	store.empty = true
}

// Len returns number of records over all buckets
func (store *BrickStore) Len() int {
	n := 0
	for _, bucket := range store.buckets {
		n += len(bucket)
	}
	return n
}

// Bucket returns a copy of records for the given category.
// Unknown categories yield nil.
func (store *BrickStore) Bucket(shape Shape, color Color) []BrickRecord {
	idx, err := bucketIndex(shape, color)
	if err != nil {
		return nil
	}
	out := make([]BrickRecord, len(store.buckets[idx]))
	copy(out, store.buckets[idx])
	return out
}

// Records returns copies of all records in bucket scan order
func (store *BrickStore) Records() []BrickRecord {
	out := make([]BrickRecord, 0, store.Len())
	for _, bucket := range store.buckets {
		out = append(out, bucket...)
	}
	return out
}

// locate scans buckets in the fixed order and stops at the first match
func (store *BrickStore) locate(id int) (int, int, bool) {
	for bucketIdx, bucket := range store.buckets {
		for recordIdx := range bucket {
			if bucket[recordIdx].ID == id {
				return bucketIdx, recordIdx, true
			}
		}
	}
	return -1, -1, false
}

func (store *BrickStore) allEmpty() bool {
	for _, bucket := range store.buckets {
		if len(bucket) > 0 {
			return false
		}
	}
	return true
}
