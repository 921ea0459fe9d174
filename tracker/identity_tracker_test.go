package tracker

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

// recordingInventory remembers every call and may fail on demand
type recordingInventory struct {
	created    []LegoTypeID
	removed    []InstanceHandle
	live       map[InstanceHandle]struct{}
	failCreate bool
	failRemove bool
	next       int
}

func newRecordingInventory() *recordingInventory {
	return &recordingInventory{
		live: make(map[InstanceHandle]struct{}),
	}
}

func (inv *recordingInventory) CreateInstance(_ context.Context, typeID LegoTypeID, _ Point) (InstanceHandle, error) {
	if inv.failCreate {
		return "", fmt.Errorf("service unavailable")
	}
	handle := InstanceHandle(fmt.Sprintf("instance-%d", inv.next))
	inv.next++
	inv.created = append(inv.created, typeID)
	inv.live[handle] = struct{}{}
	return handle, nil
}

func (inv *recordingInventory) RemoveInstance(_ context.Context, handle InstanceHandle) error {
	if inv.failRemove {
		return fmt.Errorf("service unavailable")
	}
	inv.removed = append(inv.removed, handle)
	delete(inv.live, handle)
	return nil
}

func ids(tokens []*Token) []int {
	out := make([]int, len(tokens))
	for i, token := range tokens {
		out[i] = token.ID
	}
	return out
}

// assertSymmetry checks that every live token has exactly one consistent record and vice versa
func assertSymmetry(t *testing.T, tracker *IdentityTracker) {
	t.Helper()
	store := tracker.Store()
	if store.Len() != tracker.Len() {
		t.Fatalf("Expected %d records, got %d", tracker.Len(), store.Len())
	}
	for _, token := range tracker.Objects() {
		found := 0
		for _, c := range bucketOrder {
			for _, record := range store.Bucket(c.shape, c.color) {
				if record.ID == token.ID {
					found++
					if record != token.record() {
						t.Errorf("Record %+v differs from token %+v", record, token.record())
					}
				}
			}
		}
		if found != 1 {
			t.Errorf("Token %d must be stored exactly once, found %d", token.ID, found)
		}
	}
}

func TestNewIdentityTracker(t *testing.T) {
	tracker := NewIdentityTrackerDefault(nil)
	if tracker.maxDisappeared != 20 {
		t.Errorf("Expected default maxDisappeared 20, got %d", tracker.maxDisappeared)
	}
	if tracker.algorithm != MatchingGreedy {
		t.Errorf("Expected greedy matching by default, got %s", tracker.algorithm)
	}

	_, err := NewIdentityTracker(-1, nil)
	if !errors.Is(err, ErrInvalidMaxDisappeared) {
		t.Errorf("Expected ErrInvalidMaxDisappeared, got %v", err)
	}

	tracker, err = NewIdentityTracker(0, nil)
	if err != nil {
		t.Fatalf("Zero maxDisappeared must be accepted: %v", err)
	}
	if tracker.Len() != 0 {
		t.Errorf("New tracker must be empty")
	}
}

func TestRegisterFirstDetection(t *testing.T) {
	inv := newRecordingInventory()
	tracker := NewIdentityTrackerDefault(inv)

	result := tracker.Update([]Detection{NewDetection(10, 10, ShapeSquare, ColorRed)})
	if len(result.Errors) != 0 {
		t.Fatalf("Unexpected errors: %v", result.Errors)
	}
	if diff := cmp.Diff([]int{0}, ids(result.Tokens)); diff != "" {
		t.Errorf("Wrong identities (-want +got):\n%s", diff)
	}
	if result.Tokens[0].Centroid != NewPoint(10, 10) {
		t.Errorf("Expected centroid (10,10), got %v", result.Tokens[0].Centroid)
	}
	if !result.Refreshed {
		t.Error("Registration must refresh the frame")
	}

	bucket := tracker.Store().Bucket(ShapeSquare, ColorRed)
	if len(bucket) != 1 || bucket[0].ID != 0 {
		t.Errorf("Expected one red square record with id 0, got %+v", bucket)
	}
	if diff := cmp.Diff([]LegoTypeID{LegoTypeSquareRed}, inv.created); diff != "" {
		t.Errorf("Wrong inventory calls (-want +got):\n%s", diff)
	}
	if handle, ok := tracker.Instance(0); !ok || handle != "instance-0" {
		t.Errorf("Expected handle instance-0, got %q", handle)
	}
}

func TestMatchMovesToken(t *testing.T) {
	tracker := NewIdentityTrackerDefault(nil)
	tracker.Update([]Detection{NewDetection(10, 10, ShapeSquare, ColorRed)})

	result := tracker.Update([]Detection{NewDetection(12, 11, ShapeSquare, ColorRed)})
	if diff := cmp.Diff([]int{0}, ids(result.Tokens)); diff != "" {
		t.Fatalf("Wrong identities (-want +got):\n%s", diff)
	}
	token := result.Tokens[0]
	if token.Centroid != NewPoint(12, 11) {
		t.Errorf("Expected centroid (12,11), got %v", token.Centroid)
	}
	if token.DisappearedCount != 0 {
		t.Errorf("Expected disappeared count 0, got %d", token.DisappearedCount)
	}
	if len(result.Registered) != 0 {
		t.Errorf("No identity must be created, got %v", result.Registered)
	}
	record, ok := tracker.Store().Find(0)
	if !ok || record.Centroid != NewPoint(12, 11) {
		t.Errorf("Record must follow the token, got %+v", record)
	}
	if len(token.Track()) != 2 {
		t.Errorf("Expected track length 2, got %d", len(token.Track()))
	}
}

func TestDeregisterAfterMaxDisappeared(t *testing.T) {
	inv := newRecordingInventory()
	tracker := NewIdentityTrackerDefault(inv)
	tracker.Update([]Detection{NewDetection(10, 10, ShapeSquare, ColorRed)})

	for i := 1; i <= 20; i++ {
		result := tracker.Update(nil)
		if tracker.Len() != 1 {
			t.Fatalf("Token must survive frame %d", i)
		}
		if result.Tokens[0].DisappearedCount != i {
			t.Fatalf("Expected disappeared count %d, got %d", i, result.Tokens[0].DisappearedCount)
		}
		if len(result.Registered) != 0 {
			t.Fatalf("Empty frame must not register anything")
		}
	}

	result := tracker.Update([]Detection{})
	if tracker.Len() != 0 {
		t.Fatalf("Token must be retired after 21 empty frames")
	}
	if diff := cmp.Diff([]int{0}, result.Deregistered); diff != "" {
		t.Errorf("Wrong retired identities (-want +got):\n%s", diff)
	}
	if _, ok := tracker.Store().Find(0); ok {
		t.Error("Record must be deleted together with the token")
	}
	if !tracker.Store().IsEmpty() {
		t.Error("Store must be empty")
	}
	if diff := cmp.Diff([]InstanceHandle{"instance-0"}, inv.removed); diff != "" {
		t.Errorf("Wrong removed instances (-want +got):\n%s", diff)
	}
}

func TestNearestNeighbourMatching(t *testing.T) {
	for _, reversed := range []bool{false, true} {
		tracker := NewIdentityTrackerDefault(nil)
		tracker.Update([]Detection{
			NewDetection(0, 0, ShapeSquare, ColorRed),
			NewDetection(100, 100, ShapeRectangle, ColorBlue),
		})

		frame := []Detection{
			NewDetection(1, 1, ShapeSquare, ColorRed),
			NewDetection(101, 101, ShapeRectangle, ColorBlue),
		}
		if reversed {
			frame[0], frame[1] = frame[1], frame[0]
		}
		result := tracker.Update(frame)
		if diff := cmp.Diff([]int{0, 1}, ids(result.Tokens)); diff != "" {
			t.Fatalf("reversed=%v: wrong identities (-want +got):\n%s", reversed, diff)
		}
		first, _ := tracker.Get(0)
		second, _ := tracker.Get(1)
		if first.Centroid != NewPoint(1, 1) {
			t.Errorf("reversed=%v: id 0 expected at (1,1), got %v", reversed, first.Centroid)
		}
		if second.Centroid != NewPoint(101, 101) {
			t.Errorf("reversed=%v: id 1 expected at (101,101), got %v", reversed, second.Centroid)
		}
		assertSymmetry(t, tracker)
	}
}

func TestFarDetectionRegistersNewIdentity(t *testing.T) {
	tracker, err := NewIdentityTracker(DefaultMaxDisappeared, nil, WithMaxDistance(50))
	if err != nil {
		t.Fatal(err)
	}
	tracker.Update([]Detection{
		NewDetection(0, 0, ShapeSquare, ColorRed),
		NewDetection(100, 0, ShapeSquare, ColorBlue),
	})
	tracker.Update(nil)

	result := tracker.Update([]Detection{NewDetection(500, 500, ShapeRectangle, ColorRed)})
	if diff := cmp.Diff([]int{0, 1, 2}, ids(result.Tokens)); diff != "" {
		t.Fatalf("Wrong identities (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2}, result.Registered); diff != "" {
		t.Errorf("Wrong registered identities (-want +got):\n%s", diff)
	}
	for _, id := range []int{0, 1} {
		token, _ := tracker.Get(id)
		if token.DisappearedCount != 2 {
			t.Errorf("Token %d: expected disappeared count 2, got %d", id, token.DisappearedCount)
		}
	}
	assertSymmetry(t, tracker)
}

func TestUngatedFarDetectionMatchesNearest(t *testing.T) {
	tracker := NewIdentityTrackerDefault(nil)
	tracker.Update([]Detection{
		NewDetection(0, 0, ShapeSquare, ColorRed),
		NewDetection(100, 0, ShapeSquare, ColorRed),
	})
	result := tracker.Update([]Detection{NewDetection(500, 0, ShapeSquare, ColorRed)})
	if len(result.Registered) != 0 {
		t.Fatalf("Without a gate the nearest token takes the detection, registered %v", result.Registered)
	}
	matched, _ := tracker.Get(1)
	if matched.Centroid != NewPoint(500, 0) || matched.DisappearedCount != 0 {
		t.Errorf("Token 1 must take the detection, got %+v", matched)
	}
	missed, _ := tracker.Get(0)
	if missed.DisappearedCount != 1 {
		t.Errorf("Token 0 must be missed once, got %d", missed.DisappearedCount)
	}
}

func TestIdentitiesNeverReused(t *testing.T) {
	tracker, _ := NewIdentityTracker(0, nil)
	seen := make(map[int]struct{})
	for frame := 0; frame < 10; frame++ {
		result := tracker.Update([]Detection{NewDetection(frame*1000, 0, ShapeSquare, ColorBlue)})
		for _, id := range result.Registered {
			if _, ok := seen[id]; ok {
				t.Fatalf("Identity %d reused", id)
			}
			seen[id] = struct{}{}
		}
		// Empty frame retires everything since maxDisappeared is zero
		tracker.Update(nil)
		if tracker.Len() != 0 {
			t.Fatalf("Expected no tokens after empty frame, got %d", tracker.Len())
		}
	}
	if tracker.nextID != 10 {
		t.Errorf("Expected nextID 10, got %d", tracker.nextID)
	}
}

func TestDisappearanceCounters(t *testing.T) {
	tracker := NewIdentityTrackerDefault(nil)
	tracker.Update([]Detection{
		NewDetection(0, 0, ShapeSquare, ColorRed),
		NewDetection(50, 50, ShapeSquare, ColorRed),
	})
	tracker.Update(nil)
	tracker.Update(nil)

	// Only the first token is seen again
	result := tracker.Update([]Detection{NewDetection(1, 0, ShapeSquare, ColorRed)})
	first, _ := tracker.Get(0)
	second, _ := tracker.Get(1)
	if first.DisappearedCount != 0 {
		t.Errorf("Matched token must reset its counter, got %d", first.DisappearedCount)
	}
	if second.DisappearedCount != 3 {
		t.Errorf("Unmatched token must grow by one per frame, got %d", second.DisappearedCount)
	}
	if len(result.Registered) != 0 {
		t.Errorf("Expected no registrations, got %v", result.Registered)
	}
}

func TestMoreDetectionsThanTokens(t *testing.T) {
	tracker := NewIdentityTrackerDefault(nil)
	tracker.Update([]Detection{NewDetection(10, 10, ShapeSquare, ColorRed)})
	result := tracker.Update([]Detection{
		NewDetection(300, 300, ShapeRectangle, ColorBlue),
		NewDetection(11, 10, ShapeSquare, ColorRed),
		NewDetection(600, 600, ShapeSquare, ColorBlue),
	})
	if diff := cmp.Diff([]int{1, 2}, result.Registered); diff != "" {
		t.Errorf("Wrong registered identities (-want +got):\n%s", diff)
	}
	first, _ := tracker.Get(0)
	if first.Centroid != NewPoint(11, 10) {
		t.Errorf("Token 0 must match the nearest detection, got %v", first.Centroid)
	}
	assertSymmetry(t, tracker)
}

func TestCategoryChangeMovesBucket(t *testing.T) {
	tracker := NewIdentityTrackerDefault(nil)
	tracker.Update([]Detection{NewDetection(10, 10, ShapeSquare, ColorRed)})
	tracker.Update([]Detection{NewDetection(10, 10, ShapeRectangle, ColorRed)})

	if len(tracker.Store().Bucket(ShapeSquare, ColorRed)) != 0 {
		t.Error("Red square bucket must be empty")
	}
	if len(tracker.Store().Bucket(ShapeRectangle, ColorRed)) != 1 {
		t.Error("Red rectangle bucket must hold the token")
	}
	assertSymmetry(t, tracker)
}

func TestMalformedDetectionIsReported(t *testing.T) {
	inv := newRecordingInventory()
	tracker := NewIdentityTrackerDefault(inv)
	result := tracker.Update([]Detection{
		{Centroid: NewPoint(5, 5), Shape: "triangle", Color: ColorRed},
		NewDetection(10, 10, ShapeSquare, ColorBlue),
	})
	if len(result.Errors) != 1 {
		t.Fatalf("Expected one error, got %v", result.Errors)
	}
	var classErr *ClassificationError
	if !errors.As(result.Errors[0], &classErr) {
		t.Fatalf("Expected ClassificationError, got %v", result.Errors[0])
	}
	if classErr.Shape != "triangle" {
		t.Errorf("Expected shape triangle, got %q", classErr.Shape)
	}
	if tracker.Len() != 1 || len(inv.created) != 1 {
		t.Errorf("Only the valid detection must be tracked")
	}
}

func TestInventoryFailureKeepsTracking(t *testing.T) {
	inv := newRecordingInventory()
	inv.failCreate = true
	tracker, _ := NewIdentityTracker(1, inv)

	result := tracker.Update([]Detection{NewDetection(10, 10, ShapeRectangle, ColorBlue)})
	if tracker.Len() != 1 {
		t.Fatalf("Token must be tracked despite inventory failure")
	}
	if len(result.Errors) != 1 || !errors.Is(result.Errors[0], ErrInventory) {
		t.Fatalf("Expected ErrInventory, got %v", result.Errors)
	}
	if _, ok := tracker.Instance(0); ok {
		t.Error("No handle must be kept for a failed creation")
	}

	tracker.Update(nil)
	result = tracker.Update(nil)
	if tracker.Len() != 0 {
		t.Fatalf("Token must be retired")
	}
	if len(inv.removed) != 0 {
		t.Errorf("Nothing to remove for a token without handle, got %v", inv.removed)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Missing handle is not an error, got %v", result.Errors)
	}
}

func TestInventoryRemoveFailureIsReported(t *testing.T) {
	inv := newRecordingInventory()
	tracker, _ := NewIdentityTracker(0, inv)
	tracker.Update([]Detection{NewDetection(10, 10, ShapeRectangle, ColorBlue)})
	inv.failRemove = true

	result := tracker.Update(nil)
	if tracker.Len() != 0 {
		t.Fatalf("Token must be retired even if removal fails")
	}
	if len(result.Errors) != 1 || !errors.Is(result.Errors[0], ErrInventory) {
		t.Errorf("Expected ErrInventory, got %v", result.Errors)
	}
}

func TestStoreDivergenceIsHealed(t *testing.T) {
	tracker := NewIdentityTrackerDefault(nil)
	tracker.Update([]Detection{
		NewDetection(0, 0, ShapeSquare, ColorRed),
		NewDetection(100, 100, ShapeSquare, ColorBlue),
	})

	// Corrupt the store behind the tracker's back
	if err := tracker.Store().Delete(1); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Store().Create(42, NewPoint(7, 7), ShapeRectangle, ColorRed); err != nil {
		t.Fatal(err)
	}

	result := tracker.Update([]Detection{
		NewDetection(1, 0, ShapeSquare, ColorRed),
		NewDetection(101, 100, ShapeSquare, ColorBlue),
	})
	if len(result.Errors) == 0 {
		t.Fatal("Divergence must be reported")
	}
	for _, err := range result.Errors {
		if !errors.Is(err, ErrInvariantViolation) {
			t.Errorf("Expected ErrInvariantViolation, got %v", err)
		}
	}
	if _, ok := tracker.Store().Find(42); ok {
		t.Error("Stray record must be dropped on rebuild")
	}
	assertSymmetry(t, tracker)
}

func TestReset(t *testing.T) {
	inv := newRecordingInventory()
	tracker := NewIdentityTrackerDefault(inv)
	tracker.Update([]Detection{
		NewDetection(0, 0, ShapeSquare, ColorRed),
		NewDetection(100, 100, ShapeSquare, ColorBlue),
	})
	result := tracker.Reset()
	if diff := cmp.Diff([]int{0, 1}, result.Deregistered); diff != "" {
		t.Errorf("Wrong retired identities (-want +got):\n%s", diff)
	}
	if !tracker.Store().IsEmpty() || tracker.Len() != 0 {
		t.Error("Reset must empty tracker and store")
	}
	if len(inv.live) != 0 {
		t.Errorf("Every instance must be removed, left %d", len(inv.live))
	}

	result = tracker.Update([]Detection{NewDetection(0, 0, ShapeSquare, ColorRed)})
	if diff := cmp.Diff([]int{2}, result.Registered); diff != "" {
		t.Errorf("Identities must continue after reset (-want +got):\n%s", diff)
	}
}

func TestHungarianMatching(t *testing.T) {
	tracker, _ := NewIdentityTracker(DefaultMaxDisappeared, nil, WithMatchingAlgorithm(MatchingHungarian))
	tracker.Update([]Detection{
		NewDetection(0, 0, ShapeSquare, ColorRed),
		NewDetection(10, 0, ShapeSquare, ColorRed),
	})
	// Greedy gives (12,0) to token 1 first, leaving token 0 unmatched
	result := tracker.Update([]Detection{
		NewDetection(-20, 0, ShapeSquare, ColorRed),
		NewDetection(12, 0, ShapeSquare, ColorRed),
	})
	if len(result.Registered) != 0 {
		t.Fatalf("Expected no registrations, got %v", result.Registered)
	}
	first, _ := tracker.Get(0)
	second, _ := tracker.Get(1)
	if first.Centroid != NewPoint(-20, 0) || second.Centroid != NewPoint(12, 0) {
		t.Errorf("Unexpected assignment: %v, %v", first.Centroid, second.Centroid)
	}
}
