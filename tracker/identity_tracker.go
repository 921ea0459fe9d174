package tracker

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxDisappeared is the number of consecutive unmatched frames a token survives
	DefaultMaxDisappeared = 20
)

// IdentityTracker assigns stable integer identities to bricks across frames.
// It is not safe for concurrent use: a single frame loop owns it.
type IdentityTracker struct {
	nextID int
	// Registration order of live tokens
	order  []int
	tokens map[int]*Token
	// Max number of consecutive frames a token may stay unmatched. Default is 20
	maxDisappeared int
	algorithm      MatchingAlgorithm
	// Pairs farther apart than this are never matched. Zero disables the gate
	maxDistance float64
	// Time step of smoothing filter
	dt float64

	store     *BrickStore
	inventory InventoryService
	instances map[int]InstanceHandle
	log       *logrus.Entry
}

// Option configures IdentityTracker
type Option func(*IdentityTracker)

// WithMatchingAlgorithm selects how detections are assigned to tokens. Default is MatchingGreedy
func WithMatchingAlgorithm(algorithm MatchingAlgorithm) Option {
	return func(tracker *IdentityTracker) {
		tracker.algorithm = algorithm
	}
}

// WithMaxDistance forbids matching a token to a detection farther than maxDistance.
// Default is 0: every pair is eligible.
func WithMaxDistance(maxDistance float64) Option {
	return func(tracker *IdentityTracker) {
		if maxDistance > 0 {
			tracker.maxDistance = maxDistance
		}
	}
}

// WithLogger sets logger. Default is standard logrus logger with component field
func WithLogger(log *logrus.Entry) Option {
	return func(tracker *IdentityTracker) {
		if log != nil {
			tracker.log = log
		}
	}
}

// WithTimeStep sets time step of token smoothing filter. Default is 1.0
func WithTimeStep(dt float64) Option {
	return func(tracker *IdentityTracker) {
		if dt > 0 {
			tracker.dt = dt
		}
	}
}

// NewIdentityTrackerDefault creates tracker with maxDisappeared = 20
func NewIdentityTrackerDefault(inventory InventoryService) *IdentityTracker {
	tracker, _ := NewIdentityTracker(DefaultMaxDisappeared, inventory)
	return tracker
}

// NewIdentityTracker creates new instance of IdentityTracker.
// Nil inventory is replaced with NopInventory.
func NewIdentityTracker(maxDisappeared int, inventory InventoryService, options ...Option) (*IdentityTracker, error) {
	if maxDisappeared < 0 {
		return nil, errors.Wrapf(ErrInvalidMaxDisappeared, "got %d", maxDisappeared)
	}
	if inventory == nil {
		inventory = NopInventory{}
	}
	tracker := &IdentityTracker{
		order:          make([]int, 0),
		tokens:         make(map[int]*Token),
		maxDisappeared: maxDisappeared,
		algorithm:      MatchingGreedy,
		dt:             1.0,
		store:          NewBrickStore(),
		inventory:      inventory,
		instances:      make(map[int]InstanceHandle),
		log:            logrus.WithField("component", "tracker"),
	}
	for _, option := range options {
		option(tracker)
	}
	return tracker, nil
}

// FrameResult is the outcome of a single Update call
type FrameResult struct {
	// Live tokens in registration order
	Tokens []*Token
	// Identities created during this frame
	Registered []int
	// Identities retired during this frame
	Deregistered []int
	// Refreshed is true when any token was matched, registered or retired
	Refreshed bool
	// Non-fatal conditions: classification, inventory and invariant errors
	Errors []error
}

// Update consumes detections of one frame and returns the current identities
func (tracker *IdentityTracker) Update(detections []Detection) *FrameResult {
	result := &FrameResult{}
	detections = tracker.filterDetections(detections, result)

	switch {
	case len(detections) == 0:
		for _, id := range tracker.snapshotOrder() {
			tracker.markMissing(id, result)
		}
	case len(tracker.order) == 0:
		for _, detection := range detections {
			tracker.register(detection, result)
		}
	default:
		tracker.matchFrame(detections, result)
	}

	tracker.verify(result)
	result.Tokens = tracker.Objects()
	return result
}

func (tracker *IdentityTracker) matchFrame(detections []Detection, result *FrameResult) {
	tokens := tracker.Objects()
	dist := distanceMatrix(tokens, detections)
	matches := match(tracker.algorithm, dist)

	usedRows := make(map[int]struct{}, len(matches))
	usedCols := make(map[int]struct{}, len(matches))
	// Greedy pairs come by ascending distance, so a gated pair never blocks an eligible one
	for _, pair := range matches {
		row, col := pair[0], pair[1]
		if tracker.maxDistance > 0 && dist.At(row, col) > tracker.maxDistance {
			continue
		}
		usedRows[row] = struct{}{}
		usedCols[col] = struct{}{}
		tracker.applyMatch(tokens[row], detections[col], result)
	}
	if len(usedRows) > 0 {
		result.Refreshed = true
	}

	for row, token := range tokens {
		if _, ok := usedRows[row]; ok {
			continue
		}
		tracker.markMissing(token.ID, result)
	}
	for col, detection := range detections {
		if _, ok := usedCols[col]; ok {
			continue
		}
		tracker.register(detection, result)
	}
}

func (tracker *IdentityTracker) applyMatch(token *Token, detection Detection, result *FrameResult) {
	categoryChanged := token.Shape != detection.Shape || token.Color != detection.Color
	err := token.match(detection)
	if err != nil {
		tracker.log.WithError(err).WithField("id", token.ID).Warn("smoothing filter update failed")
	}
	if categoryChanged {
		err = tracker.store.Delete(token.ID)
		if err == nil {
			err = tracker.store.Create(token.ID, token.Centroid, token.Shape, token.Color)
		}
	} else {
		err = tracker.store.Move(token.ID, token.Centroid)
	}
	if err != nil {
		tracker.reportInvariant(errors.Wrapf(err, "store out of sync for token %d", token.ID), result)
	}
}

func (tracker *IdentityTracker) markMissing(id int, result *FrameResult) {
	token, ok := tracker.tokens[id]
	if !ok {
		return
	}
	token.miss()
	if token.DisappearedCount > tracker.maxDisappeared {
		tracker.deregister(id, result)
	}
}

// register starts tracking a detection under the next identity
func (tracker *IdentityTracker) register(detection Detection, result *FrameResult) int {
	id := tracker.nextID
	tracker.nextID++

	token := newToken(id, detection, tracker.dt)
	tracker.tokens[id] = token
	tracker.order = append(tracker.order, id)
	err := tracker.store.Create(id, token.Centroid, token.Shape, token.Color)
	if err != nil {
		tracker.reportInvariant(errors.Wrapf(err, "can't store token %d", id), result)
	}
	result.Registered = append(result.Registered, id)
	result.Refreshed = true

	typeID, err := TypeIDFor(detection.Shape, detection.Color)
	if err != nil {
		result.Errors = append(result.Errors, err)
		return id
	}
	handle, err := tracker.inventory.CreateInstance(context.Background(), typeID, token.Centroid)
	if err != nil {
		err = errors.Wrapf(ErrInventory, "create instance for token %d: %v", id, err)
		tracker.log.WithError(err).Warn("inventory create failed, keep tracking locally")
		result.Errors = append(result.Errors, err)
		return id
	}
	tracker.instances[id] = handle
	tracker.log.WithFields(logrus.Fields{
		"id":       id,
		"type_id":  typeID,
		"instance": handle,
	}).Debug("token registered")
	return id
}

// deregister stops tracking the identity and removes its inventory instance
func (tracker *IdentityTracker) deregister(id int, result *FrameResult) {
	err := tracker.store.Delete(id)
	if err != nil {
		tracker.reportInvariant(err, result)
	}
	delete(tracker.tokens, id)
	for i, orderedID := range tracker.order {
		if orderedID == id {
			tracker.order = append(tracker.order[:i], tracker.order[i+1:]...)
			break
		}
	}
	result.Deregistered = append(result.Deregistered, id)
	result.Refreshed = true

	handle, ok := tracker.instances[id]
	if !ok {
		return
	}
	delete(tracker.instances, id)
	err = tracker.inventory.RemoveInstance(context.Background(), handle)
	if err != nil {
		err = errors.Wrapf(ErrInventory, "remove instance %s of token %d: %v", handle, id, err)
		tracker.log.WithError(err).Warn("inventory remove failed")
		result.Errors = append(result.Errors, err)
		return
	}
	tracker.log.WithFields(logrus.Fields{
		"id":       id,
		"instance": handle,
	}).Debug("token deregistered")
}

// filterDetections drops detections with unknown shape/color
func (tracker *IdentityTracker) filterDetections(detections []Detection, result *FrameResult) []Detection {
	valid := detections[:0:0]
	for _, detection := range detections {
		if _, err := TypeIDFor(detection.Shape, detection.Color); err != nil {
			tracker.log.WithError(err).Warn("dropping malformed detection")
			result.Errors = append(result.Errors, err)
			continue
		}
		valid = append(valid, detection)
	}
	return valid
}

// verify checks that every token has exactly one consistent record and rebuilds the store otherwise
func (tracker *IdentityTracker) verify(result *FrameResult) {
	consistent := tracker.store.Len() == len(tracker.tokens)
	if consistent {
		for _, token := range tracker.tokens {
			record, ok := tracker.store.Find(token.ID)
			if !ok || record != token.record() {
				consistent = false
				break
			}
		}
	}
	if consistent {
		return
	}
	tracker.reportInvariant(errors.Wrap(ErrInvariantViolation, "brick store diverged from tokens"), result)
	tracker.resync()
}

func (tracker *IdentityTracker) reportInvariant(err error, result *FrameResult) {
	if !errors.Is(err, ErrInvariantViolation) {
		err = errors.Wrapf(ErrInvariantViolation, "%v", err)
	}
	tracker.log.WithError(err).Error("internal inconsistency detected")
	result.Errors = append(result.Errors, err)
}

// resync rebuilds the brick store from tokens
func (tracker *IdentityTracker) resync() {
	tracker.store.Clear()
	for _, id := range tracker.order {
		token := tracker.tokens[id]
		// Tokens only carry validated categories, so Create can't fail here
		_ = tracker.store.Create(token.ID, token.Centroid, token.Shape, token.Color)
	}
	tracker.log.WithField("tokens", len(tracker.order)).Info("brick store rebuilt")
}

// Reset retires every live token. Identities are never reused afterwards.
func (tracker *IdentityTracker) Reset() *FrameResult {
	result := &FrameResult{}
	for _, id := range tracker.snapshotOrder() {
		tracker.deregister(id, result)
	}
	tracker.store.Clear()
	result.Tokens = tracker.Objects()
	return result
}

// Objects returns live tokens in registration order
func (tracker *IdentityTracker) Objects() []*Token {
	tokens := make([]*Token, 0, len(tracker.order))
	for _, id := range tracker.order {
		tokens = append(tokens, tracker.tokens[id])
	}
	return tokens
}

// Get returns live token by id
func (tracker *IdentityTracker) Get(id int) (*Token, bool) {
	token, ok := tracker.tokens[id]
	return token, ok
}

// Len returns number of live tokens
func (tracker *IdentityTracker) Len() int {
	return len(tracker.order)
}

// Store gives read access to categorized records
func (tracker *IdentityTracker) Store() *BrickStore {
	return tracker.store
}

// Instance returns inventory handle of the identity
func (tracker *IdentityTracker) Instance(id int) (InstanceHandle, bool) {
	handle, ok := tracker.instances[id]
	return handle, ok
}

func (tracker *IdentityTracker) snapshotOrder() []int {
	ids := make([]int, len(tracker.order))
	copy(ids, tracker.order)
	return ids
}
