package inventory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LdDl/brick-tracker/tracker"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	defaultQueueSize      = 256
	defaultRequestTimeout = 5 * time.Second
)

// ErrQueueFull is returned when the dispatcher can't accept more work without blocking
var ErrQueueFull = errors.New("inventory: dispatcher queue is full")

type jobKind int

const (
	jobCreate jobKind = iota
	jobRemove
)

type job struct {
	kind        jobKind
	provisional tracker.InstanceHandle
	typeID      tracker.LegoTypeID
	centroid    tracker.Point
}

// Dispatcher runs inventory calls on a single background worker so the frame loop never waits for them.
// CreateInstance answers at once with a provisional handle; the worker resolves it to
// the handle returned by the wrapped service. Jobs run in FIFO order, so a removal
// always follows the creation it refers to.
type Dispatcher struct {
	service tracker.InventoryService
	queue   chan job
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	handlesMu sync.Mutex
	// provisional -> service handle
	handles map[tracker.InstanceHandle]tracker.InstanceHandle

	timeout  time.Duration
	onError  func(error)
	failures atomic.Int64
	log      *logrus.Entry
}

// DispatcherOption configures Dispatcher
type DispatcherOption func(*Dispatcher)

// WithQueueSize sets capacity of the job queue. Default is 256
func WithQueueSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queue = make(chan job, size)
		}
	}
}

// WithRequestTimeout bounds every call to the wrapped service. Default is 5s
func WithRequestTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithOnError registers a callback for failed background calls. It runs on the worker goroutine
func WithOnError(fn func(error)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onError = fn
	}
}

// WithDispatcherLogger sets logger
func WithDispatcherLogger(log *logrus.Entry) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// NewDispatcher starts the worker
func NewDispatcher(service tracker.InventoryService, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		service: service,
		queue:   make(chan job, defaultQueueSize),
		done:    make(chan struct{}),
		handles: make(map[tracker.InstanceHandle]tracker.InstanceHandle),
		timeout: defaultRequestTimeout,
		log:     logrus.WithField("component", "inventory-dispatcher"),
	}
	for _, option := range options {
		option(d)
	}
	go d.run()
	return d
}

func (d *Dispatcher) CreateInstance(_ context.Context, typeID tracker.LegoTypeID, centroid tracker.Point) (tracker.InstanceHandle, error) {
	provisional := tracker.InstanceHandle(uuid.New().String())
	err := d.enqueue(job{
		kind:        jobCreate,
		provisional: provisional,
		typeID:      typeID,
		centroid:    centroid,
	})
	if err != nil {
		return "", err
	}
	return provisional, nil
}

func (d *Dispatcher) RemoveInstance(_ context.Context, handle tracker.InstanceHandle) error {
	return d.enqueue(job{
		kind:        jobRemove,
		provisional: handle,
	})
}

func (d *Dispatcher) enqueue(j job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// Resolve returns the service handle behind a provisional one, once the creation has completed
func (d *Dispatcher) Resolve(provisional tracker.InstanceHandle) (tracker.InstanceHandle, bool) {
	d.handlesMu.Lock()
	defer d.handlesMu.Unlock()
	resolved, ok := d.handles[provisional]
	return resolved, ok
}

// Failures returns number of failed background calls
func (d *Dispatcher) Failures() int64 {
	return d.failures.Load()
}

// Close stops accepting work and waits until queued jobs are processed or ctx is done
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "drain inventory queue")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for j := range d.queue {
		switch j.kind {
		case jobCreate:
			d.create(j)
		case jobRemove:
			d.remove(j)
		}
	}
}

func (d *Dispatcher) create(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	resolved, err := d.service.CreateInstance(ctx, j.typeID, j.centroid)
	if err != nil {
		d.fail(errors.Wrapf(err, "create instance %s", j.provisional))
		return
	}
	d.handlesMu.Lock()
	d.handles[j.provisional] = resolved
	d.handlesMu.Unlock()
	d.log.WithFields(logrus.Fields{
		"provisional": j.provisional,
		"instance":    resolved,
	}).Debug("instance created")
}

func (d *Dispatcher) remove(j job) {
	d.handlesMu.Lock()
	resolved, ok := d.handles[j.provisional]
	delete(d.handles, j.provisional)
	d.handlesMu.Unlock()
	if !ok {
		// Creation failed earlier and was reported then
		d.log.WithField("provisional", j.provisional).Debug("nothing to remove")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.service.RemoveInstance(ctx, resolved); err != nil {
		d.fail(errors.Wrapf(err, "remove instance %s", resolved))
	}
}

func (d *Dispatcher) fail(err error) {
	d.failures.Add(1)
	d.log.WithError(err).Warn("background inventory call failed")
	if d.onError != nil {
		d.onError(err)
	}
}
