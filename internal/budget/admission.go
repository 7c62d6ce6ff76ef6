package budget

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Admission bounds how many investigations run at once. Acquire blocks
// until a slot frees or the context ends.
type Admission struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
	logger   *zap.Logger
}

// NewAdmission creates a controller with the given slot count. A
// non-positive count is coerced to 1.
func NewAdmission(maxConcurrent int, logger *zap.Logger) *Admission {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Admission{
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		capacity: int64(maxConcurrent),
		logger:   logger.Named("admission"),
	}
}

// Acquire takes one slot, blocking until one is available. The returned
// release function must be called exactly once; further calls are no-ops.
func (a *Admission) Acquire(ctx context.Context) (func(), error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	n := a.inFlight.Add(1)
	a.logger.Debug("Slot acquired", zap.Int64("in_flight", n), zap.Int64("capacity", a.capacity))

	var released atomic.Bool
	return func() {
		if !released.CompareAndSwap(false, true) {
			return
		}
		a.sem.Release(1)
		a.logger.Debug("Slot released", zap.Int64("in_flight", a.inFlight.Add(-1)))
	}, nil
}

// TryAcquire takes a slot without blocking.
func (a *Admission) TryAcquire() (func(), bool) {
	if !a.sem.TryAcquire(1) {
		return nil, false
	}
	a.inFlight.Add(1)
	var released atomic.Bool
	return func() {
		if !released.CompareAndSwap(false, true) {
			return
		}
		a.sem.Release(1)
		a.inFlight.Add(-1)
	}, true
}

// InFlight returns the number of currently held slots.
func (a *Admission) InFlight() int64 {
	return a.inFlight.Load()
}

// Capacity returns the configured slot count.
func (a *Admission) Capacity() int64 {
	return a.capacity
}
