package db

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/autobrake/internal/monitoring"
)

// recorderBatch caps how many ticks go into one transaction.
const recorderBatch = 64

// RecorderStats counts recorder activity.
type RecorderStats struct {
	Recorded uint64
	Dropped  uint64
	Failed   uint64
}

// TickRecorder writes ticks in the background. Record never blocks: when
// the buffer is full the tick is dropped and counted.
type TickRecorder struct {
	db *DB
	ch chan Tick

	done     chan struct{}
	stopOnce sync.Once

	recorded atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

// NewTickRecorder returns a recorder buffering up to buffer ticks. Call Run
// to start draining.
func NewTickRecorder(db *DB, buffer int) *TickRecorder {
	if buffer < 1 {
		buffer = 1
	}
	return &TickRecorder{
		db:   db,
		ch:   make(chan Tick, buffer),
		done: make(chan struct{}),
	}
}

// Record queues t and reports whether it was accepted.
func (r *TickRecorder) Record(t Tick) bool {
	select {
	case r.ch <- t:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// Run drains the queue until Stop is called, then flushes what is left.
// Cancelling ctx does not stop Run or fail its writes: ticks queued after a
// signal are still persisted before Stop returns control.
func (r *TickRecorder) Run(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	batch := make([]Tick, 0, recorderBatch)
	for {
		select {
		case t := <-r.ch:
			batch = append(batch[:0], t)
			batch = r.fill(batch)
			r.write(ctx, batch)
		case <-r.done:
			for {
				batch = r.fill(batch[:0])
				if len(batch) == 0 {
					return
				}
				r.write(ctx, batch)
			}
		}
	}
}

// fill appends queued ticks without blocking.
func (r *TickRecorder) fill(batch []Tick) []Tick {
	for len(batch) < recorderBatch {
		select {
		case t := <-r.ch:
			batch = append(batch, t)
		default:
			return batch
		}
	}
	return batch
}

func (r *TickRecorder) write(ctx context.Context, batch []Tick) {
	start := time.Now()
	if err := r.db.InsertTicks(ctx, batch); err != nil {
		r.failed.Add(uint64(len(batch)))
		monitoring.Logf("recorder: %d ticks lost: %v", len(batch), err)
		return
	}
	r.recorded.Add(uint64(len(batch)))
	monitoring.Debugf("recorder: wrote %d ticks in %v", len(batch), time.Since(start))
}

// Stop asks Run to flush and return. It is safe to call more than once.
func (r *TickRecorder) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *TickRecorder) Stats() RecorderStats {
	return RecorderStats{
		Recorded: r.recorded.Load(),
		Dropped:  r.dropped.Load(),
		Failed:   r.failed.Load(),
	}
}
