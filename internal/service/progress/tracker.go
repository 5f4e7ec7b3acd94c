// Package progress aggregates per-transfer progress into one figure.
package progress

import (
	"time"

	"github.com/VividCortex/ewma"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
)

type child struct {
	completed int64
	total     int64
	lastAt    time.Time
	rate      ewma.MovingAverage
	sampled   bool

	// reported is set by the first Update, which only records a baseline
	reported bool
}

func (c *child) throughput() float64 {
	if !c.sampled {
		return 0
	}
	return max(c.rate.Value(), 0)
}

func (c *child) eta() time.Duration {
	rate := c.throughput()
	if c.total < 0 || rate <= 0 {
		return 0
	}
	remaining := c.total - c.completed
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / rate * float64(time.Second))
}

// Tracker sums throughput and ETA over attached transfers.
// It is not safe for concurrent use.
type Tracker struct {
	children map[domain.TransferID]*child
	order    []domain.TransferID
	age      float64
}

// NewTracker creates a tracker; age is the EWMA age in samples, 0 for the default
func NewTracker(age float64) *Tracker {
	return &Tracker{
		children: make(map[domain.TransferID]*child),
		age:      age,
	}
}

func (t *Tracker) newAverage() ewma.MovingAverage {
	if t.age > 0 {
		return ewma.NewMovingAverage(t.age)
	}
	return ewma.NewMovingAverage()
}

// Attach adds a transfer as a child; attaching twice is a no-op
func (t *Tracker) Attach(id domain.TransferID, now time.Time) {
	if _, ok := t.children[id]; ok {
		return
	}
	t.children[id] = &child{
		total:  domain.UnknownTotal,
		lastAt: now,
		rate:   t.newAverage(),
	}
	t.order = append(t.order, id)
}

// Update records new byte counts for a child and folds the instantaneous
// rate into its moving average. Unknown children are ignored.
//
// The first report of a child is a baseline and adds no rate sample: a resumed
// transfer starts at the size already on disk.
func (t *Tracker) Update(id domain.TransferID, completed, total int64, now time.Time) {
	c, ok := t.children[id]
	if !ok {
		return
	}

	if !c.reported {
		c.reported = true
		c.lastAt = now
	} else if dt := now.Sub(c.lastAt).Seconds(); dt > 0 {
		delta := completed - c.completed
		if delta < 0 {
			delta = 0
		}
		c.rate.Add(float64(delta) / dt)
		c.sampled = true
		c.lastAt = now
	}

	c.completed = completed
	if total < 0 {
		total = domain.UnknownTotal
	}
	c.total = total
}

// Detach removes a child; detaching an unknown child is a no-op
func (t *Tracker) Detach(id domain.TransferID) {
	if _, ok := t.children[id]; !ok {
		return
	}
	delete(t.children, id)
	for i, cid := range t.order {
		if cid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of attached children
func (t *Tracker) Len() int {
	return len(t.children)
}

// Snapshot returns the aggregate progress. Throughput and ETA are sums of
// the per-child values; BytesTotal is -1 if any child total is unknown.
func (t *Tracker) Snapshot() domain.AggregateProgress {
	agg := domain.AggregateProgress{ActiveCount: len(t.children)}
	for _, c := range t.children {
		agg.TotalThroughput += c.throughput()
		agg.EstimatedTimeRemaining += c.eta()
		agg.BytesCompleted += c.completed
		if c.total < 0 || agg.BytesTotal < 0 {
			agg.BytesTotal = domain.UnknownTotal
		} else {
			agg.BytesTotal += c.total
		}
	}
	return agg
}

// Children returns per-child progress in attach order
func (t *Tracker) Children() []domain.ChildProgress {
	out := make([]domain.ChildProgress, 0, len(t.order))
	for _, id := range t.order {
		c := t.children[id]
		out = append(out, domain.ChildProgress{
			ID:                     id,
			BytesCompleted:         c.completed,
			BytesTotal:             c.total,
			Throughput:             c.throughput(),
			EstimatedTimeRemaining: c.eta(),
		})
	}
	return out
}
