// Package stats rolls up endpoint task outcomes into hourly buckets,
// the D9 collaborator named in SPEC_FULL.md. Adapted from the
// teacher's hourly/daily SQL aggregators: the same hour-bucket
// truncation and roll-forward logic, but kept in memory and updated
// synchronously off the Observer call path instead of batch-querying
// a database on a timer (a rollup of in-process counters has no
// source table to query).
package stats

import (
	"sync"
	"time"

	"github.com/gearman-go/gasync/internal/gearman/endpoint"
)

// Bucket holds outcome counts for one hour, keyed by its truncated
// start time.
type Bucket struct {
	HourStart   time.Time
	Completed   int
	Failed      int
	Exceptions  int
	Connects    int
	Disconnects int
}

// Roller tallies task outcomes and connection transitions into hourly
// Buckets. It implements endpoint.Observer so it can be registered
// directly against one or more Endpoints.
type Roller struct {
	mu      sync.Mutex
	buckets map[time.Time]*Bucket
}

// NewRoller creates an empty Roller.
func NewRoller() *Roller {
	return &Roller{buckets: make(map[time.Time]*Bucket)}
}

func (r *Roller) bucketLocked(at time.Time) *Bucket {
	hour := at.Truncate(time.Hour)
	b, ok := r.buckets[hour]
	if !ok {
		b = &Bucket{HourStart: hour}
		r.buckets[hour] = b
	}
	return b
}

// OnStateChange implements endpoint.Observer.
func (r *Roller) OnStateChange(ep *endpoint.Endpoint, from, to endpoint.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bucketLocked(time.Now())
	switch {
	case to == endpoint.Ready:
		b.Connects++
	case to == endpoint.Disconnected && from == endpoint.Ready:
		// Only count a drop from a live connection; a failed connect
		// attempt (Connecting->Disconnected) never reached Ready.
		b.Disconnects++
	}
}

// OnProtocolViolation implements endpoint.Observer; the OnStateChange
// that immediately follows already counts the resulting disconnect.
func (r *Roller) OnProtocolViolation(*endpoint.Endpoint, error) {}

// OnTaskOutcome implements endpoint.Observer.
func (r *Roller) OnTaskOutcome(ep *endpoint.Endpoint, handle string, outcome endpoint.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bucketLocked(time.Now())
	switch outcome {
	case endpoint.OutcomeComplete:
		b.Completed++
	case endpoint.OutcomeFail:
		b.Failed++
	case endpoint.OutcomeException:
		b.Exceptions++
	}
}

// Snapshot returns a copy of every bucket recorded so far, most
// recent hour last.
func (r *Roller) Snapshot() []Bucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	hours := make([]time.Time, 0, len(r.buckets))
	for h := range r.buckets {
		hours = append(hours, h)
	}
	for i := 1; i < len(hours); i++ {
		for j := i; j > 0 && hours[j].Before(hours[j-1]); j-- {
			hours[j], hours[j-1] = hours[j-1], hours[j]
		}
	}

	out := make([]Bucket, len(hours))
	for i, h := range hours {
		out[i] = *r.buckets[h]
	}
	return out
}

// Prune discards buckets older than olderThan, bounding memory growth
// for a long-running process.
func (r *Roller) Prune(olderThan time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := olderThan.Truncate(time.Hour)
	for h := range r.buckets {
		if h.Before(cutoff) {
			delete(r.buckets, h)
		}
	}
}
