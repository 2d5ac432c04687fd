// Package cost implements the in-process Cost ledger: an append-only list
// of Cost Records with per-model aggregation. No rolling time windows,
// just a linear scan filtered by an optional time range; records are
// appended monotonically for the process lifetime.
package cost

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one completed (successful or failed) provider call.
type Record struct {
	ID           string
	RequestID    string
	ModelID      string
	ProviderID   string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Success      bool
	Timestamp    time.Time
}

// Report summarizes a slice of Records.
type Report struct {
	TotalCostUSD   float64
	TotalInputTok  int
	TotalOutputTok int
	RequestCount   int
	ByModel        map[string]ModelSummary
}

// ModelSummary aggregates Records for a single model id.
type ModelSummary struct {
	CostUSD      float64
	InputTokens  int
	OutputTokens int
	Calls        int
}

// Ledger is an append-only, concurrency-safe Cost Record store.
type Ledger struct {
	mu      sync.Mutex
	records []Record
	newID   func() string
	now     func() time.Time
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{
		newID: func() string { return uuid.NewString() },
		now:   time.Now,
	}
}

// Append stores r, filling in an ID and timestamp when they are unset. The
// Executor appends exactly one Record per outer request, success or
// failure, with tokens summed over every provider call that request made
// (a failed request carries whatever tokens were used before it failed).
func (l *Ledger) Append(r Record) Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.ID == "" {
		r.ID = l.newID()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = l.now()
	}
	l.records = append(l.records, r)
	return r
}

// Snapshot returns a copy of every recorded Record.
func (l *Ledger) Snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// TimeRange bounds a report query. A zero Start/End means unbounded on that
// side.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Report aggregates every Record whose Timestamp falls within window. An
// empty TimeRange reports over the entire ledger.
func (l *Ledger) Report(window TimeRange) Report {
	records := l.Snapshot()

	rep := Report{ByModel: make(map[string]ModelSummary)}
	for _, r := range records {
		if !window.Start.IsZero() && r.Timestamp.Before(window.Start) {
			continue
		}
		if !window.End.IsZero() && r.Timestamp.After(window.End) {
			continue
		}
		rep.TotalCostUSD += r.CostUSD
		rep.TotalInputTok += r.InputTokens
		rep.TotalOutputTok += r.OutputTokens
		rep.RequestCount++

		ms := rep.ByModel[r.ModelID]
		ms.CostUSD += r.CostUSD
		ms.InputTokens += r.InputTokens
		ms.OutputTokens += r.OutputTokens
		ms.Calls++
		rep.ByModel[r.ModelID] = ms
	}
	return rep
}
