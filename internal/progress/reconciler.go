// Package progress folds the asynchronous processing-progress stream into
// a per-node view. Events arrive unordered and possibly duplicated.
package progress

import (
	"encoding/json"
	"fmt"
	"sync"

	"neuralvault/graphcore/internal/metrics"
)

// Status is a processing step reported for a node.
type Status string

const (
	StatusParsing   Status = "parsing"
	StatusChunking  Status = "chunking"
	StatusEmbedding Status = "embedding"
	StatusDone      Status = "done"
	StatusError     Status = "error"
)

// Terminal reports whether no later step can follow s.
func (s Status) Terminal() bool { return s == StatusDone || s == StatusError }

func (s Status) valid() bool {
	switch s {
	case StatusParsing, StatusChunking, StatusEmbedding, StatusDone, StatusError:
		return true
	}
	return false
}

// Event is one progress notification.
type Event struct {
	NodeID     int64    `json:"node_id"`
	Status     Status   `json:"status"`
	Percentage *float64 `json:"percentage,omitempty"`
	Error      *string  `json:"error,omitempty"`
}

// DecodeEvent parses and checks a pushed payload.
func DecodeEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("decoding progress event: %w", err)
	}
	if ev.NodeID <= 0 {
		return Event{}, fmt.Errorf("progress event without node_id")
	}
	if !ev.Status.valid() {
		return Event{}, fmt.Errorf("unknown progress status %q", ev.Status)
	}
	if p := ev.Percentage; p != nil && (*p < 0 || *p > 100) {
		return Event{}, fmt.Errorf("progress percentage %v outside [0,100]", *p)
	}
	return ev, nil
}

// Record is the current progress of one node.
type Record struct {
	Status     Status   `json:"status"`
	Percentage *float64 `json:"percentage,omitempty"`
	Error      *string  `json:"error,omitempty"`
}

// Reconciler keeps the latest record per node. Once a node reaches done or
// error, non-terminal events for it are stale and ignored; a later terminal
// event replaces the earlier one.
type Reconciler struct {
	metrics *metrics.Metrics

	mu      sync.RWMutex
	records map[int64]Record
	onApply []func(int64, Record)
}

func NewReconciler(m *metrics.Metrics) *Reconciler {
	return &Reconciler{metrics: m, records: make(map[int64]Record)}
}

// OnApply registers fn to run after each event that changes the map.
func (r *Reconciler) OnApply(fn func(nodeID int64, rec Record)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onApply = append(r.onApply, fn)
}

// Apply folds ev into the map and reports whether it was kept.
func (r *Reconciler) Apply(ev Event) bool {
	r.mu.Lock()
	prev, ok := r.records[ev.NodeID]
	if ok && prev.Status.Terminal() && !ev.Status.Terminal() {
		r.mu.Unlock()
		r.metrics.ProgressEvent(metrics.OutcomeStale)
		return false
	}
	rec := Record{Status: ev.Status, Percentage: ev.Percentage, Error: ev.Error}
	r.records[ev.NodeID] = rec
	listeners := append([]func(int64, Record){}, r.onApply...)
	r.mu.Unlock()

	r.metrics.ProgressEvent(metrics.OutcomeApplied)
	for _, fn := range listeners {
		fn(ev.NodeID, rec)
	}
	return true
}

// Get returns the record for a node.
func (r *Reconciler) Get(nodeID int64) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[nodeID]
	return rec, ok
}

// Snapshot copies the whole map.
func (r *Reconciler) Snapshot() map[int64]Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]Record, len(r.records))
	for id, rec := range r.records {
		out[id] = rec
	}
	return out
}

// Clear forgets one node, so a new run of its pipeline starts fresh.
func (r *Reconciler) Clear(nodeID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, nodeID)
}

// Reset forgets every node.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[int64]Record)
}
