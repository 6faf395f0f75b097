// Package scheduler computes the topological execution order of
// Modules: a Kahn-style sort that treats feedback-flagged edges
// as absent, partitioned into barriers of independent modules sized
// to the session's configured worker-slot count.
package scheduler

import (
	"sort"
	"sync/atomic"

	"github.com/synthpod/synthpod/internal/graph"
	"github.com/synthpod/synthpod/internal/pbank"
	"github.com/synthpod/synthpod/internal/synerr"
	"github.com/synthpod/synthpod/internal/urid"
)

// Plan is a total order on Modules partitioned into barriers: within
// a barrier, modules have no path-dependency on one another in the
// feedback-stripped DAG and may run in parallel; a join separates
// consecutive barriers.
type Plan struct {
	Barriers [][]urid.ID
}

// Flat returns every module URN in execution order, ignoring barrier
// boundaries — useful for callers that only need a total order (e.g.
// state save, which is single-threaded regardless of cpus_used).
func (p *Plan) Flat() []urid.ID {
	var out []urid.ID
	for _, b := range p.Barriers {
		out = append(out, b...)
	}
	return out
}

// Build computes a new Plan for bank/conns. cpusUsed caps how many
// modules a single barrier may hold; barrier parallelism at execution
// time is exercised only when cpusUsed > 1 — a Plan built with cpusUsed == 1 degenerates to
// one module per barrier, i.e. a fully sequential order, which is what
// RT should execute by default.
//
// It refuses the mutation (the caller keeps the previous Plan in
// force) if the feedback-stripped
// graph is cyclic.
func Build(bank *pbank.Graph, conns *graph.ConnGraph, cpusUsed int) (*Plan, error) {
	if cpusUsed < 1 {
		cpusUsed = 1
	}

	modules := bank.Modules()
	indegree := make(map[urid.ID]int, len(modules))
	succ := make(map[urid.ID]map[urid.ID]bool, len(modules))
	for _, m := range modules {
		indegree[m.URN] = 0
		succ[m.URN] = make(map[urid.ID]bool)
	}

	for _, pc := range conns.Connections() {
		if pc.Feedback {
			continue // step 1: feedback edges are treated as absent
		}
		src, sink := pc.Source.Module, pc.Sink.Module
		if src == sink {
			continue
		}
		if !succ[src][sink] {
			succ[src][sink] = true
			indegree[sink]++
		}
	}

	ready := make([]urid.ID, 0, len(modules))
	for urn, d := range indegree {
		if d == 0 {
			ready = append(ready, urn)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	var plan Plan
	visited := 0
	for len(ready) > 0 {
		n := cpusUsed
		if n > len(ready) {
			n = len(ready)
		}
		barrier := make([]urid.ID, n)
		copy(barrier, ready[:n])
		ready = ready[n:]
		plan.Barriers = append(plan.Barriers, barrier)
		visited += n

		var nextReady []urid.ID
		for _, urn := range barrier {
			for to := range succ[urn] {
				indegree[to]--
				if indegree[to] == 0 {
					nextReady = append(nextReady, to)
				}
			}
		}
		sort.Slice(nextReady, func(i, j int) bool { return nextReady[i] < nextReady[j] })
		ready = append(ready, nextReady...)
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	}

	if visited != len(modules) {
		return nil, &synerr.ConstraintError{Op: "Build", Reason: "graph is cyclic once feedback edges are ignored"}
	}

	return &plan, nil
}

// Holder publishes the current scheduler plan: the worker builds a new Plan off the RT path
// and swaps it in atomically; RT only ever loads it, never blocks on
// it, per the no-lock handover the ownership table mandates.
type Holder struct {
	ptr atomic.Pointer[Plan]
}

// NewHolder wraps an initial Plan (an empty Plan is valid: zero
// barriers, RT runs nothing).
func NewHolder(initial *Plan) *Holder {
	h := &Holder{}
	if initial == nil {
		initial = &Plan{}
	}
	h.ptr.Store(initial)
	return h
}

// Load returns the current Plan. Safe to call from RT every period.
func (h *Holder) Load() *Plan { return h.ptr.Load() }

// Store publishes a new Plan, visible to the next Load. Called only
// from the worker thread.
func (h *Holder) Store(p *Plan) { h.ptr.Store(p) }
