// Package rtengine implements the realtime callback engine: per
// period it drains the RT-safe control messages, runs modules in the
// scheduler's barrier order, mixes fan-in, emits subscription
// notifications, and runs the automation pass. Nothing here allocates
// or blocks once the engine is constructed; every shared structure
// arrives by atomic pointer swap from the worker.
package rtengine

import (
	"sync/atomic"

	"github.com/synthpod/synthpod/internal/pbank"
	"github.com/synthpod/synthpod/internal/pluginhost"
	"github.com/synthpod/synthpod/internal/scheduler"
	"github.com/synthpod/synthpod/internal/urid"
)

// Task is one scheduled module with its live plugin instance resolved
// at plan-build time, so RT never looks either up in a mutable map.
type Task struct {
	Mod  *pbank.Module
	Inst pluginhost.Instance
}

// Plan is the RT-executable counterpart of a scheduler.Plan: the same
// barrier partition, with every URN resolved to its Module and
// Instance by the worker while building.
type Plan struct {
	Barriers [][]Task

	// Source and Sink are the builtin edge modules,
	// resolved here so the period loop can move driver samples in and
	// out without a lookup. A nil Source or Sink means the graph has no
	// such module yet (engine bootstrap).
	Source *Task
	Sink   *Task
}

// BuildPlan resolves sp against bank and instOf. Called on the worker
// thread whenever the graph mutates, never on RT.
func BuildPlan(sp *scheduler.Plan, bank *pbank.Graph, instOf func(urid.ID) pluginhost.Instance) *Plan {
	p := &Plan{}
	for _, barrier := range sp.Barriers {
		tasks := make([]Task, 0, len(barrier))
		for _, urn := range barrier {
			mod, ok := bank.Module(urn)
			if !ok {
				continue
			}
			t := Task{Mod: mod, Inst: instOf(urn)}
			tasks = append(tasks, t)
			switch urn {
			case bank.SourceURN:
				p.Source = &Task{Mod: mod, Inst: t.Inst}
			case bank.SinkURN:
				p.Sink = &Task{Mod: mod, Inst: t.Inst}
			}
		}
		p.Barriers = append(p.Barriers, tasks)
	}
	return p
}

// Holder publishes the current Plan to RT by pointer swap, mirroring
// scheduler.Holder: the worker is the sole writer, RT the sole reader.
type Holder struct {
	ptr atomic.Pointer[Plan]
}

func NewHolder() *Holder {
	h := &Holder{}
	h.ptr.Store(&Plan{})
	return h
}

func (h *Holder) Load() *Plan   { return h.ptr.Load() }
func (h *Holder) Store(p *Plan) { h.ptr.Store(p) }
