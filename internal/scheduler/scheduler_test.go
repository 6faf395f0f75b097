package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/synthpod/synthpod/internal/graph"
	"github.com/synthpod/synthpod/internal/pbank"
	"github.com/synthpod/synthpod/internal/port"
	"github.com/synthpod/synthpod/internal/urid"
)

type world struct {
	reg  *urid.Registry
	bank *pbank.Graph
	g    *graph.ConnGraph
}

func newWorld() *world {
	reg := urid.New()
	bank := pbank.NewGraph()
	return &world{reg: reg, bank: bank, g: graph.New(bank)}
}

func (w *world) addModule(name string) urid.ID {
	urn := w.reg.Map("urn:sched:" + name)
	mod := pbank.NewModule(urn, "builtin:"+name)
	in := &pbank.Port{Index: 0, Symbol: w.reg.Map("in"), Type: port.Audio, Direction: pbank.Input,
		Buffer: port.NewAudioBuffer(8)}
	out := &pbank.Port{Index: 1, Symbol: w.reg.Map("out"), Type: port.Audio, Direction: pbank.Output,
		Buffer: port.NewAudioBuffer(8)}
	mod.AddPort(in)
	mod.AddPort(out)
	if err := w.bank.AddModule(mod); err != nil {
		panic(err)
	}
	return urn
}

func (w *world) connect(t *testing.T, from, to urid.ID, feedback bool) {
	t.Helper()
	require.NoError(t, w.g.Connect(
		graph.PortHandle{Module: from, Symbol: w.reg.Map("out")},
		graph.PortHandle{Module: to, Symbol: w.reg.Map("in")},
		1, feedback))
}

func position(p *Plan, urn urid.ID) int {
	for i, id := range p.Flat() {
		if id == urn {
			return i
		}
	}
	return -1
}

func TestBuildOrdersDependencies(t *testing.T) {
	w := newWorld()
	a := w.addModule("a")
	b := w.addModule("b")
	c := w.addModule("c")
	w.connect(t, a, b, false)
	w.connect(t, b, c, false)

	p, err := Build(w.bank, w.g, 1)
	require.NoError(t, err)
	require.Len(t, p.Flat(), 3)
	assert.Less(t, position(p, a), position(p, b))
	assert.Less(t, position(p, b), position(p, c))

	// cpus=1 degenerates to one module per barrier.
	for _, barrier := range p.Barriers {
		assert.Len(t, barrier, 1)
	}
}

func TestBuildRefusesCycle(t *testing.T) {
	w := newWorld()
	a := w.addModule("a")
	b := w.addModule("b")
	w.connect(t, a, b, false)
	w.connect(t, b, a, false)

	_, err := Build(w.bank, w.g, 1)
	require.Error(t, err)
}

func TestFeedbackEdgeBreaksCycle(t *testing.T) {
	w := newWorld()
	a := w.addModule("a")
	b := w.addModule("b")
	w.connect(t, a, b, false)
	w.connect(t, b, a, true) // feedback-flagged

	p, err := Build(w.bank, w.g, 1)
	require.NoError(t, err)
	assert.Less(t, position(p, a), position(p, b),
		"the plain edge still orders a before b")
}

func TestBarrierSizing(t *testing.T) {
	w := newWorld()
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		w.addModule(n)
	}

	p, err := Build(w.bank, w.g, 2)
	require.NoError(t, err)
	total := 0
	for _, barrier := range p.Barriers {
		assert.LessOrEqual(t, len(barrier), 2)
		total += len(barrier)
	}
	assert.Equal(t, 5, total)
}

func TestDeterministicTieBreak(t *testing.T) {
	w := newWorld()
	w.addModule("c")
	w.addModule("a")
	w.addModule("b")

	p1, err := Build(w.bank, w.g, 1)
	require.NoError(t, err)
	p2, err := Build(w.bank, w.g, 1)
	require.NoError(t, err)
	assert.Equal(t, p1.Flat(), p2.Flat())

	flat := p1.Flat()
	for i := 1; i < len(flat); i++ {
		assert.Less(t, flat[i-1], flat[i], "independent modules order by URN")
	}
}

// Acyclicity property: a plan exists iff the graph ignoring feedback
// edges is a DAG.
func TestAcyclicityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		w := newWorld()
		n := rapid.IntRange(2, 8).Draw(t, "modules")
		urns := make([]urid.ID, n)
		for i := 0; i < n; i++ {
			urns[i] = w.addModule(string(rune('a' + i)))
		}

		type edge struct{ from, to int }
		var edges []edge
		en := rapid.IntRange(0, 12).Draw(t, "edges")
		for i := 0; i < en; i++ {
			from := rapid.IntRange(0, n-1).Draw(t, "from")
			to := rapid.IntRange(0, n-1).Draw(t, "to")
			if from == to {
				continue
			}
			if err := w.g.Connect(
				graph.PortHandle{Module: urns[from], Symbol: w.reg.Map("out")},
				graph.PortHandle{Module: urns[to], Symbol: w.reg.Map("in")},
				1, false); err == nil {
				edges = append(edges, edge{from, to})
			}
		}

		_, err := Build(w.bank, w.g, 1)

		// Reference cycle check over the same edges.
		adj := make(map[int][]int)
		for _, e := range edges {
			adj[e.from] = append(adj[e.from], e.to)
		}
		state := make([]int, n)
		var cyclic bool
		var dfs func(int)
		dfs = func(v int) {
			state[v] = 1
			for _, to := range adj[v] {
				if state[to] == 1 {
					cyclic = true
				} else if state[to] == 0 {
					dfs(to)
				}
			}
			state[v] = 2
		}
		for i := 0; i < n; i++ {
			if state[i] == 0 {
				dfs(i)
			}
		}

		if cyclic {
			require.Error(t, err)
		} else {
			require.NoError(t, err)
		}
	})
}

func TestHolderSwap(t *testing.T) {
	h := NewHolder(nil)
	require.NotNil(t, h.Load())
	assert.Empty(t, h.Load().Barriers)

	p := &Plan{Barriers: [][]urid.ID{{urid.ID(1)}}}
	h.Store(p)
	assert.Same(t, p, h.Load())
}
