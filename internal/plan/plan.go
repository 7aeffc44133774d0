package plan

import (
	"fmt"
	"sort"

	"github.com/Alex-f1/poly-bem/internal/graph"
)

// Generate computes the execution plan for a task graph.
func Generate(g *graph.TaskGraph, roots []string) (*ExecutionPlan, error) {
	order, err := topoSort(g)
	if err != nil {
		return nil, err
	}

	p := &ExecutionPlan{
		Roots:      append([]string(nil), roots...),
		TotalTasks: g.TaskCount(),
		Order:      order,
		Deps: TaskDeps{
			Predecessors: make(map[string][]string, len(order)),
			Successors:   make(map[string][]string, len(order)),
		},
		position: make(map[string]int, len(order)),
	}

	for i, name := range order {
		p.position[name] = i
		p.Deps.Predecessors[name] = append([]string(nil), g.RevAdj[name]...)
		p.Deps.Successors[name] = append([]string(nil), g.Adj[name]...)
	}

	p.Waves = computeWaves(order, g)
	return p, nil
}

// Position returns the index of a task in the topological order, or -1.
func (p *ExecutionPlan) Position(name string) int {
	if p.position == nil {
		p.position = make(map[string]int, len(p.Order))
		for i, n := range p.Order {
			p.position[n] = i
		}
	}
	if i, ok := p.position[name]; ok {
		return i
	}
	return -1
}

// WaveNames returns the task names of every wave.
func (p *ExecutionPlan) WaveNames() [][]string {
	out := make([][]string, len(p.Waves))
	for i, w := range p.Waves {
		out[i] = append([]string(nil), w.Tasks...)
	}
	return out
}

// topoSort performs Kahn's algorithm for topological sorting.
func topoSort(g *graph.TaskGraph) ([]string, error) {
	inDegree := make(map[string]int)
	for name := range g.Nodes {
		inDegree[name] = len(g.RevAdj[name])
	}

	// Start with roots (in-degree 0), sorted for determinism
	var queue []string
	for name := range g.Nodes {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		var newReady []string
		for _, succ := range g.Adj[node] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				newReady = append(newReady, succ)
			}
		}
		sort.Strings(newReady)
		queue = append(queue, newReady...)
	}

	if len(order) != len(g.Nodes) {
		return nil, fmt.Errorf("%w: %d of %d tasks sorted", graph.ErrCycle, len(order), len(g.Nodes))
	}

	return order, nil
}

// computeWaves groups tasks by their earliest start, where every task
// takes one unit: a task's wave is one past the latest wave of its prerequisites.
func computeWaves(order []string, g *graph.TaskGraph) []Wave {
	level := make(map[string]int, len(order))
	maxLevel := -1
	for _, name := range order {
		l := 0
		for _, pred := range g.RevAdj[name] {
			if level[pred]+1 > l {
				l = level[pred] + 1
			}
		}
		level[name] = l
		if l > maxLevel {
			maxLevel = l
		}
	}

	waves := make([]Wave, maxLevel+1)
	for i := range waves {
		waves[i].Index = i
	}
	for _, name := range order {
		waves[level[name]].Tasks = append(waves[level[name]].Tasks, name)
	}
	for i := range waves {
		sort.Strings(waves[i].Tasks)
	}
	return waves
}
