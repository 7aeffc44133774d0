package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Alex-f1/poly-bem/internal/task"
)

// ErrCycle is returned when prerequisites form a cycle.
var ErrCycle = errors.New("dependency cycle detected")

// Lookup resolves a task name to its definition.
type Lookup interface {
	Lookup(name string) (*task.Task, bool)
}

// Build constructs the prerequisite closure of the given root tasks.
// Every run gets its own graph, so prerequisites are resolved fresh each time.
func Build(reg Lookup, roots ...string) (*TaskGraph, error) {
	g := &TaskGraph{
		Nodes:  make(map[string]*Node),
		Adj:    make(map[string][]string),
		RevAdj: make(map[string][]string),
	}

	type item struct {
		name       string
		requiredBy string
	}
	queue := make([]item, 0, len(roots))
	for _, r := range roots {
		queue = append(queue, item{name: r})
	}

	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]

		if _, seen := g.Nodes[it.name]; seen {
			continue
		}
		t, ok := reg.Lookup(it.name)
		if !ok {
			return nil, &task.NotFoundError{Name: it.name, RequiredBy: it.requiredBy}
		}

		g.Nodes[it.name] = &Node{Name: t.Name, Prerequisites: t.Prerequisites}
		for _, dep := range t.Prerequisites {
			queue = append(queue, item{name: dep, requiredBy: it.name})
		}
	}

	edgeSet := make(map[[2]string]bool)
	for name, n := range g.Nodes {
		for _, dep := range n.Prerequisites {
			key := [2]string{dep, name}
			if edgeSet[key] {
				continue
			}
			edgeSet[key] = true
			g.Adj[dep] = append(g.Adj[dep], name)
			g.RevAdj[name] = append(g.RevAdj[name], dep)
		}
	}

	// Sort adjacency lists for deterministic ordering
	for k := range g.Adj {
		sort.Strings(g.Adj[k])
	}
	for k := range g.RevAdj {
		sort.Strings(g.RevAdj[k])
	}

	for name := range g.Nodes {
		if len(g.RevAdj[name]) == 0 {
			g.Roots = append(g.Roots, name)
		}
		if len(g.Adj[name]) == 0 {
			g.Leaves = append(g.Leaves, name)
		}
	}
	sort.Strings(g.Roots)
	sort.Strings(g.Leaves)

	if cycle := g.DetectCycle(); cycle != nil {
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(cycle, " -> "))
	}

	return g, nil
}

// DetectCycle follows prerequisite chains and returns the first one that
// loops back on itself, e.g. [watch styl css-libs styl], or nil. Tasks are
// visited by name so the reported loop is stable.
func (g *TaskGraph) DetectCycle() []string {
	done := make(map[string]bool)
	onPath := make(map[string]int)
	var path []string

	var walk func(name string) []string
	walk = func(name string) []string {
		if i, ok := onPath[name]; ok {
			return append(append([]string(nil), path[i:]...), name)
		}
		if done[name] {
			return nil
		}
		onPath[name] = len(path)
		path = append(path, name)
		for _, dep := range g.RevAdj[name] {
			if loop := walk(dep); loop != nil {
				return loop
			}
		}
		path = path[:len(path)-1]
		delete(onPath, name)
		done[name] = true
		return nil
	}

	for _, name := range g.Names() {
		if loop := walk(name); loop != nil {
			return loop
		}
	}
	return nil
}

// TaskCount returns the number of tasks in the graph.
func (g *TaskGraph) TaskCount() int {
	return len(g.Nodes)
}

// Names returns all task names in the graph, sorted.
func (g *TaskGraph) Names() []string {
	names := make([]string, 0, len(g.Nodes))
	for name := range g.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
