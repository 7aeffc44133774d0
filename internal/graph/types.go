package graph

// Node is a single task in the prerequisite graph.
type Node struct {
	Name          string
	Prerequisites []string // declaration order
}

// TaskGraph is a directed acyclic graph of tasks.
// An edge a -> b means b lists a as a prerequisite.
type TaskGraph struct {
	Nodes  map[string]*Node
	Adj    map[string][]string // task -> tasks waiting on it
	RevAdj map[string][]string // task -> its prerequisites
	Roots  []string            // tasks with no prerequisites
	Leaves []string            // tasks nothing waits on
}
