package plan

// TaskDeps holds per-task predecessor and successor lists for dependency tracking.
type TaskDeps struct {
	Predecessors map[string][]string `json:"predecessors"`
	Successors   map[string][]string `json:"successors"`
}

// ExecutionPlan is the deterministic schedule of one run.
type ExecutionPlan struct {
	Roots      []string `json:"roots"`
	TotalTasks int      `json:"total_tasks"`
	Order      []string `json:"order"` // topological, ties broken by name
	Waves      []Wave   `json:"waves"`
	Deps       TaskDeps `json:"deps"`

	position map[string]int
}

// Wave is a group of tasks whose prerequisites all live in earlier waves,
// so they may execute in parallel.
type Wave struct {
	Index int      `json:"index"`
	Tasks []string `json:"tasks"`
}
