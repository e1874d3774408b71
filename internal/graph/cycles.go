package graph

import (
	"slices"
	"strings"
)

// CycleError is returned when a dependency walk runs into a cycle.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "circular dependency: " + FormatCycle(e.Path)
}

// Cycle is one distinct loop in the dependency graph. Path starts at the
// lexically smallest ID and does not repeat the first node at the end.
type Cycle struct {
	Path []string `json:"path"`
}

func (c Cycle) String() string { return FormatCycle(c.Path) }

// FormatCycle renders path closed, e.g. "A.1.1 → A.1.2 → A.1.1".
func FormatCycle(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return strings.Join(append(append([]string(nil), path...), path[0]), " → ")
}

// frame is one level of an explicit DFS stack.
type frame struct {
	id   string
	deps []string
	next int
}

// ResolveDependencyChain returns every transitive blocker of id, each once,
// in discovery order. A cycle anywhere on the walk yields a *CycleError.
func (s *Service) ResolveDependencyChain(id string) ([]string, error) {
	snap, a, err := s.target(id)
	if err != nil {
		return nil, err
	}

	out := []string{}
	visited := map[string]bool{id: true}
	onStack := map[string]int{id: 0}
	stack := []frame{{id: id, deps: a.Metadata.Relationships.BlockedBy}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= len(top.deps) {
			delete(onStack, top.id)
			stack = stack[:len(stack)-1]
			continue
		}
		dep := top.deps[top.next]
		top.next++

		d, ok := snap.Get(dep)
		if !ok {
			s.warnMissing(top.id, dep)
			continue
		}
		if at, ok := onStack[dep]; ok {
			return nil, &CycleError{Path: stackIDs(stack[at:])}
		}
		if visited[dep] {
			continue
		}
		visited[dep] = true
		out = append(out, dep)
		onStack[dep] = len(stack)
		stack = append(stack, frame{id: dep, deps: d.Metadata.Relationships.BlockedBy})
	}
	return out, nil
}

// DetectCircularDependencies returns every elementary cycle in the graph
// once. Each start node only extends paths through IDs greater than itself,
// so a cycle is found exactly once, from its smallest member, even when
// several cycles share nodes.
func (s *Service) DetectCircularDependencies() ([]Cycle, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}

	var cycles []Cycle
	seen := make(map[string]bool)

	for _, start := range snap.IDs() {
		a, _ := snap.Get(start)
		onPath := map[string]bool{start: true}
		stack := []frame{{id: start, deps: a.Metadata.Relationships.BlockedBy}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next >= len(top.deps) {
				delete(onPath, top.id)
				stack = stack[:len(stack)-1]
				continue
			}
			dep := top.deps[top.next]
			top.next++

			if dep == start {
				path := stackIDs(stack)
				key := strings.Join(path, ",")
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, Cycle{Path: path})
				}
				continue
			}
			if dep < start || onPath[dep] {
				continue
			}
			d, ok := snap.Get(dep)
			if !ok {
				continue
			}
			onPath[dep] = true
			stack = append(stack, frame{id: dep, deps: d.Metadata.Relationships.BlockedBy})
		}
	}
	return cycles, nil
}

func stackIDs(frames []frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.id
	}
	return out
}

// DependencyPath returns the shortest blocked_by path from one record to
// another, both ends included, using a breadth-first worklist.
func (s *Service) DependencyPath(from, to string) ([]string, bool, error) {
	snap, _, err := s.target(from)
	if err != nil {
		return nil, false, err
	}
	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			var path []string
			for n := to; n != ""; n = prev[n] {
				path = append(path, n)
			}
			slices.Reverse(path)
			return path, true, nil
		}
		a, ok := snap.Get(cur)
		if !ok {
			continue
		}
		for _, dep := range a.Metadata.Relationships.BlockedBy {
			if _, seen := prev[dep]; seen {
				continue
			}
			prev[dep] = cur
			queue = append(queue, dep)
		}
	}
	return nil, false, nil
}
