package engine

import (
	"sort"
	"strings"

	xerrors "gisengine/internal/errors"
)

// Order returns the node ids of def in dependency order: every node comes after
// all nodes that feed it. Nodes with no constraint between them keep their
// declaration order. A cyclic graph yields a CYCLE_DETECTED error naming the cycle.
//
// Order assumes every connection endpoint names a declared node; Validate checks that.
func Order(def Definition) ([]string, error) {
	n := len(def.Nodes)
	index := make(map[string]int, n)
	for i, node := range def.Nodes {
		index[node.ID] = i
	}

	indegree := make([]int, n)
	next := make([][]int, n)
	prev := make([][]int, n)
	for _, c := range def.Connections {
		from, okFrom := index[c.FromNode]
		to, okTo := index[c.ToNode]
		if !okFrom || !okTo {
			return nil, xerrors.Newf(CodeWorkflowInvalid, "connection %s references an unknown node", c)
		}
		next[from] = append(next[from], to)
		prev[to] = append(prev[to], from)
		indegree[to]++
	}

	// ready holds declaration indexes, kept sorted so the earliest declared node runs first.
	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]string, 0, n)
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		order = append(order, def.Nodes[cur].ID)
		for _, to := range next[cur] {
			indegree[to]--
			if indegree[to] == 0 {
				pos := sort.SearchInts(ready, to)
				ready = append(ready, 0)
				copy(ready[pos+1:], ready[pos:])
				ready[pos] = to
			}
		}
	}

	if len(order) == n {
		return order, nil
	}
	cycle := findCycle(def, indegree, prev)
	return nil, xerrors.New(CodeCycleDetected, "cycle detected: "+strings.Join(cycle, " -> "),
		xerrors.WithMetadata("nodes", strings.Join(cycle[:len(cycle)-1], ",")))
}

// findCycle walks predecessors among the nodes Kahn's pass could not release.
// Each of them still has an unreleased predecessor, so the walk must revisit a
// node; the revisited stretch is a cycle. The result starts and ends on the
// earliest declared node of the cycle.
func findCycle(def Definition, indegree []int, prev [][]int) []string {
	start := -1
	for i, d := range indegree {
		if d > 0 {
			start = i
			break
		}
	}
	seenAt := make(map[int]int)
	var path []int
	for cur := start; ; {
		if at, ok := seenAt[cur]; ok {
			path = path[at:]
			break
		}
		seenAt[cur] = len(path)
		path = append(path, cur)
		for _, p := range prev[cur] {
			if indegree[p] > 0 {
				cur = p
				break
			}
		}
	}

	// path follows edges backwards; reverse it into execution direction.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	minAt := 0
	for i, v := range path {
		if v < path[minAt] {
			minAt = i
		}
	}
	rotated := append(append([]int{}, path[minAt:]...), path[:minAt]...)

	ids := make([]string, 0, len(rotated)+1)
	for _, v := range rotated {
		ids = append(ids, def.Nodes[v].ID)
	}
	return append(ids, ids[0])
}
