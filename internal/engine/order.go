package engine

import "slices"

// order returns unit names in dependency order over live edges. Ties are
// broken by registration order so the order is deterministic.
func (t *topology) order() ([]string, error) {
	adj := t.liveAdjacency()
	indegree := make(map[string]int, len(t.names))
	for _, consumers := range adj {
		for _, c := range consumers {
			indegree[c]++
		}
	}

	rank := make(map[string]int, len(t.names))
	for i, n := range t.names {
		rank[n] = i
	}

	var ready []string
	for _, n := range t.names {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	out := make([]string, 0, len(t.names))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)
		for _, c := range adj[n] {
			indegree[c]--
			if indegree[c] == 0 {
				ready = insertByRank(ready, c, rank)
			}
		}
	}

	if len(out) != len(t.names) {
		return nil, CycleError(t.firstCycle())
	}
	return out, nil
}

func insertByRank(list []string, n string, rank map[string]int) []string {
	i, _ := slices.BinarySearchFunc(list, n, func(a, b string) int {
		return rank[a] - rank[b]
	})
	return slices.Insert(list, i, n)
}

// firstCycle returns one cycle over live edges as a closed path, or nil.
func (t *topology) firstCycle() []string {
	adj := t.liveAdjacency()
	for _, scc := range tarjanSCC(t.names, adj) {
		if len(scc) > 1 || slices.Contains(adj[scc[0]], scc[0]) {
			slices.Sort(scc)
			return append(scc, scc[0])
		}
	}
	return nil
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in the given order.
func tarjanSCC(nodes []string, adj map[string][]string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// Root of an SCC: pop it off the stack.
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}
