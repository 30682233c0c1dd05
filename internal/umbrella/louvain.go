package umbrella

import "sort"

// moveEpsilon guards against float noise flipping a node between equal-gain
// communities across passes.
const moveEpsilon = 1e-12

// louvainCommunities runs modularity-maximising community detection over
// the graph. The implementation is the classic two-phase scheme — local
// moving until no node improves modularity, then aggregation into a
// supergraph — made deterministic: nodes scan in index order, candidate
// communities in ascending id, and a node moves only on a strict gain.
//
// Communities come back as index lists in input order, ordered by their
// smallest member.
func louvainCommunities(g *graph) [][]int {
	if g.n == 0 {
		return nil
	}

	membership := make([]int, g.n)
	for i := range membership {
		membership[i] = i
	}
	level := g
	for {
		comm, improved := localMoving(level)
		if !improved {
			break
		}
		next, dense := aggregate(level, comm)
		for v := range membership {
			membership[v] = dense[membership[v]]
		}
		if next.n == level.n {
			break
		}
		level = next
	}
	return groupMembership(membership)
}

// localMoving is the first Louvain phase: repeatedly sweep all nodes,
// moving each to the neighbouring community with the highest modularity
// gain, until a full sweep moves nothing.
func localMoving(g *graph) (comm []int, improved bool) {
	comm = make([]int, g.n)
	commTot := make([]float64, g.n)
	for i := range comm {
		comm[i] = i
		commTot[i] = g.degree[i]
	}
	if g.m2 == 0 {
		return comm, false
	}

	for changed := true; changed; {
		changed = false
		for v := 0; v < g.n; v++ {
			cur := comm[v]

			neigh := make(map[int]float64)
			for _, e := range g.adj[v] {
				neigh[comm[e.to]] += e.w
			}

			commTot[cur] -= g.degree[v]

			ids := make([]int, 0, len(neigh))
			for c := range neigh {
				ids = append(ids, c)
			}
			sort.Ints(ids)

			best := cur
			bestGain := neigh[cur] - commTot[cur]*g.degree[v]/g.m2
			for _, c := range ids {
				if c == cur {
					continue
				}
				gain := neigh[c] - commTot[c]*g.degree[v]/g.m2
				if gain > bestGain+moveEpsilon {
					best, bestGain = c, gain
				}
			}

			commTot[best] += g.degree[v]
			if best != cur {
				comm[v] = best
				changed = true
				improved = true
			}
		}
	}
	return comm, improved
}

// aggregate is the second Louvain phase: communities become supernodes,
// intra-community weight becomes a self-loop, and parallel cross edges
// merge. Returns the supergraph and the dense node→supernode mapping.
func aggregate(g *graph, comm []int) (*graph, []int) {
	renum := make(map[int]int)
	dense := make([]int, g.n)
	for v := 0; v < g.n; v++ {
		id, ok := renum[comm[v]]
		if !ok {
			id = len(renum)
			renum[comm[v]] = id
		}
		dense[v] = id
	}

	nn := len(renum)
	next := &graph{
		n:      nn,
		adj:    make([][]edge, nn),
		selfW:  make([]float64, nn),
		degree: make([]float64, nn),
	}
	cross := make([]map[int]float64, nn)

	for v := 0; v < g.n; v++ {
		cv := dense[v]
		next.selfW[cv] += g.selfW[v]
		for _, e := range g.adj[v] {
			cu := dense[e.to]
			if cu == cv {
				// Each intra-community edge appears from both endpoints.
				if e.to > v {
					next.selfW[cv] += e.w
				}
				continue
			}
			if cross[cv] == nil {
				cross[cv] = make(map[int]float64)
			}
			cross[cv][cu] += e.w
		}
	}

	for c := 0; c < nn; c++ {
		tos := make([]int, 0, len(cross[c]))
		for to := range cross[c] {
			tos = append(tos, to)
		}
		sort.Ints(tos)
		for _, to := range tos {
			next.adj[c] = append(next.adj[c], edge{to: to, w: cross[c][to]})
			next.degree[c] += cross[c][to]
		}
		next.degree[c] += 2 * next.selfW[c]
		next.m2 += next.degree[c]
	}
	return next, dense
}

// groupMembership turns the node→community mapping into member lists,
// communities ordered by their smallest member index.
func groupMembership(membership []int) [][]int {
	groups := make(map[int][]int)
	var order []int
	for v, c := range membership {
		if groups[c] == nil {
			order = append(order, c)
		}
		groups[c] = append(groups[c], v)
	}
	out := make([][]int, 0, len(order))
	for _, c := range order {
		out = append(out, groups[c])
	}
	return out
}
