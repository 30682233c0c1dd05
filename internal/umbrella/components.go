package umbrella

// disjointSet is a union-find over topic indices, union by rank with path
// halving.
type disjointSet struct {
	parent []int
	rank   []int
}

func newDisjointSet(n int) *disjointSet {
	d := &disjointSet{parent: make([]int, n), rank: make([]int, n)}
	for i := range d.parent {
		d.parent[i] = i
	}
	return d
}

func (d *disjointSet) find(x int) int {
	for d.parent[x] != x {
		d.parent[x] = d.parent[d.parent[x]]
		x = d.parent[x]
	}
	return x
}

func (d *disjointSet) union(a, b int) {
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return
	}
	switch {
	case d.rank[ra] < d.rank[rb]:
		d.parent[ra] = rb
	case d.rank[ra] > d.rank[rb]:
		d.parent[rb] = ra
	default:
		d.parent[rb] = ra
		d.rank[ra]++
	}
}

// componentCommunities partitions the graph into its connected components
// at the edge threshold. Members stay in index order and components are
// ordered by their smallest member, so the partition is deterministic for
// a fixed input ordering.
func componentCommunities(g *graph) [][]int {
	ds := newDisjointSet(g.n)
	for v := 0; v < g.n; v++ {
		for _, e := range g.adj[v] {
			if e.to > v {
				ds.union(v, e.to)
			}
		}
	}

	groups := make(map[int][]int)
	var order []int
	for v := 0; v < g.n; v++ {
		root := ds.find(v)
		if groups[root] == nil {
			order = append(order, root)
		}
		groups[root] = append(groups[root], v)
	}
	out := make([][]int, 0, len(order))
	for _, root := range order {
		out = append(out, groups[root])
	}
	return out
}
