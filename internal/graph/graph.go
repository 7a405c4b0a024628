// Package graph resolves structural pruning constraints from a declared
// layer topology: which layers must share a channel mask because their
// outputs join downstream, and which channel-count divisors grouped
// convolutions impose.
package graph

import (
	"sort"

	"github.com/Roxbili/snip/internal/config"
)

// Ops that own prunable output channels.
func prunable(op string) bool {
	return op == "conv2d" || op == "linear"
}

// Ops that join channels elementwise and therefore force their producers to
// prune identical channels.
func joining(op string) bool {
	return op == "add"
}

// TopologyResolver implements sparsity.DependencyResolver over a static
// layer graph. Resolution happens once at construction.
type TopologyResolver struct {
	sets    [][]string
	factors map[string]int
}

// NewResolver traces the graph and precomputes channel-dependency sets and
// group-dependency factors.
func NewResolver(nodes []config.GraphNode) (*TopologyResolver, error) {
	if len(nodes) == 0 {
		return nil, config.Errorf("empty layer graph")
	}
	byName := make(map[string]config.GraphNode, len(nodes))
	for _, n := range nodes {
		if n.Name == "" {
			return nil, config.Errorf("graph node with empty name")
		}
		if _, dup := byName[n.Name]; dup {
			return nil, config.Errorf("duplicate graph node %q", n.Name)
		}
		byName[n.Name] = n
	}
	for _, n := range nodes {
		for _, in := range n.Inputs {
			if _, ok := byName[in]; !ok {
				return nil, config.Errorf("graph node %q references unknown input %q", n.Name, in)
			}
		}
	}

	r := &TopologyResolver{factors: make(map[string]int)}
	uf := newUnionFind()
	for _, n := range nodes {
		if prunable(n.Op) {
			uf.add(n.Name)
			r.factors[n.Name] = 1
		}
	}

	// Channel dependencies: all prunable producers feeding one joining op
	// must share a mask.
	for _, n := range nodes {
		if !joining(n.Op) {
			continue
		}
		var producers []string
		for _, in := range n.Inputs {
			producers = append(producers, producersOf(in, byName)...)
		}
		for i := 1; i < len(producers); i++ {
			uf.union(producers[0], producers[i])
		}
	}

	// Group dependencies: a grouped conv constrains its own output channels
	// and those of every layer producing its input.
	for _, n := range nodes {
		if n.Op != "conv2d" || n.Groups <= 1 {
			continue
		}
		r.bumpFactor(n.Name, n.Groups)
		for _, in := range n.Inputs {
			for _, p := range producersOf(in, byName) {
				r.bumpFactor(p, n.Groups)
			}
		}
	}

	r.sets = uf.sets()
	return r, nil
}

// ChannelDependencySets returns every prunable layer in exactly one set;
// coupled layers share a set, uncoupled layers are singletons. Sets and
// members are in deterministic order.
func (r *TopologyResolver) ChannelDependencySets() [][]string {
	return r.sets
}

// GroupFactors returns the per-layer channel divisibility requirement.
func (r *TopologyResolver) GroupFactors() map[string]int {
	return r.factors
}

func (r *TopologyResolver) bumpFactor(name string, groups int) {
	if _, ok := r.factors[name]; !ok {
		return
	}
	r.factors[name] = lcm(r.factors[name], groups)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}

// producersOf walks upward from name to the nearest prunable layers,
// passing through everything that preserves channels.
func producersOf(name string, byName map[string]config.GraphNode) []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		if seen[cur] {
			return
		}
		seen[cur] = true
		n := byName[cur]
		if prunable(n.Op) {
			out = append(out, cur)
			return
		}
		for _, in := range n.Inputs {
			walk(in)
		}
	}
	walk(name)
	return out
}

type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string)}
}

func (u *unionFind) add(name string) {
	if _, ok := u.parent[name]; !ok {
		u.parent[name] = name
	}
}

func (u *unionFind) find(name string) string {
	for u.parent[name] != name {
		u.parent[name] = u.parent[u.parent[name]]
		name = u.parent[name]
	}
	return name
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}

func (u *unionFind) sets() [][]string {
	groups := make(map[string][]string)
	for name := range u.parent {
		root := u.find(name)
		groups[root] = append(groups[root], name)
	}
	out := make([][]string, 0, len(groups))
	for _, members := range groups {
		sort.Strings(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
