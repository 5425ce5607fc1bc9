// Package graph builds and validates the image dependency graph. A Graph is
// immutable once built and safe for concurrent reads.
package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sofmeright/treebuild/src/config"
	"github.com/sofmeright/treebuild/src/image"
)

// Graph is a forest of image nodes: every node has at most one in-graph
// parent and any number of children.
type Graph struct {
	nodes    []image.Node
	index    map[string]int
	parent   map[string]string
	children map[string][]string
	roots    []string
}

type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS path
	black              // done
)

// Build computes the adjacency of nodes and validates it. Dangling parent
// references are reported as *DanglingDependencyError, cycles as
// *CycleError; several problems are joined into one error.
func Build(nodes []image.Node) (*Graph, error) {
	g := &Graph{
		nodes:    append([]image.Node(nil), nodes...),
		index:    make(map[string]int, len(nodes)),
		parent:   make(map[string]string, len(nodes)),
		children: make(map[string][]string, len(nodes)),
	}
	for i, n := range g.nodes {
		if _, dup := g.index[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node %s", n.ID)
		}
		g.index[n.ID] = i
	}

	var errs []error
	for _, n := range g.nodes {
		if !n.HasParent() {
			g.roots = append(g.roots, n.ID)
			continue
		}
		if _, ok := g.index[n.Parent]; !ok {
			errs = append(errs, &DanglingDependencyError{ID: n.ID, Parent: n.Parent})
			continue
		}
		g.parent[n.ID] = n.Parent
		g.children[n.Parent] = append(g.children[n.Parent], n.ID)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if errs := g.findCycles(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return g, nil
}

// findCycles runs a three-color DFS along parent edges. Reaching a gray
// node again closes a cycle; the path from that node onward is the cycle.
func (g *Graph) findCycles() []error {
	colors := make(map[string]color, len(g.nodes))
	var errs []error

	var path []string
	var visit func(id string)
	visit = func(id string) {
		colors[id] = gray
		path = append(path, id)

		if p, ok := g.parent[id]; ok {
			switch colors[p] {
			case gray:
				errs = append(errs, &CycleError{Cycle: cycleFrom(path, p)})
			case white:
				visit(p)
			}
		}

		path = path[:len(path)-1]
		colors[id] = black
	}

	for _, n := range g.nodes {
		if colors[n.ID] == white {
			visit(n.ID)
		}
	}
	return errs
}

func cycleFrom(path []string, start string) []string {
	for i, id := range path {
		if id == start {
			cycle := append([]string(nil), path[i:]...)
			return append(cycle, start)
		}
	}
	return []string{start, start}
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Nodes returns all nodes in definition order.
func (g *Graph) Nodes() []image.Node {
	return append([]image.Node(nil), g.nodes...)
}

// Node looks a node up by identifier.
func (g *Graph) Node(id string) (image.Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return image.Node{}, false
	}
	return g.nodes[i], true
}

// Index returns the definition position of id, or -1.
func (g *Graph) Index(id string) int {
	if i, ok := g.index[id]; ok {
		return i
	}
	return -1
}

// Parent returns the in-graph parent of id, or "" for roots. In a selected
// subgraph a node's image.Node.Parent may still name a node outside it.
func (g *Graph) Parent(id string) string { return g.parent[id] }

// Children returns the direct dependents of id in definition order.
func (g *Graph) Children(id string) []string {
	return append([]string(nil), g.children[id]...)
}

// Roots returns nodes without an in-graph parent, in definition order.
func (g *Graph) Roots() []string {
	return append([]string(nil), g.roots...)
}

// Descendants returns every transitive dependent of id, depth first.
func (g *Graph) Descendants(id string) []string {
	var out []string
	var walk func(string)
	walk = func(cur string) {
		for _, c := range g.children[cur] {
			out = append(out, c)
			walk(c)
		}
	}
	walk(id)
	return out
}

// Ancestors returns the parent chain of id, nearest first.
func (g *Graph) Ancestors(id string) []string {
	var out []string
	for p := g.parent[id]; p != ""; p = g.parent[p] {
		out = append(out, p)
	}
	return out
}

// Depth is the number of in-graph ancestors of id.
func (g *Graph) Depth(id string) int { return len(g.Ancestors(id)) }

// TopoOrder returns all nodes, parents before children: each root in
// definition order followed by its subtree.
func (g *Graph) TopoOrder() []string {
	out := make([]string, 0, len(g.nodes))
	for _, r := range g.roots {
		out = append(out, r)
		out = append(out, g.Descendants(r)...)
	}
	return out
}

// Select returns the subgraph of nodes matching any include pattern plus
// all their descendants. Patterns match the identifier or the bare
// repository and follow config.MatchPatterns rules. A node matching a !
// pattern is dropped after the closure together with its whole subtree,
// even when an ancestor brought it in. Nodes whose parent is not selected
// become roots of the subgraph.
func (g *Graph) Select(patterns []string) (*Graph, error) {
	if len(patterns) == 0 {
		return g, nil
	}

	var includes, excludes []string
	for _, p := range patterns {
		if strings.HasPrefix(p, "!") {
			excludes = append(excludes, p)
		} else {
			includes = append(includes, p)
		}
	}

	keep := make(map[string]bool)
	for _, n := range g.nodes {
		if keep[n.ID] || !config.MatchPatterns(includes, n.ID, n.Ref.Repository) {
			continue
		}
		keep[n.ID] = true
		for _, d := range g.Descendants(n.ID) {
			keep[d] = true
		}
	}
	for _, n := range g.nodes {
		if !keep[n.ID] || config.MatchPatterns(excludes, n.ID, n.Ref.Repository) {
			continue
		}
		delete(keep, n.ID)
		for _, d := range g.Descendants(n.ID) {
			delete(keep, d)
		}
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("no image matches %v", patterns)
	}

	sub := &Graph{
		index:    make(map[string]int, len(keep)),
		parent:   make(map[string]string, len(keep)),
		children: make(map[string][]string, len(keep)),
	}
	for _, n := range g.nodes {
		if !keep[n.ID] {
			continue
		}
		sub.index[n.ID] = len(sub.nodes)
		sub.nodes = append(sub.nodes, n)

		if p, ok := g.parent[n.ID]; ok && keep[p] {
			sub.parent[n.ID] = p
			sub.children[p] = append(sub.children[p], n.ID)
		} else {
			sub.roots = append(sub.roots, n.ID)
		}
	}
	return sub, nil
}
