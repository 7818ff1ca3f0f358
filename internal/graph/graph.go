// Package graph implements the undirected fraud network graph.
//
// Vertices are actor IDs and shared attribute values (IP addresses) in one
// namespace. An edge means two vertices appeared on the same transaction or
// share an attribute. Connected components of size ≥ 2 are fraud rings.
//
// Traversals are iterative (explicit stack / queue) so very large rings never
// hit recursion depth limits.
package graph

import (
	"sort"
	"sync"
)

// DefaultWeight is the weight given to edges added without one.
const DefaultWeight = 1

// Stats summarizes the graph.
type Stats struct {
	Vertices    int `json:"totalVertices"`
	Edges       int `json:"totalEdges"`
	Rings       int `json:"fraudRings"`
	LargestRing int `json:"largestRing"`
}

// Graph is a concurrency-safe undirected graph. Edge weights are
// informational only and never affect traversal.
type Graph struct {
	mu    sync.RWMutex
	adj   map[string]map[string]int // vertex → neighbor → weight
	edges int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{adj: make(map[string]map[string]int)}
}

// AddVertex ensures v exists.
func (g *Graph) AddVertex(v string) {
	if v == "" {
		return
	}
	g.mu.Lock()
	g.addVertexLocked(v)
	g.mu.Unlock()
}

// AddEdge connects a and b with the default weight.
func (g *Graph) AddEdge(a, b string) {
	g.AddEdgeWeighted(a, b, DefaultWeight)
}

// AddEdgeWeighted connects a and b. Repeated insertions of the same pair keep
// one edge and accumulate its weight. Self-loops and empty vertices are ignored.
func (g *Graph) AddEdgeWeighted(a, b string, weight int) {
	if a == "" || b == "" || a == b {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.addVertexLocked(a)
	g.addVertexLocked(b)
	if _, exists := g.adj[a][b]; !exists {
		g.edges++
	}
	g.adj[a][b] += weight
	g.adj[b][a] += weight
}

func (g *Graph) addVertexLocked(v string) {
	if _, ok := g.adj[v]; !ok {
		g.adj[v] = make(map[string]int)
	}
}

// HasVertex reports whether v is in the graph.
func (g *Graph) HasVertex(v string) bool {
	g.mu.RLock()
	_, ok := g.adj[v]
	g.mu.RUnlock()
	return ok
}

// Neighbors returns v's neighbors, sorted.
func (g *Graph) Neighbors(v string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedNeighbors(g.adj[v])
}

// DFS returns every vertex reachable from start in depth-first order,
// start included. Unknown start vertices yield nil.
func (g *Graph) DFS(start string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.adj[start]; !ok {
		return nil
	}
	return g.dfsLocked(start, make(map[string]bool))
}

func (g *Graph) dfsLocked(start string, visited map[string]bool) []string {
	var result []string
	stack := []string{start}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[v] {
			continue
		}
		visited[v] = true
		result = append(result, v)

		// Push in reverse sorted order so lower IDs are visited first.
		nbrs := sortedNeighbors(g.adj[v])
		for i := len(nbrs) - 1; i >= 0; i-- {
			if !visited[nbrs[i]] {
				stack = append(stack, nbrs[i])
			}
		}
	}
	return result
}

// BFS returns every vertex reachable from start in breadth-first order,
// start included. Unknown start vertices yield nil.
func (g *Graph) BFS(start string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.adj[start]; !ok {
		return nil
	}

	visited := map[string]bool{start: true}
	queue := []string{start}
	var result []string
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		result = append(result, v)
		for _, n := range sortedNeighbors(g.adj[v]) {
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}
	return result
}

// AreConnected reports whether a path joins a and b. The search stops as soon
// as b is reached.
func (g *Graph) AreConnected(a, b string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.adj[a]; !ok {
		return false
	}
	if _, ok := g.adj[b]; !ok {
		return false
	}
	if a == b {
		return true
	}

	visited := map[string]bool{a: true}
	queue := []string{a}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for n := range g.adj[v] {
			if n == b {
				return true
			}
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false
}

// ConnectedComponents returns every component with at least two vertices.
// Vertices inside a component are sorted; components are ordered by size
// descending, then by first vertex.
func (g *Graph) ConnectedComponents() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.componentsLocked()
}

func (g *Graph) componentsLocked() [][]string {
	vertices := make([]string, 0, len(g.adj))
	for v := range g.adj {
		vertices = append(vertices, v)
	}
	sort.Strings(vertices)

	visited := make(map[string]bool, len(g.adj))
	var components [][]string
	for _, v := range vertices {
		if visited[v] {
			continue
		}
		c := g.dfsLocked(v, visited)
		if len(c) > 1 {
			sort.Strings(c)
			components = append(components, c)
		}
	}
	sort.SliceStable(components, func(i, j int) bool {
		if len(components[i]) != len(components[j]) {
			return len(components[i]) > len(components[j])
		}
		return components[i][0] < components[j][0]
	})
	return components
}

// Component returns the sorted component containing v, or nil when v is
// unknown.
func (g *Graph) Component(v string) []string {
	c := g.DFS(v)
	sort.Strings(c)
	return c
}

// Stats returns vertex, edge and ring counts.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Stats{Vertices: len(g.adj), Edges: g.edges}
	comps := g.componentsLocked()
	s.Rings = len(comps)
	for _, c := range comps {
		if len(c) > s.LargestRing {
			s.LargestRing = len(c)
		}
	}
	return s
}

// checkSymmetry panics if the adjacency relation is not symmetric or the
// edge counter drifted. Used by tests.
func (g *Graph) checkSymmetry() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	half := 0
	for a, nbrs := range g.adj {
		for b, w := range nbrs {
			if g.adj[b][a] != w {
				panic("graph: asymmetric edge " + a + " -> " + b)
			}
			half++
		}
	}
	if half != 2*g.edges {
		panic("graph: edge count drifted")
	}
}

func sortedNeighbors(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
