// File: internal/graph/graph.go
// ExplorationGraph is the explicit node/edge store of everything discovered
// during a run. Ownership is centralized in this map: nodes hold their
// outgoing edges and nothing else, and all cross-references are string IDs.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
)

// EdgeID derives the deterministic edge identifier from the triple that makes
// an edge unique. Re-adding the same action from the same node is a no-op.
func EdgeID(sourceID, selector string, actionType schemas.ActionType) string {
	sum := sha256.Sum256([]byte(sourceID + "|" + selector + "|" + string(actionType)))
	return hex.EncodeToString(sum[:16])
}

// Graph holds all discovered states and the actions available from each.
// Construct one per run; it carries no state across runs.
type Graph struct {
	mu        sync.RWMutex
	nodes     map[string]*schemas.GraphNode
	edgeOwner map[string]string // edge ID -> owning node ID
	log       *zap.Logger
}

// New creates an empty exploration graph.
func New(logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		nodes:     make(map[string]*schemas.GraphNode),
		edgeOwner: make(map[string]string),
		log:       logger.Named("ExplorationGraph"),
	}
}

// deriveStatusLocked recomputes a node's aggregate status from its edges.
// This is the graph's only derived invariant and must re-run on every edge
// mutation; it is never cached.
func deriveStatusLocked(n *schemas.GraphNode) {
	pending, resolved := 0, 0
	for i := range n.Edges {
		switch n.Edges[i].Status {
		case schemas.EdgePending:
			pending++
		case schemas.EdgeExplored, schemas.EdgeFailed:
			resolved++
		}
	}

	switch {
	case pending == 0:
		n.Status = schemas.StatusExhausted
	case resolved == 0:
		n.Status = schemas.StatusUnexplored
	default:
		n.Status = schemas.StatusPartial
	}
}

// AddNode inserts a node keyed by its combined hash. If the node already
// exists its visit count increments instead; nodes are never duplicated.
// Returns true iff the node was newly created.
func (g *Graph) AddNode(node schemas.GraphNode) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.nodes[node.ID]; ok {
		existing.VisitCount++
		existing.LastSeen = time.Now().UTC()
		return false
	}

	stored := node.Clone()
	if stored.VisitCount == 0 {
		stored.VisitCount = 1
	}
	now := time.Now().UTC()
	if stored.FirstSeen.IsZero() {
		stored.FirstSeen = now
	}
	stored.LastSeen = now
	deriveStatusLocked(stored)

	g.nodes[stored.ID] = stored
	for i := range stored.Edges {
		g.edgeOwner[stored.Edges[i].ID] = stored.ID
	}
	g.log.Debug("Node added", zap.String("id", stored.ID), zap.String("url", stored.URL))
	return true
}

// HasNode reports whether a node with the given ID exists.
func (g *Graph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// GetNode returns a deep copy of the node, or an error if absent.
func (g *Graph) GetNode(id string) (*schemas.GraphNode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node with id '%s' not found", id)
	}
	return node.Clone(), nil
}

// UpdateNode applies a mutation to the stored node under the graph lock, then
// recomputes its derived status.
func (g *Graph) UpdateNode(id string, mutate func(*schemas.GraphNode)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("node with id '%s' not found", id)
	}
	mutate(node)
	node.LastSeen = time.Now().UTC()
	deriveStatusLocked(node)
	return nil
}

// AddEdge attaches an outgoing edge to a node. The edge ID is derived from
// (source, selector, action type), so repeated additions are idempotent.
// Returns the edge ID.
func (g *Graph) AddEdge(nodeID string, action schemas.ActionCandidate) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[nodeID]
	if !ok {
		return "", fmt.Errorf("node with id '%s' not found", nodeID)
	}

	id := EdgeID(nodeID, action.Selector, action.Type)
	if _, exists := g.edgeOwner[id]; exists {
		return id, nil
	}

	now := time.Now().UTC()
	node.Edges = append(node.Edges, schemas.GraphEdge{
		ID:        id,
		SourceID:  nodeID,
		Action:    action,
		Status:    schemas.EdgePending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	g.edgeOwner[id] = nodeID
	deriveStatusLocked(node)
	return id, nil
}

// GetEdge returns a copy of the edge with the given ID.
func (g *Graph) GetEdge(edgeID string) (*schemas.GraphEdge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodeID, ok := g.edgeOwner[edgeID]
	if !ok {
		return nil, fmt.Errorf("edge with id '%s' not found", edgeID)
	}
	node := g.nodes[nodeID]
	for i := range node.Edges {
		if node.Edges[i].ID == edgeID {
			return node.Edges[i].Clone(), nil
		}
	}
	return nil, fmt.Errorf("edge index inconsistency for id '%s'", edgeID)
}

// UpdateEdge applies a mutation to an edge and recomputes the owning node's
// status.
func (g *Graph) UpdateEdge(edgeID string, mutate func(*schemas.GraphEdge)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	nodeID, ok := g.edgeOwner[edgeID]
	if !ok {
		return fmt.Errorf("edge with id '%s' not found", edgeID)
	}
	node := g.nodes[nodeID]
	for i := range node.Edges {
		if node.Edges[i].ID == edgeID {
			mutate(&node.Edges[i])
			node.Edges[i].UpdatedAt = time.Now().UTC()
			deriveStatusLocked(node)
			return nil
		}
	}
	return fmt.Errorf("edge index inconsistency for id '%s'", edgeID)
}

// GetPendingEdges returns copies of a node's edges still awaiting attempt.
func (g *Graph) GetPendingEdges(nodeID string) ([]schemas.GraphEdge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node with id '%s' not found", nodeID)
	}

	var out []schemas.GraphEdge
	for i := range node.Edges {
		if node.Edges[i].Status == schemas.EdgePending {
			out = append(out, node.Edges[i])
		}
	}
	return out, nil
}

// GetAllNodes returns deep copies of every node.
func (g *Graph) GetAllNodes() []schemas.GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]schemas.GraphNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, *n.Clone())
	}
	return out
}

// GetStats summarizes node and edge counts by status.
func (g *Graph) GetStats() schemas.GraphStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := schemas.GraphStats{
		NodeCount:     len(g.nodes),
		NodesByStatus: make(map[schemas.ExplorationStatus]int),
		EdgesByStatus: make(map[schemas.EdgeStatus]int),
	}
	for _, n := range g.nodes {
		stats.NodesByStatus[n.Status]++
		stats.EdgeCount += len(n.Edges)
		for i := range n.Edges {
			stats.EdgesByStatus[n.Edges[i].Status]++
		}
	}
	if stats.NodeCount > 0 {
		stats.AvgEdgesPerNode = float64(stats.EdgeCount) / float64(stats.NodeCount)
	}
	return stats
}

// Export produces a self-contained serializable dump of the graph.
func (g *Graph) Export(runID string) schemas.GraphExport {
	return schemas.GraphExport{
		RunID:      runID,
		Nodes:      g.GetAllNodes(),
		ExportedAt: time.Now().UTC(),
	}
}

// Clear discards all nodes and edges.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = make(map[string]*schemas.GraphNode)
	g.edgeOwner = make(map[string]string)
}
