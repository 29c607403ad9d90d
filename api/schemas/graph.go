// File: api/schemas/graph.go
// Exploration graph value types. Nodes and edges reference each other only
// through string IDs (content hashes), never live pointers, so the graph is
// serializable and free of reference cycles by construction.
package schemas

import "time"

// ExplorationStatus is the aggregate status a node derives from its edges.
type ExplorationStatus string

const (
	// StatusUnexplored: the node has pending edges and none explored or failed yet.
	StatusUnexplored ExplorationStatus = "unexplored"
	// StatusPartial: some edges resolved, some still pending.
	StatusPartial ExplorationStatus = "partial"
	// StatusExhausted: no pending edges remain (a node with zero edges is exhausted).
	StatusExhausted ExplorationStatus = "exhausted"
)

// EdgeStatus tracks the lifecycle of a single action edge.
type EdgeStatus string

const (
	EdgePending  EdgeStatus = "pending"
	EdgeExplored EdgeStatus = "explored"
	EdgeFailed   EdgeStatus = "failed"
)

// GraphNode is one discovered application state, identified by the combined
// fingerprint hash. It owns its outgoing edges; nothing points back up.
type GraphNode struct {
	ID          string            `json:"id"` // the fingerprint's CombinedHash
	URL         string            `json:"url"`
	Title       string            `json:"title,omitempty"`
	Fingerprint StateFingerprint  `json:"fingerprint"`
	Status      ExplorationStatus `json:"status"`
	VisitCount  int               `json:"visit_count"`
	Depth       int               `json:"depth"`
	Edges       []GraphEdge       `json:"edges"`
	FirstSeen   time.Time         `json:"first_seen"`
	LastSeen    time.Time         `json:"last_seen"`
}

// GraphEdge is an action available from a source node. TargetID stays empty
// until the destination state has been captured; it remains an ID, never a
// reference. A->B and B->A are two distinct edges, not a structural cycle.
type GraphEdge struct {
	ID           string          `json:"id"` // deterministic hash of (source, selector, action type)
	SourceID     string          `json:"source_id"`
	TargetID     string          `json:"target_id,omitempty"`
	Action       ActionCandidate `json:"action"`
	Status       EdgeStatus      `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// GraphStats summarizes graph composition for logging and reports.
type GraphStats struct {
	NodeCount       int                       `json:"node_count"`
	EdgeCount       int                       `json:"edge_count"`
	NodesByStatus   map[ExplorationStatus]int `json:"nodes_by_status"`
	EdgesByStatus   map[EdgeStatus]int        `json:"edges_by_status"`
	AvgEdgesPerNode float64                   `json:"avg_edges_per_node"`
}

// GraphExport is a self-contained serializable dump of the whole graph.
type GraphExport struct {
	RunID      string      `json:"run_id"`
	Nodes      []GraphNode `json:"nodes"`
	ExportedAt time.Time   `json:"exported_at"`
}

// Clone returns a deep copy of the node. The graph hands out copies, never
// pointers into its internal state, so callers cannot race its bookkeeping.
func (n *GraphNode) Clone() *GraphNode {
	if n == nil {
		return nil
	}
	out := *n
	out.Edges = make([]GraphEdge, len(n.Edges))
	copy(out.Edges, n.Edges)
	return &out
}

// Clone returns a copy of the edge.
func (e *GraphEdge) Clone() *GraphEdge {
	if e == nil {
		return nil
	}
	out := *e
	return &out
}
