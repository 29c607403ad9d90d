package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
)

func testNode(id, url string) schemas.GraphNode {
	return schemas.GraphNode{ID: id, URL: url}
}

func clickAction(selector string) schemas.ActionCandidate {
	return schemas.ActionCandidate{
		Selector: selector,
		Type:     schemas.ActionClick,
		Element:  schemas.ElementDescriptor{Selector: selector, Tag: "a"},
	}
}

func TestEdgeIDDeterministic(t *testing.T) {
	a := EdgeID("n1", "#login", schemas.ActionClick)
	b := EdgeID("n1", "#login", schemas.ActionClick)
	c := EdgeID("n1", "#login", schemas.ActionHover)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "action type participates in the edge identity")
	assert.NotEqual(t, a, EdgeID("n2", "#login", schemas.ActionClick))
}

func TestAddNodeIdempotent(t *testing.T) {
	g := New(zap.NewNop())

	assert.True(t, g.AddNode(testNode("abc", "https://example.com")))
	assert.False(t, g.AddNode(testNode("abc", "https://example.com")))

	node, err := g.GetNode("abc")
	require.NoError(t, err)
	assert.Equal(t, 2, node.VisitCount, "re-adding counts a revisit")
	assert.Equal(t, 1, g.GetStats().NodeCount)
}

func TestStatusDerivation(t *testing.T) {
	g := New(zap.NewNop())
	g.AddNode(testNode("n1", "https://example.com"))

	// No edges at all: nothing left to try.
	node, err := g.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusExhausted, node.Status)

	// Only pending edges.
	e1, err := g.AddEdge("n1", clickAction("#a"))
	require.NoError(t, err)
	_, err = g.AddEdge("n1", clickAction("#b"))
	require.NoError(t, err)
	node, _ = g.GetNode("n1")
	assert.Equal(t, schemas.StatusUnexplored, node.Status)

	// One explored, one pending.
	require.NoError(t, g.UpdateEdge(e1, func(e *schemas.GraphEdge) {
		e.Status = schemas.EdgeExplored
		e.TargetID = "n2"
	}))
	node, _ = g.GetNode("n1")
	assert.Equal(t, schemas.StatusPartial, node.Status)

	// All resolved, including failures.
	e2 := EdgeID("n1", "#b", schemas.ActionClick)
	require.NoError(t, g.UpdateEdge(e2, func(e *schemas.GraphEdge) {
		e.Status = schemas.EdgeFailed
	}))
	node, _ = g.GetNode("n1")
	assert.Equal(t, schemas.StatusExhausted, node.Status)
}

func TestAddEdgeIdempotent(t *testing.T) {
	g := New(zap.NewNop())
	g.AddNode(testNode("n1", "https://example.com"))

	id1, err := g.AddEdge("n1", clickAction("#a"))
	require.NoError(t, err)
	id2, err := g.AddEdge("n1", clickAction("#a"))
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, g.GetStats().EdgeCount)
}

func TestAddEdgeUnknownNode(t *testing.T) {
	g := New(zap.NewNop())
	_, err := g.AddEdge("missing", clickAction("#a"))
	assert.Error(t, err)
}

func TestGetPendingEdges(t *testing.T) {
	g := New(zap.NewNop())
	g.AddNode(testNode("n1", "https://example.com"))
	e1, _ := g.AddEdge("n1", clickAction("#a"))
	g.AddEdge("n1", clickAction("#b"))

	require.NoError(t, g.UpdateEdge(e1, func(e *schemas.GraphEdge) {
		e.Status = schemas.EdgeExplored
	}))

	pending, err := g.GetPendingEdges("n1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "#b", pending[0].Action.Selector)
}

func TestClonesAreIsolated(t *testing.T) {
	g := New(zap.NewNop())
	g.AddNode(testNode("n1", "https://example.com"))
	g.AddEdge("n1", clickAction("#a"))

	node, err := g.GetNode("n1")
	require.NoError(t, err)
	node.Edges[0].Status = schemas.EdgeFailed
	node.URL = "https://tampered.example.com"

	fresh, err := g.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, schemas.EdgePending, fresh.Edges[0].Status)
	assert.Equal(t, "https://example.com", fresh.URL)
}

func TestStatsAndExport(t *testing.T) {
	g := New(zap.NewNop())
	g.AddNode(testNode("n1", "https://example.com"))
	g.AddNode(testNode("n2", "https://example.com/about"))
	e1, _ := g.AddEdge("n1", clickAction("#a"))
	g.AddEdge("n1", clickAction("#b"))
	require.NoError(t, g.UpdateEdge(e1, func(e *schemas.GraphEdge) {
		e.Status = schemas.EdgeExplored
		e.TargetID = "n2"
	}))

	stats := g.GetStats()
	assert.Equal(t, 2, stats.NodeCount)
	assert.Equal(t, 2, stats.EdgeCount)
	assert.Equal(t, 1, stats.EdgesByStatus[schemas.EdgePending])
	assert.Equal(t, 1, stats.EdgesByStatus[schemas.EdgeExplored])
	assert.Equal(t, 1, stats.NodesByStatus[schemas.StatusPartial])
	assert.Equal(t, 1, stats.NodesByStatus[schemas.StatusExhausted])
	assert.InDelta(t, 1.0, stats.AvgEdgesPerNode, 1e-9)

	export := g.Export("run-42")
	assert.Equal(t, "run-42", export.RunID)
	assert.Len(t, export.Nodes, 2)
	assert.False(t, export.ExportedAt.IsZero())
}

func TestClear(t *testing.T) {
	g := New(zap.NewNop())
	g.AddNode(testNode("n1", "https://example.com"))
	g.AddEdge("n1", clickAction("#a"))

	g.Clear()
	assert.Equal(t, 0, g.GetStats().NodeCount)
	assert.False(t, g.HasNode("n1"))
	_, err := g.GetEdge(EdgeID("n1", "#a", schemas.ActionClick))
	assert.Error(t, err)
}
