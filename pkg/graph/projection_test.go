package graph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestProject_PreservesIdentityAndConsumerFields(t *testing.T) {
	source := []Port{
		{Serial: 201, NodeSerial: 101, Direction: DirectionOut, Exists: true},
	}
	edges := Project([]*Edge(nil), source, PortEdge)
	if len(edges) != 1 {
		t.Fatalf("Expected 1 edge, got %d", len(edges))
	}
	first := edges[0]
	first.Annotations = map[string]any{"curvature": 0.2}

	source[0].Exists = false
	source = append(source, Port{Serial: 202, NodeSerial: 101, Direction: DirectionIn, Exists: true})
	edges = Project(edges, source, PortEdge)

	if len(edges) != 2 {
		t.Fatalf("Expected 2 edges, got %d", len(edges))
	}
	if edges[0] != first {
		t.Error("Expected edge 0 to keep its identity across projections")
	}
	if edges[0].Exists {
		t.Error("Expected edge 0 to carry the removal")
	}
	if edges[0].Annotations["curvature"] != 0.2 {
		t.Errorf("Expected consumer annotations to survive, got %v", edges[0].Annotations)
	}
}

func TestProject_NeverTruncates(t *testing.T) {
	target := Project([]*Edge(nil), []Link{{Serial: 1}, {Serial: 2}}, LinkEdge)
	target = Project(target, []Link{{Serial: 1}}, LinkEdge)
	if len(target) != 2 {
		t.Errorf("Expected target to keep 2 entries, got %d", len(target))
	}
}

func TestProject_AppendsIndependentObjects(t *testing.T) {
	edges := Project([]*Edge(nil), []Link{{OutputPortSerial: 1, InputPortSerial: 2}, {OutputPortSerial: 3, InputPortSerial: 4}}, LinkEdge)
	edges[0].Source = 99
	if edges[1].Source != 3 {
		t.Errorf("Expected appended entries not to alias each other, got %+v", edges[1])
	}
}

func TestPortEdge_Direction(t *testing.T) {
	in := PortEdge(Port{Serial: 201, NodeSerial: 101, Direction: DirectionIn, Exists: true})
	if in != (EdgeFields{Source: 201, Target: 101, Exists: true}) {
		t.Errorf("input port edge should point at the node, got %+v", in)
	}
	out := PortEdge(Port{Serial: 201, NodeSerial: 101, Direction: DirectionOut, Exists: true})
	if out != (EdgeFields{Source: 101, Target: 201, Exists: true}) {
		t.Errorf("output port edge should leave the node, got %+v", out)
	}
}

func TestView_RefreshKeepsVertexPositions(t *testing.T) {
	s := seededStore(t)
	v := NewView()
	v.Refresh(s)

	if len(v.NodeVertices) != 2 || len(v.PortVertices) != 2 {
		t.Fatalf("Expected 2 node and 2 port vertices, got %d and %d", len(v.NodeVertices), len(v.PortVertices))
	}
	mic := v.NodeVertices[0]
	mic.X, mic.Y, mic.VX = 12.5, -4, 0.3
	edge := v.PortEdges[0]

	s.RemoveID(1)
	mustNil(t, s.AddLink(Link{ID: 30, Serial: 401, OutputPortID: 10, InputPortID: 20, OutputNodeID: 2, InputNodeID: 2}))
	v.Refresh(s)

	if v.NodeVertices[0] != mic || v.PortEdges[0] != edge {
		t.Fatal("Expected refresh to keep vertex and edge identity")
	}
	if mic.Exists {
		t.Error("Expected the mic vertex to be hidden after removal")
	}
	if mic.X != 12.5 || mic.Y != -4 || mic.VX != 0.3 {
		t.Errorf("Expected layout state to survive, got %+v", mic)
	}
	if len(v.LinkEdges) != 1 || v.LinkEdges[0].EdgeFields != (EdgeFields{Source: 201, Target: 202, Exists: true}) {
		t.Errorf("unexpected link edges: %+v", v.LinkEdges)
	}
}

func TestCapture_CopiesAndEncodesArrays(t *testing.T) {
	s := NewStore()
	v := NewView()
	st := Capture(s, v)
	if st.Nodes == nil || st.PortEdges == nil || st.Vertices == nil || st.DebugMessages == nil {
		t.Error("Expected empty, non-nil slices in an empty capture")
	}

	s = seededStore(t)
	v.Refresh(s)
	st = Capture(s, v)
	st.PortEdges[0].Source = 0
	if v.PortEdges[0].Source == 0 {
		t.Error("Expected capture to copy edges, not share them")
	}

	v.PortEdges[0].Annotations = map[string]any{"curvature": 0.2}
	st = Capture(s, v)
	v.PortEdges[0].Annotations["curvature"] = 0.5
	if got := st.PortEdges[0].Annotations["curvature"]; got != 0.2 {
		t.Errorf("Expected captured annotations to be detached, got %v", got)
	}

	want := []Vertex{
		{VertexFields: VertexFields{Serial: 101, Kind: KindNode, Label: "mic", Exists: true}},
		{VertexFields: VertexFields{Serial: 102, Kind: KindNode, Label: "speaker", Exists: true}},
		{VertexFields: VertexFields{Serial: 201, Kind: KindPort, Label: "capture_FL", Exists: true}},
		{VertexFields: VertexFields{Serial: 202, Kind: KindPort, Label: "playback_FL", Exists: true}},
	}
	if diff := cmp.Diff(want, st.Vertices); diff != "" {
		t.Errorf("vertices mismatch (-want +got):\n%s", diff)
	}
}

func TestState_Queries(t *testing.T) {
	s := seededStore(t)
	mustNil(t, s.AddLink(Link{ID: 30, Serial: 401, OutputPortID: 10, InputPortID: 20, OutputNodeID: 1, InputNodeID: 2}))
	s.RemoveID(2)
	st := Capture(s, NewView())

	if got := len(st.LiveNodes()); got != 1 {
		t.Errorf("Expected 1 live node, got %d", got)
	}
	if got := len(st.PortsOf(101)); got != 1 {
		t.Errorf("Expected mic to own 1 port, got %d", got)
	}
	if got := len(st.LinksOf(101)); got != 1 {
		t.Errorf("Expected mic to have 1 link, got %d", got)
	}
}
