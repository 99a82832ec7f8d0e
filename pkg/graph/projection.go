package graph

// Project refreshes target from source index by index. When target already
// holds an entry at i, the fields computed by fn are merged into that entry so
// its pointer identity survives; when source has grown, a new entry is
// appended. target is never truncated: a removed source entity keeps its
// derived entry and reports it through the projected Exists field.
//
// Layout engines attach simulation state to the derived objects, which is why
// identity has to outlive every refresh.
func Project[S, F any, T any, PT interface {
	*T
	Merge(F)
}](target []PT, source []S, fn func(S) F) []PT {
	for i := range source {
		fields := fn(source[i])
		if i < len(target) {
			target[i].Merge(fields)
			continue
		}
		fresh := PT(new(T))
		fresh.Merge(fields)
		target = append(target, fresh)
	}
	return target
}

// EdgeFields are the projected attributes of a render edge. Source and Target
// are serials, which the renderer uses as vertex ids.
type EdgeFields struct {
	Source uint64 `json:"source"`
	Target uint64 `json:"target"`
	Exists bool   `json:"exists"`
}

// Edge is a render edge. Annotations belong to the consumer and are never
// written by Project.
type Edge struct {
	EdgeFields
	Annotations map[string]any `json:"annotations,omitempty"`
}

// Merge overwrites the projected fields only.
func (e *Edge) Merge(f EdgeFields) {
	e.EdgeFields = f
}

// VertexFields are the projected attributes of a render vertex.
type VertexFields struct {
	Serial uint64 `json:"serial"`
	Kind   Kind   `json:"kind"`
	Label  string `json:"label"`
	Exists bool   `json:"exists"`
}

// Vertex is a render vertex for a node or a port. Position and velocity are
// owned by the layout consumer.
type Vertex struct {
	VertexFields
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// Merge overwrites the projected fields only.
func (v *Vertex) Merge(f VertexFields) {
	v.VertexFields = f
}

// PortEdge connects a port to its owning node. Input ports point at the
// node, output ports are pointed at by it, so signal flows left to right.
func PortEdge(p Port) EdgeFields {
	if p.Direction == DirectionIn {
		return EdgeFields{Source: p.Serial, Target: p.NodeSerial, Exists: p.Exists}
	}
	return EdgeFields{Source: p.NodeSerial, Target: p.Serial, Exists: p.Exists}
}

// LinkEdge runs from the output port of a link to its input port.
func LinkEdge(l Link) EdgeFields {
	return EdgeFields{Source: l.OutputPortSerial, Target: l.InputPortSerial, Exists: l.Exists}
}

func nodeVertex(n Node) VertexFields {
	return VertexFields{Serial: n.Serial, Kind: KindNode, Label: n.Name, Exists: n.Exists}
}

func portVertex(p Port) VertexFields {
	return VertexFields{Serial: p.Serial, Kind: KindPort, Label: p.Name, Exists: p.Exists}
}

// View holds the derived, identity-stable collections handed to a renderer.
// Entry i of PortEdges and PortVertices always derives from port i of the
// store; the same holds for LinkEdges/links and NodeVertices/nodes.
type View struct {
	PortEdges    []*Edge
	LinkEdges    []*Edge
	NodeVertices []*Vertex
	PortVertices []*Vertex
}

// NewView creates an empty view.
func NewView() *View {
	return &View{}
}

// Refresh recomputes every projection from the current store contents.
func (v *View) Refresh(s *Store) {
	v.PortEdges = Project(v.PortEdges, s.ports, PortEdge)
	v.LinkEdges = Project(v.LinkEdges, s.links, LinkEdge)
	v.NodeVertices = Project(v.NodeVertices, s.nodes, nodeVertex)
	v.PortVertices = Project(v.PortVertices, s.ports, portVertex)
}

// Vertices returns node vertices followed by port vertices, sharing the
// view's pointers.
func (v *View) Vertices() []*Vertex {
	out := make([]*Vertex, 0, len(v.NodeVertices)+len(v.PortVertices))
	out = append(out, v.NodeVertices...)
	return append(out, v.PortVertices...)
}

// Edges returns port edges followed by link edges, sharing the view's
// pointers.
func (v *View) Edges() []*Edge {
	out := make([]*Edge, 0, len(v.PortEdges)+len(v.LinkEdges))
	out = append(out, v.PortEdges...)
	return append(out, v.LinkEdges...)
}
