package graph

import "maps"

// State is a point-in-time copy of the canonical collections and the derived
// view, suitable for encoding and for readers outside the apply loop.
type State struct {
	Nodes         []Node          `json:"nodes"`
	Ports         []Port          `json:"ports"`
	Links         []Link          `json:"links"`
	DebugMessages []string        `json:"debug_messages"`
	PortEdges     []Edge          `json:"port_edges"`
	LinkEdges     []Edge          `json:"link_edges"`
	Vertices      []Vertex        `json:"vertices"`
	Stats         map[Kind]Counts `json:"stats"`
}

// Capture copies the store and view into a State. Slices are never nil so the
// encoded form always carries arrays.
func Capture(s *Store, v *View) State {
	st := State{
		Nodes:         append(make([]Node, 0, len(s.nodes)), s.nodes...),
		Ports:         append(make([]Port, 0, len(s.ports)), s.ports...),
		Links:         append(make([]Link, 0, len(s.links)), s.links...),
		DebugMessages: append(make([]string, 0, len(s.debugMessages)), s.debugMessages...),
		PortEdges:     copyEdges(v.PortEdges),
		LinkEdges:     copyEdges(v.LinkEdges),
		Vertices:      make([]Vertex, 0, len(v.NodeVertices)+len(v.PortVertices)),
		Stats:         s.Stats(),
	}
	for _, vx := range v.Vertices() {
		st.Vertices = append(st.Vertices, *vx)
	}
	return st
}

// copyEdges detaches annotation maps so a captured state never shares them
// with the live view.
func copyEdges(edges []*Edge) []Edge {
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		c := *e
		c.Annotations = maps.Clone(e.Annotations)
		out = append(out, c)
	}
	return out
}

// LiveNodes returns the nodes that currently exist.
func (st State) LiveNodes() []Node {
	var out []Node
	for _, n := range st.Nodes {
		if n.Exists {
			out = append(out, n)
		}
	}
	return out
}

// PortsOf returns the existing ports owned by the node with the given
// serial.
func (st State) PortsOf(nodeSerial uint64) []Port {
	var out []Port
	for _, p := range st.Ports {
		if p.Exists && p.NodeSerial == nodeSerial {
			out = append(out, p)
		}
	}
	return out
}

// LinksOf returns the existing links touching the node with the given serial
// on either end.
func (st State) LinksOf(nodeSerial uint64) []Link {
	var out []Link
	for _, l := range st.Links {
		if l.Exists && (l.InputNodeSerial == nodeSerial || l.OutputNodeSerial == nodeSerial) {
			out = append(out, l)
		}
	}
	return out
}

// NodeDetail is a live node together with its ports and the links that
// touch it.
type NodeDetail struct {
	Node  Node   `json:"node"`
	Ports []Port `json:"ports"`
	Links []Link `json:"links"`
}

// Describe returns the detail of the existing node with the given id.
func (st State) Describe(id uint32) (NodeDetail, bool) {
	idx, ok := findExisting(st.Nodes, id)
	if !ok {
		return NodeDetail{}, false
	}
	n := st.Nodes[idx]
	d := NodeDetail{
		Node:  n,
		Ports: st.PortsOf(n.Serial),
		Links: st.LinksOf(n.Serial),
	}
	if d.Ports == nil {
		d.Ports = []Port{}
	}
	if d.Links == nil {
		d.Links = []Link{}
	}
	return d, true
}
