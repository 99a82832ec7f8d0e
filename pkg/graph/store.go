package graph

import "errors"

// Store is the canonical, append-only model of the media graph. Entities are
// never removed from their collection; removal flips Exists to false so that
// index-aligned projections stay valid.
//
// Store is not safe for concurrent use. The engine serialises writes and
// guards reads with its own lock.
type Store struct {
	nodes         []Node
	ports         []Port
	links         []Link
	debugMessages []string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// AddNode appends n as an existing node. It fails with a DuplicateIDError if
// a node with the same id currently exists.
func (s *Store) AddNode(n Node) error {
	if _, ok := findExisting(s.nodes, n.ID); ok {
		return &DuplicateIDError{Kind: KindNode, ID: n.ID}
	}
	n.Exists = true
	s.nodes = append(s.nodes, n)
	return nil
}

// AddPort appends p after resolving its owning node. NodeSerial is taken from
// the node that exists right now, whatever value the caller passed.
func (s *Store) AddPort(p Port) error {
	if _, ok := findExisting(s.ports, p.ID); ok {
		return &DuplicateIDError{Kind: KindPort, ID: p.ID}
	}
	ni, ok := findExisting(s.nodes, p.NodeID)
	if !ok {
		return &DanglingReferenceError{Kind: KindPort, Field: "node_id", ID: p.NodeID}
	}
	p.NodeSerial = s.nodes[ni].Serial
	p.Exists = true
	s.ports = append(s.ports, p)
	return nil
}

// AddLink appends l after resolving both ports and both nodes. Every missing
// reference is reported on its own; the returned error joins them.
func (s *Store) AddLink(l Link) error {
	if _, ok := findExisting(s.links, l.ID); ok {
		return &DuplicateIDError{Kind: KindLink, ID: l.ID}
	}

	var errs []error
	inPort, ok := findExisting(s.ports, l.InputPortID)
	if !ok {
		errs = append(errs, &DanglingReferenceError{Kind: KindLink, Field: "input_port_id", ID: l.InputPortID})
	}
	outPort, ok := findExisting(s.ports, l.OutputPortID)
	if !ok {
		errs = append(errs, &DanglingReferenceError{Kind: KindLink, Field: "output_port_id", ID: l.OutputPortID})
	}
	inNode, ok := findExisting(s.nodes, l.InputNodeID)
	if !ok {
		errs = append(errs, &DanglingReferenceError{Kind: KindLink, Field: "input_node_id", ID: l.InputNodeID})
	}
	outNode, ok := findExisting(s.nodes, l.OutputNodeID)
	if !ok {
		errs = append(errs, &DanglingReferenceError{Kind: KindLink, Field: "output_node_id", ID: l.OutputNodeID})
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	l.InputPortSerial = s.ports[inPort].Serial
	l.OutputPortSerial = s.ports[outPort].Serial
	l.InputNodeSerial = s.nodes[inNode].Serial
	l.OutputNodeSerial = s.nodes[outNode].Serial
	l.Exists = true
	s.links = append(s.links, l)
	return nil
}

// RemoveID marks every node, port and link carrying id as no longer existing.
// The removal event has no type tag, so all three collections are scanned.
// It returns how many entities changed state; zero is not an error.
func (s *Store) RemoveID(id uint32) int {
	changed := 0
	for i := range s.nodes {
		if s.nodes[i].ID == id && s.nodes[i].Exists {
			s.nodes[i].Exists = false
			changed++
		}
	}
	for i := range s.ports {
		if s.ports[i].ID == id && s.ports[i].Exists {
			s.ports[i].Exists = false
			changed++
		}
	}
	for i := range s.links {
		if s.links[i].ID == id && s.links[i].Exists {
			s.links[i].Exists = false
			changed++
		}
	}
	return changed
}

// AppendDebugMessage appends msg to the debug log.
func (s *Store) AppendDebugMessage(msg string) {
	s.debugMessages = append(s.debugMessages, msg)
}

// Nodes returns a copy of the node collection in insertion order.
func (s *Store) Nodes() []Node {
	return append([]Node(nil), s.nodes...)
}

// Ports returns a copy of the port collection in insertion order.
func (s *Store) Ports() []Port {
	return append([]Port(nil), s.ports...)
}

// Links returns a copy of the link collection in insertion order.
func (s *Store) Links() []Link {
	return append([]Link(nil), s.links...)
}

// DebugMessages returns a copy of the debug log.
func (s *Store) DebugMessages() []string {
	return append([]string(nil), s.debugMessages...)
}

// Node returns the currently existing node with the given id.
func (s *Store) Node(id uint32) (Node, bool) {
	i, ok := findExisting(s.nodes, id)
	if !ok {
		return Node{}, false
	}
	return s.nodes[i], true
}

// Port returns the currently existing port with the given id.
func (s *Store) Port(id uint32) (Port, bool) {
	i, ok := findExisting(s.ports, id)
	if !ok {
		return Port{}, false
	}
	return s.ports[i], true
}

// Link returns the currently existing link with the given id.
func (s *Store) Link(id uint32) (Link, bool) {
	i, ok := findExisting(s.links, id)
	if !ok {
		return Link{}, false
	}
	return s.links[i], true
}

// Counts summarises one collection.
type Counts struct {
	Total int `json:"total"`
	Live  int `json:"live"`
}

// Stats reports collection sizes keyed by kind.
func (s *Store) Stats() map[Kind]Counts {
	return map[Kind]Counts{
		KindNode: countOf(s.nodes),
		KindPort: countOf(s.ports),
		KindLink: countOf(s.links),
	}
}

func countOf[T record](items []T) Counts {
	c := Counts{Total: len(items)}
	for i := range items {
		if _, exists := items[i].ref(); exists {
			c.Live++
		}
	}
	return c
}
