package graph

// Kind names one of the canonical collections.
type Kind string

const (
	KindNode Kind = "node"
	KindPort Kind = "port"
	KindLink Kind = "link"
)

// Direction is the signal direction of a port relative to its node.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// Node is a media-graph node. ID may be recycled by the source once the node
// is removed; Serial is never reused.
type Node struct {
	ID     uint32 `json:"id"`
	Serial uint64 `json:"serial"`
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
}

// Port belongs to exactly one Node. NodeSerial is snapshotted when the port
// is created and never re-resolved.
type Port struct {
	ID         uint32    `json:"id"`
	Serial     uint64    `json:"serial"`
	NodeID     uint32    `json:"node_id"`
	NodeSerial uint64    `json:"node_serial"`
	Direction  Direction `json:"direction"`
	Name       string    `json:"name"`
	Exists     bool      `json:"exists"`
}

// Link connects an output port to an input port. The four serial fields are
// snapshotted when the link is created.
type Link struct {
	ID               uint32 `json:"id"`
	Serial           uint64 `json:"serial"`
	InputPortID      uint32 `json:"input_port_id"`
	OutputPortID     uint32 `json:"output_port_id"`
	InputNodeID      uint32 `json:"input_node_id"`
	OutputNodeID     uint32 `json:"output_node_id"`
	InputPortSerial  uint64 `json:"input_port_serial"`
	OutputPortSerial uint64 `json:"output_port_serial"`
	InputNodeSerial  uint64 `json:"input_node_serial"`
	OutputNodeSerial uint64 `json:"output_node_serial"`
	Exists           bool   `json:"exists"`
}

// record is implemented by every arena entity so the resolver can scan any
// collection with the same code.
type record interface {
	Node | Port | Link
	ref() (id uint32, exists bool)
}

func (n Node) ref() (uint32, bool) { return n.ID, n.Exists }
func (p Port) ref() (uint32, bool) { return p.ID, p.Exists }
func (l Link) ref() (uint32, bool) { return l.ID, l.Exists }
