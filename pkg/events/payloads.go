package events

// requirer is implemented by payloads whose keys must all be present.
type requirer interface {
	required() []string
}

// MessagePayload is the body of debug_message.
type MessagePayload struct {
	Message string `json:"message"`
}

// NodePayload is the body of add_node.
type NodePayload struct {
	ID     uint32 `json:"id"`
	Serial uint64 `json:"serial"`
	Name   string `json:"name"`
}

// PortPayload is the body of add_port.
type PortPayload struct {
	ID        uint32 `json:"id"`
	Serial    uint64 `json:"serial"`
	NodeID    uint32 `json:"node_id"`
	Direction string `json:"direction"`
	Name      string `json:"name"`
}

// LinkPayload is the body of add_link.
type LinkPayload struct {
	ID           uint32 `json:"id"`
	Serial       uint64 `json:"serial"`
	InputPortID  uint32 `json:"input_port_id"`
	OutputPortID uint32 `json:"output_port_id"`
	InputNodeID  uint32 `json:"input_node_id"`
	OutputNodeID uint32 `json:"output_node_id"`
}

// IDPayload is the body of remove_id.
type IDPayload struct {
	ID uint32 `json:"id"`
}

func (*MessagePayload) required() []string { return []string{"message"} }

func (*NodePayload) required() []string { return []string{"id", "serial"} }

func (*PortPayload) required() []string {
	return []string{"id", "serial", "node_id", "direction"}
}

func (*LinkPayload) required() []string {
	return []string{"id", "serial", "input_port_id", "output_port_id", "input_node_id", "output_node_id"}
}

func (*IDPayload) required() []string { return []string{"id"} }
