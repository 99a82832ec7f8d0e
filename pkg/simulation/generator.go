package simulation

import (
	"fmt"
	"math/rand"

	"github.com/arsdragonfly/fluxduct/pkg/events"
)

const (
	firstObjectID = 30
	firstSerial   = 100

	// Never handed out by the allocator, so references to it always dangle.
	danglingIDBase = 1_000_000
)

type genPort struct {
	id     uint32
	nodeID uint32
	dir    string
}

type genLink struct {
	id      uint32
	inPort  uint32
	outPort uint32
}

// generator keeps a model of the live topology so removals and links only
// reference objects that exist, the way a media server reports them.
type generator struct {
	rng    *rand.Rand
	out    []events.Event
	free   []uint32
	nextID uint32
	serial uint64

	nodes map[uint32][]uint32 // node id -> port ids
	ports map[uint32]genPort
	links map[uint32]genLink
	order []uint32 // live ids in creation order, for deterministic picks
}

// Generate expands cfg into an event sequence. Object ids come from one
// namespace and are reused after removal; serials are never reused.
func Generate(cfg ChurnConfig, seed int64) []events.Event {
	g := &generator{
		rng:    rand.New(rand.NewSource(seed)),
		nextID: firstObjectID,
		serial: firstSerial,
		nodes:  make(map[uint32][]uint32),
		ports:  make(map[uint32]genPort),
		links:  make(map[uint32]genLink),
	}
	g.emit(events.TypeDebugMessage, events.MessagePayload{Message: fmt.Sprintf("churn seed %d", seed)})

	for i := 0; i < cfg.Nodes; i++ {
		id := g.addNode(fmt.Sprintf("node-%d", i))
		if g.chance(cfg.DuplicateRate) {
			g.emit(events.TypeAddNode, events.NodePayload{ID: id, Serial: g.nextSerial(), Name: "duplicate"})
		}
		for p := 0; p < cfg.PortsPerNode; p++ {
			dir := "out"
			if p%2 == 0 {
				dir = "in"
			}
			g.addPort(id, dir, fmt.Sprintf("port-%d-%d", i, p))
		}
	}

	for i := 0; i < cfg.Links; i++ {
		g.addLink(cfg.DanglingRate, i)
	}

	for i := 0; i < cfg.Removals && len(g.order) > 0; i++ {
		g.remove(g.order[g.rng.Intn(len(g.order))])
	}

	// Respawned nodes pick up ids freed by the removals above.
	for i := 0; i < cfg.Respawn; i++ {
		g.addNode(fmt.Sprintf("respawn-%d", i))
	}

	return g.out
}

func (g *generator) chance(rate float64) bool {
	return rate > 0 && g.rng.Float64() < rate
}

func (g *generator) emit(t events.Type, payload any) {
	g.out = append(g.out, events.MustNew(t, payload))
}

func (g *generator) nextSerial() uint64 {
	g.serial++
	return g.serial
}

func (g *generator) allocID() uint32 {
	if n := len(g.free); n > 0 {
		id := g.free[n-1]
		g.free = g.free[:n-1]
		return id
	}
	id := g.nextID
	g.nextID++
	return id
}

func (g *generator) addNode(name string) uint32 {
	id := g.allocID()
	g.nodes[id] = nil
	g.order = append(g.order, id)
	g.emit(events.TypeAddNode, events.NodePayload{ID: id, Serial: g.nextSerial(), Name: name})
	return id
}

func (g *generator) addPort(nodeID uint32, dir, name string) {
	id := g.allocID()
	g.ports[id] = genPort{id: id, nodeID: nodeID, dir: dir}
	g.nodes[nodeID] = append(g.nodes[nodeID], id)
	g.order = append(g.order, id)
	g.emit(events.TypeAddPort, events.PortPayload{ID: id, Serial: g.nextSerial(), NodeID: nodeID, Direction: dir, Name: name})
}

func (g *generator) addLink(danglingRate float64, n int) {
	var outs, ins []genPort
	for _, id := range g.order {
		p, ok := g.ports[id]
		if !ok {
			continue
		}
		if p.dir == "out" {
			outs = append(outs, p)
		} else {
			ins = append(ins, p)
		}
	}
	if len(outs) == 0 || len(ins) == 0 {
		return
	}
	out := outs[g.rng.Intn(len(outs))]
	in := ins[g.rng.Intn(len(ins))]

	payload := events.LinkPayload{
		Serial:       g.nextSerial(),
		InputPortID:  in.id,
		OutputPortID: out.id,
		InputNodeID:  in.nodeID,
		OutputNodeID: out.nodeID,
	}
	if g.chance(danglingRate) {
		// The link is rejected, so no id is consumed.
		payload.ID = danglingIDBase + uint32(n)
		payload.InputNodeID = danglingIDBase + uint32(n)
		g.emit(events.TypeAddLink, payload)
		return
	}

	payload.ID = g.allocID()
	g.links[payload.ID] = genLink{id: payload.ID, inPort: in.id, outPort: out.id}
	g.order = append(g.order, payload.ID)
	g.emit(events.TypeAddLink, payload)
}

// remove takes id out of the topology. Removing a node first removes its
// links and ports, as the server announces them.
func (g *generator) remove(id uint32) {
	if ports, ok := g.nodes[id]; ok {
		for _, pid := range ports {
			g.remove(pid)
		}
		delete(g.nodes, id)
	} else if p, ok := g.ports[id]; ok {
		for _, lid := range append([]uint32(nil), g.order...) {
			if l, ok := g.links[lid]; ok && (l.inPort == id || l.outPort == id) {
				g.remove(lid)
			}
		}
		delete(g.ports, id)
		siblings := g.nodes[p.nodeID]
		for i, pid := range siblings {
			if pid == id {
				g.nodes[p.nodeID] = append(siblings[:i:i], siblings[i+1:]...)
				break
			}
		}
	} else if _, ok := g.links[id]; ok {
		delete(g.links, id)
	} else {
		return
	}

	for i, live := range g.order {
		if live == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	g.free = append(g.free, id)
	g.emit(events.TypeRemoveID, events.IDPayload{ID: id})
}
