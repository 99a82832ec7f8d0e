package reports

import (
	"context"
	"io"
	"strconv"

	"github.com/arsdragonfly/fluxduct/pkg/graph"
)

// GraphReport tabulates one collection of the graph state.
type GraphReport struct {
	kind  ReportType
	state StateFunc
}

func NewGraphReport(kind ReportType, state StateFunc) *GraphReport {
	return &GraphReport{kind: kind, state: state}
}

func (r *GraphReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	st := r.state()
	var t table

	switch r.kind {
	case ReportTypeNodes:
		t.columns = []string{"id", "serial", "name", "exists"}
		for _, n := range st.Nodes {
			if params.LiveOnly && !n.Exists {
				continue
			}
			t.add(u32(n.ID), u64(n.Serial), n.Name, strconv.FormatBool(n.Exists))
		}

	case ReportTypePorts:
		t.columns = []string{"id", "serial", "node_id", "node_serial", "direction", "name", "exists"}
		for _, p := range st.Ports {
			if params.LiveOnly && !p.Exists {
				continue
			}
			t.add(u32(p.ID), u64(p.Serial), u32(p.NodeID), u64(p.NodeSerial), string(p.Direction), p.Name, strconv.FormatBool(p.Exists))
		}

	case ReportTypeLinks:
		t.columns = []string{"id", "serial", "output_port_serial", "input_port_serial", "output_node_serial", "input_node_serial", "exists"}
		for _, l := range st.Links {
			if params.LiveOnly && !l.Exists {
				continue
			}
			t.add(u32(l.ID), u64(l.Serial), u64(l.OutputPortSerial), u64(l.InputPortSerial), u64(l.OutputNodeSerial), u64(l.InputNodeSerial), strconv.FormatBool(l.Exists))
		}

	case ReportTypeEdges:
		t.columns = []string{"kind", "source", "target", "exists"}
		edges := func(kind string, list []graph.Edge) {
			for _, e := range list {
				if params.LiveOnly && !e.Exists {
					continue
				}
				t.add(kind, u64(e.Source), u64(e.Target), strconv.FormatBool(e.Exists))
			}
		}
		edges("port", st.PortEdges)
		edges("link", st.LinkEdges)
	}

	return t.render(params.Format)
}

func u32(v uint32) string { return strconv.FormatUint(uint64(v), 10) }
func u64(v uint64) string { return strconv.FormatUint(v, 10) }
