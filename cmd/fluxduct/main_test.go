package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arsdragonfly/fluxduct/pkg/events"
)

func fakeDaemon(t *testing.T) (*httptest.Server, *[]events.Event) {
	t.Helper()
	var published []events.Event

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"ok","alive":true,"revision":7,"transport":"http"}`)
	})
	mux.HandleFunc("GET /v1/nodes/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "1" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"node_not_found"}`)
			return
		}
		io.WriteString(w, `{"node":{"id":1,"serial":101,"name":"mic","exists":true},"ports":[],"links":[]}`)
	})
	mux.HandleFunc("GET /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id":"s-1","label":"redis","started_at":"2026-01-02T03:04:05Z","events":12}]`)
	})
	mux.HandleFunc("GET /v1/reports/{type}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("type") != "nodes" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"unknown_report"}`)
			return
		}
		io.WriteString(w, "id,serial,name,exists\n1,101,mic,"+r.URL.Query().Get("live")+"\n")
	})
	mux.HandleFunc("POST /v1/events", func(w http.ResponseWriter, r *http.Request) {
		var evt events.Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !events.IsInbound(evt.Type) {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"unknown_event_type","message":"not an inbound type"}`)
			return
		}
		published = append(published, evt)
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `{"type":"`+string(evt.Type)+`","accepted":true}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &published
}

func TestRun(t *testing.T) {
	srv, published := fakeDaemon(t)

	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr error
	}{
		{name: "Health", args: []string{"health"}, want: []string{"Status: ok", "Revision: 7", "Transport: http"}},
		{name: "Node", args: []string{"node", "1"}, want: []string{`"name": "mic"`}},
		{name: "NodeMissing", args: []string{"node", "9"}, wantErr: errors.New("node 9 does not exist")},
		{name: "NodeBadID", args: []string{"node", "abc"}, wantErr: errUsage},
		{name: "Sessions", args: []string{"sessions"}, want: []string{"s-1", "redis", "2026-01-02T03:04:05Z", "12"}},
		{name: "Publish", args: []string{"publish", "add_node", `{"id":1,"serial":101,"name":"mic"}`}, want: []string{"Event accepted: add_node"}},
		{name: "PublishBadJSON", args: []string{"publish", "add_node", `{`}, wantErr: errUsage},
		{name: "PublishRejected", args: []string{"publish", "frontend_ready"}, wantErr: errors.New("server rejected event")},
		{name: "Report", args: []string{"report", "nodes", "-live"}, want: []string{"1,101,mic,true"}},
		{name: "ReportUnknown", args: []string{"report", "usage"}, wantErr: errors.New(`unknown report type "usage"`)},
		{name: "UnknownCommand", args: []string{"frobnicate"}, wantErr: errUsage},
		{name: "MissingCommand", args: nil, wantErr: errUsage},
		{name: "Version", args: []string{"version"}, want: []string{"fluxduct v"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			args := append([]string{"-api", srv.URL, "-timeout", "2s"}, tt.args...)
			err := run(context.Background(), args, &out)

			if tt.wantErr != nil {
				if err == nil {
					t.Fatalf("expected error %v, got output %q", tt.wantErr, out.String())
				}
				if !errors.Is(err, tt.wantErr) && !strings.Contains(err.Error(), tt.wantErr.Error()) {
					t.Fatalf("expected error %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("expected %q in output:\n%s", w, out.String())
				}
			}
		})
	}

	if len(*published) != 1 || (*published)[0].Type != events.TypeAddNode {
		t.Errorf("expected one add_node to reach the daemon, got %+v", *published)
	}
}

func TestRun_DaemonDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := run(ctx, []string{"-api", url, "health"}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "is fluxductd running?") {
		t.Errorf("expected unreachable hint, got %v", err)
	}
}
