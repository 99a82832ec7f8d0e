package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/arsdragonfly/fluxduct/pkg/client"
	"github.com/arsdragonfly/fluxduct/pkg/events"
)

var (
	Version   = "v0.1.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const usage = `Usage: fluxduct [-api URL] <command> [args]

Commands:
  health                 Show synchronizer status
  graph                  Print the full graph state as JSON
  edges [-live]          Print the derived edges as JSON
  debug                  Print the debug message log
  node <id>              Describe a live node with its ports and links
  publish <type> <json>  Inject an event (http and redis transports)
  sessions               List journal sessions
  report <type> [-format csv|json] [-live] [-session id]
                         Download a nodes, ports, links, edges or events report
  version                Print build information
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid usage")

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("fluxduct", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	endpoint := fs.String("api", envOr("FLUXDUCT_API", client.DefaultEndpoint), "Base URL of the fluxductd API")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(out, usage)
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	api := client.NewClient(*endpoint)
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	switch cmd {
	case "version":
		fmt.Fprintf(out, "fluxduct %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		return nil

	case "health":
		h, err := api.Health(ctx)
		if err != nil {
			return unreachable(err)
		}
		fmt.Fprintf(out, "Status: %s\nAlive: %t\nRevision: %d\nTransport: %s\n", h.Status, h.Alive, h.Revision, h.Transport)
		return nil

	case "graph":
		st, err := api.GetGraph(ctx)
		if err != nil {
			return unreachable(err)
		}
		return printJSON(out, st)

	case "edges":
		sub := flag.NewFlagSet("edges", flag.ContinueOnError)
		sub.SetOutput(io.Discard)
		live := sub.Bool("live", false, "Only edges whose endpoints exist")
		if err := sub.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		edges, err := api.GetEdges(ctx, *live)
		if err != nil {
			return unreachable(err)
		}
		return printJSON(out, edges)

	case "debug":
		msgs, err := api.GetDebug(ctx)
		if err != nil {
			return unreachable(err)
		}
		for _, m := range msgs {
			fmt.Fprintln(out, m)
		}
		return nil

	case "node":
		if len(rest) != 1 {
			return fmt.Errorf("%w: node <id>", errUsage)
		}
		id, err := strconv.ParseUint(rest[0], 10, 32)
		if err != nil {
			return fmt.Errorf("%w: invalid node id %q", errUsage, rest[0])
		}
		detail, err := api.GetNode(ctx, uint32(id))
		if errors.Is(err, client.ErrNotFound) {
			return fmt.Errorf("node %d does not exist", id)
		}
		if err != nil {
			return unreachable(err)
		}
		return printJSON(out, detail)

	case "publish":
		if len(rest) < 1 || len(rest) > 2 {
			return fmt.Errorf("%w: publish <type> [json]", errUsage)
		}
		t := events.Type(rest[0])
		payload := json.RawMessage("{}")
		if len(rest) == 2 {
			if !json.Valid([]byte(rest[1])) {
				return fmt.Errorf("%w: payload is not valid JSON", errUsage)
			}
			payload = json.RawMessage(rest[1])
		}
		if err := api.Publish(ctx, events.Event{Type: t, Payload: payload}); err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) {
				return fmt.Errorf("server rejected event: %w", err)
			}
			return unreachable(err)
		}
		fmt.Fprintf(out, "Event accepted: %s\n", t)
		return nil

	case "report":
		if len(rest) == 0 {
			return fmt.Errorf("%w: report <type>", errUsage)
		}
		sub := flag.NewFlagSet("report", flag.ContinueOnError)
		sub.SetOutput(io.Discard)
		format := sub.String("format", "csv", "Report format: csv or json")
		live := sub.Bool("live", false, "Skip removed entities")
		session := sub.String("session", "", "Journal session for the events report")
		if err := sub.Parse(rest[1:]); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		data, err := api.Report(ctx, rest[0], *format, *live, *session)
		if errors.Is(err, client.ErrNotFound) {
			return fmt.Errorf("unknown report type %q", rest[0])
		}
		if err != nil {
			return unreachable(err)
		}
		_, err = out.Write(data)
		return err

	case "sessions":
		sessions, err := api.Sessions(ctx)
		if err != nil {
			return unreachable(err)
		}
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No journal sessions.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tLABEL\tSTARTED\tEVENTS")
		for _, s := range sessions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.ID, s.Label, s.StartedAt.Format(time.RFC3339), s.Events)
		}
		return tw.Flush()
	}

	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

// unreachable passes API errors through and annotates transport failures.
func unreachable(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return fmt.Errorf("error contacting daemon (is fluxductd running?): %w", err)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
