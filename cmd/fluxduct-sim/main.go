package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/arsdragonfly/fluxduct/pkg/client"
	"github.com/arsdragonfly/fluxduct/pkg/graph"
	"github.com/arsdragonfly/fluxduct/pkg/simulation"
	redistransport "github.com/arsdragonfly/fluxduct/pkg/transport/redis"
)

func main() {
	var (
		scenarioFile string
		apiURL       string
		redisAddr    string
		redisEvents  string
		redisControl string
		settle       time.Duration
		jsonOutput   bool
		outputFile   string
	)

	flag.StringVar(&scenarioFile, "scenario", "", "Path to scenario YAML or JSON file")
	flag.StringVar(&apiURL, "api", client.DefaultEndpoint, "Base URL of the fluxductd API")
	flag.StringVar(&redisAddr, "redis", "", "Publish over Redis at this address instead of the HTTP API")
	flag.StringVar(&redisEvents, "redis-events", redistransport.DefaultEventsChannel, "Redis events channel")
	flag.StringVar(&redisControl, "redis-control", redistransport.DefaultControlChannel, "Redis control channel")
	flag.DurationVar(&settle, "settle", 2*time.Second, "How long to wait for invariants to hold")
	flag.BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	flag.StringVar(&outputFile, "out", "", "Write output to file instead of stdout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var scenario simulation.Scenario
	if scenarioFile != "" {
		var err error
		scenario, err = simulation.LoadScenario(scenarioFile)
		if err != nil {
			log.Fatalf("Failed to load scenario: %v", err)
		}
	} else {
		fmt.Fprintln(os.Stderr, "No scenario file provided, running default churn scenario...")
		scenario = simulation.Scenario{
			Name:        "Default Churn",
			Description: "Build a small graph, remove part of it and respawn nodes into freed ids",
			Churn: &simulation.ChurnConfig{
				Nodes:         6,
				PortsPerNode:  2,
				Links:         4,
				Removals:      3,
				Respawn:       2,
				DuplicateRate: 0.2,
			},
			Invariants: []simulation.Invariant{
				{Metric: "link_edges", Condition: ">=", Value: 1},
				{Metric: "debug_messages", Condition: ">=", Value: 1},
			},
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.NewClient(apiURL)
	runner := &simulation.Runner{
		Publisher: api,
		State: func(ctx context.Context) (graph.State, error) {
			return api.GetGraph(ctx)
		},
		Settle: settle,
		Logger: logger,
	}

	if redisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: redisAddr})
		defer rdb.Close()
		pub := redistransport.NewPublisher(rdb, redisEvents, redisControl)
		// frontend_ready is emitted once, so only wait for it when the
		// daemon is not already running.
		if h, err := api.Health(ctx); err != nil || !h.Alive {
			if err := waitForReady(ctx, pub, logger); err != nil {
				log.Fatalf("Synchronizer never became ready: %v", err)
			}
		}
		runner.Publisher = pub
	}

	result, err := runner.Run(ctx, scenario)
	if err != nil {
		log.Fatalf("Simulation failed: %v", err)
	}

	writeReport(result, jsonOutput, outputFile)

	if !result.Success {
		os.Exit(1)
	}
}

// waitForReady blocks until the synchronizer announces frontend_ready on the
// control channel, so no event is published before it subscribes.
func waitForReady(ctx context.Context, pub *redistransport.Publisher, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ready, err := pub.AwaitReady(ctx)
	if err != nil {
		return err
	}
	logger.Info("waiting_for_frontend_ready")
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeReport(res simulation.Result, jsonFmt bool, filePath string) {
	var output []byte
	var err error

	if jsonFmt {
		output, err = json.MarshalIndent(res, "", "  ")
	} else {
		var buf bytes.Buffer
		fmt.Fprintf(&buf, "\n--- Simulation Report: %s ---\n", res.ScenarioName)
		fmt.Fprintf(&buf, "Duration: %s\n", res.Duration)
		fmt.Fprintf(&buf, "Published: %d | Errors: %d\n", res.Published, res.Errors)

		types := make([]string, 0, len(res.ByType))
		for t := range res.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(&buf, "  %-14s %d\n", t, res.ByType[t])
		}

		if len(res.Invariants) > 0 {
			buf.WriteString("\nInvariants:\n")
			for _, inv := range res.Invariants {
				status := "FAIL"
				if inv.Passed {
					status = "PASS"
				}
				fmt.Fprintf(&buf, "[%s] %s: Expected %s, Got %s\n", status, inv.Metric, inv.Expected, inv.Actual)
			}
		}
		output = buf.Bytes()
	}

	if err != nil {
		log.Fatalf("Failed to marshal report: %v", err)
	}

	if filePath != "" {
		if err := os.WriteFile(filePath, output, 0644); err != nil {
			log.Fatalf("Failed to write report to %s: %v", filePath, err)
		}
		fmt.Printf("Report written to %s\n", filePath)
	} else {
		fmt.Println(string(output))
	}
}
