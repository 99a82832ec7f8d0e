package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/arsdragonfly/fluxduct/pkg/client"
	"github.com/arsdragonfly/fluxduct/pkg/mcp"
)

func main() {
	apiURL := flag.String("api", envOrDefault("FLUXDUCT_API", client.DefaultEndpoint), "Base URL of the fluxductd API")
	flag.Parse()

	// stdout carries the protocol; diagnostics go to stderr.
	if err := mcp.NewServer(*apiURL).Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "fluxduct-mcp: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
