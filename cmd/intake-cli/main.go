package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	intake "github.com/goliatone/go-intake"
	"github.com/goliatone/go-intake/pkg/engine"
	"github.com/goliatone/go-intake/pkg/generation"
)

func main() {
	flows := flag.String("flows", "flows", "directory of flow definition files")
	flowID := flag.String("flow", "", "flow id to run (defaults to the only loaded flow)")
	backend := flag.String("backend", "", "content service base URL")
	authToken := flag.String("auth-token", "", "bearer token for the content service")
	output := flag.String("output", "", "output file (stdout if empty)")
	verbose := flag.Bool("verbose", false, "log session events to stderr")
	flag.Parse()

	registry, err := intake.LoadDefinitions(os.DirFS(*flows))
	if err != nil {
		log.Fatalf("Failed to load flows: %v", err)
	}
	def, err := pickFlow(registry, *flowID)
	if err != nil {
		log.Fatal(err)
	}

	var options []intake.Option
	if *backend != "" {
		client, err := intake.NewHTTPClient(*backend, clientOptions(*authToken)...)
		if err != nil {
			log.Fatalf("Invalid backend: %v", err)
		}
		options = append(options,
			intake.WithGenerator(client),
			intake.WithEnricher(client),
			intake.WithSubmitter(client),
		)
	}
	if *verbose {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		options = append(options, intake.WithObserver(engine.NewLoggingObserver(logger)))
	}

	session, err := intake.NewSession(def, options...)
	if err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}

	doc, err := intake.NewRunner(session).Run(context.Background())
	if err != nil {
		log.Fatalf("Flow failed: %v", err)
	}

	if *output != "" {
		if err := os.WriteFile(*output, doc.Data, 0o644); err != nil {
			log.Fatalf("Failed to write output: %v", err)
		}
		fmt.Printf("Document written to %s\n", *output)
		return
	}
	os.Stdout.Write(doc.Data)
}

func pickFlow(registry *intake.Registry, id string) (*intake.Definition, error) {
	if id != "" {
		def, ok := registry.Definition(id)
		if !ok {
			return nil, fmt.Errorf("flow %q not found; have: %s", id, strings.Join(registry.IDs(), ", "))
		}
		return def, nil
	}
	ids := registry.IDs()
	if len(ids) != 1 {
		return nil, fmt.Errorf("pass -flow to choose one of: %s", strings.Join(ids, ", "))
	}
	def, _ := registry.Definition(ids[0])
	return def, nil
}

func clientOptions(token string) []generation.HTTPOption {
	if token == "" {
		return nil
	}
	return []generation.HTTPOption{generation.WithAuthToken(token)}
}
