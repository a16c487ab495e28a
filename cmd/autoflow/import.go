package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/validation"
	"github.com/rendis/autoflow/pkg/schema"
)

// bundle is the import file layout.
type bundle struct {
	Workflows []*schema.WorkflowGraph `json:"workflows"`
	Profiles  []*schema.Profile       `json:"profiles"`
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dbPath := fs.String("db-path", "", "database path (default: from settings)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: autoflow import [-db-path path] <bundle.json>")
		os.Exit(2)
	}

	cfg := loadConfig()
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	validator, err := validation.NewGraphValidator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	nwf, nprof, err := importBundle(ctx, st, validator, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Imported %d workflows and %d profiles into %s\n", nwf, nprof, cfg.DBPath)
}

// importBundle validates every workflow before writing anything.
func importBundle(ctx context.Context, st store.Store, v validation.Validator, path string) (int, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}
	var b bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return 0, 0, fmt.Errorf("parse %s: %w", path, err)
	}

	for _, wf := range b.Workflows {
		if wf == nil {
			return 0, 0, fmt.Errorf("empty workflow entry")
		}
		if err := v.ValidateGraph(wf); err != nil {
			return 0, 0, fmt.Errorf("workflow %q: %w", wf.ID, err)
		}
	}
	for _, p := range b.Profiles {
		if p == nil || p.ID == "" {
			return 0, 0, fmt.Errorf("profile without id")
		}
	}

	for _, wf := range b.Workflows {
		if err := st.PutWorkflow(ctx, wf); err != nil {
			return 0, 0, fmt.Errorf("store workflow %q: %w", wf.ID, err)
		}
	}
	for _, p := range b.Profiles {
		if err := st.PutProfile(ctx, p); err != nil {
			return 0, 0, fmt.Errorf("store profile %q: %w", p.ID, err)
		}
	}
	return len(b.Workflows), len(b.Profiles), nil
}
