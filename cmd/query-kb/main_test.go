package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"factaudit/internal/store"
)

func TestQueryDBOutput(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "kb.db")
	ctx := context.Background()
	opts := store.DefaultOptions()
	opts.Create = true
	kb, err := store.Open(ctx, dbPath, opts)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := kb.Insert(ctx, fmt.Sprintf("IsA(animal%d, organism).", i)); err != nil {
			t.Fatalf("failed to insert: %v", err)
		}
	}
	if _, err := kb.Insert(ctx, "PartOf(nucleus, cell)."); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	if err := kb.Close(); err != nil {
		t.Fatalf("failed to close db: %v", err)
	}

	output := captureStdout(func() {
		queryDB(dbPath, "IsA", 2)
	})

	if !strings.Contains(output, "Tables: [facts") {
		t.Fatalf("expected tables output, got: %s", output)
	}
	if !strings.Contains(output, "Total facts: 4") {
		t.Fatalf("expected fact count, got: %s", output)
	}
	if !strings.Contains(output, "Predicates: 2") {
		t.Fatalf("expected predicate count, got: %s", output)
	}
	if strings.Count(output, "IsA(animal") != 2 {
		t.Fatalf("expected two IsA samples, got: %s", output)
	}
}

func TestQueryDBNotAFactBase(t *testing.T) {
	output := captureStdout(func() {
		queryDB(filepath.Join(t.TempDir(), "empty.db"), "", 5)
	})
	if !strings.Contains(output, "Not a fact base") {
		t.Fatalf("expected fact base error, got: %s", output)
	}
}

func captureStdout(fn func()) string {
	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	fn()

	_ = w.Close()
	os.Stdout = orig

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}
