package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilianp07/hems/core/decisionlog"
)

func TestDecisionsExport(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "decisions.jsonl")
	conf := `network:
  driver: fake
  nodes:
    - {id: boiler, class: switch, current_power: 0, max_power: 2000}
strategies:
  - class: nosell
decision_log:
  backend: jsonl
  path: ` + db + "\n"
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(conf), 0o600); err != nil {
		t.Fatal(err)
	}

	store, err := decisionlog.New(decisionlog.Config{Backend: "jsonl", Path: db})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	for _, r := range []decisionlog.Record{
		{Timestamp: now.Add(-48 * time.Hour), Node: "boiler", Strategy: "offpeak", Requested: true},
		{Timestamp: now.Add(-time.Hour), Node: "boiler", Strategy: "offpeak", Requested: false, Reason: "elapsed time"},
		{Timestamp: now.Add(-time.Minute), Node: "pump", Strategy: "nosell", Requested: true},
	} {
		if err := store.Append(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"decisions", "-c", path, "--node", "boiler", "-f", "json"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		decisionsOpts.node, decisionsOpts.format = "", "csv"
	})
	if err := Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	var recs []decisionlog.Record
	if err := json.Unmarshal(out.Bytes(), &recs); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if len(recs) != 1 || recs[0].Reason != "elapsed time" {
		t.Fatalf("unexpected records %+v", recs)
	}
}
