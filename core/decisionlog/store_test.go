package decisionlog

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sample(ts time.Time, node string) Record {
	return Record{Timestamp: ts, Node: node, Strategy: "offpeak", Requested: true, Actual: true, Reason: "offpeak range"}
}

func TestRecord_JSON(t *testing.T) {
	data, err := json.Marshal(sample(time.Unix(0, 0), "boiler"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"timestamp", "cycle_id", "node", "strategy", "requested", "actual", "margin", "reason"} {
		if _, ok := m[k]; !ok {
			t.Errorf("missing key %s", k)
		}
	}
	if _, ok := m["error"]; ok {
		t.Errorf("empty error should be omitted")
	}
}

func TestMemoryStore_RingAndQuery(t *testing.T) {
	s := NewMemoryStore(3)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, n := range []string{"a", "b", "a", "c"} {
		_ = s.Append(context.Background(), sample(base.Add(time.Duration(i)*time.Minute), n))
	}
	all, _ := s.Query(context.Background(), Query{})
	if len(all) != 3 || all[0].Node != "b" || all[2].Node != "c" {
		t.Fatalf("unexpected ring content: %+v", all)
	}
	onlyA, _ := s.Query(context.Background(), Query{Node: "a"})
	if len(onlyA) != 1 {
		t.Fatalf("expected 1 record for a, got %d", len(onlyA))
	}
	last, _ := s.Query(context.Background(), Query{Limit: 1})
	if len(last) != 1 || last[0].Node != "c" {
		t.Fatalf("limit should keep the latest record: %+v", last)
	}
	window, _ := s.Query(context.Background(), Query{Start: base.Add(2 * time.Minute)})
	if len(window) != 2 {
		t.Fatalf("expected 2 records in window, got %d", len(window))
	}
}

func TestRotatingJSONLStore_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	store, err := NewRotatingJSONLStore(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	rec := sample(time.Now(), "boiler")
	rec.Reason = strings.Repeat("x", 4096)
	for i := 0; i < 300; i++ {
		if err := store.Append(context.Background(), rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	files, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "decisions*.jsonl"))
	if len(files) < 2 {
		t.Fatalf("expected rotated files, got %v", files)
	}
}

func TestRotatingJSONLStore_Query(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	store, err := NewRotatingJSONLStore(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	now := time.Now()
	_ = store.Append(context.Background(), sample(now, "boiler"))
	_ = store.Append(context.Background(), sample(now, "pool"))
	out, err := store.Query(context.Background(), Query{Node: "pool"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 || out[0].Node != "pool" {
		t.Fatalf("expected the pool record, got %+v", out)
	}
}

func TestSQLiteStore_PersistQuery(t *testing.T) {
	store, err := NewSQLiteStore("file:decisions.db?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	now := time.Now()
	for _, n := range []string{"boiler", "pool", "boiler"} {
		if err := store.Append(context.Background(), sample(now, n)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	out, err := store.Query(context.Background(), Query{Node: "boiler", Strategy: "offpeak"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
}

func TestNew_Backends(t *testing.T) {
	if _, err := New(Config{Backend: "jsonl"}); err == nil {
		t.Fatalf("jsonl without path should fail")
	}
	if _, err := New(Config{Backend: "cassandra"}); err == nil {
		t.Fatalf("unknown backend should fail")
	}
	s, err := New(Config{})
	if err != nil {
		t.Fatalf("default backend: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("default backend should be memory, got %T", s)
	}
}
