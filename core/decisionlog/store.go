// Package decisionlog records every switch decision taken by the control
// loop so it can be audited later.
package decisionlog

import (
	"context"
	"fmt"
	"time"
)

// Record captures one switch decision and its outcome.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	CycleID   string    `json:"cycle_id"`
	Cycle     uint64    `json:"cycle"`
	Node      string    `json:"node"`
	Strategy  string    `json:"strategy"`
	Requested bool      `json:"requested"`
	Actual    bool      `json:"actual"`
	Power     float64   `json:"power,omitempty"`
	Margin    float64   `json:"margin"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error,omitempty"`
}

// Query defines filters for retrieving records. Zero values match all.
type Query struct {
	Start    time.Time
	End      time.Time
	Node     string
	Strategy string
	// Limit keeps the most recent records only.
	Limit int
}

func (q Query) match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Node != "" && r.Node != q.Node {
		return false
	}
	if q.Strategy != "" && r.Strategy != q.Strategy {
		return false
	}
	return true
}

func (q Query) limit(res []Record) []Record {
	if q.Limit > 0 && len(res) > q.Limit {
		return res[len(res)-q.Limit:]
	}
	return res
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Config selects and configures the store.
type Config struct {
	// Backend is one of memory, jsonl, sqlite or none.
	Backend    string `json:"backend"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	// Capacity bounds the memory backend.
	Capacity int `json:"capacity"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 5
	}
	if c.MaxAgeDays == 0 {
		c.MaxAgeDays = 30
	}
	if c.Capacity == 0 {
		c.Capacity = 1000
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Backend {
	case "memory", "none":
		return nil
	case "jsonl", "sqlite":
		if c.Path == "" {
			return fmt.Errorf("decision_log: path required for %s backend", c.Backend)
		}
		return nil
	}
	return fmt.Errorf("decision_log: unknown backend %q", c.Backend)
}

// New opens the store described by cfg.
func New(cfg Config) (Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case "jsonl":
		return NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "none":
		return NopStore{}, nil
	}
	return NewMemoryStore(cfg.Capacity), nil
}

// NopStore drops every record.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error          { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }
