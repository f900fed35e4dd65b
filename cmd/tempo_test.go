package cmd

import (
	"testing"
	"time"
)

func TestParseDay(t *testing.T) {
	now := time.Date(2025, 3, 1, 15, 4, 0, 0, time.UTC)
	cases := map[string]string{
		"":           "2025-03-01",
		"today":      "2025-03-01",
		"Tomorrow":   "2025-03-02",
		"2024-12-25": "2024-12-25",
	}
	for in, want := range cases {
		got, err := parseDay(in, now)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got.Format("2006-01-02") != want {
			t.Errorf("%q = %s, want %s", in, got.Format("2006-01-02"), want)
		}
	}
	if _, err := parseDay("someday", now); err == nil {
		t.Fatalf("expected error")
	}
}
