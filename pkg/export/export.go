// Package export writes decision records for offline analysis.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/hems/core/decisionlog"
)

// Formats accepted by Write.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Write dispatches to WriteJSON or WriteCSV.
func Write(w io.Writer, format string, records []decisionlog.Record) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, records)
	case FormatCSV:
		return WriteCSV(w, records)
	}
	return fmt.Errorf("export: unknown format %q", format)
}

// WriteJSON writes the records to w as a JSON array.
func WriteJSON(w io.Writer, records []decisionlog.Record) error {
	if records == nil {
		records = []decisionlog.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

var csvHeader = []string{"timestamp", "cycle", "node", "strategy", "requested", "actual", "power_w", "margin_w", "reason", "error"}

// WriteCSV writes the records to w with a header line.
func WriteCSV(w io.Writer, records []decisionlog.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		rec := []string{
			r.Timestamp.Format(time.RFC3339),
			strconv.FormatUint(r.Cycle, 10),
			r.Node,
			r.Strategy,
			strconv.FormatBool(r.Requested),
			strconv.FormatBool(r.Actual),
			strconv.FormatFloat(r.Power, 'f', -1, 64),
			strconv.FormatFloat(r.Margin, 'f', -1, 64),
			r.Reason,
			r.Error,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
