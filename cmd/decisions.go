package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/hems/config"
	"github.com/kilianp07/hems/core/decisionlog"
	"github.com/kilianp07/hems/pkg/export"
)

var decisionsOpts struct {
	since    time.Duration
	node     string
	strategy string
	limit    int
	format   string
}

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Export the switch decisions recorded by the decision log",
	RunE:  runDecisions,
}

func init() {
	f := decisionsCmd.Flags()
	f.DurationVar(&decisionsOpts.since, "since", 24*time.Hour, "how far back to look, 0 for everything")
	f.StringVar(&decisionsOpts.node, "node", "", "only this node")
	f.StringVar(&decisionsOpts.strategy, "strategy", "", "only this strategy")
	f.IntVar(&decisionsOpts.limit, "limit", 0, "keep the most recent records only")
	f.StringVarP(&decisionsOpts.format, "format", "f", export.FormatCSV, "csv or json")
	rootCmd.AddCommand(decisionsCmd)
}

func runDecisions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	switch cfg.DecisionLog.Backend {
	case "jsonl", "sqlite":
	default:
		return fmt.Errorf("decision log backend %q is not persistent", cfg.DecisionLog.Backend)
	}
	store, err := decisionlog.New(cfg.DecisionLog)
	if err != nil {
		return err
	}
	defer store.Close()
	q := decisionlog.Query{Node: decisionsOpts.node, Strategy: decisionsOpts.strategy, Limit: decisionsOpts.limit}
	if decisionsOpts.since > 0 {
		q.Start = time.Now().Add(-decisionsOpts.since)
	}
	recs, err := store.Query(cmd.Context(), q)
	if err != nil {
		return err
	}
	return export.Write(cmd.OutOrStdout(), decisionsOpts.format, recs)
}
