package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/hems/app"
	"github.com/kilianp07/hems/config"
)

var checkOnline bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and build the home without running it",
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkOnline, "online", false, "connect to the configured network driver")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if !checkOnline {
		cfg.Network.Driver = config.DriverFake
		cfg.API.Enabled = false
		cfg.Tempo.Mode, cfg.Tempo.Static = "static", "bleu"
		cfg.Metrics.Sinks = nil
	}
	svc, err := app.New(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	out := cmd.OutOrStdout()
	for _, n := range svc.Network.Nodes() {
		fmt.Fprintf(out, "node %-20s %T\n", n.ID(), n)
	}
	for _, w := range svc.Warnings {
		fmt.Fprintf(out, "warning: %v\n", w)
	}
	if len(svc.Warnings) > 0 {
		return fmt.Errorf("%d node(s) could not be loaded", len(svc.Warnings))
	}
	fmt.Fprintln(out, "configuration OK")
	return nil
}
