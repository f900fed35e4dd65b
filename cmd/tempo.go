package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/hems/config"
	"github.com/kilianp07/hems/rte"
)

var tempoCmd = &cobra.Command{
	Use:   "tempo [today|tomorrow|YYYY-MM-DD]",
	Short: "Print the Tempo colour of a day",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTempo,
}

var tempoServe bool

func init() {
	tempoCmd.Flags().BoolVar(&tempoServe, "serve", false, "run the local Tempo colour server from tempo.mock instead")
	rootCmd.AddCommand(tempoCmd)
}

func parseDay(arg string, now time.Time) (time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch strings.ToLower(arg) {
	case "", "today":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	}
	return time.ParseInLocation("2006-01-02", arg, now.Location())
}

func runTempo(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if tempoServe {
		return serveTempoMock(cfg.Tempo.Mock)
	}
	if cfg.Tempo.Mode == "" {
		cfg.Tempo.Mode = "public"
	}
	p, err := rte.NewProvider(cfg.Tempo)
	if err != nil {
		return err
	}
	arg := ""
	if len(args) == 1 {
		arg = args[0]
	}
	day, err := parseDay(arg, time.Now())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Tempo.TimeoutSeconds)*time.Second)
	defer cancel()
	c, err := p.Color(ctx, day)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", day.Format("2006-01-02"), c)
	return nil
}

func serveTempoMock(mc config.RTEMockConfig) error {
	if mc.Address == "" {
		mc.Address = "127.0.0.1:8091"
	}
	if mc.Seed == 0 {
		mc.Seed = 1
	}
	srv, err := rte.NewServerMock(mc)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Start(ctx)
}
