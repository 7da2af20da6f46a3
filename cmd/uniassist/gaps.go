package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

// gapsCmd reports topics students keep asking about that the knowledge
// base cannot answer.
var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "Detect and list knowledge gaps from recent search logs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		gaps, err := a.detector.Detect(ctx)
		if err != nil {
			return err
		}
		if len(gaps) == 0 {
			fmt.Println("no knowledge gaps detected")
			return nil
		}
		for _, g := range gaps {
			fmt.Printf("%-30s  queries=%-3d  avg_score=%.2f  priority=%.2f\n",
				g.Topic, g.QueryCount, g.AvgScore, g.Priority)
			if len(g.SampleQueries) > 0 {
				fmt.Printf("    e.g. %s\n", strings.Join(g.SampleQueries, " | "))
			}
		}
		return nil
	},
}
