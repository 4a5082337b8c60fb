package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCollectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Runs a single collection cycle and exits",
		Long: `Validates every collector, runs one collection cycle, persists the events
to the configured store and prints a summary. With --json the collected events
are written to stdout instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.GetLogger()
			manager := appInstance.GetManager()

			if !manager.InitializeAll(cmd.Context()) {
				logger.Warn("some collectors failed readiness checks", zap.Any("readiness", manager.Readiness()))
			}
			res, err := manager.RunCycle(cmd.Context())
			if err != nil {
				return fmt.Errorf("collection cycle: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res.Events); err != nil {
					return fmt.Errorf("encode events: %w", err)
				}
				return nil
			}
			byType := make(map[string]int)
			for _, ev := range res.Events {
				byType[string(ev.EventType)]++
			}
			fmt.Fprintf(out, "collected %d events (%d new) in %s\n", len(res.Events), res.Inserted, res.Duration.Round(time.Millisecond))
			for _, ev := range res.Events {
				fmt.Fprintf(out, "  [%s] %s\n", ev.EventType, ev.Title)
			}
			logger.Info("collection finished", zap.Int("events", len(res.Events)), zap.Any("by_type", byType))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print collected events as JSON")
	return cmd
}
