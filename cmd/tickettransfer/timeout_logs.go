package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/xeonx/timeago"

	"github.com/goatkit/tickettransfer/internal/runner/tasks"
)

var (
	timeoutStatsDays    int
	timeoutListLimit    int
	timeoutListExceeded bool
)

var timeoutLogsCmd = &cobra.Command{
	Use:   "timeout-logs",
	Short: "Inspect and prune slow or failed operation logs",
}

var timeoutLogsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise logged operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := rootCtx
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.timeoutLogs.Statistics(ctx, timeoutStatsDays)
		if err != nil {
			return err
		}
		printf(cmd, "Last %d days: %d operations, %d over threshold, avg %.2fs, max %.2fs\n",
			stats.Days, stats.Total, stats.Exceeded, stats.AvgDuration, stats.MaxDuration)

		models := make([]string, 0, len(stats.ByModel))
		for m := range stats.ByModel {
			models = append(models, m)
		}
		sort.Strings(models)

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"Model", "Count", "Total (s)", "Avg (s)"})
		table.SetAutoFormatHeaders(false)
		for _, m := range models {
			s := stats.ByModel[m]
			table.Append([]string{m, strconv.Itoa(s.Count), fmt.Sprintf("%.2f", s.TotalDuration), fmt.Sprintf("%.2f", s.AvgDuration)})
		}
		table.Render()
		return nil
	},
}

var timeoutLogsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := rootCtx
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		logs, err := a.timeoutLogs.ListRecent(ctx, timeoutListLimit, timeoutListExceeded)
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"ID", "Operation", "Model", "Duration", "Threshold", "Exceeded", "When", "Error"})
		table.SetAutoFormatHeaders(false)
		for _, l := range logs {
			table.Append([]string{
				strconv.FormatInt(l.ID, 10), l.Name, l.ModelName,
				fmt.Sprintf("%.2fs", l.Duration), fmt.Sprintf("%.0fs", l.Threshold),
				strconv.FormatBool(l.Exceeded), timeago.English.Format(l.CreateDate), l.ErrorMessage,
			})
		}
		table.Render()
		return nil
	},
}

var timeoutLogsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete entries older than the configured retention now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := rootCtx
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		task := tasks.NewTimeoutLogCleanupTask(a.db, log)
		if err := task.Run(ctx); err != nil {
			return err
		}
		printf(cmd, "Removed entries older than %d days\n", cfg.Runner.TimeoutLogCleanup.RetentionDays)
		return nil
	},
}

func init() {
	timeoutLogsStatsCmd.Flags().IntVar(&timeoutStatsDays, "days", 7, "Window in days")
	timeoutLogsListCmd.Flags().IntVar(&timeoutListLimit, "limit", 50, "Number of entries")
	timeoutLogsListCmd.Flags().BoolVar(&timeoutListExceeded, "exceeded", false, "Only entries over their threshold")
	timeoutLogsCmd.AddCommand(timeoutLogsStatsCmd, timeoutLogsListCmd, timeoutLogsCleanupCmd)
}
