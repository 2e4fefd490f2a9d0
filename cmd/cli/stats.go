package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var cleanupDays int

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE:  runStats,
}

// cleanupCmd represents the cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old terminal tasks",
	Long: `Delete completed and failed tasks whose completion is older than the
retention window. Pending and running tasks are never touched.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 7, "Retention window in days")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	queue, err := newQueue(ctx)
	if err != nil {
		return err
	}

	stats, err := queue.GetStats(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tCOUNT")
	for status, count := range stats.StatusCounts {
		fmt.Fprintf(w, "%s\t%d\n", status, count)
	}
	w.Flush()

	if len(stats.TypeCounts) > 0 {
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PENDING TYPE\tCOUNT")
		for taskType, count := range stats.TypeCounts {
			fmt.Fprintf(w, "%s\t%d\n", taskType, count)
		}
		w.Flush()
	}

	fmt.Printf("\nAverage pending wait: %.1fs\n", stats.AvgWaitSeconds)
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	queue, err := newQueue(ctx)
	if err != nil {
		return err
	}

	deleted, err := queue.CleanupOldTasks(ctx, cleanupDays)
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %d task(s) older than %d day(s)\n", deleted, cleanupDays)
	return nil
}
