package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/weaverhq/queue-service/internal/taskqueue"
)

var (
	pendingAgent string
	pendingType  string
	runningAgent string
)

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

// pendingCmd represents the pending command
var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending tasks",
	RunE:  runPending,
}

// runningCmd represents the running command
var runningCmd = &cobra.Command{
	Use:   "running",
	Short: "List running tasks",
	RunE:  runRunning,
}

// cancelCmd represents the cancel command
var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a non-terminal task",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(runningCmd)
	rootCmd.AddCommand(cancelCmd)

	pendingCmd.Flags().StringVar(&pendingAgent, "agent", "", "Filter by window/agent visibility")
	pendingCmd.Flags().StringVar(&pendingType, "type", "", "Filter by task type")
	runningCmd.Flags().StringVar(&runningAgent, "agent", "", "Filter by assigned window/agent")
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	queue, err := newQueue(ctx)
	if err != nil {
		return err
	}

	task, err := queue.GetTask(ctx, args[0])
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runPending(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	queue, err := newQueue(ctx)
	if err != nil {
		return err
	}

	tasks, err := queue.GetPendingTasks(ctx, pendingAgent, pendingType)
	if err != nil {
		return err
	}

	printTaskTable(tasks)
	return nil
}

func runRunning(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	queue, err := newQueue(ctx)
	if err != nil {
		return err
	}

	tasks, err := queue.GetRunningTasks(ctx, runningAgent)
	if err != nil {
		return err
	}

	printTaskTable(tasks)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	queue, err := newQueue(ctx)
	if err != nil {
		return err
	}

	if err := queue.Cancel(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Task %s cancelled\n", args[0])
	return nil
}

func printTaskTable(tasks []taskqueue.Task) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tPRIORITY\tASSIGNED\tCREATED")
	for _, task := range tasks {
		assigned := "-"
		if task.AssignedTo != nil {
			assigned = *task.AssignedTo
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			task.ID, task.TaskType, task.Status, task.Priority, assigned,
			task.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
	fmt.Printf("%d task(s)\n", len(tasks))
}
