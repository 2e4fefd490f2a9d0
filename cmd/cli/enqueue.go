package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weaverhq/queue-service/internal/taskqueue"
)

var (
	enqueueType     string
	enqueueData     string
	enqueueAssign   string
	enqueuePriority int
)

// enqueueCmd represents the enqueue command
var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Add a task to the queue",
	Long: `Insert a new pending task. The data payload is stored opaquely; the queue
never interprets it. An assigned window sees the task preferentially, but any
window may still claim an unassigned task.`,
	Example: `  queue-service enqueue --type consensus --data '{"prompt": "compare models"}'
  queue-service enqueue --type chat --data '{}' --assign window-1 --priority 8`,
	RunE: runEnqueue,
}

func init() {
	rootCmd.AddCommand(enqueueCmd)

	enqueueCmd.Flags().StringVar(&enqueueType, "type", "", "Task type (e.g. chat, debug, consensus)")
	enqueueCmd.Flags().StringVar(&enqueueData, "data", "{}", "Task payload as a JSON document")
	enqueueCmd.Flags().StringVar(&enqueueAssign, "assign", "", "Window/agent ID to route the task to")
	enqueueCmd.Flags().IntVar(&enqueuePriority, "priority", taskqueue.DefaultPriority, "Priority 1-10, higher is more urgent")
	enqueueCmd.MarkFlagRequired("type")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	queue, err := newQueue(ctx)
	if err != nil {
		return err
	}

	var data any
	if err := json.Unmarshal([]byte(enqueueData), &data); err != nil {
		return fmt.Errorf("--data must be valid JSON: %w", err)
	}

	input := taskqueue.EnqueueInput{
		TaskType: enqueueType,
		Data:     data,
		Priority: enqueuePriority,
	}
	if enqueueAssign != "" {
		input.AssignedTo = &enqueueAssign
	}

	id, err := queue.Enqueue(ctx, input)
	if err != nil {
		return err
	}

	fmt.Println(id)
	return nil
}
