package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/weaverhq/queue-service/internal/workers"
)

var (
	workAgent string
	workTypes []string
	workPoll  time.Duration
	workBatch int
)

// workCmd represents the work command
var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run a polling worker for this window",
	Long: `Poll the queue as one window identity, claim eligible tasks, and execute
them. The built-in handler echoes the task payload back as the result, which
is enough to drive and observe the queue end to end; real deployments register
their own handlers through the workers package.`,
	Example: `  queue-service work --agent window-1 --types chat,debug
  queue-service work --poll 500ms --batch 5`,
	RunE: runWork,
}

func init() {
	rootCmd.AddCommand(workCmd)

	workCmd.Flags().StringVar(&workAgent, "agent", "", "Window/agent ID (defaults to a generated one)")
	workCmd.Flags().StringSliceVar(&workTypes, "types", nil, "Task types to execute (default all)")
	workCmd.Flags().DurationVar(&workPoll, "poll", 2*time.Second, "Poll interval")
	workCmd.Flags().IntVar(&workBatch, "batch", 1, "Tasks to peek at per poll")
}

func runWork(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue, err := newQueue(ctx)
	if err != nil {
		return err
	}

	agentID := workAgent
	if agentID == "" {
		agentID = fmt.Sprintf("window-%s", uuid.NewString()[:8])
		logger.Info().Str("agent_id", agentID).Msg("Generated window identity")
	}

	worker := workers.New(queue, logger, workers.Config{
		AgentID:   agentID,
		TaskTypes: workTypes,
		BatchSize: workBatch,
		PollDelay: workPoll,
	})

	echo := func(ctx context.Context, data json.RawMessage) (any, error) {
		var payload any
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("payload is not valid JSON: %w", err)
		}
		return map[string]any{"echo": payload, "agent": agentID}, nil
	}
	if len(workTypes) == 0 {
		// No explicit type list means the worker peeks at everything, but
		// handlers are registered per type, so cover the well-known ones.
		workTypes = []string{"chat", "thinkdeep", "debug", "consensus", "planner", "analyze", "custom"}
	}
	for _, taskType := range workTypes {
		worker.RegisterHandler(taskType, echo)
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		worker.Stop()
		cancel()
	}()

	worker.Start(ctx)
	return nil
}
