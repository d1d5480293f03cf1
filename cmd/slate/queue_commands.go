package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"slate/internal/api"
	"slate/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Task queue operations",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueResetCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatusFlags(statusFlags)
			if err != nil {
				return err
			}
			return ctx.withQueue(func(store *queue.Store) error {
				tasks, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.TaskListResponse{Items: api.FromTasks(tasks)})
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(tasks))
				for _, task := range tasks {
					rows = append(rows, []string{
						strconv.FormatInt(task.ID, 10),
						task.ProjectID,
						task.Kind,
						string(task.Status),
						formatProgress(task),
						task.ErrorMessage,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]column{{title: "ID", right: true}, {title: "Project"}, {title: "Kind"}, {title: "Status"}, {title: "Progress"}, {title: "Error"}},
					rows,
				))
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&statusFlags, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var kind string
	var shotID string
	var params string

	cmd := &cobra.Command{
		Use:   "add <project-id>",
		Short: "Enqueue a production task for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if err := validateTaskKind(kind, shotID); err != nil {
				return err
			}
			if params != "" && !json.Valid([]byte(params)) {
				return fmt.Errorf("--params must be valid JSON")
			}
			return ctx.withLibraryAndQueue(func(deps cliStores) error {
				project, err := deps.library.GetProject(cmd.Context(), projectID)
				if err != nil {
					return err
				}
				if project == nil {
					return fmt.Errorf("project %s not found", projectID)
				}
				task, err := deps.store.NewTask(cmd.Context(), projectID, shotID, kind, params)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d queued for %q (%s)\n", task.ID, project.Title, task.Kind)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", queue.KindProduction, "Task kind: production, shot_redo, or micro_shots")
	cmd.Flags().StringVar(&shotID, "shot", "", "Shot identifier (required for shot_redo and micro_shots)")
	cmd.Flags().StringVar(&params, "params", "", "Task parameters as a JSON object")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a single queue task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return ctx.withQueue(func(store *queue.Store) error {
				task, err := store.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if task == nil {
					return fmt.Errorf("task %d not found", id)
				}
				if asJSON {
					return writeJSON(cmd, api.TaskResponse{Item: api.FromTask(task)})
				}
				printTaskDetail(cmd, task)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Reset failed tasks back to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseTaskIDs(args)
			if err != nil {
				return err
			}
			return ctx.withQueue(func(store *queue.Store) error {
				updated, err := store.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d task(s) reset for retry\n", updated)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var completed bool
	var failed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove queue tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if completed && failed {
				return fmt.Errorf("--completed and --failed are mutually exclusive")
			}
			return ctx.withQueue(func(store *queue.Store) error {
				var removed int64
				var err error
				switch {
				case completed:
					removed, err = store.ClearCompleted(cmd.Context())
				case failed:
					removed, err = store.ClearFailed(cmd.Context())
				default:
					removed, err = store.Clear(cmd.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d task(s)\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&completed, "completed", false, "Remove only completed tasks")
	cmd.Flags().BoolVar(&failed, "failed", false, "Remove only failed tasks")
	return cmd
}

func newQueueResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stuck",
		Short: "Return in-flight tasks to their last stable status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(store *queue.Store) error {
				updated, err := store.ResetStuckProcessing(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d task(s) reset\n", updated)
				return nil
			})
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show aggregate queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(store *queue.Store) error {
				summary, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, map[string]int{
						"total":      summary.Total,
						"pending":    summary.Pending,
						"processing": summary.Processing,
						"failed":     summary.Failed,
						"completed":  summary.Completed,
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Total:      %d\n", summary.Total)
				fmt.Fprintf(out, "Pending:    %d\n", summary.Pending)
				fmt.Fprintf(out, "Processing: %d\n", summary.Processing)
				fmt.Fprintf(out, "Failed:     %d\n", summary.Failed)
				fmt.Fprintf(out, "Completed:  %d\n", summary.Completed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}

func parseStatusFlags(values []string) ([]queue.Status, error) {
	var statuses []queue.Status
	for _, value := range values {
		status, ok := queue.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func parseTaskID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

func parseTaskIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parseTaskID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func validateTaskKind(kind, shotID string) error {
	switch kind {
	case queue.KindProduction:
		return nil
	case queue.KindShotRedo, queue.KindMicroShots:
		if strings.TrimSpace(shotID) == "" {
			return fmt.Errorf("--shot is required for kind %s", kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown task kind %q", kind)
	}
}

func formatProgress(task *queue.Task) string {
	if task.ProgressStage == "" {
		return ""
	}
	return fmt.Sprintf("%s %.0f%%", task.ProgressStage, task.ProgressPercent)
}

func printTaskDetail(cmd *cobra.Command, task *queue.Task) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:       %d\n", task.ID)
	fmt.Fprintf(out, "Project:  %s\n", task.ProjectID)
	if task.ShotID != "" {
		fmt.Fprintf(out, "Shot:     %s\n", task.ShotID)
	}
	fmt.Fprintf(out, "Kind:     %s\n", task.Kind)
	fmt.Fprintf(out, "Status:   %s\n", task.Status)
	if task.ProgressStage != "" {
		fmt.Fprintf(out, "Progress: %s (%.0f%%) %s\n", task.ProgressStage, task.ProgressPercent, task.ProgressMessage)
	}
	if task.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:    %s\n", task.ErrorMessage)
	}
	if task.ResultJSON != "" {
		fmt.Fprintf(out, "Result:   %s\n", task.ResultJSON)
	}
	fmt.Fprintf(out, "Created:  %s\n", task.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if task.FinishedAt != nil {
		fmt.Fprintf(out, "Finished: %s\n", task.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	}
}
