package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"slate/internal/api"
	"slate/internal/config"
	"slate/internal/projects"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Project library operations",
	}

	projectCmd.AddCommand(newProjectListCommand(ctx))
	projectCmd.AddCommand(newProjectCreateCommand(ctx))
	projectCmd.AddCommand(newProjectShowCommand(ctx))
	projectCmd.AddCommand(newProjectDeleteCommand(ctx))
	projectCmd.AddCommand(newProjectLockCommand(ctx))
	projectCmd.AddCommand(newProjectUnlockCommand(ctx))
	projectCmd.AddCommand(newContinuityCommand(ctx))

	return projectCmd
}

func newProjectListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLibrary(func(library *projects.Store) error {
				list, err := library.ListProjects(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.ProjectListResponse{Projects: api.FromProjects(list)})
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No projects")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, project := range list {
					rows = append(rows, []string{
						project.ID,
						project.Title,
						project.Status,
						strconv.Itoa(project.ShotCount),
						yesNo(project.Locked()),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]column{{title: "ID"}, {title: "Title"}, {title: "Status"}, {title: "Shots", right: true}, {title: "Locked"}},
					rows,
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}

func newProjectCreateCommand(ctx *commandContext) *cobra.Command {
	var synopsis string
	var style string

	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLibrary(func(library *projects.Store) error {
				project, err := library.CreateProject(cmd.Context(), args[0], synopsis, style)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Project %s created (%q)\n", project.ID, project.Title)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&synopsis, "synopsis", "", "Short synopsis for storyboarding")
	cmd.Flags().StringVar(&style, "style", "", "Visual style directive applied to every shot")
	return cmd
}

func newProjectShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project and its shots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withLibrary(func(library *projects.Store) error {
				project, err := library.GetProject(cmd.Context(), id)
				if err != nil {
					return err
				}
				if project == nil {
					return fmt.Errorf("project %s not found", id)
				}
				shots, err := library.ListShots(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.ProjectResponse{Detail: api.ProjectDetail{
						Project: api.FromProject(project),
						Shots:   api.FromShots(shots),
					}})
				}
				printProjectDetail(cmd, project, shots)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}

func newProjectDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project and its shots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withLibrary(func(library *projects.Store) error {
				removed, err := library.DeleteProject(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("project %s not found", id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Project %s deleted\n", id)
				return nil
			})
		},
	}
}

func newProjectLockCommand(ctx *commandContext) *cobra.Command {
	var taskID int64

	cmd := &cobra.Command{
		Use:   "lock <id>",
		Short: "Acquire the advisory lock for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 {
				return fmt.Errorf("--task is required")
			}
			id := strings.TrimSpace(args[0])
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withLibrary(func(library *projects.Store) error {
				policy := lockRetryPolicy(cfg)
				err := projects.WithLockRetry(cmd.Context(), policy, func(opCtx context.Context) error {
					return library.Lock(opCtx, id, taskID)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Project %s locked by task %d\n", id, taskID)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&taskID, "task", 0, "Task id to record as the lock holder")
	return cmd
}

func newProjectUnlockCommand(ctx *commandContext) *cobra.Command {
	var taskID int64

	cmd := &cobra.Command{
		Use:   "unlock <id>",
		Short: "Release the advisory lock held by a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 {
				return fmt.Errorf("--task is required")
			}
			id := strings.TrimSpace(args[0])
			return ctx.withLibrary(func(library *projects.Store) error {
				if err := library.Unlock(cmd.Context(), id, taskID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Project %s unlocked\n", id)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&taskID, "task", 0, "Task id that holds the lock")
	return cmd
}

func newContinuityCommand(ctx *commandContext) *cobra.Command {
	continuityCmd := &cobra.Command{
		Use:   "continuity",
		Short: "Continuity lock operations",
	}
	continuityCmd.AddCommand(newContinuitySetCommand(ctx))
	continuityCmd.AddCommand(newContinuityListCommand(ctx))
	return continuityCmd
}

func newContinuitySetCommand(ctx *commandContext) *cobra.Command {
	var subjectType string
	var subjectID string
	var attrs []string

	cmd := &cobra.Command{
		Use:   "set <project-id>",
		Short: "Pin subject attributes that must stay consistent across shots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			attributes, err := parseAttributes(attrs)
			if err != nil {
				return err
			}
			if len(attributes) == 0 {
				return fmt.Errorf("at least one --attr key=value is required")
			}
			return ctx.withLibrary(func(library *projects.Store) error {
				lock := &projects.ContinuityLock{
					ProjectID:   projectID,
					SubjectType: subjectType,
					SubjectID:   subjectID,
					Attributes:  attributes,
				}
				if err := library.SetContinuityLock(cmd.Context(), lock); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Continuity lock set on %s %s (%d attribute(s))\n",
					subjectType, subjectID, len(attributes))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&subjectType, "subject-type", "character", "Subject type: character, location, or prop")
	cmd.Flags().StringVar(&subjectID, "subject-id", "", "Subject identifier")
	cmd.Flags().StringArrayVar(&attrs, "attr", nil, "Locked attribute as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("subject-id")
	return cmd
}

func newContinuityListCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List continuity locks for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			return ctx.withLibrary(func(library *projects.Store) error {
				locks, err := library.ListContinuityLocks(cmd.Context(), projectID)
				if err != nil {
					return err
				}
				if len(locks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No continuity locks")
					return nil
				}
				rows := make([][]string, 0, len(locks))
				for _, lock := range locks {
					rows = append(rows, []string{
						lock.SubjectType,
						lock.SubjectID,
						formatAttributes(lock.Attributes),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]column{{title: "Subject"}, {title: "ID"}, {title: "Attributes"}},
					rows,
				))
				return nil
			})
		},
	}
	return cmd
}

func lockRetryPolicy(cfg *config.Config) projects.RetryPolicy {
	policy := projects.DefaultRetryPolicy()
	if cfg.Workflow.LockRetryInterval > 0 {
		policy.Interval = time.Duration(cfg.Workflow.LockRetryInterval) * time.Second
	}
	if cfg.Workflow.LockRetryAttempts > 0 {
		policy.Attempts = cfg.Workflow.LockRetryAttempts
	}
	return policy
}

func parseAttributes(values []string) (map[string]string, error) {
	attributes := make(map[string]string, len(values))
	for _, value := range values {
		key, val, ok := strings.Cut(value, "=")
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if !ok || key == "" || val == "" {
			return nil, fmt.Errorf("invalid attribute %q (expected key=value)", value)
		}
		attributes[key] = val
	}
	return attributes, nil
}

func formatAttributes(attributes map[string]string) string {
	parts := make([]string, 0, len(attributes))
	for key, value := range attributes {
		parts = append(parts, key+"="+value)
	}
	return strings.Join(parts, ", ")
}

func printProjectDetail(cmd *cobra.Command, project *projects.Project, shots []*projects.Shot) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:       %s\n", project.ID)
	fmt.Fprintf(out, "Title:    %s\n", project.Title)
	fmt.Fprintf(out, "Status:   %s\n", project.Status)
	if project.Synopsis != "" {
		fmt.Fprintf(out, "Synopsis: %s\n", project.Synopsis)
	}
	if project.Style != "" {
		fmt.Fprintf(out, "Style:    %s\n", project.Style)
	}
	if project.VideoPath != "" {
		fmt.Fprintf(out, "Video:    %s\n", project.VideoPath)
	}
	if project.Locked() {
		fmt.Fprintf(out, "Locked:   task %d\n", project.LockedByTask)
	}
	if len(shots) == 0 {
		return
	}
	fmt.Fprintln(out)
	rows := make([][]string, 0, len(shots))
	for _, shot := range shots {
		rows = append(rows, []string{
			strconv.Itoa(shot.Idx),
			shot.Title,
			shot.Status,
			yesNo(shot.ImagePath != ""),
			yesNo(shot.VideoPath != ""),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]column{{title: "#", right: true}, {title: "Title"}, {title: "Status"}, {title: "Still"}, {title: "Clip"}},
		rows,
	))
}
