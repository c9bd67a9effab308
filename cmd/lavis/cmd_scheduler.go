package main

import (
	"context"
	"fmt"
	"time"

	"github.com/leochame/lavis/internal/actuator"
	"github.com/leochame/lavis/internal/scheduler"
	"github.com/leochame/lavis/internal/store"
	"github.com/spf13/cobra"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Inspect scheduled tasks",
}

var schedulerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every scheduled task",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchedulerList(cmd.Context())
	},
}

var schedulerHistoryCmd = &cobra.Command{
	Use:   "history <task-id>",
	Short: "Show recent run history for a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchedulerHistory(cmd.Context(), args[0])
	},
}

func init() {
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerHistoryCmd)
}

// cliDispatcher is used only for offline CLI inspection, where agent: tasks
// cannot actually run (no orchestrator is wired up outside of "serve").
type cliDispatcher struct {
	actuator *actuator.SystemActuator
}

func (d *cliDispatcher) RunAgentGoal(ctx context.Context, goal string) error {
	return fmt.Errorf("agent tasks require a running server; use 'lavis serve'")
}

func (d *cliDispatcher) RunShell(ctx context.Context, cmd string) (string, error) {
	ok, out, _, errMsg := d.actuator.ShellExec(ctx, cmd, 30*time.Second)
	if !ok {
		return out, fmt.Errorf("shell command failed: %s", errMsg)
	}
	return out, nil
}

func openScheduler(ctx context.Context) (*scheduler.Scheduler, *store.Store, error) {
	st, err := store.Open(storeDBPath(), cfg.Store.BackupRetain, cfg.Store.BackupHourUTC)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	act := actuator.New(cfg.Actuator, actuator.NewExecBackend())
	sched := scheduler.New(st, &cliDispatcher{actuator: act})
	return sched, st, nil
}

func runSchedulerList(ctx context.Context) error {
	sched, st, err := openScheduler(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := sched.List(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fmt.Printf("%-36s %-20s %-20s enabled=%v runs=%d fails=%d\n", t.ID, t.Name, t.Cron, t.Enabled, t.RunCount, t.FailCount)
	}
	return nil
}

func runSchedulerHistory(ctx context.Context, taskID string) error {
	sched, st, err := openScheduler(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	history, err := sched.History(ctx, taskID, 20)
	if err != nil {
		return err
	}
	for _, h := range history {
		fmt.Printf("%s %-8s %s\n", h.StartedAt.Format("2006-01-02 15:04:05"), h.Status, h.Output)
	}
	return nil
}
