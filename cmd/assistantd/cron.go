package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/assistantd/internal/config"
	"github.com/nextlevelbuilder/assistantd/internal/cron"
	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

func cronCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}
	c.AddCommand(cronListCmd(), cronAddCmd(), cronRemoveCmd())
	return c
}

func openCronActions() (*cron.Actions, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	store := cron.NewStore(cfg.Security.DataDir)
	timer := cron.NewTimer(store, func(domain.CronJob) {})
	return cron.NewActions(store, timer), nil
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			actions, err := openCronActions()
			if err != nil {
				return err
			}
			jobs, err := actions.List()
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("(no jobs scheduled)")
				return nil
			}
			for _, j := range jobs {
				status := "enabled"
				if !j.Enabled {
					status = "disabled"
				}
				fmt.Printf("%s  %-12s  %-10s  %-8s  %s\n", j.ID, j.Label, j.Schedule.Type, status, j.Payload.Text)
			}
			return nil
		},
	}
}

func cronAddCmd() *cobra.Command {
	var label, scheduleType, expr, at, everyStr, text string
	c := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled job",
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule := domain.Schedule{Type: domain.ScheduleKind(scheduleType)}
			switch schedule.Type {
			case domain.ScheduleCron:
				schedule.Expression = expr
			case domain.ScheduleOneshot:
				ts, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("cron: invalid --at timestamp: %w", err)
				}
				schedule.ISO = ts
			case domain.ScheduleInterval:
				ms, err := strconv.ParseInt(everyStr, 10, 64)
				if err != nil {
					return fmt.Errorf("cron: invalid --every milliseconds: %w", err)
				}
				schedule.EveryMS = ms
			default:
				return fmt.Errorf("cron: --type must be one of cron, oneshot, interval")
			}

			actions, err := openCronActions()
			if err != nil {
				return err
			}
			result := actions.Add(label, schedule, text)
			if !result.Success {
				return fmt.Errorf("cron: %s", result.Message)
			}
			fmt.Printf("added job %s\n", result.JobID)
			return nil
		},
	}
	c.Flags().StringVar(&label, "label", "", "human-readable job label")
	c.Flags().StringVar(&scheduleType, "type", "cron", "schedule type: cron, oneshot, interval")
	c.Flags().StringVar(&expr, "expr", "", "cron expression (type=cron)")
	c.Flags().StringVar(&at, "at", "", "RFC3339 timestamp (type=oneshot)")
	c.Flags().StringVar(&everyStr, "every", "", "interval in milliseconds (type=interval)")
	c.Flags().StringVar(&text, "text", "", "prompt text delivered to the agent when the job fires")
	return c
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actions, err := openCronActions()
			if err != nil {
				return err
			}
			result := actions.Remove(args[0])
			if !result.Success {
				return fmt.Errorf("cron: %s", result.Message)
			}
			fmt.Println("removed")
			return nil
		},
	}
}
