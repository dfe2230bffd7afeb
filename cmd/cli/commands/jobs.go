package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/naka0519/TownReady/internal/types"
)

// jobOutput is the subset of a job printed by the CLI
type jobOutput struct {
	JobID          string         `json:"job_id"`
	Status         string         `json:"status"`
	Task           string         `json:"task,omitempty"`
	CompletedOrder []string       `json:"completed_order"`
	Attempts       map[string]int `json:"attempts,omitempty"`
	Error          string         `json:"error,omitempty"`
}

func newJobsCmd(s *session) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage jobs",
	}
	jobsCmd.AddCommand(newCreateJobCmd(s), newGetJobCmd(s), newPublishTaskCmd(s))
	return jobsCmd
}

func newCreateJobCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job and publish its first task",
		RunE: func(cmd *cobra.Command, _ []string) error {
			task, _ := cmd.Flags().GetString(flagTask)
			payloadFile, _ := cmd.Flags().GetString(flagPayloadFile)

			req := types.CreateJobRequest{Task: task}
			if payloadFile != "" {
				payload, err := os.ReadFile(payloadFile)
				if err != nil {
					return fmt.Errorf("error reading payload file: %w", err)
				}
				if !json.Valid(payload) {
					return fmt.Errorf("payload file %s is not valid JSON", payloadFile)
				}
				req.Payload = payload
			}

			resp, err := s.api.CreateJob(context.Background(), req)
			if err != nil {
				return fmt.Errorf("error creating job: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringP(flagTask, "t", "plan", "Task the job starts at")
	cmd.Flags().StringP(flagPayloadFile, "f", "", "JSON file with the job payload")
	return cmd
}

func newGetJobCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Get a specific job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString(flagID)

			job, err := s.api.GetJob(context.Background(), id)
			if err != nil {
				return fmt.Errorf("error fetching job: %w", err)
			}

			return printJSON(cmd.OutOrStdout(), jobOutput{
				JobID:          job.ID,
				Status:         job.Status.String(),
				Task:           job.Task,
				CompletedOrder: job.CompletedOrder,
				Attempts:       job.Attempts,
				Error:          job.Error,
			})
		},
	}
	cmd.Flags().StringP(flagID, "i", "", "Job ID to fetch")
	_ = cmd.MarkFlagRequired(flagID)
	return cmd
}

func newPublishTaskCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Re-publish a task trigger for a job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString(flagID)
			task, _ := cmd.Flags().GetString(flagTask)

			resp, err := s.api.PublishTask(context.Background(), id, types.PublishTaskRequest{Task: task})
			if err != nil {
				return fmt.Errorf("error publishing task: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringP(flagID, "i", "", "Job ID to publish for")
	cmd.Flags().StringP(flagTask, "t", "", "Task to publish")
	_ = cmd.MarkFlagRequired(flagID)
	_ = cmd.MarkFlagRequired(flagTask)
	return cmd
}

// printJSON pretty prints v
func printJSON(w io.Writer, v interface{}) error {
	prettyJSON, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	_, err = fmt.Fprintln(w, string(prettyJSON))
	return err
}
