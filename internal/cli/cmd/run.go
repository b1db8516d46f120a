package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"dataflow/internal/cli/client"
	"dataflow/pkg/api"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <pipeline-slug>",
		Short: "Start a pipeline run, optionally with a stream payload",
		Args:  cobra.ExactArgs(1),
		RunE:  runPipeline,
	}
	cmd.Flags().StringP("stream", "s", "", "JSON payload passed to the scripts' stream parameter")
	return cmd
}

func runPipeline(cmd *cobra.Command, args []string) error {
	slug := url.PathEscape(args[0])
	stream, _ := cmd.Flags().GetString("stream")
	if stream == "" {
		var resp api.RunResponse
		if err := client.Call(http.MethodPost, "/pipeline/"+slug+"/run", nil, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Started pipeline %s, execution %d\n", args[0], resp.ExecutionID)
		return nil
	}

	if !json.Valid([]byte(stream)) {
		return fmt.Errorf("--stream must be valid JSON")
	}
	var exec api.Execution
	if err := client.Call(http.MethodPost, "/stream/"+slug, strings.NewReader(stream), &exec); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Started pipeline %s, execution %d\n", args[0], exec.ID)
	return nil
}

// NewResumeCommand creates the resume command
func NewResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <execution-id>",
		Short: "Queue an unfinished execution again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var resp api.RunResponse
			if err := client.Call(http.MethodPost, fmt.Sprintf("/execution/%d/run", id), nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Execution %d queued\n", resp.ExecutionID)
			return nil
		},
	}
}

// NewRunProjectCommand creates the run-project command
func NewRunProjectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run-project <project-id>",
		Short: "Start every pipeline of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var resp api.ProjectRunResponse
			if err := client.Call(http.MethodPost, fmt.Sprintf("/project/%d/run", id), nil, &resp); err != nil {
				return err
			}
			for _, slug := range sortedKeys(resp.ExecutionIDs) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: execution %d\n", slug, resp.ExecutionIDs[slug])
			}
			return nil
		},
	}
}

// NewSyncCommand creates the sync command
func NewSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <project-id>",
		Short: "Reload a project's pipelines and scripts from its repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var resp api.SyncResponse
			if err := client.Call(http.MethodPost, fmt.Sprintf("/project/%d/sync", id), nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d pipelines, %d transformations (%d removed)\n",
				resp.Pipelines, resp.Transformations, resp.Deleted)
			return nil
		},
	}
}
