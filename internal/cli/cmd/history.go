package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"text/tabwriter"

	"dataflow/internal/cli/client"
	"dataflow/pkg/api"

	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show pipeline execution history",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	cmd.Flags().StringP("pipeline", "p", "", "Only show executions of this pipeline")
	cmd.Flags().IntP("limit", "n", 20, "Maximum executions to show")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	pipeline, _ := cmd.Flags().GetString("pipeline")
	limit, _ := cmd.Flags().GetInt("limit")
	q := url.Values{}
	if pipeline != "" {
		q.Set("pipeline", pipeline)
	}
	q.Set("limit", fmt.Sprint(limit))

	var history []api.ExecutionHistoryBrief
	if err := client.Call(http.MethodGet, "/history?"+q.Encode(), nil, &history); err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPIPELINE\tSTATUS\tTRIGGER\tSTART\tEND")
	for _, h := range history {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", h.ID, h.Pipeline, h.Status, h.TriggerType, h.StartTime, h.EndTime)
	}
	return w.Flush()
}

// NewCleanHistoryCommand creates the clean-history command
func NewCleanHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean-history <pipeline-slug|all>",
		Short: "Delete finished executions and their buffers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.CleanHistoryResponse
			if err := client.Call(http.MethodDelete, "/history/"+url.PathEscape(args[0]), nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d executions\n", resp.Deleted)
			return nil
		},
	}
}

// NewCodeCommand creates the code command
func NewCodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code <transformation-slug>",
		Short: "Print a transformation's script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, _ := cmd.Flags().GetString("pipeline")
			path := "/transformation/" + url.PathEscape(args[0])
			if pipeline != "" {
				path += "?pipeline=" + url.QueryEscape(pipeline)
			}
			var code api.TransformationCode
			if err := client.Call(http.MethodGet, path, nil, &code); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s/%s (%s)\n%s\n", code.Pipeline, code.Slug, code.Language, code.Code)
			return nil
		},
	}
	cmd.Flags().StringP("pipeline", "p", "", "Pipeline the transformation belongs to")
	return cmd
}
