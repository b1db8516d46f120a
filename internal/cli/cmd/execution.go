package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"dataflow/internal/cli/client"
	"dataflow/pkg/api"

	"github.com/spf13/cobra"
)

// NewShowCommand creates the show command
func NewShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show an execution and its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var exec api.Execution
			if err := client.Call(http.MethodGet, fmt.Sprintf("/execution/%d", id), nil, &exec); err != nil {
				return err
			}
			printExecution(cmd.OutOrStdout(), exec)
			return nil
		},
	}
}

// NewAbortCommand creates the abort command
func NewAbortCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "abort <execution-id>",
		Short: "Stop an execution before its next transformation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var exec api.Execution
			if err := client.Call(http.MethodPost, fmt.Sprintf("/execution/%d/abort", id), nil, &exec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Execution %d marked %s\n", exec.ID, exec.Status)
			return nil
		},
	}
}

// NewBufferCommand creates the buffer command
func NewBufferCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buffer <execution-id>",
		Short: "Download rows of an execution's buffer as CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  runBuffer,
	}
	cmd.Flags().IntP("position", "p", 0, "Buffer slot, 0 is the working table")
	cmd.Flags().Int("offset", 0, "Rows to skip")
	cmd.Flags().IntP("rows", "n", 20, "Rows to fetch, 0 for all")
	cmd.Flags().StringP("out", "o", "", "Write to this file instead of stdout")
	return cmd
}

func runBuffer(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	position, _ := cmd.Flags().GetInt("position")
	offset, _ := cmd.Flags().GetInt("offset")
	rows, _ := cmd.Flags().GetInt("rows")
	out, _ := cmd.Flags().GetString("out")

	q := url.Values{}
	q.Set("position", fmt.Sprint(position))
	q.Set("offset", fmt.Sprint(offset))
	q.Set("rows", fmt.Sprint(rows))
	path := fmt.Sprintf("/execution/%d/buffer?%s", id, q.Encode())

	var w io.Writer = cmd.OutOrStdout()
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := client.Download(path, w); err != nil {
		return err
	}
	if out != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Saved to %s\n", out)
	}
	return nil
}

func printExecution(w io.Writer, exec api.Execution) {
	fmt.Fprintf(w, "Execution %d (%s)\n", exec.ID, exec.Pipeline.Slug)
	fmt.Fprintf(w, "  status:   %s\n", exec.Status)
	fmt.Fprintf(w, "  trigger:  %s\n", exec.TriggerType)
	fmt.Fprintf(w, "  started:  %s\n", formatTime(exec.StartedAt))
	fmt.Fprintf(w, "  ended:    %s\n", formatTime(exec.EndedAt))
	if len(exec.IncomingStream) > 0 {
		fmt.Fprintf(w, "  stream:   %s\n", exec.IncomingStream)
	}
	if exec.Stdout != "" {
		fmt.Fprintf(w, "\n%s\n", exec.Stdout)
	}
}
