package cmd

import (
	"fmt"
	"net/http"
	"text/tabwriter"

	"dataflow/internal/cli/client"
	"dataflow/pkg/api"

	"github.com/spf13/cobra"
)

// NewListCommand creates the list command
func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pipelines and their last status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var pipelines []api.PipelineBrief
			if err := client.Call(http.MethodGet, "/pipeline", nil, &pipelines); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSLUG\tPROJECT\tSTATUS\tEVERY(MIN)\tLAST START")
			for _, p := range pipelines {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", p.ID, p.Slug, p.Project, p.Status, p.Frequency, formatTime(p.StartedAt))
			}
			return w.Flush()
		},
	}
}
