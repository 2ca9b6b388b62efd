package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewRAGCommand creates the rag command group.
func NewRAGCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rag",
		Short: "Query the retrieval pipeline",
	}
	cmd.AddCommand(newRAGAskCommand(rootOpts))
	return cmd
}

func newRAGAskCommand(rootOpts *RootOptions) *cobra.Command {
	var showSteps bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the configured blog posts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(rootOpts.Config)
			defer func() { _ = a.Close() }()

			pipeline, err := a.pipeline(nil)
			if err != nil {
				return err
			}
			ans, err := pipeline.Query(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if showSteps {
				for _, s := range ans.Steps {
					fmt.Fprintf(out, "--- %s ---\n%s\n", s.Step, s.Content)
				}
				fmt.Fprintln(out, "---")
			}
			fmt.Fprintln(out, ans.Answer)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSteps, "steps", false, "print the output of every step")

	return cmd
}
