package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <thread>",
		Short: "List the checkpoints of a thread",
		Long: `List every checkpoint of a conversation thread, oldest first.

Threads only outlive the process with a persistent checkpoint store
(--store sqlite|mysql|redis|badger).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(rootOpts.Config)
			defer func() { _ = a.Close() }()

			ctl, err := a.sessions(cmd.Context(), nil)
			if err != nil {
				return err
			}
			checkpoints, err := ctl.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tSOURCE\tNODE\tNEXT\tMESSAGES\tCREATED")
			for _, cp := range checkpoints {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
					cp.Seq, cp.Source, dash(cp.Node), dash(cp.NextNode), cp.Messages, cp.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
