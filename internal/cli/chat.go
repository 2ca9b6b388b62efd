package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/langgraph-travel/graph"
	"github.com/dshills/langgraph-travel/graph/emit"
	"github.com/dshills/langgraph-travel/internal/agent"
	"github.com/dshills/langgraph-travel/internal/log"
	"github.com/dshills/langgraph-travel/internal/session"
)

// ApprovalPrompt is shown after a sensitive action was requested.
const ApprovalPrompt = "Do you approve of the above actions? Type 'y' to continue; otherwise, explain your requested changes."

// ChatOptions holds flags for the chat command.
type ChatOptions struct {
	ThreadID  string
	Passenger string
	Events    bool
}

// NewChatCommand creates the chat command.
func NewChatCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the travel assistant",
		Long: `Start an interactive conversation with the travel assistant.

Before a booking is changed the assistant shows the requested action and
waits. Answer 'y' to run it; anything else is sent back to the assistant
as the reason for declining. Type 'quit' to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ThreadID, "thread", "", "resume this conversation thread (default: a new thread)")
	cmd.Flags().StringVar(&opts.Passenger, "passenger", "", "passenger id (default: travel.passenger_id)")
	cmd.Flags().BoolVar(&opts.Events, "events", false, "print engine events to stderr")

	return cmd
}

func runChat(cmd *cobra.Command, rootOpts *RootOptions, opts *ChatOptions) error {
	ctx := cmd.Context()
	a := newApp(rootOpts.Config)
	defer func() { _ = a.Close() }()

	var emitter emit.Emitter
	if opts.Events {
		emitter = emit.NewLogEmitter(cmd.ErrOrStderr(), false)
	}
	ctl, err := a.sessions(ctx, emitter)
	if err != nil {
		return err
	}
	defer func() { log.Debugf("model usage: %s", a.cost) }()

	var values map[string]string
	if opts.Passenger != "" {
		values = map[string]string{agent.PassengerKey: opts.Passenger}
	}
	threadID, err := ctl.Start(ctx, opts.ThreadID, values)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	in := bufio.NewScanner(cmd.InOrStdin())
	fmt.Fprintf(out, "Thread %s\n", threadID)

	for {
		// A thread resumed from an earlier process may still be paused.
		if err := approvalLoop(ctx, ctl, threadID, in, out); err != nil {
			return err
		}

		fmt.Fprint(out, "User: ")
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}
		text := strings.TrimSpace(in.Text())
		switch strings.ToLower(text) {
		case "":
			continue
		case "quit", "exit", "q":
			return nil
		}

		events, err := ctl.Send(ctx, threadID, text)
		if err != nil {
			return err
		}
		printEvents(out, events)
	}
}

// printEvents writes a Send stream as it arrives.
func printEvents(out io.Writer, events <-chan session.Event) {
	for ev := range events {
		switch ev.Type {
		case session.EventNode:
			printMessages(out, ev.Messages)
		case session.EventIgnored:
			fmt.Fprintf(out, "Note: %s\n", ev.Notice)
		case session.EventError:
			// The thread is still resumable; let the user try again.
			fmt.Fprintf(out, "Error: %v\n", ev.Err)
		}
	}
}

// approvalLoop asks about pending actions until the thread is no longer
// paused.
func approvalLoop(ctx context.Context, ctl *session.Controller, threadID string, in *bufio.Scanner, out io.Writer) error {
	for {
		paused, err := ctl.NeedsApproval(ctx, threadID)
		if err != nil || !paused {
			return err
		}
		action, err := ctl.PendingAction(ctx, threadID)
		if err != nil {
			return err
		}
		if action != nil {
			args, _ := json.Marshal(action.Args)
			fmt.Fprintf(out, "Requested action: %s %s\n", action.Name, args)
		}
		fmt.Fprintf(out, "%s\n\n", ApprovalPrompt)

		if !in.Scan() {
			if err := in.Err(); err != nil {
				return err
			}
			return io.EOF
		}
		answer := strings.TrimSpace(in.Text())

		var msgs []graph.Message
		if answer == "y" {
			msgs, err = ctl.Approve(ctx, threadID)
		} else {
			msgs, err = ctl.Reject(ctx, threadID, answer)
		}
		if err != nil {
			return err
		}
		printMessages(out, msgs)
	}
}

func printMessages(w io.Writer, msgs []graph.Message) {
	for _, m := range msgs {
		switch m.Kind {
		case graph.KindAssistant:
			fmt.Fprintf(w, "Assistant: %s\n", m.Content)
		case graph.KindToolRequest:
			if m.Content != "" {
				fmt.Fprintf(w, "Assistant: %s\n", m.Content)
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				fmt.Fprintf(w, "Assistant -> %s %s\n", tc.Name, args)
			}
		case graph.KindToolResult:
			fmt.Fprintf(w, "  [%s] %s\n", m.Name, m.Content)
		}
	}
}
