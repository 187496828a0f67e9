package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/matheus3301/minichat/internal/api"
	"github.com/matheus3301/minichat/internal/chat"
	"github.com/matheus3301/minichat/internal/conversation"
	"github.com/matheus3301/minichat/internal/status"
	"github.com/spf13/cobra"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session and request status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(callTimeout, func(ctx context.Context, c *api.Client) error {
				st, err := c.GetStatus(ctx)
				if err != nil {
					return err
				}
				if opts.json {
					return outputJSON(cmd.OutOrStdout(), st)
				}
				printStatus(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
}

func newSendCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "send <message...>",
		Short: "Send a message in the active conversation and wait for the reply",
		Long: `Send a message in the active conversation and wait for the reply.

Use "-" to read the message from stdin. Ctrl-C cancels the request.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			if content == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				content = string(b)
			}

			return opts.run(0, func(ctx context.Context, c *api.Client) error {
				stop := cancelOnInterrupt(c)
				defer stop()

				out, err := c.Send(ctx, content)
				if err != nil {
					return err
				}
				if opts.json {
					return outputJSON(cmd.OutOrStdout(), out)
				}
				return printOutcome(cmd.OutOrStdout(), out)
			})
		},
	}
}

// cancelOnInterrupt forwards the first Ctrl-C to the daemon as a cancel, so
// the blocked send returns with the cancelled outcome.
func cancelOnInterrupt(c *api.Client) func() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-sig:
			ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
			defer cancel()
			_, _ = c.Cancel(ctx)
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sig)
		close(done)
	}
}

func newCancelCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the running request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(callTimeout, func(ctx context.Context, c *api.Client) error {
				ok, err := c.Cancel(ctx)
				if err != nil {
					return err
				}
				if opts.json {
					return outputJSON(cmd.OutOrStdout(), map[string]bool{"cancelled": ok})
				}
				if ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Request cancelled.")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "No request running.")
				}
				return nil
			})
		},
	}
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(callTimeout, func(ctx context.Context, c *api.Client) error {
				st, err := c.ListConversations(ctx)
				if err != nil {
					return err
				}
				if opts.json {
					return outputJSON(cmd.OutOrStdout(), st)
				}
				printConversations(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show [conversation-id]",
		Short: "Show a conversation (the active one by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return opts.run(callTimeout, func(ctx context.Context, c *api.Client) error {
				conv, err := c.GetConversation(ctx, id)
				if err != nil {
					return err
				}
				if opts.json {
					return outputJSON(cmd.OutOrStdout(), conv)
				}
				printConversation(cmd.OutOrStdout(), conv)
				return nil
			})
		},
	}
}

func newNewCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create a conversation and make it active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(callTimeout, func(ctx context.Context, c *api.Client) error {
				conv, err := c.CreateConversation(ctx)
				if err != nil {
					return err
				}
				if opts.json {
					return outputJSON(cmd.OutOrStdout(), conv)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s)\n", conv.Title, conv.ID)
				return nil
			})
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(callTimeout, func(ctx context.Context, c *api.Client) error {
				if err := c.DeleteConversation(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newSwitchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <conversation-id>",
		Short: "Make a conversation active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(callTimeout, func(ctx context.Context, c *api.Client) error {
				if err := c.SwitchConversation(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Switched to %s\n", args[0])
				return nil
			})
		},
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream daemon events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(0, func(ctx context.Context, c *api.Client) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
				defer stop()

				stream, err := c.WatchEvents(ctx, prefix)
				if err != nil {
					return err
				}
				for {
					evt, err := stream.Recv()
					if err != nil {
						if errors.Is(err, io.EOF) || ctx.Err() != nil {
							return nil
						}
						return err
					}
					if opts.json {
						if err := outputJSON(cmd.OutOrStdout(), evt); err != nil {
							return err
						}
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %-38s %s\n",
						time.UnixMilli(evt.OccurredAtUnixMs).Format(time.TimeOnly), evt.Kind, evt.Payload)
				}
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", `only events whose kind starts with this, e.g. "request."`)
	return cmd
}

func printStatus(w io.Writer, st *api.Status) {
	fmt.Fprintf(w, "Session:       %s\n", st.Session)
	fmt.Fprintf(w, "Request:       %s\n", st.Status)
	if st.Message != "" {
		fmt.Fprintf(w, "Message:       %s\n", st.Message)
	}
	if st.RetryCount > 0 {
		fmt.Fprintf(w, "Retries:       %d\n", st.RetryCount)
	}
	fmt.Fprintf(w, "Active:        %s\n", st.ActiveConversationID)
	fmt.Fprintf(w, "Conversations: %d\n", st.Conversations)
	fmt.Fprintf(w, "Proxy:         %s\n", st.ProxyURL)
	fmt.Fprintf(w, "Uptime:        %s\n", (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
}

// printOutcome prints the reply, or returns the failure so the process exits
// non-zero.
func printOutcome(w io.Writer, out *chat.Outcome) error {
	if out.Status == status.Success && out.AssistantMessage != nil {
		fmt.Fprintln(w, out.AssistantMessage.Content)
		return nil
	}
	if out.Error != "" {
		return errors.New(out.Error)
	}
	return fmt.Errorf("request ended in %s", out.Status)
}

func printConversations(w io.Writer, st *conversation.AppState) {
	if len(st.Conversations) == 0 {
		fmt.Fprintln(w, "No conversations.")
		return
	}
	for _, c := range st.Conversations {
		marker := " "
		if c.ID == st.ActiveConversationID {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-36s %-20s %3d messages  %s\n",
			marker, c.ID, c.Title, len(c.Messages), time.UnixMilli(c.CreatedAt).Format(time.DateTime))
	}
}

func printConversation(w io.Writer, c *conversation.Conversation) {
	fmt.Fprintf(w, "%s (%s)\n\n", c.Title, c.ID)
	for _, m := range c.Messages {
		who := "You"
		if m.Role == conversation.RoleAssistant {
			who = "Assistant"
		}
		line := fmt.Sprintf("[%s] %s", time.UnixMilli(m.Timestamp).Format(time.TimeOnly), who)
		if m.Status != conversation.StatusSent {
			line += fmt.Sprintf(" (%s)", m.Status)
		}
		fmt.Fprintf(w, "%s\n%s\n\n", line, m.Content)
	}
}
