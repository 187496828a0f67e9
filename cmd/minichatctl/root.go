package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/matheus3301/minichat/internal/api"
	"github.com/matheus3301/minichat/internal/session"
	"github.com/spf13/cobra"
)

// callTimeout bounds every call except send and watch, which wait on the
// request or the stream.
const callTimeout = 10 * time.Second

type options struct {
	session string
	json    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "minichatctl",
		Short: "Control a running minichat daemon",
		Long: `minichatctl talks to the minichatd daemon of a session over its unix socket.

It sends messages, cancels the running request, manages conversations and
exports them as JSON, YAML or Markdown.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.session, "session", "", "session name (overrides config default)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "output in JSON format")

	root.AddCommand(
		newStatusCmd(opts),
		newSendCmd(opts),
		newCancelCmd(opts),
		newListCmd(opts),
		newShowCmd(opts),
		newNewCmd(opts),
		newDeleteCmd(opts),
		newSwitchCmd(opts),
		newWatchCmd(opts),
		newExportCmd(opts),
		newConfigCmd(),
	)
	return root
}

// connect resolves the session and dials its daemon.
func (o *options) connect() (*api.Client, io.Closer, error) {
	name := session.Resolve(o.session)
	if err := session.ValidateName(name); err != nil {
		return nil, nil, err
	}
	c, conn, err := api.Dial(session.SocketPath(name))
	if err != nil {
		return nil, nil, fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	return c, conn, nil
}

// run dials the daemon and calls fn with a bounded context.
func (o *options) run(timeout time.Duration, fn func(ctx context.Context, c *api.Client) error) error {
	c, conn, err := o.connect()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx, c)
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("json encode error: %w", err)
	}
	return nil
}
