package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/example/shelf-sync/internal/ws"
)

// NewWatchCommand creates the watch command. It talks to a running daemon and
// never opens the local cache, which the daemon holds locked.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string
	var count int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print sync events from a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runWatch(ctx, rootOpts, addr, count, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "daemon listen address")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many events (0 runs until interrupted)")
	return cmd
}

func runWatch(ctx context.Context, opts *RootOptions, addr string, count int, out io.Writer) error {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/events"}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", u.String(), err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for seen := 0; count == 0 || seen < count; seen++ {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}

		if opts.Format == "json" {
			fmt.Fprintln(out, string(payload))
			continue
		}
		var ev ws.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return errors.New("daemon sent an unreadable event")
		}
		fmt.Fprintf(out, "%s\t%s\t%d books\t%s\n", ev.At.Local().Format(time.DateTime), ev.Type, ev.Books, ev.DocumentID)
	}
	return nil
}
