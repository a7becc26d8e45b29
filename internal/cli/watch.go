package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// EventView is one data-store-changed event in watch output.
type EventView struct {
	Time   string `json:"time"`
	Reason string `json:"reason"`
	Rows   int    `json:"rows"`
	State  string `json:"state"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stay attached, retry mirroring and print store changes",
		Long: `Keep the sync core running until interrupted.

While watching, an enabled mirroring preference is retried on the
configured schedule whenever the store is still local. Every data store
change is printed as it happens (one JSON object per line with --format
json).`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			sub := e.app.Bus.Subscribe()
			defer sub.Close()

			if err := e.app.StartMirroringRetry(ctx); err != nil {
				return e.out.Fail("failed to schedule mirroring retry", err)
			}
			e.log.Info("watching data store", "state", e.app.Ctrl.State().String())

			w := cmd.OutOrStdout()
			for {
				ev, err := sub.Next(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return nil
					}
					return e.out.Fail("watch stopped", err)
				}
				v := EventView{
					Time:   time.Now().UTC().Format(time.RFC3339),
					Reason: string(ev.Reason),
					Rows:   ev.Rows,
					State:  e.app.Ctrl.State().String(),
				}
				if rootOpts.Format == "json" {
					if err := writeJSONLine(w, v); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(w, "%s %-14s rows=%d store=%s\n", v.Time, v.Reason, v.Rows, v.State)
			}
		},
	}
}
