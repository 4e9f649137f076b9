package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/bikeble/internal/device"
	"github.com/srg/bikeble/internal/session"
	"golang.org/x/time/rate"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		interval time.Duration
		count    int
	)
	cmd := &cobra.Command{
		Use:   "watch <device-address> <name|uuid>",
		Short: "Periodically re-read one characteristic",
		Long: `Re-reads one characteristic at a fixed pace and prints each value until
interrupted or --count reads were made. Read failures are printed and the
next read is attempted at the next tick.

Examples:
  bikeble watch aa:bb:cc:dd:ee:ff "Akku Voltage" --interval 2s
  bikeble watch aa:bb:cc:dd:ee:ff "Battery Charge" --count 10`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("invalid watch interval: %s", interval)
			}
			cmd.SilenceUsage = true
			return a.withSession(cmd, args[0], "Watching", func(ctx context.Context, sess *session.Session) error {
				c, err := sess.Characteristic(args[1])
				if err != nil {
					return err
				}
				return a.pollCharacteristic(ctx, cmd, c, rate.NewLimiter(rate.Every(interval), 1), count)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Time between reads")
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many reads (0 = until interrupted)")
	return cmd
}

func (a *app) pollCharacteristic(ctx context.Context, cmd *cobra.Command, c *session.LiveCharacteristic, limiter *rate.Limiter, count int) error {
	out := cmd.OutOrStdout()
	for n := 0; count == 0 || n < count; n++ {
		if err := limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		opCtx, cancel := a.operationContext(ctx)
		v, err := c.Refresh(opCtx)
		cancel()

		ts := time.Now().Format(time.TimeOnly)
		switch {
		case errors.Is(err, device.ErrDisconnected):
			return ErrConnectionLost
		case err != nil:
			fmt.Fprintf(out, "%s  %s: %s\n", ts, c.Name(), formatState(session.State{Err: err}))
		default:
			fmt.Fprintf(out, "%s  %s: %s\n", ts, c.Name(), v)
		}
	}
	return nil
}
