package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/bikeble/internal/device"
	"github.com/srg/bikeble/internal/session"
)

func newSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <device-address> <name|uuid> <label>",
		Short: "Write an enumerated label to a writable characteristic",
		Long: `Writes one of the accepted labels to Lights Status, Lights Mode or Electric Assist Mode.
Run 'bikeble catalog' for the accepted labels.

Examples:
  bikeble set aa:bb:cc:dd:ee:ff "Lights Mode" Auto
  bikeble set aa:bb:cc:dd:ee:ff "Electric Assist Mode" 2`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return a.withSession(cmd, args[0], "Writing", func(ctx context.Context, sess *session.Session) error {
				c, err := sess.Characteristic(args[1])
				if err != nil {
					return err
				}
				if !c.Writable() {
					return fmt.Errorf("%s is read-only: %w", c.Name(), device.ErrUnsupported)
				}
				opCtx, cancel := a.operationContext(ctx)
				defer cancel()

				before := c.State()
				if err := c.Write(opCtx, args[2]); err != nil {
					return err
				}
				after := c.State()

				prev := "-"
				if before.Value != nil {
					prev = before.Value.String()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", c.Name(), prev, after.Value)
				a.logger.WithField("accepted", strings.Join(labels(c), ",")).Debug("Write settled")
				return nil
			})
		},
	}
}

func labels(c *session.LiveCharacteristic) []string {
	var out []string
	for _, v := range c.Domain() {
		out = append(out, v.String())
	}
	return out
}
