package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/bikeble/internal/session"
)

func newReadCmd(a *app) *cobra.Command {
	var describe bool
	cmd := &cobra.Command{
		Use:   "read <device-address> <name|uuid>",
		Short: "Read one characteristic",
		Long: `Discovers the bike and prints the decoded value of one characteristic.

Examples:
  bikeble read aa:bb:cc:dd:ee:ff "Battery Charge"
  bikeble read aa:bb:cc:dd:ee:ff 105c6761-74bf-4ffe-94ea-f8ba79f20615
  bikeble read aa:bb:cc:dd:ee:ff "Lights Mode" --describe`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return a.withSession(cmd, args[0], "Reading", func(ctx context.Context, sess *session.Session) error {
				c, err := sess.Characteristic(args[1])
				if err != nil {
					return err
				}
				opCtx, cancel := a.operationContext(ctx)
				defer cancel()

				// discovery already read the value; re-read so the output is fresh
				v, err := c.Refresh(opCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", c.Name(), v)

				if describe {
					text, err := c.Describe(opCtx)
					if err != nil {
						a.logger.WithError(err).Debug("User description unavailable")
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Description: %s\n", text)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&describe, "describe", false, "Also print the characteristic user description when available")
	return cmd
}
