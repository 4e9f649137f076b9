package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/bikeble/internal/device"
	"github.com/srg/bikeble/internal/trace"
)

func newTraceCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "trace <file>",
		Short: "Decode an operation trace written with --trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open trace: %w", err)
			}
			defer f.Close()

			events, err := trace.ReadAll(f)
			if err != nil {
				return err
			}
			a.logger.WithField("events", len(events)).Debug("Trace decoded")

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}
			printTrace(cmd, events)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON")
	return cmd
}

func printTrace(cmd *cobra.Command, events []trace.Event) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "SEQ\tTIME\tPHASE\tOP\tTARGET\tWAITED\tTOOK\tERROR")
	for _, ev := range events {
		target := ev.Characteristic
		if target == "" {
			target = ev.Service
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Seq,
			ev.Timestamp.Format(time.TimeOnly+".000"),
			ev.Phase,
			ev.Op,
			device.ShortenUUID(device.NormalizeUUID(target)),
			durationOrDash(ev.Waited),
			durationOrDash(ev.Took),
			ev.Error,
		)
	}
}

func durationOrDash(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.String()
}
