package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/bikeble/inspector"
	"github.com/srg/bikeble/internal/catalog"
	"github.com/srg/bikeble/internal/groutine"
	"github.com/srg/bikeble/internal/session"
)

func newInspectCmd(a *app) *cobra.Command {
	var (
		asJSON  bool
		watch   bool
		byGroup bool
	)
	cmd := &cobra.Command{
		Use:   "inspect [device-address]",
		Short: "Discover the bike and print every decoded value",
		Long: `Connects to the bike, discovers the Bike Info and Stats services and prints
every characteristic grouped by service.

Examples:
  # Find the bike by its advertised name
  bikeble inspect

  # Connect by address and print an ordered JSON snapshot
  bikeble inspect aa:bb:cc:dd:ee:ff --json

  # Group values the way the bike app does (Battery, Lights, Motor, Versions)
  bikeble inspect --group

  # Keep printing notification updates until Ctrl+C
  bikeble inspect --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var address string
			if len(args) == 1 {
				address = args[0]
			}
			// All arguments validated - don't show usage on runtime errors
			cmd.SilenceUsage = true

			return a.withSession(cmd, address, "Inspecting", func(ctx context.Context, sess *session.Session) error {
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					if err := enc.Encode(inspector.Snapshot(sess)); err != nil {
						return err
					}
				} else if byGroup {
					printGroups(out, sess, catalog.Default())
				} else {
					printSession(out, sess)
				}
				if !watch {
					return nil
				}
				return watchSession(ctx, out, sess)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print an ordered JSON snapshot")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep printing notification updates until interrupted")
	cmd.Flags().BoolVar(&byGroup, "group", false, "Print values by display group instead of by service")
	return cmd
}

func printSession(out io.Writer, sess *session.Session) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()

	for i, sec := range sess.Sections() {
		if i > 0 {
			fmt.Fprintln(w)
		}
		phase, err := sec.Phase()
		if err != nil {
			fmt.Fprintf(w, "%s [%s: %v]\n", sec.Name(), color.RedString(phase.String()), err)
			continue
		}
		fmt.Fprintf(w, "%s [%s]\n", sec.Name(), phase)
		for _, c := range sec.Characteristics() {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", c.Name(), formatState(c.State()), annotations(c))
		}
	}
}

// printGroups prints every catalog entry under its display group.
// Entries of sections that failed to resolve are marked as such.
func printGroups(out io.Writer, sess *session.Session, reg *catalog.Registry) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()

	order, groups := reg.Groups()
	for i, g := range order {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, g)
		for _, d := range groups[g] {
			c, err := sess.Characteristic(d.Name)
			if err != nil {
				fmt.Fprintf(w, "  %s\t%s\t\n", d.Name, color.RedString("not resolved"))
				continue
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\n", c.Name(), formatState(c.State()), annotations(c))
		}
	}
}

func formatState(st session.State) string {
	switch {
	case st.Value == nil && st.Err != nil:
		return color.RedString("error: %v", st.Err)
	case st.Value == nil:
		return "-"
	case st.Pending:
		return color.YellowString("%s (pending)", st.Value)
	case st.Err != nil:
		return fmt.Sprintf("%s %s", st.Value, color.RedString("(error: %v)", st.Err))
	default:
		return st.Value.String()
	}
}

func annotations(c *session.LiveCharacteristic) string {
	var s string
	if c.State().Live {
		s += "live "
	}
	if c.Writable() {
		s += "writable "
	}
	if c.Descriptor().Unconfirmed {
		s += "unconfirmed"
	}
	return s
}

// watchSession prints every state change of every characteristic until ctx is done
// or the session closes.
func watchSession(ctx context.Context, out io.Writer, sess *session.Session) error {
	updates := make(chan string, 64)
	var workers groutine.Group
	for _, c := range sess.Characteristics() {
		if !c.Notifiable() {
			continue
		}
		stream := c.Watch()
		name := c.Name()
		workers.Go(ctx, "watch-"+name, func(ctx context.Context) {
			defer c.Unwatch(stream)
			first := true
			for {
				var st session.State
				select {
				case s, ok := <-stream.C():
					if !ok {
						return
					}
					st = s
				case <-ctx.Done():
					return
				}
				if first {
					// the current value was already printed
					first = false
					continue
				}
				select {
				case updates <- fmt.Sprintf("%s  %s: %s", st.UpdatedAt.Format(time.TimeOnly), name, formatState(st)):
				case <-ctx.Done():
					return
				}
			}
		})
	}

	for {
		select {
		case line := <-updates:
			fmt.Fprintln(out, line)
		case <-sess.Closed():
			workers.Wait()
			return ErrConnectionLost
		case <-ctx.Done():
			workers.Wait()
			return ctx.Err()
		}
	}
}
