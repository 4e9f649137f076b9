package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/bikeble/internal/catalog"
)

func newCatalogCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the known services and characteristics",
		Long: `Lists every configured service and characteristic with its codec and flags.

Flags column:
  W  writable, followed by the accepted labels
  ?  unconfirmed decoding`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printCatalog(cmd, catalog.Default())
			return nil
		},
	}
}

func printCatalog(cmd *cobra.Command, reg *catalog.Registry) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()

	for i, svc := range reg.Services() {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s\t%s\n", svc.Name, svc.UUID)
		for j := range svc.Characteristics {
			d := &svc.Characteristics[j]
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", d.Name, d.UUID, d.Codec.Name(), catalogFlags(d))
		}
	}
}

func catalogFlags(d *catalog.CharacteristicDescriptor) string {
	var flags []string
	if e, ok := d.Enumerated(); ok && d.Writable {
		labels := make([]string, 0, len(e.Domain()))
		for _, v := range e.Domain() {
			labels = append(labels, v.String())
		}
		flags = append(flags, "W "+strings.Join(labels, "|"))
	}
	if d.Unconfirmed {
		flags = append(flags, "?")
	}
	return strings.Join(flags, " ")
}
