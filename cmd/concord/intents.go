package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hongjun500/concord-go/internal/protocol"
)

func newIntentsCommand() *cobra.Command {
	var privileged bool
	cmd := &cobra.Command{
		Use:   "intents [mask|NAME,NAME...]",
		Short: "convert between an intents bitmask and intent names",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, i := range protocol.AllIntents {
					if privileged && !i.Privileged() {
						continue
					}
					fmt.Fprintf(out, "%-32s %d\n", i, int(i))
				}
				return nil
			}
			set, err := protocol.ParseIntentSet(args[0])
			if err != nil {
				return err
			}
			names := make([]string, 0, set.Len())
			for _, i := range set.Intents() {
				names = append(names, i.String())
			}
			fmt.Fprintf(out, "%d %s\n", set.Bitmask(), strings.Join(names, ","))
			return nil
		},
	}
	cmd.Flags().BoolVar(&privileged, "privileged", false, "list only privileged intents")
	return cmd
}
