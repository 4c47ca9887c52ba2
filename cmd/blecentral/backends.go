package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/internal/adapter"
	_ "github.com/srg/blecentral/internal/adapter/goble"
)

// backendsCmd represents the backends command
var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the radio backends compiled into this binary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, name := range adapter.Backends() {
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
				return err
			}
		}
		return nil
	},
}
