package main

import (
	"fmt"

	"github.com/aretw0/filedrop"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of filedrop",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "filedrop version %s\n", filedrop.Version)
		},
	}
}
