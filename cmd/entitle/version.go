package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/entitle/internal/common"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Entitle version %s\n", common.GetFullVersion())
	},
}
