package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/ternarybob/entitle/internal/models"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen <duration> <operations>",
	Short: "Issue order keys",
	Args:  cobra.ExactArgs(2),
	RunE:  issueKeys,
}

var keygenCount int

func init() {
	keygenCmd.Flags().IntVar(&keygenCount, "count", 1, "Number of keys to issue")
}

func issueKeys(cmd *cobra.Command, args []string) error {
	class, err := models.ParseDurationClass(args[0])
	if err != nil {
		return err
	}
	operations, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid operation count %q", args[1])
	}

	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	issued, err := application.KeyService.Issue(cmd.Context(), class, operations, keygenCount)
	if err != nil {
		return err
	}
	for _, key := range issued {
		fmt.Println(key.Code)
	}
	return nil
}
