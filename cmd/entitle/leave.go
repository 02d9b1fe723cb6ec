package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/ternarybob/entitle/internal/models"
)

var leaveCmd = &cobra.Command{
	Use:   "leave <resource-id>",
	Short: "Remove credentials from a resource",
	Long: `Removes each credential from the resource, dropping what it granted there.
Credentials come from --credentials-file, or from the at-rest inventory of
--duration. The inventory itself is not changed.`,
	Args: cobra.ExactArgs(1),
	RunE: leaveResource,
}

var (
	leaveDuration        string
	leaveCredentialsFile string
	leaveWorkers         int
)

func init() {
	leaveCmd.Flags().StringVarP(&leaveDuration, "duration", "d", "", "Use the inventory of this duration class: 1 or 3 months")
	leaveCmd.Flags().StringVar(&leaveCredentialsFile, "credentials-file", "", "Explicit credential list, one per line")
	leaveCmd.Flags().IntVar(&leaveWorkers, "workers", 0, "Concurrent leave calls (default 50)")
	leaveCmd.MarkFlagsMutuallyExclusive("duration", "credentials-file")
	leaveCmd.MarkFlagsOneRequired("duration", "credentials-file")
}

func leaveResource(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	var credentials []string
	if leaveCredentialsFile != "" {
		if credentials, err = readLines(leaveCredentialsFile); err != nil {
			return err
		}
	} else {
		class, err := models.ParseDurationClass(leaveDuration)
		if err != nil {
			return err
		}
		scope := models.ScopeOne
		if class == models.DurationThreeMonths {
			scope = models.ScopeThree
		}
		snapshot, err := application.CredentialStore.Fetch(scope)
		if err != nil {
			return err
		}
		for _, line := range snapshot.Classes[class].Available {
			credentials = append(credentials, line)
		}
		sort.Strings(credentials)
	}

	report := application.Release(cmd.Context(), args[0], credentials, leaveWorkers)
	if err := printJSON(report); err != nil {
		return err
	}
	if report.Error != "" {
		return fmt.Errorf("leave failed: %s", report.Error)
	}
	return nil
}
