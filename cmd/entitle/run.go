package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/ternarybob/entitle/internal/models"
)

var runCmd = &cobra.Command{
	Use:   "run <target>",
	Short: "Execute one order against a target invite",
	Long: `Executes one order. The order comes either from an order key (--key)
or from --duration and --operations. Credentials are drawn from the inventory
unless --credentials-file names an explicit list.`,
	Args: cobra.ExactArgs(1),
	RunE: runOrder,
}

var (
	runKey             string
	runDuration        string
	runOperations      int
	runResourceID      string
	runCredentialsFile string
	runNickname        string
	runBio             string
	runPronouns        string
	runAvatar          string
	runBanner          string
)

func init() {
	runCmd.Flags().StringVar(&runKey, "key", "", "Order key to redeem")
	runCmd.Flags().StringVarP(&runDuration, "duration", "d", "", "Duration class: 1 or 3 months")
	runCmd.Flags().IntVarP(&runOperations, "operations", "n", 0, "Number of grants")
	runCmd.Flags().StringVar(&runResourceID, "resource-id", "", "Known resource id, skips invite resolution")
	runCmd.Flags().StringVar(&runCredentialsFile, "credentials-file", "", "Explicit credential list, one per line")
	runCmd.Flags().StringVar(&runNickname, "nickname", "", "Member nickname to set after granting")
	runCmd.Flags().StringVar(&runBio, "bio", "", "Profile bio to set after granting")
	runCmd.Flags().StringVar(&runPronouns, "pronouns", "", "Profile pronouns to set after granting")
	runCmd.Flags().StringVar(&runAvatar, "avatar", "", "Avatar image path")
	runCmd.Flags().StringVar(&runBanner, "banner", "", "Banner image path")
	runCmd.MarkFlagsMutuallyExclusive("key", "duration")
	runCmd.MarkFlagsMutuallyExclusive("key", "operations")
	runCmd.MarkFlagsMutuallyExclusive("key", "credentials-file")
}

func runOrder(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx := cmd.Context()
	target := args[0]

	var customization *models.Customization
	c := &models.Customization{Nickname: runNickname, Bio: runBio, Pronouns: runPronouns, Avatar: runAvatar, Banner: runBanner}
	if !c.IsEmpty() {
		customization = c
	}

	var report *models.ResultReport
	if runKey != "" {
		report, err = application.RedeemAndRun(ctx, runKey, target, customization)
		if err != nil {
			return fmt.Errorf("failed to redeem key: %w", err)
		}
	} else {
		class, err := models.ParseDurationClass(runDuration)
		if err != nil {
			return err
		}
		req := &models.WorkRequest{
			Target:        target,
			ResourceID:    runResourceID,
			DurationClass: class,
			Operations:    runOperations,
			Customization: customization,
		}
		if runCredentialsFile != "" {
			creds, err := readLines(runCredentialsFile)
			if err != nil {
				return err
			}
			req.Credentials = creds
		}
		if err := req.Validate(); err != nil {
			return err
		}
		report = application.RunOrder(ctx, req)
	}

	if err := printJSON(report); err != nil {
		return err
	}
	if !report.Success {
		return fmt.Errorf("order %s: %s", report.OrderID, report.Message)
	}
	return nil
}

// readLines returns the non-blank lines of path
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
