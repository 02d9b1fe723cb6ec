package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/entitle/internal/common"
	"github.com/ternarybob/entitle/internal/models"
)

var auditCmd = &cobra.Command{
	Use:   "audit [1|3]",
	Short: "Check stored credentials and optionally purge unusable ones",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAudit,
}

var serveAuditCmd = &cobra.Command{
	Use:   "serve-audit",
	Short: "Purge unusable credentials on the configured cron schedule",
	Args:  cobra.NoArgs,
	RunE:  serveAudit,
}

var (
	auditPurge bool
	auditNow   bool
)

func init() {
	auditCmd.Flags().BoolVar(&auditPurge, "purge", false, "Remove invalid and spent credentials")
	serveAuditCmd.Flags().BoolVar(&auditNow, "now", false, "Run once immediately before waiting for the schedule")
}

func runAudit(cmd *cobra.Command, args []string) error {
	classes := models.DurationClasses
	if len(args) == 1 {
		class, err := models.ParseDurationClass(args[0])
		if err != nil {
			return err
		}
		classes = []models.DurationClass{class}
	}

	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx := cmd.Context()
	for _, class := range classes {
		if auditPurge {
			res, err := application.AuditService.Purge(ctx, class)
			if err != nil {
				return err
			}
			if err := printJSON(res); err != nil {
				return err
			}
			continue
		}

		report, err := application.AuditService.Check(ctx, class)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d usable, %d no capacity, %d invalid, %d unknown\n",
			class, len(report.Usable), len(report.NoCapacity), len(report.Invalid), len(report.Unknown))
	}
	return nil
}

func serveAudit(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx := cmd.Context()
	if err := application.AuditScheduler.Start(config.Audit.Schedule); err != nil {
		return err
	}
	if auditNow {
		common.SafeGo(logger, "audit-initial", func() {
			if _, err := application.AuditScheduler.RunNow(ctx); err != nil {
				logger.Warn().Err(err).Msg("Initial audit failed")
			}
		})
	}
	logger.Info().
		Str("schedule", config.Audit.Schedule).
		Str("next_run", application.AuditScheduler.NextRun().String()).
		Msg("Audit service ready - Press Ctrl+C to stop")

	<-ctx.Done()
	logger.Info().Msg("Interrupt signal received")
	return nil
}
