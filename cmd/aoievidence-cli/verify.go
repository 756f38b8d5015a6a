package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
	"github.com/idlab-discover/aoievidence-cli/internal/ui"
	"github.com/idlab-discover/aoievidence-cli/internal/validator"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <bundle-dir>",
	Short: "Verify the digests and report of an evidence bundle",
	Long:  "Recomputes the digest of every artifact listed in a bundle manifest, checks the manifest sidecar, validates the report document and compares the provenance BOM with the tiles manifest.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		quiet, err := setupLogging(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		result, err := validator.VerifyBundle(args[0])
		if err != nil {
			return apperr.Userf("failed to read bundle: %v", err)
		}
		validator.PrintReport(result)
		return finishValidation(cmd, result, quiet, "verification failed")
	},
}

// finishValidation renders result and fails when it is not valid.
func finishValidation(cmd *cobra.Command, result validator.ValidationResult, quiet bool, failMsg string) error {
	ui.NewValidationUI(cmd.OutOrStdout(), quiet).PrintReport(validationReport(result))
	if quiet {
		fmt.Fprintln(cmd.ErrOrStderr(), validator.FormatSummary(result))
	}
	if !result.Valid {
		return fmt.Errorf("%s", failMsg)
	}
	return nil
}

func validationReport(r validator.ValidationResult) ui.ValidationReport {
	return ui.ValidationReport{
		Subject:          r.Subject,
		ReportVersion:    r.ReportVersion,
		Valid:            r.Valid,
		Errors:           r.Errors,
		Warnings:         r.Warnings,
		ArtifactsChecked: r.ArtifactsChecked,
		ArtifactsFailed:  r.ArtifactsFailed,
	}
}
