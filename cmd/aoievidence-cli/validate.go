package cmd

import (
	"github.com/spf13/cobra"

	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
	"github.com/idlab-discover/aoievidence-cli/internal/validator"
)

var validateCmd = &cobra.Command{
	Use:   "validate <report.json>",
	Short: "Validate a report document",
	Long:  "Checks that an AOI report JSON carries the required keys of its report version, rounded metric values and well-formed artifact digests.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		quiet, err := setupLogging(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		result, err := validator.ValidateFromFile(args[0])
		if err != nil {
			return apperr.Userf("failed to read report: %v", err)
		}
		validator.PrintReport(result)
		return finishValidation(cmd, result, quiet, "validation failed")
	},
}
