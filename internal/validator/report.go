package validator

import "fmt"

// PrintReport writes the validation report to the configured logger writer.
// If no logger writer is configured, it produces no output.
func PrintReport(r ValidationResult) {
	if r.Valid {
		logf("✅ validation passed: %s", r.Subject)
	} else {
		logf("❌ validation failed: %s", r.Subject)
	}

	if len(r.Errors) > 0 {
		logf("errors (%d):", len(r.Errors))
		for _, err := range r.Errors {
			logf("  • %s", err)
		}
	}

	if len(r.Warnings) > 0 {
		logf("warnings (%d):", len(r.Warnings))
		for _, warn := range r.Warnings {
			logf("  • %s", warn)
		}
	}

	if r.ArtifactsChecked > 0 {
		logf("artifacts: %d checked, %d failed", r.ArtifactsChecked, r.ArtifactsFailed)
	}
}

// FormatSummary returns a formatted summary string of the validation result.
// This is useful for command output.
func FormatSummary(r ValidationResult) string {
	status := "✅ PASSED"
	if !r.Valid {
		status = "❌ FAILED"
	}
	if r.ArtifactsChecked > 0 {
		return fmt.Sprintf("Verification: %s | Artifacts: %d/%d ok | Errors: %d | Warnings: %d",
			status,
			r.ArtifactsChecked-r.ArtifactsFailed,
			r.ArtifactsChecked,
			len(r.Errors),
			len(r.Warnings))
	}
	return fmt.Sprintf("Validation: %s | Version: %s | Errors: %d | Warnings: %d",
		status,
		r.ReportVersion,
		len(r.Errors),
		len(r.Warnings))
}
