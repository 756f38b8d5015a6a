package ui

import (
	"fmt"
	"io"
	"strings"
)

// ValidationReport mirrors the structure from internal/validator
// to avoid circular imports
type ValidationReport struct {
	Subject          string
	ReportVersion    string
	Valid            bool
	Errors           []string
	Warnings         []string
	ArtifactsChecked int
	ArtifactsFailed  int
}

// ValidationUI provides a rich UI for the validate and verify commands
type ValidationUI struct {
	writer io.Writer
	quiet  bool
}

// NewValidationUI creates a new UI handler for the validation commands
func NewValidationUI(w io.Writer, quiet bool) *ValidationUI {
	return &ValidationUI{
		writer: w,
		quiet:  quiet,
	}
}

// PrintReport renders a validation report in a status box
func (v *ValidationUI) PrintReport(report ValidationReport) {
	if v.quiet {
		return
	}

	var output strings.Builder

	if report.Valid {
		output.WriteString(Success.Bold(true).Render("✓ Validation Passed"))
	} else {
		output.WriteString(Error.Bold(true).Render("✗ Validation Failed"))
	}
	output.WriteString("\n\n")

	output.WriteString(v.renderSubject(report))

	if len(report.Errors) > 0 {
		output.WriteString("\n\n")
		output.WriteString(v.renderErrors(report.Errors))
	}

	if len(report.Warnings) > 0 {
		output.WriteString("\n\n")
		output.WriteString(v.renderWarnings(report.Warnings))
	}

	var boxed string
	if report.Valid {
		boxed = SuccessBox.Render(output.String())
	} else {
		boxed = ErrorBox.Render(output.String())
	}
	fmt.Fprintln(v.writer, boxed)
}

// renderSubject creates the header section
func (v *ValidationUI) renderSubject(report ValidationReport) string {
	var sb strings.Builder

	sb.WriteString(SectionHeader.Render("Subject"))
	sb.WriteString("\n")
	if report.Subject != "" {
		sb.WriteString(FormatKeyValue("Path", Highlight.Render(report.Subject)))
		sb.WriteString("\n")
	}
	if report.ReportVersion != "" {
		sb.WriteString(FormatKeyValue("Report version", report.ReportVersion))
		sb.WriteString("\n")
	}

	if report.ArtifactsChecked > 0 {
		ok := report.ArtifactsChecked - report.ArtifactsFailed
		score := float64(ok) / float64(report.ArtifactsChecked)
		sb.WriteString(FormatKeyValue("Artifacts", v.renderProgressBar(score, 40)+" "+
			v.styleByScore(score, fmt.Sprintf("%d/%d", ok, report.ArtifactsChecked))))
	} else {
		sb.WriteString(Dim.Render("(report document only)"))
	}

	return sb.String()
}

// renderErrors creates the errors section
func (v *ValidationUI) renderErrors(errors []string) string {
	var sb strings.Builder

	sb.WriteString(Error.Render(fmt.Sprintf("▼ Errors (%d)", len(errors))))
	sb.WriteString("\n")
	for _, err := range errors {
		sb.WriteString("  ")
		sb.WriteString(GetCrossMark())
		sb.WriteString(" ")
		sb.WriteString(err)
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

// renderWarnings creates the warnings section
func (v *ValidationUI) renderWarnings(warnings []string) string {
	var sb strings.Builder

	sb.WriteString(Warning.Render(fmt.Sprintf("▼ Warnings (%d)", len(warnings))))
	sb.WriteString("\n")
	for _, warn := range warnings {
		sb.WriteString("  ")
		sb.WriteString(GetWarnMark())
		sb.WriteString(" ")
		sb.WriteString(Dim.Render(warn))
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

// renderProgressBar creates a visual progress bar
func (v *ValidationUI) renderProgressBar(score float64, width int) string {
	filled := int(score * float64(width))
	empty := width - filled
	return v.styleByScore(score, strings.Repeat("█", filled)+strings.Repeat("░", empty))
}

func (v *ValidationUI) styleByScore(score float64, s string) string {
	switch {
	case score >= 1:
		return Success.Render(s)
	case score >= 0.5:
		return Warning.Render(s)
	default:
		return Error.Render(s)
	}
}
