package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
)

// PublishSummary is what the publish command reports after staging.
type PublishSummary struct {
	RunID   string
	Dir     string
	Runs    []string
	Evicted []string
}

// PublishUI renders staging output and the eviction prompt
type PublishUI struct {
	writer io.Writer
	quiet  bool
}

// NewPublishUI creates a new UI handler for the publish command
func NewPublishUI(w io.Writer, quiet bool) *PublishUI {
	return &PublishUI{writer: w, quiet: quiet}
}

// PreviewEviction lists the runs retention is about to delete.
func (p *PublishUI) PreviewEviction(evict []string) {
	var sb strings.Builder
	sb.WriteString(Warning.Bold(true).Render(fmt.Sprintf("Retention will delete %d staged run(s)", len(evict))))
	sb.WriteString("\n")
	for _, id := range evict {
		sb.WriteString("\n  ")
		sb.WriteString(GetBullet())
		sb.WriteString(" ")
		sb.WriteString(id)
	}
	fmt.Fprintln(p.writer, Box.Render(sb.String()))
}

// ConfirmEviction previews the evictions and asks before deleting anything.
func (p *PublishUI) ConfirmEviction(evict []string) (bool, error) {
	p.PreviewEviction(evict)

	var confirm bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Delete these runs?").
				Description("Staged runs beyond the retention window are removed from the staging root.").
				Value(&confirm).
				Affirmative("Yes").
				Negative("No"),
		),
	)
	if err := form.Run(); err != nil {
		return false, err
	}
	return confirm, nil
}

// PrintSummary prints the staged run and the runs that remain.
func (p *PublishUI) PrintSummary(s PublishSummary) {
	if p.quiet {
		return
	}

	var sb strings.Builder
	sb.WriteString(Success.Bold(true).Render("Run Staged"))
	sb.WriteString("\n\n")
	sb.WriteString(FormatKeyValue("Run", Highlight.Render(s.RunID)))
	sb.WriteString("\n")
	sb.WriteString(FormatKeyValue("Directory", s.Dir))
	sb.WriteString("\n")
	sb.WriteString(FormatKeyValue("Runs kept", fmt.Sprintf("%d", len(s.Runs))))
	if len(s.Evicted) > 0 {
		sb.WriteString("\n")
		sb.WriteString(FormatKeyValue("Evicted", strings.Join(s.Evicted, ", ")))
	}
	fmt.Fprintln(p.writer, SuccessBox.Render(sb.String()))
}
