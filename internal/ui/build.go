package ui

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// BuildSummary is what the build command reports once a bundle exists.
type BuildSummary struct {
	BundleID  string
	Dir       string
	Artifacts int
	Reused    bool
	TileCount int
	Status    string
}

// BuildUI provides a rich UI for the build command
type BuildUI struct {
	writer    io.Writer
	quiet     bool
	workflow  *Workflow
	startTime time.Time
	stages    map[string]int
}

// NewBuildUI creates a new UI handler for the build command
func NewBuildUI(w io.Writer, quiet bool) *BuildUI {
	return &BuildUI{
		writer:    w,
		quiet:     quiet,
		startTime: time.Now(),
		stages:    map[string]int{},
	}
}

// StartWorkflow shows one task per pipeline stage, labelled by title.
func (b *BuildUI) StartWorkflow(stages []string, titles map[string]string) {
	if b.quiet {
		return
	}

	b.startTime = time.Now()
	b.workflow = NewWorkflow(b.writer, "Building evidence bundle")
	for _, s := range stages {
		title := titles[s]
		if title == "" {
			title = s
		}
		b.stages[s] = b.workflow.AddTask(title)
	}
	b.workflow.Start()
}

func (b *BuildUI) task(stage string) (int, bool) {
	if b.quiet || b.workflow == nil {
		return 0, false
	}
	idx, ok := b.stages[stage]
	return idx, ok
}

// StartStage marks a stage as running
func (b *BuildUI) StartStage(stage, message string) {
	if idx, ok := b.task(stage); ok {
		b.workflow.StartTask(idx, Dim.Render(message))
	}
}

// CompleteStage marks a stage as done
func (b *BuildUI) CompleteStage(stage, details string) {
	if idx, ok := b.task(stage); ok {
		b.workflow.CompleteTask(idx, details)
	}
}

// FailStage marks a stage as failed
func (b *BuildUI) FailStage(stage, errMsg string) {
	if idx, ok := b.task(stage); ok {
		b.workflow.FailTask(idx, errMsg)
	}
}

// SkipStage marks a stage as skipped
func (b *BuildUI) SkipStage(stage, reason string) {
	if idx, ok := b.task(stage); ok {
		b.workflow.SkipTask(idx, reason)
	}
}

// FinishWorkflow completes the workflow display
func (b *BuildUI) FinishWorkflow() {
	if b.quiet || b.workflow == nil {
		return
	}
	b.workflow.Stop()
}

// PrintSummary prints a final summary
func (b *BuildUI) PrintSummary(s BuildSummary) {
	if b.quiet {
		return
	}

	elapsed := time.Since(b.startTime)

	fmt.Fprintln(b.writer)

	var summary strings.Builder
	if s.Reused {
		summary.WriteString(Success.Bold(true).Render("Bundle Unchanged"))
	} else {
		summary.WriteString(Success.Bold(true).Render("Bundle Complete"))
	}
	summary.WriteString("\n\n")
	summary.WriteString(FormatKeyValue("Bundle", Highlight.Render(s.BundleID)))
	summary.WriteString("\n")
	summary.WriteString(FormatKeyValue("Directory", s.Dir))
	summary.WriteString("\n")
	summary.WriteString(FormatKeyValue("Artifacts", fmt.Sprintf("%d", s.Artifacts)))
	summary.WriteString("\n")
	summary.WriteString(FormatKeyValue("Tiles", fmt.Sprintf("%d", s.TileCount)))
	summary.WriteString("\n")
	if s.Status != "" && s.Status != "ok" {
		summary.WriteString(FormatKeyValue("Metrics", Warning.Render(s.Status)))
		summary.WriteString("\n")
	}
	summary.WriteString(FormatKeyValue("Duration", elapsed.Round(time.Millisecond).String()))

	fmt.Fprintln(b.writer, SuccessBox.Render(summary.String()))
}
