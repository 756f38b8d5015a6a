// Package staging publishes bundles into a retention-bounded runs tree:
//
//	{staging_root}/index.html
//	{staging_root}/runs/{run_id}/{report.html, report.json, summary.json, metrics.csv, run.json}
//
// Runs are ordered by the generation time recorded in run.json. The newest
// keep_n runs are kept; permanent runs are never evicted.
package staging

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/idlab-discover/aoievidence-cli/internal/aoi"
	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
	"github.com/idlab-discover/aoievidence-cli/internal/bundle"
	"github.com/idlab-discover/aoievidence-cli/internal/digest"
	"github.com/idlab-discover/aoievidence-cli/internal/fsutil"
	"github.com/idlab-discover/aoievidence-cli/internal/report"
	"github.com/idlab-discover/aoievidence-cli/internal/telemetry"
)

const component = "staging"

// Staging tree names.
const (
	RunsDir               = "runs"
	IndexFile             = "index.html"
	RunFile               = "run.json"
	ReportHTMLName        = "report.html"
	DefaultReportJSONName = "report.json"
	SummaryName           = "summary.json"
	MetricsName           = "metrics.csv"
)

// DefaultPermanent lists the runs never subject to retention.
var DefaultPermanent = []string{"example"}

// ConfirmFunc is asked before runs are evicted. Returning false aborts the
// publish with apperr.ErrCancelled before anything is written.
type ConfirmFunc func(evict []string) (bool, error)

// Options configures a Publisher.
type Options struct {
	// ReportJSONName is the report file name inside a run.
	ReportJSONName string
	Permanent      []string
	Confirm        ConfirmFunc
	Metrics        *telemetry.PipelineMetrics
}

// Publisher writes runs under a staging root.
type Publisher struct {
	root      string
	opts      Options
	permanent map[string]bool
}

// StagedRun is the result of a publish.
type StagedRun struct {
	RunID string
	Dir   string
	Meta  RunMeta
	// Runs are the run ids present after publishing, newest first.
	Runs    []string
	Evicted []string
}

// New returns a Publisher for root.
func New(root string, opts Options) *Publisher {
	if opts.ReportJSONName == "" {
		opts.ReportJSONName = DefaultReportJSONName
	}
	if opts.Permanent == nil {
		opts.Permanent = DefaultPermanent
	}
	permanent := make(map[string]bool, len(opts.Permanent))
	for _, id := range opts.Permanent {
		permanent[id] = true
	}
	return &Publisher{root: root, opts: opts, permanent: permanent}
}

// Publish stages b as runID, applies retention and rebuilds the index. An
// empty runID uses the bundle id.
func (p *Publisher) Publish(ctx context.Context, b *bundle.Bundle, runID string, keepN int) (*StagedRun, error) {
	if runID == "" {
		runID = b.ID
	}
	if runID != aoi.SanitizeID(runID) || strings.HasPrefix(runID, ".") {
		return nil, apperr.Userf("invalid run id %q", runID)
	}
	if keepN < 0 {
		return nil, apperr.Userf("keep-n must not be negative, got %d", keepN)
	}
	name := p.opts.ReportJSONName
	if name != path.Base(name) || !strings.HasSuffix(name, ".json") || slices.Contains([]string{ReportHTMLName, SummaryName, RunFile}, name) {
		return nil, apperr.Userf("invalid report json name %q", name)
	}

	files, meta, err := p.runFiles(b, runID)
	if err != nil {
		return nil, err
	}

	runsDir := filepath.Join(p.root, RunsDir)
	existing, err := listRuns(runsDir, p.permanent)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	planned := slices.DeleteFunc(existing, func(r run) bool { return r.ID == runID })
	planned = append(planned, run{ID: runID, Time: orderTime(runID, meta), Meta: meta, Permanent: p.permanent[runID]})
	keep, evict := planRetention(planned, keepN)

	if len(evict) > 0 && p.opts.Confirm != nil {
		ok, err := p.opts.Confirm(runIDs(evict))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.ErrCancelled
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Join(runsDir, runID)
	if slices.ContainsFunc(evict, func(r run) bool { return r.ID == runID }) {
		logf(runID, "older than the newest %d runs, not staged", keepN)
	} else {
		if err := swapDir(runsDir, runID, files); err != nil {
			return nil, fmt.Errorf("stage run %s: %w", runID, err)
		}
		logf(runID, "staged %d file(s) into %s", len(files), dir)
	}

	for _, r := range evict {
		if err := os.RemoveAll(filepath.Join(runsDir, r.ID)); err != nil {
			return nil, fmt.Errorf("evict run %s: %w", r.ID, err)
		}
		logf(r.ID, "evicted")
	}

	index, err := renderIndex(keep, name)
	if err != nil {
		return nil, err
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(p.root, IndexFile), index, 0o644); err != nil {
		return nil, err
	}

	if err := p.checkRuns(runsDir, keep); err != nil {
		return nil, err
	}

	newestFirst(keep)
	staged := &StagedRun{
		RunID:   runID,
		Dir:     dir,
		Meta:    *meta,
		Runs:    runIDs(keep),
		Evicted: runIDs(evict),
	}
	p.opts.Metrics.RecordPublish(len(evict), len(keep))
	return staged, nil
}

// runFiles assembles the content of a run. Copied artifacts are checked
// against the bundle manifest.
func (p *Publisher) runFiles(b *bundle.Bundle, runID string) (map[string][]byte, *RunMeta, error) {
	if b.Report == nil || b.Manifest == nil {
		return nil, nil, fmt.Errorf("bundle %s is not loaded", b.ID)
	}
	files := make(map[string][]byte)
	copyArtifact := func(rel, name string, required bool) error {
		art, ok := b.Manifest.Lookup(rel)
		if !ok {
			if required {
				return fmt.Errorf("bundle %s has no %s", b.ID, rel)
			}
			return nil
		}
		data, err := b.ReadFile(rel)
		if err != nil {
			return err
		}
		if !digest.Verify(data, art.SHA256) {
			return fmt.Errorf("bundle %s: %s does not match its manifest digest", b.ID, rel)
		}
		files[name] = data
		return nil
	}
	if err := copyArtifact(bundle.ReportJSONPath(b.AOIID), p.opts.ReportJSONName, true); err != nil {
		return nil, nil, err
	}
	if err := copyArtifact(bundle.SummaryPath(b.AOIID), SummaryName, false); err != nil {
		return nil, nil, err
	}
	if err := copyArtifact(bundle.MetricsCSVPath(b.AOIID), MetricsName, false); err != nil {
		return nil, nil, err
	}

	links := make([]report.Link, 0, len(files))
	for name := range files {
		links = append(links, report.Link{Href: name, Label: name})
	}
	html, err := report.RenderHTML(b.Report, report.HTMLOptions{ReportJSONHref: p.opts.ReportJSONName, Artifacts: links})
	if err != nil {
		return nil, nil, err
	}
	files[ReportHTMLName] = html

	meta := &RunMeta{
		RunVersion:     RunVersion,
		RunID:          runID,
		BundleID:       b.ID,
		AOIID:          b.AOIID,
		GeneratedAtUTC: b.Report.GeneratedAtUTC,
		ReportJSON:     p.opts.ReportJSONName,
	}
	for name, data := range files {
		meta.Files = append(meta.Files, bundle.Artifact{Path: name, SHA256: digest.Bytes(data), SizeBytes: int64(len(data))})
	}
	sort.Slice(meta.Files, func(i, j int) bool { return meta.Files[i].Path < meta.Files[j].Path })

	runJSON, err := report.Canonical(meta)
	if err != nil {
		return nil, nil, err
	}
	files[RunFile] = runJSON
	return files, meta, nil
}

// swapDir writes files into a hidden temp dir and swaps it into runsDir/id.
// An existing run is replaced as a whole.
func swapDir(runsDir, id string, files map[string][]byte) error {
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(runsDir, "."+id+".new-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(tmp, name), data, 0o644); err != nil {
			return err
		}
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		return err
	}

	target := filepath.Join(runsDir, id)
	var old string
	if _, err := os.Stat(target); err == nil {
		old = tmp + ".old"
		if err := os.Rename(target, old); err != nil {
			return err
		}
	}
	if err := os.Rename(tmp, target); err != nil {
		if old != "" {
			_ = os.Rename(old, target)
		}
		return err
	}
	if old != "" {
		return os.RemoveAll(old)
	}
	return nil
}

// checkRuns verifies the runs tree holds exactly the expected runs.
func (p *Publisher) checkRuns(runsDir string, want []run) error {
	got, err := listRuns(runsDir, p.permanent)
	if err != nil {
		return err
	}
	gotIDs, wantIDs := runIDs(got), runIDs(want)
	sort.Strings(gotIDs)
	sort.Strings(wantIDs)
	if !slices.Equal(gotIDs, wantIDs) {
		return apperr.New(apperr.UnexpectedRunCount, component, strings.Join(gotIDs, ","),
			"expected runs [%s], found [%s]", strings.Join(wantIDs, ", "), strings.Join(gotIDs, ", "))
	}
	return nil
}
