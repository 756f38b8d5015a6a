package staging

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/idlab-discover/aoievidence-cli/internal/bundle"
	"github.com/idlab-discover/aoievidence-cli/internal/report"
)

// RunVersion identifies the run.json layout.
const RunVersion = "staged_run_v1"

// RunMeta is the content of a run's run.json.
type RunMeta struct {
	RunVersion     string            `json:"run_version"`
	RunID          string            `json:"run_id"`
	BundleID       string            `json:"bundle_id"`
	AOIID          string            `json:"aoi_id"`
	GeneratedAtUTC string            `json:"generated_at_utc"`
	ReportJSON     string            `json:"report_json"`
	Files          []bundle.Artifact `json:"files"`
}

// HasFile reports whether the run contains name.
func (m *RunMeta) HasFile(name string) bool {
	for _, f := range m.Files {
		if f.Path == name {
			return true
		}
	}
	return false
}

// run is a staged run directory as seen during retention.
type run struct {
	ID        string
	Time      time.Time
	Meta      *RunMeta
	Permanent bool
}

var runStamp = regexp.MustCompile(`\d{8}T\d{6}Z`)

// orderTime is the retention ordering key of a run: generated_at_utc from
// run.json, else a timestamp in the run id, else the epoch. Filesystem
// times are never used.
func orderTime(id string, meta *RunMeta) time.Time {
	if meta != nil {
		if t, err := time.Parse(report.TimeLayout, meta.GeneratedAtUTC); err == nil {
			return t
		}
	}
	if s := runStamp.FindString(id); s != "" {
		if t, err := time.Parse(bundle.IDTimeLayout, s); err == nil {
			return t
		}
	}
	return time.Unix(0, 0).UTC()
}

// newestFirst orders runs by time, newest first, ties by run id descending.
func newestFirst(runs []run) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].Time.Equal(runs[j].Time) {
			return runs[i].Time.After(runs[j].Time)
		}
		return runs[i].ID > runs[j].ID
	})
}

// listRuns reads every run directory under runsDir. Hidden directories are
// in-flight swaps and are ignored.
func listRuns(runsDir string, permanent map[string]bool) ([]run, error) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var runs []run
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		meta, _ := readRunMeta(filepath.Join(runsDir, e.Name()))
		runs = append(runs, run{
			ID:        e.Name(),
			Time:      orderTime(e.Name(), meta),
			Meta:      meta,
			Permanent: permanent[e.Name()],
		})
	}
	return runs, nil
}

func readRunMeta(dir string) (*RunMeta, error) {
	b, err := os.ReadFile(filepath.Join(dir, RunFile))
	if err != nil {
		return nil, err
	}
	var m RunMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// planRetention splits runs into kept and evicted. keepN <= 0 keeps all.
// Permanent runs are always kept and do not count towards keepN.
func planRetention(runs []run, keepN int) (keep, evict []run) {
	sorted := append([]run(nil), runs...)
	newestFirst(sorted)
	n := 0
	for _, r := range sorted {
		switch {
		case r.Permanent, keepN <= 0:
			keep = append(keep, r)
		case n < keepN:
			keep = append(keep, r)
			n++
		default:
			evict = append(evict, r)
		}
	}
	return keep, evict
}

func runIDs(runs []run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}
