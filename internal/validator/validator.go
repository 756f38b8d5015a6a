// Package validator checks report documents against their schema version
// and verifies bundles against their manifests.
package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/idlab-discover/aoievidence-cli/internal/digest"
	"github.com/idlab-discover/aoievidence-cli/internal/report"
)

// ValidationResult collects the findings of a validation run.
type ValidationResult struct {
	Subject       string
	ReportVersion string
	Valid         bool
	Errors        []string
	Warnings      []string

	// Bundle verification counters
	ArtifactsChecked int
	ArtifactsFailed  int
}

func (r *ValidationResult) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) finish() {
	r.Valid = len(r.Errors) == 0
}

// RequiredKeys returns the top-level keys a report version must carry.
func RequiredKeys(version string) ([]string, bool) {
	v1 := []string{
		"report_version", "generated_at_utc", "bundle_id", "aoi_id", "aoi_geometry_ref",
		"inputs", "metrics", "evidence_artifacts", "policy_mapping_refs",
	}
	switch version {
	case report.Version1:
		return v1, true
	case report.Version2:
		return append(v1, "report_metadata", "evidence_registry", "acceptance_criteria",
			"assumptions", "regulatory_traceability"), true
	default:
		return nil, false
	}
}

// ValidateReport checks a report document. Unknown fields are tolerated.
func ValidateReport(raw []byte) (r ValidationResult) {
	// Named result so the deferred finish sets Valid on what is returned.
	defer r.finish()

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		r.errorf("report is not a JSON object: %v", err)
		return r
	}

	version, _ := doc["report_version"].(string)
	r.ReportVersion = version
	required, ok := RequiredKeys(version)
	if !ok {
		r.errorf("unsupported report_version %q", version)
		return r
	}
	if version == report.Version1 {
		r.warnf("legacy report version %s", version)
	}
	for _, key := range required {
		if _, ok := doc[key]; !ok {
			r.errorf("missing required key %q", key)
		}
	}

	for _, key := range []string{"bundle_id", "aoi_id"} {
		if v, ok := doc[key]; ok {
			if s, _ := v.(string); s == "" {
				r.errorf("%s must be a non-empty string", key)
			}
		}
	}
	if v, ok := doc["generated_at_utc"]; ok {
		s, _ := v.(string)
		if _, err := time.Parse(report.TimeLayout, s); err != nil {
			r.errorf("generated_at_utc %q is not a UTC timestamp (%s)", s, report.TimeLayout)
		}
	}
	if v, ok := doc["aoi_geometry_ref"]; ok {
		checkGeometryRef(&r, v)
	}
	if v, ok := doc["metrics"]; ok {
		checkMetrics(&r, v)
	}
	if v, ok := doc["evidence_artifacts"]; ok {
		checkArtifacts(&r, v)
	}
	if v, ok := doc["policy_mapping_refs"]; ok {
		refs, isList := v.([]any)
		if !isList {
			r.errorf("policy_mapping_refs must be an array")
		}
		for i, ref := range refs {
			if s, _ := ref.(string); s == "" {
				r.errorf("policy_mapping_refs[%d] must be a non-empty string", i)
			}
		}
	}
	return r
}

func checkGeometryRef(r *ValidationResult, v any) {
	ref, ok := v.(map[string]any)
	if !ok {
		r.errorf("aoi_geometry_ref must be an object")
		return
	}
	for _, key := range []string{"kind", "value"} {
		if s, _ := ref[key].(string); s == "" {
			r.errorf("aoi_geometry_ref.%s is required", key)
		}
	}
	if sum, ok := ref["sha256"].(string); ok && !digest.IsHex(sum) {
		r.errorf("aoi_geometry_ref.sha256 %q is not a SHA-256 digest", sum)
	}
}

func checkMetrics(r *ValidationResult, v any) {
	metrics, ok := v.(map[string]any)
	if !ok {
		r.errorf("metrics must be an object")
		return
	}
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m, ok := metrics[name].(map[string]any)
		if !ok {
			r.errorf("metrics.%s must be an object", name)
			continue
		}
		if s, _ := m["unit"].(string); s == "" {
			r.errorf("metrics.%s.unit is required", name)
		}
		status, _ := m["status"].(string)
		switch status {
		case report.StatusOK, "":
			n, ok := m["value"].(json.Number)
			if !ok {
				r.errorf("metrics.%s.value must be a number", name)
				continue
			}
			f, err := n.Float64()
			if err != nil {
				r.errorf("metrics.%s.value %s is not a number", name, n)
				continue
			}
			if report.Round(f) != f {
				r.errorf("metrics.%s.value %s is not rounded to %d decimals", name, n, report.Precision)
			}
		case report.StatusError:
			e, _ := m["error"].(map[string]any)
			if kind, _ := e["kind"].(string); kind == "" {
				r.errorf("metrics.%s has status error without error.kind", name)
			}
			if _, hasValue := m["value"]; hasValue {
				r.errorf("metrics.%s has status error but carries a value", name)
			}
		default:
			r.errorf("metrics.%s.status %q is unknown", name, status)
		}
	}
}

func checkArtifacts(r *ValidationResult, v any) {
	list, ok := v.([]any)
	if !ok {
		r.errorf("evidence_artifacts must be an array")
		return
	}
	prev := ""
	for i, item := range list {
		a, ok := item.(map[string]any)
		if !ok {
			r.errorf("evidence_artifacts[%d] must be an object", i)
			continue
		}
		path, _ := a["relpath"].(string)
		if path == "" {
			r.errorf("evidence_artifacts[%d].relpath is required", i)
		}
		if sum, _ := a["sha256"].(string); !digest.IsHex(sum) {
			r.errorf("evidence_artifacts[%d].sha256 %q is not a SHA-256 digest", i, sum)
		}
		if n, ok := a["size_bytes"].(json.Number); !ok || strings.HasPrefix(n.String(), "-") {
			r.errorf("evidence_artifacts[%d].size_bytes must be a non-negative integer", i)
		}
		if path != "" && path < prev {
			r.warnf("evidence_artifacts are not sorted by relpath at %q", path)
		}
		prev = path
	}
}

// ValidateFromFile reads and validates a report document.
func ValidateFromFile(path string) (ValidationResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ValidationResult{}, err
	}
	r := ValidateReport(raw)
	r.Subject = path
	return r, nil
}
