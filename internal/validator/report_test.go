package validator

import (
	"bytes"
	"strings"
	"testing"
)

func TestFormatSummary(t *testing.T) {
	tests := []struct {
		name string
		res  ValidationResult
		want string
	}{
		{
			name: "passed",
			res: ValidationResult{
				Valid:         true,
				ReportVersion: "aoi_report_v2",
				Warnings:      []string{"one", "two"},
			},
			want: "Validation: ✅ PASSED | Version: aoi_report_v2 | Errors: 0 | Warnings: 2",
		},
		{
			name: "failed",
			res: ValidationResult{
				Valid:         false,
				ReportVersion: "aoi_report_v1",
				Errors:        []string{"a", "b"},
				Warnings:      []string{"c"},
			},
			want: "Validation: ❌ FAILED | Version: aoi_report_v1 | Errors: 2 | Warnings: 1",
		},
		{
			name: "bundle",
			res: ValidationResult{
				Valid:            false,
				Errors:           []string{"a"},
				ArtifactsChecked: 7,
				ArtifactsFailed:  1,
			},
			want: "Verification: ❌ FAILED | Artifacts: 6/7 ok | Errors: 1 | Warnings: 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatSummary(tt.res); got != tt.want {
				t.Fatalf("FormatSummary() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(&buf)
	defer SetLogger(nil)

	PrintReport(ValidationResult{
		Subject:          "bundle-a",
		Valid:            false,
		Errors:           []string{"manifest.json.sha256 is missing"},
		Warnings:         []string{"stray.txt is not listed in the manifest"},
		ArtifactsChecked: 3,
	})

	out := buf.String()
	for _, want := range []string{
		"validation failed: bundle-a",
		"errors (1):",
		"manifest.json.sha256 is missing",
		"warnings (1):",
		"artifacts: 3 checked, 0 failed",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("PrintReport output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintReportWithoutWriter(t *testing.T) {
	SetLogger(nil)
	// Must not panic.
	PrintReport(ValidationResult{Valid: true})
}
