package staging

import (
	"bytes"
	"html/template"
)

type indexRow struct {
	RunID       string
	AOIID       string
	BundleID    string
	GeneratedAt string
	ReportJSON  string
	HasSummary  bool
	HasMetrics  bool
	Permanent   bool
}

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>AOI Reports</title>
  <style>
    body { font-family: ui-sans-serif, system-ui, -apple-system, Segoe UI, Roboto, Helvetica, Arial, sans-serif; margin: 24px; }
    .muted { color: #666; }
    ul { padding-left: 18px; }
  </style>
</head>
<body>
  <h1>AOI Reports</h1>
  <h2>Runs</h2>
  <ul>
{{- range .}}
    <li><a href="runs/{{.RunID}}/report.html">{{.RunID}}</a>
      <span class="muted">({{if .AOIID}}aoi {{.AOIID}}, {{end}}{{if .GeneratedAt}}{{.GeneratedAt}}{{else}}undated{{end}}{{if .Permanent}}, permanent{{end}})</span>
      <a href="runs/{{.RunID}}/{{.ReportJSON}}">{{.ReportJSON}}</a>
      {{- if .HasSummary}} <a href="runs/{{.RunID}}/summary.json">summary.json</a>{{end}}
      {{- if .HasMetrics}} <a href="runs/{{.RunID}}/metrics.csv">metrics.csv</a>{{end}}
    </li>
{{- else}}
    <li>(none)</li>
{{- end}}
  </ul>
</body>
</html>
`))

// renderIndex lists runs newest first.
func renderIndex(runs []run, defaultReportJSON string) ([]byte, error) {
	sorted := append([]run(nil), runs...)
	newestFirst(sorted)

	rows := make([]indexRow, 0, len(sorted))
	for _, r := range sorted {
		row := indexRow{RunID: r.ID, ReportJSON: defaultReportJSON, Permanent: r.Permanent}
		if m := r.Meta; m != nil {
			row.AOIID = m.AOIID
			row.BundleID = m.BundleID
			row.GeneratedAt = m.GeneratedAtUTC
			if m.ReportJSON != "" {
				row.ReportJSON = m.ReportJSON
			}
			row.HasSummary = m.HasFile(SummaryName)
			row.HasMetrics = m.HasFile(MetricsName)
		}
		rows = append(rows, row)
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
