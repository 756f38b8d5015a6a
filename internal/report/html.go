package report

import (
	"bytes"
	"html/template"
	"sort"
	"strconv"
	"strings"
)

// Link is an artifact link in the HTML summary. Href is relative to the
// HTML file.
type Link struct {
	Href  string
	Label string
}

// HTMLOptions controls links in the rendered summary.
type HTMLOptions struct {
	ReportJSONHref string
	Artifacts      []Link
}

type htmlRow struct {
	Key, Value string
}

type htmlView struct {
	Doc            *Document
	ReportJSONHref string
	Header         []htmlRow
	Inputs         []htmlRow
	Metrics        []htmlRow
	Artifacts      []Link
}

var summaryTemplate = template.Must(template.New("report").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>AOI Report Summary: {{.Doc.AOIID}}</title>
  <style>
    body { font-family: ui-sans-serif, system-ui, -apple-system, Segoe UI, Roboto, Helvetica, Arial; margin: 24px; }
    table { border-collapse: collapse; width: 100%; }
    th, td { border: 1px solid #ddd; padding: 8px; vertical-align: top; }
    th { background: #f6f6f6; text-align: left; width: 240px; }
    h2 { margin-top: 28px; }
    .error { color: #b00020; }
  </style>
</head>
<body>
  <h1>AOI Report Summary</h1>
  <table>
{{- range .Header}}
    <tr><th>{{.Key}}</th><td>{{.Value}}</td></tr>
{{- end}}
  </table>
{{- if .ReportJSONHref}}
  <p><a href="{{.ReportJSONHref}}">Open report JSON</a></p>
{{- end}}

  <h2>Inputs</h2>
  <table>
{{- range .Inputs}}
    <tr><th>{{.Key}}</th><td>{{.Value}}</td></tr>
{{- else}}
    <tr><th>(none)</th><td></td></tr>
{{- end}}
  </table>

  <h2>Metrics</h2>
  <table>
{{- range .Metrics}}
    <tr><th>{{.Key}}</th><td>{{.Value}}</td></tr>
{{- else}}
    <tr><th>(none)</th><td></td></tr>
{{- end}}
  </table>

  <h2>Evidence Artifacts</h2>
  <ul>
{{- range .Artifacts}}
    <li><a href="{{.Href}}">{{.Label}}</a></li>
{{- else}}
    <li>(none)</li>
{{- end}}
  </ul>

  <h2>Policy Mapping References</h2>
  <ul>
{{- range .Doc.PolicyMappingRefs}}
    <li>{{.}}</li>
{{- else}}
    <li>(none)</li>
{{- end}}
  </ul>
</body>
</html>
`))

// RenderHTML renders the human-readable summary of doc. The output only
// depends on doc and opts.
func RenderHTML(doc *Document, opts HTMLOptions) ([]byte, error) {
	p := doc.Inputs.Parameters
	view := htmlView{
		Doc:            doc,
		ReportJSONHref: opts.ReportJSONHref,
		Header: []htmlRow{
			{"AOI", doc.AOIID},
			{"Bundle", doc.BundleID},
			{"Generated (UTC)", doc.GeneratedAtUTC},
			{"Report Version", doc.ReportVersion},
			{"Geometry Ref", doc.AOIGeometryRef.Kind + ": " + doc.AOIGeometryRef.Value},
			{"Canopy Threshold", strconv.Itoa(p.CanopyThreshold) + "% (cover >= threshold is forest)"},
			{"Cutoff Year", strconv.Itoa(p.CutoffYear)},
			{"Projected CRS", p.ProjectedCRS},
		},
	}

	for _, src := range doc.Inputs.Sources {
		var parts []string
		if src.Version != "" {
			parts = append(parts, "version="+src.Version)
		}
		if src.SHA256 != "" {
			parts = append(parts, "sha256="+src.SHA256)
		}
		if src.URI != "" {
			parts = append(parts, "uri="+src.URI)
		}
		view.Inputs = append(view.Inputs, htmlRow{src.SourceID, strings.Join(parts, " ")})
	}
	for _, d := range doc.Inputs.Datasets {
		view.Inputs = append(view.Inputs, htmlRow{"dataset " + d.Name, "version=" + d.Version})
	}
	for _, t := range doc.Inputs.Tools {
		view.Inputs = append(view.Inputs, htmlRow{"tool " + t.Name, "version=" + t.Version})
	}

	names := make([]string, 0, len(doc.Metrics))
	for name := range doc.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		view.Metrics = append(view.Metrics, htmlRow{name, formatMetric(doc.Metrics[name])})
	}

	view.Artifacts = append(view.Artifacts, opts.Artifacts...)
	sort.Slice(view.Artifacts, func(i, j int) bool { return view.Artifacts[i].Href < view.Artifacts[j].Href })

	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, view); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatMetric(m Metric) string {
	if m.Status == StatusError && m.Error != nil {
		return "error " + m.Error.Kind + ": " + m.Error.Message
	}
	if m.Value == nil {
		return "(no value) " + m.Unit
	}
	return MetricRow{Value: *m.Value, Integer: m.Type == TypeInteger}.ValueString() + " " + m.Unit
}
