package report

// markdownTemplate is the default report body. It renders into the case
// store's task log, which speaks CommonMark.
const markdownTemplate = `## Risk Assessment

**{{ .Severity | upper }}**: {{ composite .Unit .Composite }}
{{- if .Pending }}

_Analysis pending: no analyzer verdicts recorded yet. Scored with the unknown-verdict weight; the score will update when verdicts arrive._
{{- end }}

| Factor | Value |
|--------|-------|
| Verdict | {{ .Verdict.Level }}{{ if .BoostApplied }} (multi-analyzer consensus){{ end }} |
| Analyzer verdicts | {{ .Verdict.Counts.Total }} total, {{ .Verdict.Counts.Malicious }} malicious |
| Likelihood | {{ printf "%.3f" .Likelihood }} |
| Profile | {{ .Profile }} |
| Case severity | {{ .CaseSeverity }} |
| TLP | tlp:{{ .TLP }} |
{{- if .Observables }}

### Observables

| Type | Value | TLP | Analyzer verdicts |
|------|-------|-----|-------------------|
{{ range .Observables -}}
| {{ .Type }} | {{ .Value }} | {{ .TLP }} | {{ .Verdicts }} |
{{ end -}}
{{- end }}

### Recommended actions

{{ range .Actions -}}
- {{ . }}
{{ end -}}

---
_Report {{ .ReportID }}_
`
