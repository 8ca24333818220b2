package artifacts

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/models"
)

// reportTemplate renders the human-readable companion to the JSON
// artifact. Analysts open this; machines read the JSON next to it.
var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"score": func(p *float64) string {
		if p == nil {
			return "not scored"
		}
		return fmt.Sprintf("%.2f", *p)
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Investigation {{.Inv.ID}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 4px 10px; text-align: left; }
.sev-high { color: #b00; font-weight: bold; }
.sev-medium { color: #b60; }
</style>
</head>
<body>
<h1>Investigation {{.Inv.ID}}</h1>
<p>Status: <b>{{.Inv.Status}}</b>{{if .Inv.FailCause}} ({{.Inv.FailCause}}){{end}}</p>
<p>Window: {{.Inv.Window.Start.Format "2006-01-02"}} to {{.Inv.Window.End.Format "2006-01-02"}}</p>
<h2>Targets</h2>
<ul>
{{range .Inv.Entities}}<li>{{.Type}}: {{.NormalizedValue}}</li>{{end}}
</ul>
<h2>Domain Findings</h2>
<table>
<tr><th>Domain</th><th>Risk</th><th>Confidence</th><th>Narrative</th></tr>
{{range .Domains}}{{with index $.Inv.Findings .}}
<tr><td>{{.Domain}}</td><td>{{score .RiskScore}}</td><td>{{printf "%.2f" .Confidence}}</td><td>{{.Narrative}}</td></tr>
{{end}}{{end}}
</table>
<h2>Evidence</h2>
<table>
<tr><th>Domain</th><th>Type</th><th>Severity</th><th>Detail</th></tr>
{{range .Domains}}{{with index $.Inv.Findings .}}{{$d := .Domain}}{{range .Evidence}}
<tr><td>{{$d}}</td><td>{{.Type}}</td><td class="sev-{{.Severity}}">{{.Severity}}</td><td>{{.Detail}}</td></tr>
{{end}}{{end}}{{end}}
</table>
<p><small>Generated {{.Now.Format "2006-01-02 15:04:05 MST"}}</small></p>
</body>
</html>
`))

// comparisonTemplate renders the window-comparison companion. The
// report payload is traversed reflectively, same as the JSON side.
var comparisonTemplate = template.Must(template.New("comparison").Funcs(template.FuncMap{
	"maybe": func(p *float64) string {
		if p == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.3f", *p)
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Comparison {{.ID}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
td, th { border: 1px solid #ccc; padding: 4px 10px; text-align: left; }
.warn { color: #b60; }
</style>
</head>
<body>
<h1>Window comparison {{.ID}}</h1>
<h2>Windows</h2>
<table>
<tr><th></th><th>Start</th><th>End</th><th>Transactions</th><th>Labeled</th><th>Fraud rate</th><th>95% CI</th></tr>
{{with .Report.WindowA}}<tr><td>Baseline (A)</td>
<td>{{.Window.Start.Format "2006-01-02"}}</td><td>{{.Window.End.Format "2006-01-02"}}</td>
<td>{{.Transactions}}</td><td>{{.Labeled}}</td><td>{{printf "%.3f" .FraudRate}}</td>
<td>[{{printf "%.3f" .CILow}}, {{printf "%.3f" .CIHigh}}]{{if .WideCI}} <span class="warn">wide</span>{{end}}</td></tr>{{end}}
{{if .Report.WindowBEmpty}}<tr><td>Recent (B)</td><td colspan="6">no transactions — partial report</td></tr>
{{else}}{{with .Report.WindowB}}<tr><td>Recent (B)</td>
<td>{{.Window.Start.Format "2006-01-02"}}</td><td>{{.Window.End.Format "2006-01-02"}}</td>
<td>{{.Transactions}}</td><td>{{.Labeled}}</td><td>{{printf "%.3f" .FraudRate}}</td>
<td>[{{printf "%.3f" .CILow}}, {{printf "%.3f" .CIHigh}}]{{if .WideCI}} <span class="warn">wide</span>{{end}}</td></tr>{{end}}{{end}}
</table>
{{if not .Report.WindowBEmpty}}
<h2>Deltas (B − A)</h2>
<table>
<tr><th>Fraud rate</th><th>Mean score</th><th>Volume</th><th>Precision</th><th>Recall</th><th>F1</th><th>Accuracy</th></tr>
{{with .Report.Deltas}}<tr><td>{{printf "%+.3f" .FraudRate}}</td><td>{{printf "%+.3f" .MeanScore}}</td>
<td>{{printf "%+d" .Volume}}</td><td>{{printf "%+.3f" .Precision}}</td><td>{{printf "%+.3f" .Recall}}</td>
<td>{{printf "%+.3f" .F1}}</td><td>{{printf "%+.3f" .Accuracy}}</td></tr>{{end}}
</table>
<p>PSI: {{maybe .Report.PSI}} &nbsp; KS: {{maybe .Report.KS}}</p>
<h2>Classification</h2>
<table>
<tr><th></th><th>TP</th><th>FP</th><th>TN</th><th>FN</th><th>Excluded</th><th>Precision</th><th>Recall</th><th>F1</th></tr>
{{if .Report.EvalA}}{{with .Report.EvalA}}<tr><td>A{{if .InvestigationID}} ({{.InvestigationID}}){{end}}</td>
<td>{{.Matrix.TruePositive}}</td><td>{{.Matrix.FalsePositive}}</td><td>{{.Matrix.TrueNegative}}</td>
<td>{{.Matrix.FalseNegative}}</td><td>{{.Matrix.Excluded}}</td>
<td>{{printf "%.3f" .Precision.Value}}</td><td>{{printf "%.3f" .Recall.Value}}</td><td>{{printf "%.3f" .F1}}</td></tr>{{end}}{{end}}
{{if .Report.EvalB}}{{with .Report.EvalB}}<tr><td>B{{if .InvestigationID}} ({{.InvestigationID}}){{end}}</td>
<td>{{.Matrix.TruePositive}}</td><td>{{.Matrix.FalsePositive}}</td><td>{{.Matrix.TrueNegative}}</td>
<td>{{.Matrix.FalseNegative}}</td><td>{{.Matrix.Excluded}}</td>
<td>{{printf "%.3f" .Precision.Value}}</td><td>{{printf "%.3f" .Recall.Value}}</td><td>{{printf "%.3f" .F1}}</td></tr>{{end}}{{end}}
</table>
{{end}}
<p><small>Generated {{.Now.Format "2006-01-02 15:04:05 MST"}}</small></p>
</body>
</html>
`))

// writeComparisonHTML renders comparison.html into dir.
func (s *Store) writeComparisonHTML(dir, id string, report any) (string, error) {
	path := filepath.Join(dir, "comparison.html")

	var buf bytes.Buffer
	data := struct {
		ID     string
		Report any
		Now    time.Time
	}{id, report, time.Now()}
	if err := comparisonTemplate.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "failed to render comparison html")
	}

	if err := lockedWrite(path, buf.Bytes()); err != nil {
		return "", err
	}
	return path, nil
}

// WriteHTMLReport renders the investigation into report.html next to
// the canonical JSON artifact.
func (s *Store) WriteHTMLReport(inv *models.Investigation) (string, error) {
	path := filepath.Join(s.ws.ArtifactsDir(inv.ID, inv.CreatedAt), "report.html")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrapf(err, errors.KindInternal, "failed to create artifact dir for %s", inv.ID)
	}

	var buf bytes.Buffer
	data := struct {
		Inv     *models.Investigation
		Domains []models.Domain
		Now     time.Time
	}{inv, models.AllDomains, time.Now()}
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "failed to render html report")
	}

	if err := lockedWrite(path, buf.Bytes()); err != nil {
		return "", err
	}
	return path, nil
}
