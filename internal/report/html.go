package report

import (
	"fmt"
	"html/template"
	"log/slog"
	"os"
)

const htmlReport = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>fmtdrift report</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.3em 0.8em; text-align: left; }
tr.diverged { background: #fde8e8; }
tr.failed { background: #fdf6e3; }
.summary td { border: none; padding: 0.1em 0.8em 0.1em 0; }
</style>
</head>
<body>
<h1>fmtdrift report</h1>
<table class="summary">
<tr><td>Diverging diffs</td><td>{{.DivergingDiffs}}</td></tr>
<tr><td>Candidate</td><td>{{.CandidateT.Successes}} clean, {{.CandidateT.Diffs}} diffs, {{.CandidateT.Failures}} failures</td></tr>
<tr><td>Reference</td><td>{{.ReferenceT.Successes}} clean, {{.ReferenceT.Diffs}} diffs, {{.ReferenceT.Failures}} failures</td></tr>
</table>
<h2>Crates</h2>
<table>
<tr>
<th>Crate</th><th>Class</th><th>Branch</th><th>Candidate</th><th>Reference</th><th>Repository</th>
</tr>
{{range .Crates}}<tr class="{{rowClass .}}">
<td>{{.CrateName}}</td>
<td>{{.Class}}{{if .SimilarErrors}} (similar errors){{end}}</td>
<td>{{.HeadBranch}}</td>
<td>{{outputCell .Candidate}}</td>
<td>{{outputCell .Reference}}</td>
<td>{{if .RepoURL}}<a href="{{.RepoURL}}">{{.RepoURL}}</a>{{end}}</td>
</tr>
{{end}}</table>
</body>
</html>
`

var htmlTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"rowClass": func(cr CrateReport) string {
		switch {
		case cr.Diverged:
			return "diverged"
		case cr.Candidate.ErrorFile != "" || cr.Reference.ErrorFile != "":
			return "failed"
		default:
			return ""
		}
	},
	"outputCell": func(fo FmtOutput) string {
		switch {
		case fo.ErrorFile != "":
			return fmt.Sprintf("failed (%s)", fo.Elapsed)
		case fo.DiffFile != "":
			return fmt.Sprintf("diff (%s)", fo.Elapsed)
		default:
			return fmt.Sprintf("clean (%s)", fo.Elapsed)
		}
	},
}).Parse(htmlReport))

func (b *Builder) writeHTML(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating html report at %s: %w", path, err)
	}
	defer f.Close()
	data := struct {
		DivergingDiffs int
		CandidateT     Tally
		ReferenceT     Tally
		Crates         []CrateReport
	}{b.DivergingDiffs, b.CandidateT, b.ReferenceT, b.crates}
	if err := htmlTmpl.Execute(f, data); err != nil {
		return fmt.Errorf("rendering html report: %w", err)
	}
	slog.Info("wrote html report", "path", path)
	return nil
}
