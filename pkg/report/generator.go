package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/devsecflow/secpipe/pkg/artifact"
	"github.com/devsecflow/secpipe/pkg/correlate"
	"github.com/devsecflow/secpipe/pkg/log"
	"github.com/devsecflow/secpipe/pkg/models"
)

// TitlePrefix is the human-readable prefix shared by report titles and the
// published page title.
const TitlePrefix = "Test Result Report"

var htmlTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
th, td { border: 1px solid #ccc; padding: 0.4em 0.8em; text-align: left; }
.ok { color: #2e7d32; }
.soft_failed { color: #e65100; }
.hard_failed { color: #c62828; }
.skipped { color: #757575; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Run {{.RunID}} finished {{.Generated}}</p>
<h2>Stages</h2>
<table>
<tr><th>Stage</th><th>Enabled</th><th>Outcome</th><th>Exit code</th></tr>
{{range .Stages}}<tr>
<td>{{.Name}}</td>
<td>{{if .Enabled}}yes{{else}}no{{end}}</td>
<td class="{{.Outcome}}">{{.Outcome}}</td>
<td>{{if .ExitCode}}{{.ExitCode}}{{else}}-{{end}}</td>
</tr>
{{end}}</table>
<h2>Tests</h2>
<p>{{.Summary.TestsPassed}} passed, {{.Summary.TestsFailed}} failed</p>
{{if .Summary.Tools}}<h2>Security findings</h2>
<table>
<tr><th>Tool</th><th>Findings</th><th>Detail</th></tr>
{{range .Summary.Tools}}<tr><td>{{.Tool}}</td><td>{{.Findings}}</td><td>{{.Detail}}</td></tr>
{{end}}</table>
{{end}}</body>
</html>
`))

type templateData struct {
	Title     string
	Version   int
	RunID     string
	Generated string
	Stages    []models.StageResult
	Summary   Summary
}

// Generator renders the versioned HTML and PDF reports into the artifact
// store.
type Generator struct {
	store    *artifact.Store
	baseName string
	logger   *slog.Logger
}

func NewGenerator(store *artifact.Store, baseName string, logger *slog.Logger) *Generator {
	if baseName == "" {
		baseName = correlate.DefaultReportBaseName
	}

	return &Generator{
		store:    store,
		baseName: baseName,
		logger:   log.WithModule(logger, "report"),
	}
}

// Generate renders both report formats for the finished run and returns
// their references. Report names embed the correlated version so every run
// publishes under a distinct name.
func (g *Generator) Generate(ctx context.Context, run *models.PipelineRun, record models.VersionRecord, summary Summary) ([]models.ArtifactRef, error) {
	data := templateData{
		Title:     record.Title(TitlePrefix),
		Version:   record.Version,
		RunID:     run.ID,
		Generated: time.Now().UTC().Format(time.RFC3339),
		Stages:    run.Results,
		Summary:   summary,
	}

	htmlRef, err := g.renderHTML(data)
	if err != nil {
		return nil, err
	}

	pdfRef, err := g.renderPDF(data)
	if err != nil {
		return nil, err
	}

	g.logger.InfoContext(ctx, "Reports generated",
		"version", record.Version, "html", htmlRef.Name, "pdf", pdfRef.Name)

	return []models.ArtifactRef{htmlRef, pdfRef}, nil
}

func (g *Generator) renderHTML(data templateData) (models.ArtifactRef, error) {
	var buf bytes.Buffer

	if err := htmlTemplate.Execute(&buf, data); err != nil {
		return models.ArtifactRef{}, fmt.Errorf("failed to render HTML report: %w", err)
	}

	name := correlate.ReportName(g.baseName, data.Version, models.ArtifactHTML)

	return g.store.Save(name, buf.Bytes())
}

func (g *Generator) renderPDF(data templateData) (models.ArtifactRef, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, data.Title, "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Run %s finished %s", data.RunID, data.Generated), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Stages", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)

	for _, stage := range data.Stages {
		line := fmt.Sprintf("%-20s %s", stage.Name, stage.Outcome)
		if stage.ExitCode != nil {
			line += fmt.Sprintf(" (exit %d)", *stage.ExitCode)
		}

		pdf.CellFormat(0, 6, line, "", 1, "L", false, 0, "")
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Tests", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("%d passed, %d failed", data.Summary.TestsPassed, data.Summary.TestsFailed), "", 1, "L", false, 0, "")

	if len(data.Summary.Tools) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, "Security findings", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)

		for _, tool := range data.Summary.Tools {
			pdf.CellFormat(0, 6, fmt.Sprintf("%s: %d %s", tool.Tool, tool.Findings, tool.Detail), "", 1, "L", false, 0, "")
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return models.ArtifactRef{}, fmt.Errorf("failed to render PDF report: %w", err)
	}

	name := correlate.ReportName(g.baseName, data.Version, models.ArtifactPDF)

	return g.store.Save(name, buf.Bytes())
}
