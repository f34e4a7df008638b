package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/devsecflow/secpipe/pkg/models"
)

var bodyTemplate = template.Must(template.New("body").Parse(`<html>
<body>
<h2>{{.Title}}</h2>
<p>Status: <b>{{.Status}}</b></p>
<p>Report: <a href="{{.LinkURL}}">{{.LinkURL}}</a>{{if .LinkFallback}} (direct page not found, linking to the space){{end}}</p>
<h3>Stages</h3>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Stage</th><th>Outcome</th></tr>
{{range .Stages}}<tr><td>{{.Name}}</td><td>{{.Outcome}}</td></tr>
{{end}}</table>
<p>Run {{.RunID}} took {{.Duration}}.</p>
</body>
</html>
`))

type bodyData struct {
	Title        string
	Status       models.Status
	LinkURL      string
	LinkFallback bool
	Stages       []models.StageResult
	RunID        string
	Duration     string
}

// Subject renders the notification subject line for a correlated run.
func Subject(record models.VersionRecord) string {
	return fmt.Sprintf("DevSecOps Test & Security Report v%d (%s)", record.Version, record.Status)
}

// BuildBody renders the HTML summary. Every stage appears, skipped ones
// included; the body never omits a stage's result.
func BuildBody(run *models.PipelineRun, record models.VersionRecord, link models.PublishedLink, titlePrefix string) (string, error) {
	data := bodyData{
		Title:        record.Title(titlePrefix),
		Status:       record.Status,
		LinkURL:      link.URL,
		LinkFallback: link.Fallback,
		Stages:       run.Results,
		RunID:        run.ID,
		Duration:     run.Duration().Round(time.Second).String(),
	}

	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render notification body: %w", err)
	}

	return buf.String(), nil
}
