package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/devsecflow/secpipe/pkg/correlate"
	"github.com/devsecflow/secpipe/pkg/models"
	"github.com/devsecflow/secpipe/pkg/notify"
	"github.com/devsecflow/secpipe/pkg/pipeline"
	"github.com/devsecflow/secpipe/pkg/report"
)

// buildReport correlates the run's version and status, then renders the
// versioned HTML and PDF reports from everything the earlier stages wrote.
func (d *Dependencies) buildReport(ctx context.Context, rc *pipeline.RunContext) (*pipeline.StageOutput, error) {
	testOutput := d.Store.ReadIfExists(report.UnitTestLogName)

	record, err := d.Correlator.Correlate(ctx, testOutput)
	if err != nil {
		return nil, fmt.Errorf("failed to correlate run: %w", err)
	}

	rc.Version = &record

	summary := report.Collect(d.Store, d.Logger)

	refs, err := d.Generator.Generate(ctx, rc.Run, record, summary)
	if err != nil {
		return nil, err
	}

	return &pipeline.StageOutput{Artifacts: refs}, nil
}

// publish pushes the versioned report page with attachments and resolves
// the durable link for the notification. Publishing problems soft-fail the
// stage; the link itself always resolves to at least the fallback.
func (d *Dependencies) publish(ctx context.Context, rc *pipeline.RunContext) (*pipeline.StageOutput, error) {
	if rc.Version == nil {
		return nil, errors.New("no correlated version to publish")
	}

	record := *rc.Version
	attachments := d.reportAttachments()

	body := fmt.Sprintf("<p>Automated pipeline report, version %d, status %s. Reports attached.</p>",
		record.Version, record.Status)

	_, err := d.Confluence.PublishReport(ctx, record, body, attachments)

	link := d.Confluence.ResolveLink(ctx, record)
	rc.Link = &link

	if err != nil {
		return nil, err
	}

	return &pipeline.StageOutput{Artifacts: attachments}, nil
}

// sendNotification dispatches the summary email. The message always states
// version, status, and a link, falling back when publishing was disabled
// or degraded. A send failure soft-fails the stage only.
func (d *Dependencies) sendNotification(ctx context.Context, rc *pipeline.RunContext) (*pipeline.StageOutput, error) {
	record := models.VersionRecord{Status: models.StatusUnknown}
	if rc.Version != nil {
		record = *rc.Version
	}

	link := models.PublishedLink{Fallback: true}

	switch {
	case rc.Link != nil:
		link = *rc.Link
	case d.Confluence != nil:
		link = d.Confluence.ResolveLink(ctx, record)
	}

	body, err := notify.BuildBody(rc.Run, record, link, d.titlePrefix())
	if err != nil {
		return nil, err
	}

	if err := d.Mailer.Send(ctx, notify.Subject(record), body, d.reportAttachments()); err != nil {
		return nil, err
	}

	return nil, nil
}

// reportAttachments collects every report file the run may have produced,
// the versioned finals included. Globbing the store keeps the set aligned
// with whatever stages actually ran.
func (d *Dependencies) reportAttachments() []models.ArtifactRef {
	base := d.Config.ReportBaseName
	if base == "" {
		base = correlate.DefaultReportBaseName
	}

	refs, err := d.Store.Glob(
		report.SASTReportName,
		report.DependencyReportName,
		report.UnitTestReportName,
		base+"_v*.html",
		base+"_v*.pdf",
		report.ImageScanReportName,
		"version.txt",
		report.DASTReportName,
	)
	if err != nil {
		d.Logger.Warn("Failed to collect report attachments", "error", err)

		return nil
	}

	return refs
}

func (d *Dependencies) titlePrefix() string {
	if d.Config.Confluence.TitlePrefix != "" {
		return d.Config.Confluence.TitlePrefix
	}

	return report.TitlePrefix
}
