package report

import (
	"log/slog"

	"github.com/devsecflow/secpipe/pkg/artifact"
)

// Canonical artifact names the stages write and the collector reads.
const (
	SASTReportName       = "bandit_report.html"
	DependencyReportName = "dependency_vuln.txt"
	UnitTestReportName   = "report.html"
	UnitTestLogName      = "pytest_output.txt"
	ImageScanReportName  = "trivy_report.txt"
	DASTReportName       = "zap_dast_report.html"
)

// Collect gathers the summary from whatever stage artifacts exist in the
// store. Missing artifacts are normal for disabled stages and simply do not
// contribute.
func Collect(store *artifact.Store, logger *slog.Logger) Summary {
	summary := Summary{}

	// Test counts come from the runner's console log. The rendered HTML
	// report always carries "passed"/"failed" chrome and is useless for a
	// token scan.
	if output := store.ReadIfExists(UnitTestLogName); output != nil {
		summary.TestsPassed, summary.TestsFailed = ParseTestCounts(output)
	}

	if html := store.ReadIfExists(SASTReportName); html != nil {
		count, err := CountBanditIssues(html)
		if err != nil {
			logger.Warn("Failed to parse SAST report", "artifact", SASTReportName, "error", err)
		} else {
			summary.Tools = append(summary.Tools, ToolSummary{Tool: "bandit", Findings: count, Detail: "static analysis issues"})
		}
	}

	if text := store.ReadIfExists(DependencyReportName); text != nil {
		summary.Tools = append(summary.Tools, ToolSummary{
			Tool:     "safety",
			Findings: CountVulnerabilityLines(text),
			Detail:   "vulnerable dependencies",
		})
	}

	if text := store.ReadIfExists(ImageScanReportName); text != nil {
		summary.Tools = append(summary.Tools, ToolSummary{
			Tool:     "trivy",
			Findings: CountSeverity(text, "HIGH"),
			Detail:   "high severity image findings",
		})
	}

	if html := store.ReadIfExists(DASTReportName); html != nil {
		count, err := CountDASTAlerts(html)
		if err != nil {
			logger.Warn("Failed to parse DAST report", "artifact", DASTReportName, "error", err)
		} else {
			summary.Tools = append(summary.Tools, ToolSummary{Tool: "zap", Findings: count, Detail: "dynamic scan alerts"})
		}
	}

	return summary
}
