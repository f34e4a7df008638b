// Package report aggregates scanner and test outputs into the versioned
// HTML and PDF result reports.
package report

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ToolSummary is one scanner's contribution to the report.
type ToolSummary struct {
	Tool     string `json:"tool"`
	Findings int    `json:"findings"`
	Detail   string `json:"detail,omitempty"`
}

// Summary aggregates what the individual stage artifacts reported.
type Summary struct {
	TestsPassed int           `json:"tests_passed"`
	TestsFailed int           `json:"tests_failed"`
	Tools       []ToolSummary `json:"tools,omitempty"`
}

var (
	pytestPassedRe = regexp.MustCompile(`(\d+) passed`)
	pytestFailedRe = regexp.MustCompile(`(\d+) failed`)
)

// ParseTestCounts extracts passed/failed counts from pytest's summary line.
// Output without a recognizable summary yields zero counts.
func ParseTestCounts(output []byte) (passed, failed int) {
	if m := pytestPassedRe.FindSubmatch(output); m != nil {
		passed, _ = strconv.Atoi(string(m[1]))
	}

	if m := pytestFailedRe.FindSubmatch(output); m != nil {
		failed, _ = strconv.Atoi(string(m[1]))
	}

	return passed, failed
}

// CountBanditIssues counts the issue blocks in a bandit HTML report.
func CountBanditIssues(html []byte) (int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return 0, err
	}

	count := doc.Find("div[id^=issue-]").Length()
	if count == 0 {
		count = doc.Find("tr.issue").Length()
	}

	return count, nil
}

// CountDASTAlerts counts alert rows in a ZAP HTML report, one row per alert
// type in the summary table.
func CountDASTAlerts(html []byte) (int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return 0, err
	}

	return doc.Find("tr.risk-high, tr.risk-medium, tr.risk-low").Length(), nil
}

// CountVulnerabilityLines counts reported vulnerabilities in a plain-text
// dependency scan report, one per line mentioning a vulnerability.
func CountVulnerabilityLines(text []byte) int {
	count := 0

	for _, line := range strings.Split(string(text), "\n") {
		if strings.Contains(strings.ToLower(line), "vulnerability") {
			count++
		}
	}

	return count
}

// CountSeverity counts lines carrying the given severity marker, as emitted
// by trivy's table output.
func CountSeverity(text []byte, severity string) int {
	count := 0

	for _, line := range strings.Split(string(text), "\n") {
		if strings.Contains(line, severity) {
			count++
		}
	}

	return count
}
