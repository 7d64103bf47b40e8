package bitbucket

import (
	"context"
	"fmt"
)

const (
	ReportTitle    = "OpenQualityChecker warning report"
	ReportReporter = "OpenQualityChecker Pipe"
)

// Report is a Code Insights report attached to a commit.
type Report struct {
	UUID       string `json:"uuid,omitempty"`
	Type       string `json:"type,omitempty"`
	ReportType string `json:"report_type"`
	Title      string `json:"title"`
	Details    string `json:"details"`
	Result     string `json:"result,omitempty"`
	Reporter   string `json:"reporter,omitempty"`
	ExternalID string `json:"external_id"`
}

// Annotation is a single finding inside a report.
type Annotation struct {
	UUID           string `json:"uuid,omitempty"`
	AnnotationType string `json:"annotation_type"`
	ExternalID     string `json:"external_id"`
	Summary        string `json:"summary"`
	Details        string `json:"details,omitempty"`
	Severity       string `json:"severity,omitempty"`
	Result         string `json:"result,omitempty"`
	Path           string `json:"path,omitempty"`
	Line           int    `json:"line,omitempty"`
}

type reportPage struct {
	Values []Report `json:"values"`
}

// ReportExternalID is the stable id of the pipe's report for commit.
func ReportExternalID(commit string) string {
	return "openqualitychecker-warning-report-" + commit
}

// GetOrCreateReport returns the pipe's report for commit, creating it with
// details when it does not exist yet.
func (c *Client) GetOrCreateReport(ctx context.Context, commit, details string) (*Report, error) {
	if commit == "" {
		return nil, fmt.Errorf("get or create report: commit is empty")
	}
	externalID := ReportExternalID(commit)

	var page reportPage
	if err := c.do(ctx, "GET", c.commitPath(commit, "reports"), nil, &page); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	c.logger.Debug("Existing reports", "commit", commit, "count", len(page.Values))

	for _, r := range page.Values {
		if r.ExternalID == externalID {
			return &r, nil
		}
	}

	in := Report{
		Type:       "report",
		ReportType: "BUG",
		Title:      ReportTitle,
		Details:    details,
		Result:     "FAILED",
		Reporter:   ReportReporter,
		ExternalID: externalID,
	}
	var created Report
	if err := c.do(ctx, "PUT", c.commitPath(commit, "reports", externalID), in, &created); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	if created.ExternalID == "" {
		created = in
	}
	c.logger.Info("Created report", "external_id", created.ExternalID, "uuid", created.UUID)
	return &created, nil
}

// Annotate adds a failed, high severity finding to the report reportID.
func (c *Client) Annotate(ctx context.Context, commit, reportID string, a Annotation) (*Annotation, error) {
	if a.AnnotationType == "" {
		a.AnnotationType = "VULNERABILITY"
	}
	if a.Severity == "" {
		a.Severity = "HIGH"
	}
	if a.Result == "" {
		a.Result = "FAILED"
	}
	if a.ExternalID == "" {
		a.ExternalID = c.newID()
	}

	var created Annotation
	path := c.commitPath(commit, "reports", reportID, "annotations", a.ExternalID)
	if err := c.do(ctx, "PUT", path, a, &created); err != nil {
		return nil, fmt.Errorf("create annotation: %w", err)
	}
	if created.ExternalID == "" {
		created = a
	}
	c.logger.Info("Created annotation", "external_id", created.ExternalID)
	return &created, nil
}
