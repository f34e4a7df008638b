// Package confluence talks to the documentation system: it publishes the
// versioned report page with its attachments and resolves the durable page
// link used by the notifier.
package confluence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/devsecflow/secpipe/pkg/log"
	"github.com/devsecflow/secpipe/pkg/models"
)

// Config identifies the documentation space and the credentials used to
// reach it. Passed in explicitly; the client never reads process state.
type Config struct {
	BaseURL     string `yaml:"base_url"     validate:"required,url"`
	Username    string `yaml:"username"     validate:"required"`
	APIToken    string `yaml:"api_token"    validate:"required"`
	SpaceKey    string `yaml:"space_key"    validate:"required"`
	TitlePrefix string `yaml:"title_prefix"`
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.WithModule(logger, "confluence"),
	}
}

type pageSummary struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Version struct {
		Number int `json:"number"`
	} `json:"version"`
}

type searchResponse struct {
	Results []pageSummary `json:"results"`
}

// ResolveLink looks up the published page whose title matches the version
// record and returns its direct link. Zero matches, ambiguous matches, and
// any transport or auth error all degrade to the space-root fallback link;
// resolution is best-effort and never fails the caller.
func (c *Client) ResolveLink(ctx context.Context, record models.VersionRecord) models.PublishedLink {
	fallback := models.PublishedLink{
		URL:      fmt.Sprintf("%s/spaces/%s", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.SpaceKey),
		Fallback: true,
	}

	title := record.Title(c.cfg.TitlePrefix)

	matches, err := c.searchByTitle(ctx, title)
	if err != nil {
		c.logger.WarnContext(ctx, "Link resolution degraded to fallback", "title", title, "error", err)

		return fallback
	}

	if len(matches) != 1 {
		c.logger.WarnContext(ctx, "Link resolution found no unique page",
			"title", title, "matches", len(matches))

		return fallback
	}

	return models.PublishedLink{
		URL: fmt.Sprintf("%s/pages/%s/%s",
			strings.TrimRight(c.cfg.BaseURL, "/"),
			matches[0].ID,
			strings.ReplaceAll(matches[0].Title, " ", "+")),
	}
}

// PublishReport creates or updates the page for the version record and
// uploads the report artifacts as attachments. Returns the page ID.
func (c *Client) PublishReport(ctx context.Context, record models.VersionRecord, body string, attachments []models.ArtifactRef) (string, error) {
	title := record.Title(c.cfg.TitlePrefix)

	existing, err := c.searchByTitle(ctx, title)
	if err != nil {
		return "", fmt.Errorf("failed to look up existing page: %w", err)
	}

	var pageID string

	if len(existing) > 0 {
		pageID, err = c.updatePage(ctx, existing[0], title, body)
	} else {
		pageID, err = c.createPage(ctx, title, body)
	}

	if err != nil {
		return "", err
	}

	// One bad attachment must not cost the rest of the set; upload failures
	// are logged and skipped.
	uploaded := 0

	for _, ref := range attachments {
		if !ref.Exists {
			continue
		}

		if err := c.uploadAttachment(ctx, pageID, ref); err != nil {
			c.logger.WarnContext(ctx, "Attachment upload failed",
				"name", ref.Name, "page_id", pageID, "error", err)

			continue
		}

		uploaded++
	}

	c.logger.InfoContext(ctx, "Report published",
		"title", title, "page_id", pageID, "attachments", uploaded)

	return pageID, nil
}

func (c *Client) searchByTitle(ctx context.Context, title string) ([]pageSummary, error) {
	endpoint := fmt.Sprintf("%s/rest/api/content/search?cql=%s&expand=version",
		strings.TrimRight(c.cfg.BaseURL, "/"),
		url.QueryEscape(fmt.Sprintf(`space="%s" AND title="%s"`, c.cfg.SpaceKey, title)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var response searchResponse
	if err := c.do(req, &response); err != nil {
		return nil, err
	}

	return response.Results, nil
}

func (c *Client) createPage(ctx context.Context, title, body string) (string, error) {
	payload := map[string]any{
		"type":  "page",
		"title": title,
		"space": map[string]string{"key": c.cfg.SpaceKey},
		"body": map[string]any{
			"storage": map[string]string{"value": body, "representation": "storage"},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/rest/api/content"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")

	var created pageSummary
	if err := c.do(req, &created); err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}

	return created.ID, nil
}

func (c *Client) updatePage(ctx context.Context, page pageSummary, title, body string) (string, error) {
	payload := map[string]any{
		"type":    "page",
		"title":   title,
		"version": map[string]int{"number": page.Version.Number + 1},
		"body": map[string]any{
			"storage": map[string]string{"value": body, "representation": "storage"},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/rest/api/content/%s", strings.TrimRight(c.cfg.BaseURL, "/"), page.ID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")

	var updated pageSummary
	if err := c.do(req, &updated); err != nil {
		return "", fmt.Errorf("failed to update page %s: %w", page.ID, err)
	}

	return updated.ID, nil
}

func (c *Client) uploadAttachment(ctx context.Context, pageID string, ref models.ArtifactRef) error {
	file, err := os.Open(ref.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", ref.Name)
	if err != nil {
		return err
	}

	if _, err := io.Copy(part, file); err != nil {
		return err
	}

	if err := writer.Close(); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/rest/api/content/%s/child/attachment",
		strings.TrimRight(c.cfg.BaseURL, "/"), pageID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Atlassian-Token", "no-check")

	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	req.SetBasicAuth(c.cfg.Username, c.cfg.APIToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

		return fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, req.URL.Path, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
