package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"match-ingest/internal/collector"
	"match-ingest/internal/ratelimit"
	"match-ingest/internal/riot"
)

const (
	// Colors for Discord embeds
	colorRed    = 15158332 // 0xE74C3C - for errors/expiration
	colorGreen  = 5763719  // 0x57F287 - for success
	colorYellow = 16705372 // 0xFEE75C - for quota bans

	// Default timeout for webhook requests
	defaultWebhookTimeout = 10 * time.Second

	// Max retries for rate limiting
	maxRetries = 3

	// Discord rejects embed field values longer than this
	maxFieldLen = 1024
)

// WebhookPayload represents a Discord webhook message
type WebhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Embed represents a Discord embed
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField represents a field in a Discord embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter represents the footer of a Discord embed
type EmbedFooter struct {
	Text string `json:"text"`
}

func summaryFields(sum collector.RunSummary) []EmbedField {
	return []EmbedField{
		{Name: "Matches", Value: formatNumber(sum.MatchesProcessed), Inline: true},
		{Name: "Fetched / Cached", Value: formatNumber(sum.Fetched) + " / " + formatNumber(sum.CacheHits), Inline: true},
		{Name: "New Players", Value: formatNumber(sum.NewPlayers), Inline: true},
		{Name: "Frontier", Value: formatNumber(sum.FrontierLen), Inline: true},
		{Name: "Runtime", Value: formatDuration(sum.Duration), Inline: true},
		{Name: "Stop", Value: string(sum.Stop), Inline: true},
	}
}

func footer(sum collector.RunSummary) *EmbedFooter {
	if sum.RunID == "" {
		return nil
	}
	return &EmbedFooter{Text: "run " + sum.RunID}
}

// NewRunFinishedPayload summarises a completed crawl run
func NewRunFinishedPayload(sum collector.RunSummary) WebhookPayload {
	return WebhookPayload{
		Embeds: []Embed{{
			Title:     "✅ Crawl Run Finished",
			Color:     colorGreen,
			Fields:    summaryFields(sum),
			Footer:    footer(sum),
			Timestamp: sum.StartedAt.UTC().Format(time.RFC3339),
		}},
	}
}

// NewQuotaDeniedPayload reports a quota ban and when the collector resumes
func NewQuotaDeniedPayload(sum collector.RunSummary, err error) WebhookPayload {
	fields := summaryFields(sum)
	var denied *ratelimit.DeniedError
	if errors.As(err, &denied) {
		fields = append(fields,
			EmbedField{Name: "Reason", Value: string(denied.Decision.Reason), Inline: true},
			EmbedField{Name: "Retry After", Value: formatDuration(denied.Decision.RetryAfter), Inline: true},
		)
	}
	return WebhookPayload{
		Content: "@here Ingestion quota exhausted",
		Embeds: []Embed{{
			Title:  "⏸️ Quota Denied",
			Color:  colorYellow,
			Fields: fields,
			Footer: &EmbedFooter{Text: "Collection resumes when the ban expires"},
		}},
	}
}

// NewRunAbortedPayload reports an infrastructure failure. A rejected
// credential gets its own title since it needs a human.
func NewRunAbortedPayload(sum collector.RunSummary, err error) WebhookPayload {
	title := "❌ Crawl Run Aborted"
	content := ""
	footerText := "State was saved; fix the cause and restart"
	if riot.IsUnauthorized(err) {
		title = "🔑 API Key Rejected"
		content = "@here API Key Expired!"
		footerText = "Set a new RGAPI key and restart the collector"
	}
	return WebhookPayload{
		Content: content,
		Embeds: []Embed{{
			Title:       title,
			Description: truncate(errString(err), maxFieldLen),
			Color:       colorRed,
			Fields:      summaryFields(sum),
			Footer:      &EmbedFooter{Text: footerText},
		}},
	}
}

// NewSessionStartedPayload creates a payload for new session started notification
func NewSessionStartedPayload(apiKey string, seedPlayers int, frontier int) WebhookPayload {
	return WebhookPayload{
		Embeds: []Embed{
			{
				Title: "✅ New Session Started",
				Color: colorGreen,
				Fields: []EmbedField{
					{
						Name:   "Key",
						Value:  maskAPIKey(apiKey) + " (validated)",
						Inline: true,
					},
					{
						Name:   "Ladder Seeds",
						Value:  formatNumber(seedPlayers),
						Inline: true,
					},
					{
						Name:   "Frontier",
						Value:  formatNumber(frontier),
						Inline: true,
					},
				},
				Footer: &EmbedFooter{
					Text: "Crawl resumes from the saved frontier",
				},
			},
		},
	}
}

// WebhookClient sends notifications to Discord webhooks. It implements
// collector.Notifier.
type WebhookClient struct {
	webhookURL string
	httpClient *http.Client
}

var _ collector.Notifier = (*WebhookClient)(nil)

// NewWebhookClient creates a new WebhookClient
func NewWebhookClient(webhookURL string) *WebhookClient {
	return &WebhookClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: defaultWebhookTimeout,
		},
	}
}

func (c *WebhookClient) RunFinished(ctx context.Context, sum collector.RunSummary) error {
	return c.sendPayload(ctx, NewRunFinishedPayload(sum))
}

func (c *WebhookClient) QuotaDenied(ctx context.Context, sum collector.RunSummary, err error) error {
	return c.sendPayload(ctx, NewQuotaDeniedPayload(sum, err))
}

func (c *WebhookClient) RunAborted(ctx context.Context, sum collector.RunSummary, err error) error {
	return c.sendPayload(ctx, NewRunAbortedPayload(sum, err))
}

// SendSessionStarted announces a collector start with a validated key
func (c *WebhookClient) SendSessionStarted(ctx context.Context, apiKey string, seedPlayers, frontier int) error {
	return c.sendPayload(ctx, NewSessionStartedPayload(apiKey, seedPlayers, frontier))
}

// sendPayload sends a webhook payload with retry on rate limiting
func (c *WebhookClient) sendPayload(ctx context.Context, payload WebhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "POST", c.webhookURL, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		// Success - Discord returns 204 No Content
		if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
			return nil
		}

		// Rate limited - wait and retry
		if resp.StatusCode == http.StatusTooManyRequests {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryAfter(resp.Header.Get("Retry-After"), body)):
				continue
			}
		}

		// Other error
		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	return fmt.Errorf("webhook request failed after %d retries", maxRetries)
}

// retryAfter reads the wait from the header, then the JSON body's
// retry_after (seconds, possibly fractional), defaulting to one second
func retryAfter(header string, body []byte) time.Duration {
	if header != "" {
		if seconds, err := strconv.ParseFloat(header, 64); err == nil && seconds >= 0 {
			return time.Duration(seconds * float64(time.Second))
		}
	}
	var rl struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if len(body) > 0 && json.Unmarshal(body, &rl) == nil && rl.RetryAfter > 0 {
		return time.Duration(rl.RetryAfter * float64(time.Second))
	}
	return time.Second
}

// formatNumber formats a number with commas (e.g., 47832 -> "47,832")
func formatNumber(n int) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	if n < 1000 {
		return strconv.Itoa(n)
	}

	s := strconv.Itoa(n)
	var result bytes.Buffer
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result.WriteByte(',')
		}
		result.WriteRune(c)
	}
	return result.String()
}

// formatDuration formats a duration as "Xh Ym" (e.g., 18h 32m)
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// maskAPIKey masks an API key for display (e.g., "RGAPI-xxxx-xxxx" -> "RGAPI...xxxx")
func maskAPIKey(key string) string {
	if len(key) <= 10 {
		return "****"
	}
	return key[:5] + "..." + key[len(key)-4:]
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
