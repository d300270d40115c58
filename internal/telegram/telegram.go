package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/deusflow/herald/internal/metrics"
	"github.com/deusflow/herald/internal/retry"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	// MaxMessageLen stays below Telegram's 4096 character limit.
	MaxMessageLen = 4000
)

type Client struct {
	token   string
	chatID  string
	baseURL string
	http    *http.Client
	retry   retry.RetryConfig
	metrics *metrics.Metrics
}

type Option func(*Client)

// WithBaseURL points the client at another Bot API host.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg retry.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

func NewClient(token, chatID string, opts ...Option) *Client {
	c := &Client{
		token:   token,
		chatID:  chatID,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   retry.RetryConfig{MaxAttempts: 3, Delay: 2 * time.Second, Backoff: true},
		metrics: metrics.Global,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Notify posts a digest, split into as many messages as needed.
func (c *Client) Notify(ctx context.Context, digest string) error {
	chunks := SplitMessage(digest, MaxMessageLen)
	for i, chunk := range chunks {
		if err := c.SendMessage(ctx, chunk); err != nil {
			return fmt.Errorf("message %d/%d: %w", i+1, len(chunks), err)
		}
	}
	slog.Info("digest sent to telegram", "messages", len(chunks))
	return nil
}

// SendMessage sends text message to Telegram chat/channel with retry logic
func (c *Client) SendMessage(ctx context.Context, text string) error {
	attempt := 0
	err := retry.WithRetry(ctx, c.retry, func(ctx context.Context) error {
		attempt++
		err := c.sendMessageOnce(ctx, text)
		if err != nil {
			slog.Warn("telegram send failed", "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return err
	}
	c.metrics.IncrementTelegramMessagesSent()
	return nil
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// sendMessageOnce does one try to send message
func (c *Client) sendMessageOnce(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)

	payload := map[string]interface{}{
		"chat_id":                  c.chatID,
		"text":                     text,
		"disable_web_page_preview": true, // No link preview for clean
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Permanent(fmt.Errorf("error make JSON: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed apiResponse
	_ = json.Unmarshal(respBody, &parsed)

	if resp.StatusCode != http.StatusOK || !parsed.OK {
		err := fmt.Errorf("telegram API error: status %d: %s", resp.StatusCode, parsed.Description)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	}
	return nil
}

var itemStart = regexp.MustCompile(`^\d+\. `)

// SplitMessage cuts text into chunks of at most limit runes. Cuts fall
// between paragraphs or numbered items; only a single block longer than
// limit is cut mid-line.
func SplitMessage(text string, limit int) []string {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	if runeLen(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimRight(cur.String(), "\n"); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, block := range splitBlocks(text) {
		if runeLen(cur.String())+runeLen(block) > limit {
			flush()
		}
		for runeLen(block) > limit {
			r := []rune(block)
			chunks = append(chunks, string(r[:limit]))
			block = string(r[limit:])
		}
		cur.WriteString(block)
	}
	flush()
	return chunks
}

// splitBlocks groups lines so that each numbered item stays with its
// metadata line. Every block keeps its trailing newline.
func splitBlocks(text string) []string {
	var blocks []string
	var cur strings.Builder
	prevBlank := false
	for _, line := range strings.Split(text, "\n") {
		if cur.Len() > 0 && (itemStart.MatchString(line) || prevBlank) {
			blocks = append(blocks, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
		cur.WriteString("\n")
		prevBlank = strings.TrimSpace(line) == ""
	}
	if cur.Len() > 0 {
		blocks = append(blocks, cur.String())
	}
	return blocks
}

func runeLen(s string) int {
	return len([]rune(s))
}
