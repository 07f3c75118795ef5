// Package chat implements the Discord channel reader.
//
// The executor consumes one channel. Reading is forward-only: FetchNew pages
// with after=<last seen id> until a short page, returning messages oldest
// first. FetchMessage re-reads a single message by id so the engine can check
// a signal's source for edits and revocations. Rate limits are honored via
// the retry_after hint in 429 responses. Embeds are flattened into the
// message text so the parser sees one plain string regardless of how the
// signal was formatted.
package chat

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/candree7-rgb/aoalgo/internal/config"
	"github.com/candree7-rgb/aoalgo/pkg/types"
)

const (
	baseURL        = "https://discord.com/api/v10"
	maxRateRetries = 3
	maxPages       = 20 // safety cap per FetchNew call
)

// Client reads messages from a single Discord channel.
type Client struct {
	http       *resty.Client
	channelID  string
	fetchLimit int
	logger     *slog.Logger

	// sleep is swappable for tests.
	sleep func(context.Context, time.Duration) error
}

// NewClient creates a reader for the channel in cfg.
func NewClient(cfg config.DiscordConfig, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Every chat call is a read; transient failures are safe to
			// retry. 429 is handled by the retry_after loop in get.
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Authorization", cfg.Token).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:       httpClient,
		channelID:  cfg.ChannelID,
		fetchLimit: cfg.FetchLimit,
		logger:     logger.With("component", "chat"),
		sleep:      sleepCtx,
	}
}

// SetBaseURL overrides the endpoint. Used by tests.
func (c *Client) SetBaseURL(u string) { c.http.SetBaseURL(u) }

// rawMessage is the subset of the Discord message payload we consume.
type rawMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Embeds    []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Fields      []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"fields"`
		Footer struct {
			Text string `json:"text"`
		} `json:"footer"`
	} `json:"embeds"`
}

// FetchNew returns all messages after afterID, oldest first. An empty afterID
// returns the most recent page only, so a fresh deployment doesn't replay the
// channel's history.
func (c *Client) FetchNew(ctx context.Context, afterID string) ([]types.Message, error) {
	var out []types.Message

	cursor := afterID
	for page := 0; page < maxPages; page++ {
		batch, err := c.fetchPage(ctx, cursor)
		if err != nil {
			return out, err
		}
		if len(batch) == 0 {
			break
		}

		// Discord returns newest first; flip to chronological.
		sort.Slice(batch, func(i, j int) bool { return snowflakeLess(batch[i].ID, batch[j].ID) })
		for _, m := range batch {
			out = append(out, flatten(m))
		}
		cursor = batch[len(batch)-1].ID

		if len(batch) < c.fetchLimit || afterID == "" {
			break
		}
	}
	return out, nil
}

// FetchMessage re-reads one message by id.
func (c *Client) FetchMessage(ctx context.Context, msgID string) (types.Message, error) {
	path := fmt.Sprintf("/channels/%s/messages/%s", c.channelID, msgID)

	var raw rawMessage
	if err := c.get(ctx, path, nil, &raw); err != nil {
		return types.Message{}, err
	}
	return flatten(raw), nil
}

func (c *Client) fetchPage(ctx context.Context, afterID string) ([]rawMessage, error) {
	params := map[string]string{"limit": strconv.Itoa(c.fetchLimit)}
	if afterID != "" {
		params["after"] = afterID
	}

	var batch []rawMessage
	path := fmt.Sprintf("/channels/%s/messages", c.channelID)
	if err := c.get(ctx, path, params, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// get performs a GET, retrying up to maxRateRetries times on 429 using the
// retry_after hint from the response body.
func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) error {
	for attempt := 0; ; attempt++ {
		var rateLimited struct {
			RetryAfter float64 `json:"retry_after"`
		}
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(out).
			SetError(&rateLimited).
			Get(path)
		if err != nil {
			return fmt.Errorf("get %s: %w", path, err)
		}

		switch resp.StatusCode() {
		case http.StatusOK:
			return nil
		case http.StatusTooManyRequests:
			if attempt >= maxRateRetries {
				return fmt.Errorf("get %s: rate limited after %d retries", path, attempt)
			}
			wait := time.Duration(rateLimited.RetryAfter * float64(time.Second))
			if wait <= 0 {
				wait = time.Second
			}
			c.logger.Warn("chat rate limited, backing off", "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		default:
			return fmt.Errorf("get %s: status %d: %s", path, resp.StatusCode(), resp.String())
		}
	}
}

// flatten joins message content with every embed's text pieces, strips
// markdown decoration, and parses the timestamp.
func flatten(m rawMessage) types.Message {
	parts := []string{m.Content}
	for _, e := range m.Embeds {
		parts = append(parts, e.Title, e.Description)
		for _, f := range e.Fields {
			parts = append(parts, f.Name, f.Value)
		}
		parts = append(parts, e.Footer.Text)
	}

	var nonEmpty []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}

	ts, err := time.Parse(time.RFC3339, m.Timestamp)
	if err != nil {
		ts = time.Time{}
	}

	return types.Message{
		ID:        m.ID,
		Timestamp: ts.UTC(),
		Text:      stripMarkdown(strings.Join(nonEmpty, "\n")),
	}
}

var (
	customEmojiRe = regexp.MustCompile(`<a?:\w+:\d+>`)
	linkRe        = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	decorationRe  = regexp.MustCompile("[*_~`]+")
)

// stripMarkdown removes Discord decoration so the parser matches on plain
// text: markdown links are unwrapped to their label, custom emoji and
// decoration characters are dropped, HTML entities are unescaped. Prices
// like 1_000 never appear in signals, so underscores are safe to drop.
func stripMarkdown(s string) string {
	s = linkRe.ReplaceAllString(s, "$1")
	s = customEmojiRe.ReplaceAllString(s, "")
	s = decorationRe.ReplaceAllString(s, "")
	return html.UnescapeString(s)
}

// snowflakeLess orders Discord snowflake ids numerically.
func snowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
