// Package graph is a minimal Facebook Graph API client covering the
// conversation and message endpoints the sync needs. A process-wide rate
// limiter gates every call, pagination included.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	logx "chatsync/pkg/logx"
)

type Config struct {
	// BaseURL overrides the Graph endpoint (tests); empty means production.
	BaseURL    string
	APIVersion string

	CallsPerMinute int
	// MinSpacing is the floor between calls regardless of the per-minute
	// budget.
	MinSpacing time.Duration

	PageSize int
	Timeout  time.Duration
}

type Client struct {
	base     string
	http     *http.Client
	limiter  *rate.Limiter
	pageSize int
	log      logx.Logger
	calls    atomic.Int64
}

func New(cfg Config, log logx.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		v := cfg.APIVersion
		if v == "" {
			v = "v18.0"
		}
		base = "https://graph.facebook.com/" + v
	}
	perMinute := cfg.CallsPerMinute
	if perMinute <= 0 {
		perMinute = 600
	}
	spacing := time.Minute / time.Duration(perMinute)
	if cfg.MinSpacing > spacing {
		spacing = cfg.MinSpacing
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base:     base,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Every(spacing), 1),
		pageSize: pageSize,
		log:      log,
	}
}

// Calls returns the number of API requests made so far.
func (c *Client) Calls() int64 { return c.calls.Load() }

type Conversation struct {
	ID              string
	UpdatedTime     time.Time
	MessageCount    int
	ParticipantID   string
	ParticipantName string
}

type Message struct {
	ID          string
	Text        string
	SenderID    string
	SenderName  string
	CreatedTime time.Time
}

// APIError is the Graph error envelope.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api: %s (type=%s code=%d)", e.Message, e.Type, e.Code)
}

type participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
	Error *APIError `json:"error"`
}

// Conversations fetches all conversations for a page updated since the
// given time (zero disables the window), following pagination.
func (c *Client) Conversations(ctx context.Context, pageID, token string, since time.Time) ([]Conversation, error) {
	q := url.Values{
		"access_token": {token},
		"fields":       {"id,participants,updated_time,message_count"},
		"limit":        {strconv.Itoa(c.pageSize)},
	}
	if !since.IsZero() {
		q.Set("since", strconv.FormatInt(since.Unix(), 10))
	}
	next := c.base + "/" + pageID + "/conversations?" + q.Encode()

	var out []Conversation
	for next != "" {
		var raw []struct {
			ID           string `json:"id"`
			UpdatedTime  string `json:"updated_time"`
			MessageCount int    `json:"message_count"`
			Participants struct {
				Data []participant `json:"data"`
			} `json:"participants"`
		}
		var err error
		next, err = c.fetchPage(ctx, next, &raw)
		if err != nil {
			return nil, err
		}
		for _, rc := range raw {
			conv := Conversation{
				ID:           rc.ID,
				UpdatedTime:  parseGraphTime(rc.UpdatedTime),
				MessageCount: rc.MessageCount,
			}
			for _, p := range rc.Participants.Data {
				if p.ID != pageID {
					conv.ParticipantID = p.ID
					conv.ParticipantName = p.Name
					break
				}
			}
			out = append(out, conv)
		}
	}
	return out, nil
}

// Messages fetches all messages in a conversation since the given time,
// following pagination.
func (c *Client) Messages(ctx context.Context, conversationID, token string, since time.Time) ([]Message, error) {
	q := url.Values{
		"access_token": {token},
		"fields":       {"id,message,from,to,created_time"},
		"limit":        {strconv.Itoa(c.pageSize)},
	}
	if !since.IsZero() {
		q.Set("since", strconv.FormatInt(since.Unix(), 10))
	}
	next := c.base + "/" + conversationID + "/messages?" + q.Encode()

	var out []Message
	for next != "" {
		var raw []struct {
			ID          string      `json:"id"`
			Message     string      `json:"message"`
			From        participant `json:"from"`
			CreatedTime string      `json:"created_time"`
		}
		var err error
		next, err = c.fetchPage(ctx, next, &raw)
		if err != nil {
			return nil, err
		}
		for _, rm := range raw {
			out = append(out, Message{
				ID:          rm.ID,
				Text:        rm.Message,
				SenderID:    rm.From.ID,
				SenderName:  rm.From.Name,
				CreatedTime: parseGraphTime(rm.CreatedTime),
			})
		}
	}
	return out, nil
}

// fetchPage performs one rate-limited GET and decodes the envelope into
// dst. Returns the next-page URL, empty when exhausted.
func (c *Client) fetchPage(ctx context.Context, u string, dst any) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	c.calls.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if env.Error != nil {
		return "", env.Error
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("graph api: unexpected status %d", resp.StatusCode)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, dst); err != nil {
			return "", fmt.Errorf("decode data: %w", err)
		}
	}
	return env.Paging.Next, nil
}

// parseGraphTime handles the Graph "+0000" offset format alongside RFC3339.
func parseGraphTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02T15:04:05-0700", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
