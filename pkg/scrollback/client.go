// Package scrollback retrieves historical terminal output pages from the
// daemon's REST API, independent of the live channel. Pages are fetched
// backward from a cursor: the initial fetch returns the newest page, later
// fetches request strictly older data.
package scrollback

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// DefaultMaxBytes is the per-page byte budget.
const DefaultMaxBytes = 512 * 1024

// Page is one immutable slice of historical output. Pages are ordered
// oldest-to-newest by StartOffset in the client's accumulated list.
type Page struct {
	Data        []byte
	StartOffset uint64
	EndOffset   uint64
	HasMore     bool
}

type pageResponse struct {
	Data        string `json:"data"` // base64
	StartOffset uint64 `json:"start_offset"`
	EndOffset   uint64 `json:"end_offset"`
	HasMore     bool   `json:"has_more"`
}

// Client fetches scrollback pages for one session at a time.
//
// Fetch operations are not reentrancy-guarded against each other: callers
// must let one FetchInitial/FetchMore settle before starting the next.
type Client struct {
	httpBase string
	token    string
	maxBytes int
	hc       *http.Client

	mu        sync.Mutex
	sessionID string
	pages     []Page
	hasMore   bool
	lastErr   string
}

func NewClient(httpBase, token string) *Client {
	return &Client{
		httpBase: httpBase,
		token:    token,
		maxBytes: DefaultMaxBytes,
		hc:       &http.Client{Timeout: 30 * time.Second},
	}
}

// SetMaxBytes overrides the per-page byte budget (tests use small pages).
func (c *Client) SetMaxBytes(n int) {
	if n > 0 {
		c.maxBytes = n
	}
}

// FetchInitial requests the newest page for the session. On success the
// page list is replaced by that single page; on failure the error message
// is recorded and the page list is left empty.
func (c *Client) FetchInitial(ctx context.Context, sessionID string) error {
	page, err := c.fetch(ctx, sessionID, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	if err != nil {
		c.pages = nil
		c.hasMore = false
		c.lastErr = err.Error()
		return err
	}
	c.pages = []Page{page}
	c.hasMore = page.HasMore
	c.lastErr = ""
	return nil
}

// FetchMore requests a page strictly older than the earliest loaded one.
// No-op when no session is active. The new page is prepended unless the
// daemon returned the page already at the head of the list.
func (c *Client) FetchMore(ctx context.Context) error {
	c.mu.Lock()
	if c.sessionID == "" {
		c.mu.Unlock()
		return nil
	}
	sessionID := c.sessionID
	var before *uint64
	if len(c.pages) > 0 {
		offset := c.pages[0].StartOffset
		before = &offset
	}
	c.mu.Unlock()

	page, err := c.fetch(ctx, sessionID, before)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = err.Error()
		return err
	}
	c.lastErr = ""
	c.hasMore = page.HasMore
	if len(c.pages) > 0 && c.pages[0].StartOffset == page.StartOffset {
		return nil // duplicate of the loaded head
	}
	c.pages = append([]Page{page}, c.pages...)
	return nil
}

// Pages returns the accumulated pages, oldest first.
func (c *Client) Pages() []Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Page, len(c.pages))
	copy(out, c.pages)
	return out
}

// HasMore reports whether older output remains on the daemon.
func (c *Client) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// LastError returns the most recent fetch failure message, empty after a
// successful fetch.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Reset forgets the active session and all loaded pages.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = ""
	c.pages = nil
	c.hasMore = false
	c.lastErr = ""
}

func (c *Client) fetch(ctx context.Context, sessionID string, beforeOffset *uint64) (Page, error) {
	q := url.Values{}
	q.Set("max_bytes", fmt.Sprintf("%d", c.maxBytes))
	if beforeOffset != nil {
		q.Set("before_offset", fmt.Sprintf("%d", *beforeOffset))
	}
	endpoint := fmt.Sprintf("%s/api/v1/agents/sessions/%s/scrollback?%s",
		c.httpBase, url.PathEscape(sessionID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Page{}, fmt.Errorf("scrollback: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("scrollback: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("scrollback: daemon returned %s", resp.Status)
	}

	var body pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Page{}, fmt.Errorf("scrollback: decode response: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(body.Data)
	if err != nil {
		return Page{}, fmt.Errorf("scrollback: decode page data: %w", err)
	}

	return Page{
		Data:        data,
		StartOffset: body.StartOffset,
		EndOffset:   body.EndOffset,
		HasMore:     body.HasMore,
	}, nil
}
