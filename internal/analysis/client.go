package analysis

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/austinkregel/local-media/jukeboxd/internal/jukebox"
	"github.com/austinkregel/local-media/jukeboxd/internal/remix"
)

// DefaultTimeout bounds a single analysis request.
const DefaultTimeout = 15 * time.Second

// maxResponseBytes caps analysis documents; long tracks run to a few MB.
const maxResponseBytes = 32 << 20

// Client fetches analyses from an HTTP service by catalog id:
// GET {baseURL}/audio-analysis/{id}.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a client. A zero timeout uses DefaultTimeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "analysis-client").Logger(),
	}
}

func (c *Client) Fetch(ctx context.Context, track jukebox.Track) (*remix.Analysis, error) {
	if track.ID == "" {
		return nil, ErrNotFound
	}

	endpoint := c.baseURL + "/audio-analysis/" + url.PathEscape(track.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch analysis: %w", err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("track", track.ID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("analysis request")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("analysis service returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	a, err := remix.Parse(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("track %s: %w", track.ID, err)
	}
	return a, nil
}
