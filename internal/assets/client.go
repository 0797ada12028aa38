// Package assets uploads captured media to an external content host and
// returns the durable URL the broadcast will reference.
package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "relaybot/pkg/logx"
)

type Config struct {
	// UploadURL is the asset host endpoint. The object name is appended as
	// the last path segment.
	UploadURL string
	AuthToken string
	Timeout   time.Duration
}

type Client struct {
	cfg  Config
	log  logx.Logger
	http *http.Client
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.UploadURL) == "" {
		return nil, errors.New("assets.upload_url is required")
	}
	if _, err := url.Parse(cfg.UploadURL); err != nil {
		return nil, fmt.Errorf("assets.upload_url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, log: log, http: &http.Client{Timeout: timeout}}, nil
}

// Upload posts data to the asset host and returns the hosted URL.
// The host answers with {"url": "..."}; a Location header works as fallback.
func (c *Client) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	endpoint := strings.TrimSuffix(c.cfg.UploadURL, "/") + "/" + url.PathEscape(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if tok := strings.TrimSpace(c.cfg.AuthToken); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("asset upload failed: http=%d", resp.StatusCode)
	}

	var out struct {
		URL string `json:"url"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	hosted := strings.TrimSpace(out.URL)
	if hosted == "" {
		hosted = strings.TrimSpace(resp.Header.Get("Location"))
	}
	if hosted == "" {
		return "", errors.New("asset upload: host returned no url")
	}

	c.log.Debug("asset uploaded", logx.String("name", name), logx.Int("bytes", len(data)), logx.Duration("took", time.Since(start)))
	return hosted, nil
}
