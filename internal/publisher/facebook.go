package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FacebookPublisher delivers a finished post to a page feed via the Graph API.
type FacebookPublisher struct {
	APIURL string
	HTTP   *http.Client
}

func NewFacebookPublisher(apiURL string) *FacebookPublisher {
	return &FacebookPublisher{
		APIURL: strings.TrimRight(apiURL, "/"),
		HTTP:   &http.Client{Timeout: 60 * time.Second},
	}
}

// PublishPost creates a text post on the page feed and returns the Graph post id.
func (p *FacebookPublisher) PublishPost(ctx context.Context, pageID, pageToken, message string) (string, error) {
	form := url.Values{}
	form.Set("message", message)
	form.Set("access_token", pageToken)

	endpoint := fmt.Sprintf("%s/%s/feed", p.APIURL, url.PathEscape(pageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("facebook returned %d: %s", resp.StatusCode, extractFacebookErrorMessage(body, "publish failed"))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("invalid facebook response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("facebook response missing post id")
	}
	return out.ID, nil
}

func extractFacebookErrorMessage(body []byte, fallback string) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return fallback
}
