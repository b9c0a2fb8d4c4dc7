package deepgram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/bytedance/sonic"
)

type readRequest struct {
	Text string `json:"text"`
}

// AnalyzeText runs Deepgram text intelligence (summary, sentiment, topics and
// intents) over text and returns the provider's JSON result unchanged.
func (c *Client) AnalyzeText(ctx context.Context, text string) ([]byte, error) {
	u, err := url.Parse(c.readEndpoint)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build read URL: %w", err)
	}
	q := u.Query()
	q.Set("language", c.language)
	q.Set("summarize", "true")
	q.Set("sentiment", "true")
	q.Set("topics", "true")
	q.Set("intents", "true")
	u.RawQuery = q.Encode()

	body, err := sonic.Marshal(readRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("deepgram: encode read request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("deepgram: build read request: %w", err)
	}
	req.Header = c.authHeader()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxEventSize))
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram: read returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if !sonic.Valid(data) {
		return nil, fmt.Errorf("deepgram: read returned invalid JSON")
	}
	return data, nil
}
