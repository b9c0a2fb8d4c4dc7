// Package deepgram talks to Deepgram: the streaming listen WebSocket used by
// the relay and the text intelligence (read) REST endpoint.
package deepgram

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultListenEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultReadEndpoint   = "https://api.deepgram.com/v1/read"
	defaultModel          = "nova-3"
	defaultLanguage       = "en"
)

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithEndpoint overrides the streaming listen endpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithReadEndpoint overrides the text intelligence endpoint.
func WithReadEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.readEndpoint = endpoint
	}
}

// WithModel sets the Deepgram model (e.g. "nova-3").
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithLanguage sets the recognition language (e.g. "en").
func WithLanguage(language string) Option {
	return func(c *Client) {
		c.language = language
	}
}

// WithInterimResults toggles interim (non-final) transcripts.
func WithInterimResults(enabled bool) Option {
	return func(c *Client) {
		c.interim = enabled
	}
}

// WithHTTPClient sets the HTTP client used for dialing and REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client holds the fixed Deepgram configuration shared by every stream.
type Client struct {
	apiKey       string
	endpoint     string
	readEndpoint string
	model        string
	language     string
	interim      bool
	httpClient   *http.Client
}

// New creates a Client. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	c := &Client{
		apiKey:       apiKey,
		endpoint:     defaultListenEndpoint,
		readEndpoint: defaultReadEndpoint,
		model:        defaultModel,
		language:     defaultLanguage,
		interim:      true,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Token "+c.apiKey)
	return h
}

// listenURL builds the streaming endpoint URL with the fixed session settings.
func (c *Client) listenURL() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", c.model)
	q.Set("language", c.language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", strconv.FormatBool(c.interim))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
