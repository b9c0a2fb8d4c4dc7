// Package openai provides the OpenAI-backed analysis adapters: image
// description through chat completions and batch transcription through
// Whisper.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/room4-2/senserelay/analysis"
)

const (
	defaultVisionModel        = "gpt-4.1-mini"
	defaultTranscriptionModel = "whisper-1"
	defaultLanguage           = "en"
)

// Client wraps the OpenAI SDK client with the relay's fixed settings.
type Client struct {
	client             oai.Client
	visionModel        string
	transcriptionModel string
	language           string
}

// config holds optional configuration for the client.
type config struct {
	baseURL            string
	timeout            time.Duration
	maxRetries         int
	visionModel        string
	transcriptionModel string
	language           string
}

// Option is a functional option for Client.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how many times the SDK retries a failed request.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// WithVisionModel sets the chat model used to describe frames.
func WithVisionModel(model string) Option {
	return func(c *config) {
		c.visionModel = model
	}
}

// WithTranscriptionModel sets the batch transcription model.
func WithTranscriptionModel(model string) Option {
	return func(c *config) {
		c.transcriptionModel = model
	}
}

// WithLanguage sets the transcription language hint.
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// New constructs a Client.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{
		maxRetries:         2,
		visionModel:        defaultVisionModel,
		transcriptionModel: defaultTranscriptionModel,
		language:           defaultLanguage,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Client{
		client:             oai.NewClient(reqOpts...),
		visionModel:        cfg.visionModel,
		transcriptionModel: cfg.transcriptionModel,
		language:           cfg.language,
	}, nil
}

// DescribeImage implements analysis.ImageDescriber.
func (c *Client) DescribeImage(ctx context.Context, base64JPEG string) (string, error) {
	content := []oai.ChatCompletionContentPartUnionParam{
		oai.TextContentPart(analysis.VisionPrompt),
		oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
			URL:    "data:" + analysis.ImageMimeType + ";base64," + base64JPEG,
			Detail: analysis.ImageDetail,
		}),
	}

	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.visionModel),
		Messages:    []oai.ChatCompletionMessageParamUnion{oai.UserMessage(content)},
		MaxTokens:   param.NewOpt(int64(analysis.MaxDescriptionTokens)),
		Temperature: param.NewOpt(analysis.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// TranscribeFile implements transcription.FileTranscriber. The file name's
// extension tells Whisper the container format.
func (c *Client) TranscribeFile(ctx context.Context, f *os.File) (string, error) {
	resp, err := c.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:           f,
		Model:          oai.AudioModel(c.transcriptionModel),
		Language:       param.NewOpt(c.language),
		Temperature:    param.NewOpt(0.0),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return "", fmt.Errorf("openai: transcription: %w", err)
	}
	return resp.Text, nil
}

// Ping checks that the API key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx); err != nil {
		return fmt.Errorf("openai: list models: %w", err)
	}
	return nil
}
