package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/room4-2/senserelay/analysis"
)

const defaultModel = "gemini-2.5-flash"

// Vision describes video frames with a Gemini model
type Vision struct {
	client *genai.Client
	model  string
}

// Option configures Vision.
type Option func(*options)

type options struct {
	model   string
	baseURL string
}

// WithModel sets the Gemini model name.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithBaseURL points the client at a different API host.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// NewVision creates the Gemini client used for frame descriptions
func NewVision(ctx context.Context, apiKey string, opts ...Option) (*Vision, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	o := options{model: defaultModel}
	for _, opt := range opts {
		opt(&o)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: o.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Vision{client: client, model: o.model}, nil
}

// DescribeImage implements analysis.ImageDescriber.
func (v *Vision) DescribeImage(ctx context.Context, base64JPEG string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(base64JPEG)
	if err != nil {
		return "", fmt.Errorf("gemini: decode image: %w", err)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(analysis.VisionPrompt),
			genai.NewPartFromBytes(data, analysis.ImageMimeType),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](analysis.Temperature),
		MaxOutputTokens: analysis.MaxDescriptionTokens,
	}

	resp, err := v.client.Models.GenerateContent(ctx, v.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}

	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				text.WriteString(part.Text)
			}
		}
	}
	return text.String(), nil
}
