// Package analysis holds the request/response analysis adapters used by the
// relay: image description with keyword-derived scene, mood and emotion
// scores, and text intelligence.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyImage is returned when a frame has no image data.
var ErrEmptyImage = errors.New("image data is required")

// NoDescription replaces an empty provider description.
const NoDescription = "No description available"

// VideoAnalysis is the result of analyzing one video frame.
type VideoAnalysis struct {
	Description string             `json:"description"`
	Objects     []string           `json:"objects"`
	Scene       string             `json:"scene"`
	Mood        string             `json:"mood"`
	Emotions    map[string]float64 `json:"emotions"`
}

// Derive builds a VideoAnalysis from a free-text description.
func Derive(description string) VideoAnalysis {
	return VideoAnalysis{
		Description: description,
		Objects:     ExtractObjects(description),
		Scene:       ExtractScene(description),
		Mood:        ExtractMood(description),
		Emotions:    ExtractEmotions(description),
	}
}

// ImageDescriber turns a base64 JPEG into a free-text description.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, base64JPEG string) (string, error)
}

// TextAnalyzer runs text intelligence (summary, sentiment, topics, intents) and
// returns the provider's JSON result.
type TextAnalyzer interface {
	AnalyzeText(ctx context.Context, text string) ([]byte, error)
}

// Vision analyzes frames with an ImageDescriber.
type Vision struct {
	describer ImageDescriber
}

// NewVision creates a Vision around describer.
func NewVision(describer ImageDescriber) *Vision {
	return &Vision{describer: describer}
}

// Analyze describes the frame and derives objects, scene, mood and emotions.
func (v *Vision) Analyze(ctx context.Context, base64JPEG string) (*VideoAnalysis, error) {
	if strings.TrimSpace(base64JPEG) == "" {
		return nil, ErrEmptyImage
	}
	description, err := v.describer.DescribeImage(ctx, base64JPEG)
	if err != nil {
		return nil, fmt.Errorf("video frame analysis failed: %w", err)
	}
	if strings.TrimSpace(description) == "" {
		description = NoDescription
	}
	result := Derive(description)
	return &result, nil
}
