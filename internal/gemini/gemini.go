// Package gemini binds the story pipeline to Google's Gemini API through the
// official Go SDK (google.golang.org/genai).
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"storybook/internal/imagegen"
	"storybook/internal/model"
)

// Model name defaults.
const (
	DefaultTextModel        = "gemini-2.5-flash"
	DefaultImageModel       = "gemini-2.5-flash-image"
	DefaultStreamImageModel = "gemini-3-pro-image-preview"
)

// Client wraps a genai client for one API key.
type Client struct {
	genai *genai.Client
}

// NewClient creates a Gemini API client. httpClient may be nil.
func NewClient(ctx context.Context, apiKey string, httpClient *http.Client) (*Client, error) {
	if apiKey == "" {
		return nil, model.CredentialError("Gemini API key is required")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Client{genai: c}, nil
}

// storySchema is the response contract for structured story generation.
func storySchema() *genai.Schema {
	str := &genai.Schema{Type: genai.TypeString}
	page := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"pageNumber": {Type: genai.TypeInteger},
			"title":      str,
			"content":    str,
			"characters": {Type: genai.TypeArray, Items: str, MinItems: genai.Ptr[int64](1)},
			"setting":    str,
			"mood":       str,
		},
		Required:         []string{"pageNumber", "title", "content", "characters", "setting", "mood"},
		PropertyOrdering: []string{"pageNumber", "title", "content", "characters", "setting", "mood"},
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":     str,
			"genre":     str,
			"targetAge": str,
			"pages":     {Type: genai.TypeArray, Items: page, MinItems: genai.Ptr[int64](1)},
		},
		Required:         []string{"title", "genre", "targetAge", "pages"},
		PropertyOrdering: []string{"title", "genre", "targetAge", "pages"},
	}
}

// StoryGenerator asks Gemini for a schema-constrained story.
type StoryGenerator struct {
	client *Client
	model  string
	build  func(userPrompt string, pageCount int) string
}

// NewStoryGenerator returns a StoryGenerator; build turns the user prompt into the instruction.
func NewStoryGenerator(c *Client, modelName string, build func(string, int) string) *StoryGenerator {
	if modelName == "" {
		modelName = DefaultTextModel
	}
	return &StoryGenerator{client: c, model: modelName, build: build}
}

// GenerateStory makes one structured-output call; it does not retry.
func (g *StoryGenerator) GenerateStory(ctx context.Context, userPrompt string, pageCount int) (model.StoryDraft, error) {
	const op = "gemini.GenerateStory"
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   storySchema(),
	}
	resp, err := g.client.genai.Models.GenerateContent(ctx, g.model, genai.Text(g.build(userPrompt, pageCount)), cfg)
	if err != nil {
		return model.StoryDraft{}, classify(op, err)
	}
	return decodeDraft(op, resp.Text())
}

func decodeDraft(op, text string) (model.StoryDraft, error) {
	var d model.StoryDraft
	if strings.TrimSpace(text) == "" {
		return d, model.GenerationError(op, "empty response from model", nil)
	}
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return d, model.GenerationError(op, "response does not match story schema", err)
	}
	return d, nil
}

// TextGenerator returns plain text completions.
type TextGenerator struct {
	client *Client
	model  string
}

func NewTextGenerator(c *Client, modelName string) *TextGenerator {
	if modelName == "" {
		modelName = DefaultTextModel
	}
	return &TextGenerator{client: c, model: modelName}
}

func (g *TextGenerator) GenerateText(ctx context.Context, instruction string) (string, error) {
	const op = "gemini.GenerateText"
	resp, err := g.client.genai.Models.GenerateContent(ctx, g.model, genai.Text(instruction), nil)
	if err != nil {
		return "", classify(op, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", model.GenerationError(op, "empty response from model", nil)
	}
	return text, nil
}

// ImageModel renders images with a Gemini image model.
type ImageModel struct {
	client *Client
	model  string
	stream bool
}

var _ imagegen.ImageModel = (*ImageModel)(nil)

// NewImageModel returns an ImageModel using GenerateContent.
func NewImageModel(c *Client, modelName string) *ImageModel {
	if modelName == "" {
		modelName = DefaultImageModel
	}
	return &ImageModel{client: c, model: modelName}
}

// NewStreamingImageModel returns an ImageModel that consumes the content stream
// and keeps only the first inline image.
func NewStreamingImageModel(c *Client, modelName string) *ImageModel {
	if modelName == "" {
		modelName = DefaultStreamImageModel
	}
	return &ImageModel{client: c, model: modelName, stream: true}
}

func (m *ImageModel) Name() string { return m.model }

func (m *ImageModel) GenerateImage(ctx context.Context, req imagegen.Request) (*imagegen.Image, error) {
	const op = "gemini.GenerateImage"
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE"},
		ImageConfig:        &genai.ImageConfig{ImageSize: imageSize(req.Size)},
	}
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}

	if !m.stream {
		resp, err := m.client.genai.Models.GenerateContent(ctx, m.model, contents, cfg)
		if err != nil {
			return nil, classify(op, err)
		}
		if img := firstImage(resp); img != nil {
			return img, nil
		}
		return nil, model.ImageError(op, "No image generated", nil)
	}

	for resp, err := range m.client.genai.Models.GenerateContentStream(ctx, m.model, contents, cfg) {
		if err != nil {
			return nil, classify(op, err)
		}
		if img := firstImage(resp); img != nil {
			return img, nil
		}
	}
	return nil, model.ImageError(op, "No image generated", nil)
}

func firstImage(resp *genai.GenerateContentResponse) *imagegen.Image {
	if resp == nil {
		return nil
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &imagegen.Image{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}
			}
		}
	}
	return nil
}

// imageSize maps a pixel resolution onto Gemini's size buckets.
func imageSize(size string) string {
	switch size {
	case "2048x2048", "2K":
		return "2K"
	case "4096x4096", "4K":
		return "4K"
	default:
		return "1K"
	}
}

// classify maps a genai error onto the error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return model.UpstreamError(op, err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return model.QuotaError(op, err)
		}
	}
	if msg := strings.ToLower(err.Error()); strings.Contains(msg, "quota") || strings.Contains(msg, "429") {
		return model.QuotaError(op, err)
	}
	return model.UpstreamError(op, err)
}
