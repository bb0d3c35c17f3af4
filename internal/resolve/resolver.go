package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Holovkat/Auto-Claude/internal/models"
)

// RegionRequest asks for a merged rendition of one conflict region.
// ContextBefore and ContextAfter are the surrounding unchanged lines.
type RegionRequest struct {
	Path          string
	Region        models.ConflictRegion
	ContextBefore string
	ContextAfter  string
	Evolution     string
}

// FileRequest asks for a merged rendition of a whole file from its
// three versions.
type FileRequest struct {
	Path       string
	BaseText   string
	SourceText string
	TargetText string
	Evolution  string
}

// Resolver produces merged text for conflicts that structural merging
// could not handle. Implementations must return the merged text only,
// with no commentary or fencing.
type Resolver interface {
	ResolveRegion(ctx context.Context, req *RegionRequest) (string, error)
	ResolveFile(ctx context.Context, req *FileRequest) (string, error)
}

// Client implements Resolver against the Anthropic API.
type Client struct {
	api       *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewClient creates an AI resolver with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:       &client,
		model:     anthropic.Model(model),
		maxTokens: 8192,
	}
}

// ResolveRegion sends one conflict region to the model.
func (c *Client) ResolveRegion(ctx context.Context, req *RegionRequest) (string, error) {
	system, user := buildRegionPrompt(req)
	return c.complete(ctx, system, user)
}

// ResolveFile sends all three versions of a file to the model.
func (c *Client) ResolveFile(ctx context.Context, req *FileRequest) (string, error) {
	system, user := buildFilePrompt(req)
	return c.complete(ctx, system, user)
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return stripFence(text), nil
}

// stripFence removes markdown fencing if the model wrapped its output
// despite instructions.
func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	lines := strings.SplitN(trimmed, "\n", 2)
	if len(lines) > 1 {
		trimmed = lines[1]
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}
