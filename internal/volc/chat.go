package volc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"storybook/internal/model"
)

const storyWriterInstruction = `You are a children's story writer. Respond with a single valid JSON object and nothing else.
The object has the keys title, genre, targetAge and pages. pages is an array of objects with the keys
pageNumber (integer starting at 1), title, content, characters (array of character names), setting and mood.`

const promptEngineerInstruction = `You are a prompt engineer for children's book illustrations.
Only output the final English prompt words, without the need for additional information.`

// ChatConfig 方舟对话模型配置
type ChatConfig struct {
	Model   string
	Region  string
	BaseURL string
	Timeout time.Duration
}

// NewChatModel 创建 eino 方舟对话模型
func NewChatModel(ctx context.Context, apiKey string, cfg ChatConfig) (einomodel.BaseChatModel, error) {
	if apiKey == "" {
		return nil, model.CredentialError("Ark API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
	}
	if cfg.Region == "" {
		cfg.Region = "cn-beijing"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey:     apiKey,
		Region:     cfg.Region,
		BaseURL:    cfg.BaseURL,
		HTTPClient: &http.Client{Timeout: timeout},
		Model:      cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return chatModel, nil
}

// chatGraph compiles template -> model for one system instruction.
func chatGraph(ctx context.Context, cm einomodel.BaseChatModel, instruction string) (compose.Runnable[map[string]any, *schema.Message], error) {
	tpl := einoprompt.FromMessages(schema.FString,
		schema.SystemMessage(instruction),
		schema.UserMessage("{input}"),
	)

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("template", tpl); err != nil {
		return nil, err
	}
	if err := graph.AddChatModelNode("model", cm); err != nil {
		return nil, err
	}
	if err := graph.AddEdge(compose.START, "template"); err != nil {
		return nil, err
	}
	if err := graph.AddEdge("template", "model"); err != nil {
		return nil, err
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, err
	}
	r, err := graph.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile graph: %w", err)
	}
	return r, nil
}

func invoke(ctx context.Context, r compose.Runnable[map[string]any, *schema.Message], input string) (string, error) {
	res, err := r.Invoke(ctx, map[string]any{"input": input})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Content), nil
}

// StoryGenerator 基于 eino 图的结构化故事生成
type StoryGenerator struct {
	graph compose.Runnable[map[string]any, *schema.Message]
	build func(userPrompt string, pageCount int) string
}

func NewStoryGenerator(ctx context.Context, cm einomodel.BaseChatModel, build func(string, int) string) (*StoryGenerator, error) {
	g, err := chatGraph(ctx, cm, storyWriterInstruction)
	if err != nil {
		return nil, err
	}
	return &StoryGenerator{graph: g, build: build}, nil
}

// GenerateStory 单次调用，不重试
func (g *StoryGenerator) GenerateStory(ctx context.Context, userPrompt string, pageCount int) (model.StoryDraft, error) {
	const op = "volc.GenerateStory"
	content, err := invoke(ctx, g.graph, g.build(userPrompt, pageCount))
	if err != nil {
		return model.StoryDraft{}, classify(op, err)
	}
	return parseStory(op, content)
}

// parseStory 去掉 markdown 代码块后解析 JSON
func parseStory(op, content string) (model.StoryDraft, error) {
	cleaned := strings.TrimSpace(content)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	}
	var d model.StoryDraft
	if cleaned == "" {
		return d, model.GenerationError(op, "empty response from model", nil)
	}
	if err := json.Unmarshal([]byte(cleaned), &d); err != nil {
		return d, model.GenerationError(op, "failed to unmarshal story", err)
	}
	return d, nil
}

// TextGenerator 生成插图提示词等纯文本
type TextGenerator struct {
	graph compose.Runnable[map[string]any, *schema.Message]
}

func NewTextGenerator(ctx context.Context, cm einomodel.BaseChatModel) (*TextGenerator, error) {
	g, err := chatGraph(ctx, cm, promptEngineerInstruction)
	if err != nil {
		return nil, err
	}
	return &TextGenerator{graph: g}, nil
}

func (g *TextGenerator) GenerateText(ctx context.Context, instruction string) (string, error) {
	const op = "volc.GenerateText"
	content, err := invoke(ctx, g.graph, instruction)
	if err != nil {
		return "", classify(op, err)
	}
	if content == "" {
		return "", model.GenerationError(op, "empty chat content", nil)
	}
	return content, nil
}
