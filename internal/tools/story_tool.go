package tools

import (
	"context"
	"encoding/json"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"storybook/internal/model"
	"storybook/internal/pipeline"
)

// StoryRunner 运行完整绘本流水线
type StoryRunner interface {
	Run(ctx context.Context, b pipeline.Bindings, req model.StoryRequest) (*model.StoryResult, error)
}

// StoryTool 实现eino框架的绘本生成工具
type StoryTool struct {
	runner       StoryRunner
	bindings     pipeline.Bindings
	defaultPages int
	maxPages     int
}

// StoryToolArgs 绘本生成请求参数
type StoryToolArgs struct {
	Prompt    string `json:"prompt"`    // 故事创意
	PageCount int    `json:"pageCount"` // 页数
}

// NewStoryTool 创建绘本生成工具实例; bindings 已按调用方凭证构建
func NewStoryTool(r StoryRunner, b pipeline.Bindings, defaultPages, maxPages int) *StoryTool {
	return &StoryTool{runner: r, bindings: b, defaultPages: defaultPages, maxPages: maxPages}
}

// Info 获取绘本生成工具信息
func (t *StoryTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"prompt":    {Type: schema.String, Required: true, Desc: "story idea, e.g. a brave turtle learns to swim"},
		"pageCount": {Type: schema.Integer, Required: false, Desc: fmt.Sprintf("number of pages, 1-%d, default %d", t.maxPages, t.defaultPages)},
	}
	return &schema.ToolInfo{
		Name:        "story_generate",
		Desc:        "Write an illustrated children's storybook: story pages, a cover and one illustration per page",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

// InvokableRun 执行绘本生成任务
func (t *StoryTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args StoryToolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", model.ValidationError("invalid arguments: " + err.Error())
	}

	req, err := model.ValidateRequest(model.StoryRequest{Prompt: args.Prompt, PageCount: args.PageCount}, t.defaultPages, t.maxPages)
	if err != nil {
		return "", err
	}

	result, err := t.runner.Run(ctx, t.bindings, req)
	if err != nil {
		return "", err
	}

	b, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// 确保StoryTool实现了einotool.InvokableTool接口
var _ einotool.InvokableTool = (*StoryTool)(nil)
