package tools

import (
	"context"
	"encoding/json"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"storybook/internal/imagegen"
	"storybook/internal/model"
)

// ImageTool 单图生成工具
type ImageTool struct {
	model imagegen.ImageModel
	size  string
}

type ImageToolArgs struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
}

type ImageToolResp struct {
	Image string `json:"image"` // data URI
	Model string `json:"model"`
}

func NewImageTool(m imagegen.ImageModel, defaultSize string) *ImageTool {
	return &ImageTool{model: m, size: defaultSize}
}

func (t *ImageTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"prompt": {Type: schema.String, Required: true, Desc: "image prompt"},
		"size":   {Type: schema.String, Required: false, Desc: "output resolution, e.g. 1024x1024"},
	}
	return &schema.ToolInfo{
		Name:        "image_generate",
		Desc:        "Render one illustration and return it as a data URI",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

func (t *ImageTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args ImageToolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", model.ValidationError("invalid arguments: " + err.Error())
	}
	if strings.TrimSpace(args.Prompt) == "" {
		return "", model.ValidationError("Prompt is required")
	}
	size := args.Size
	if size == "" {
		size = t.size
	}

	img, err := t.model.GenerateImage(ctx, imagegen.Request{Prompt: args.Prompt, Size: size})
	if err != nil {
		return "", err
	}
	if img == nil || len(img.Data) == 0 {
		return "", model.ImageError("tools.ImageTool", "No image generated", nil)
	}

	b, err := json.Marshal(ImageToolResp{Image: img.DataURI(), Model: t.model.Name()})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ einotool.InvokableTool = (*ImageTool)(nil)
