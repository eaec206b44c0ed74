package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storybook/internal/imagegen"
	"storybook/internal/model"
	"storybook/internal/tools"
)

// Options 接口层参数
type Options struct {
	DefaultPageCount int
	MaxPageCount     int
	ImageSize        string
}

// Handler 绘本生成接口
type Handler struct {
	providers Providers
	runner    tools.StoryRunner
	opts      Options
}

func NewHandler(p Providers, r tools.StoryRunner, opts Options) *Handler {
	return &Handler{providers: p, runner: r, opts: opts}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/generate-story", h.generateStory)
	rg.POST("/generate-image", h.generateImage)
	rg.POST("/tools/story-generate", h.storyTool)
	rg.POST("/tools/image-generate", h.imageTool)
}

type generateStoryReq struct {
	Prompt    string            `json:"prompt"`
	PageCount int               `json:"pageCount"`
	APIKeys   model.Credentials `json:"apiKeys"`
	APIKey    string            `json:"apiKey"` // 旧版单一密钥
}

func (h *Handler) generateStory(c *gin.Context) {
	var body generateStoryReq
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	req, err := model.ValidateRequest(model.StoryRequest{
		Prompt:      body.Prompt,
		PageCount:   body.PageCount,
		Credentials: h.providers.Credentials(body.APIKeys, body.APIKey),
	}, h.opts.DefaultPageCount, h.opts.MaxPageCount)
	if err != nil {
		h.fail(c, err, "Failed to generate story")
		return
	}
	if err := h.providers.Validate(req.Credentials); err != nil {
		h.fail(c, err, "Failed to generate story")
		return
	}

	// 客户端断开后流水线继续执行到结束
	ctx := context.WithoutCancel(c.Request.Context())
	bindings, err := h.providers.Bindings(ctx, req.Credentials)
	if err != nil {
		h.fail(c, err, "Failed to generate story")
		return
	}

	logger(c).WithField("page_count", req.PageCount).Info("generating story")
	result, err := h.runner.Run(ctx, bindings, req)
	if err != nil {
		h.fail(c, err, "Failed to generate story")
		return
	}
	c.JSON(http.StatusOK, result)
}

type generateImageReq struct {
	Prompt string `json:"prompt"`
	APIKey string `json:"apiKey"`
}

func (h *Handler) generateImage(c *gin.Context) {
	var body generateImageReq
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Prompt is required"})
		return
	}
	if body.APIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "API key is required"})
		return
	}

	m, err := h.providers.SingleImage(c.Request.Context(), h.providers.ImageCredentials(body.APIKey))
	if err != nil {
		h.fail(c, err, "Failed to generate image")
		return
	}
	img, err := m.GenerateImage(c.Request.Context(), imagegen.Request{Prompt: body.Prompt, Size: h.opts.ImageSize})
	if err == nil && (img == nil || len(img.Data) == 0) {
		err = model.ImageError("server.generateImage", "No image generated", nil)
	}
	if err != nil {
		h.fail(c, err, "Failed to generate image")
		return
	}
	c.JSON(http.StatusOK, gin.H{"imageUrl": img.DataURI()})
}

// headerCredentials 工具接口的凭证放在请求头, 参数体只包含工具参数
func headerCredentials(c *gin.Context) model.Credentials {
	return model.Credentials{
		GeminiKey: c.GetHeader("X-Gemini-Key"),
		ArkKey:    c.GetHeader("X-Ark-Key"),
	}
}

func (h *Handler) storyTool(c *gin.Context) {
	args, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	creds := headerCredentials(c)
	if err := h.providers.Validate(creds); err != nil {
		h.fail(c, err, "Failed to generate story")
		return
	}
	ctx := context.WithoutCancel(c.Request.Context())
	bindings, err := h.providers.Bindings(ctx, creds)
	if err != nil {
		h.fail(c, err, "Failed to generate story")
		return
	}

	tool := tools.NewStoryTool(h.runner, bindings, h.opts.DefaultPageCount, h.opts.MaxPageCount)
	result, err := tool.InvokableRun(ctx, string(args))
	if err != nil {
		h.fail(c, err, "Failed to generate story")
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(result))
}

func (h *Handler) imageTool(c *gin.Context) {
	args, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	m, err := h.providers.SingleImage(c.Request.Context(), headerCredentials(c))
	if err != nil {
		h.fail(c, err, "Failed to generate image")
		return
	}

	result, err := tools.NewImageTool(m, h.opts.ImageSize).InvokableRun(c.Request.Context(), string(args))
	if err != nil {
		h.fail(c, err, "Failed to generate image")
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(result))
}

// fail 按错误类型写响应; 500 只返回固定文案, 详细信息写日志
func (h *Handler) fail(c *gin.Context, err error, internalMsg string) {
	log := logger(c).WithError(err)
	switch model.KindOf(err) {
	case model.KindValidation, model.KindCredential:
		var e *model.Error
		msg := err.Error()
		if errors.As(err, &e) && e.Msg != "" {
			msg = e.Msg
		}
		log.Warn("rejected request")
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
	case model.KindQuota:
		log.Warn("provider quota exceeded")
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "QUOTA_EXCEEDED",
			"message": "Free tier quota exceeded. Please use a paid API key.",
		})
	default:
		log.Error(internalMsg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": internalMsg})
	}
}
