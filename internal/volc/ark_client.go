package volc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"storybook/internal/imagegen"
	"storybook/internal/model"
)

const (
	defaultBase = "https://ark.cn-beijing.volces.com"

	// DefaultImageModel Seedream 4.0
	DefaultImageModel = "doubao-seedream-4.0"
	// DefaultFallbackImageModel Seedream 3.0 文生图
	DefaultFallbackImageModel = "doubao-seedream-3-0-t2i"
	// DefaultChatModel 故事与提示词生成使用的对话模型
	DefaultChatModel = "doubao-seed-1-6-flash"

	// 1x1 PNG pixel base64
	mockPixel = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR4nGNgYAAAAAMAASsJTYQAAAAASUVORK5CYII="
)

// ArkClient 火山方舟 HTTP 客户端
type ArkClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Mock       bool
}

// ClientConfig 客户端配置
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Mock    bool
}

// NewArkClient 创建客户端
func NewArkClient(apiKey string, cfg ClientConfig) *ArkClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ArkClient{
		BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		Mock:       cfg.Mock,
	}
}

// APIError 方舟接口返回的非2xx响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// ImageGenParams 图片生成参数
type ImageGenParams struct {
	Model  string
	Prompt string
	Size   string
}

// GeneratedImage 单张生成结果，URL 与 B64 二选一
type GeneratedImage struct {
	URL    string
	B64    string
	Format string
}

// GenerateImages 调用 Seedream 生成图片
func (c *ArkClient) GenerateImages(ctx context.Context, p ImageGenParams) ([]GeneratedImage, error) {
	if c.Mock {
		return []GeneratedImage{{B64: mockPixel, Format: "png"}}, nil
	}
	if p.Model == "" {
		p.Model = DefaultImageModel
	}
	if p.Size == "" {
		p.Size = "1024x1024"
	}
	body := map[string]any{
		"model":           p.Model,
		"prompt":          p.Prompt,
		"size":            p.Size,
		"response_format": "b64_json",
		"watermark":       false,
	}

	var resp struct {
		Data []struct {
			URL    string `json:"url"`
			B64    string `json:"b64_json"`
			Format string `json:"format"`
		} `json:"data"`
	}
	if err := c.postJSON(ctx, "/api/v3/images/generations", body, &resp); err != nil {
		return nil, err
	}
	images := make([]GeneratedImage, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.URL == "" && d.B64 == "" {
			continue
		}
		images = append(images, GeneratedImage{URL: d.URL, B64: d.B64, Format: d.Format})
	}
	if len(images) == 0 {
		return nil, errors.New("no images returned")
	}
	return images, nil
}

// Download 获取远程图片字节
func (c *ArkClient) Download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, "", &APIError{StatusCode: res.StatusCode, Body: string(data)}
	}
	mime := res.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

func (c *ArkClient) postJSON(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	logrus.WithFields(logrus.Fields{"url": req.URL.String(), "bytes": len(b)}).Debug("ark request")
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{StatusCode: res.StatusCode, Body: string(bodyBytes)}
	}
	return json.Unmarshal(bodyBytes, out)
}

// ImageModel 将 Seedream 适配为 imagegen.ImageModel
type ImageModel struct {
	client *ArkClient
	model  string
}

var _ imagegen.ImageModel = (*ImageModel)(nil)

func NewImageModel(c *ArkClient, modelName string) *ImageModel {
	if modelName == "" {
		modelName = DefaultImageModel
	}
	return &ImageModel{client: c, model: modelName}
}

func (m *ImageModel) Name() string { return m.model }

func (m *ImageModel) GenerateImage(ctx context.Context, req imagegen.Request) (*imagegen.Image, error) {
	const op = "volc.GenerateImage"
	images, err := m.client.GenerateImages(ctx, ImageGenParams{Model: m.model, Prompt: req.Prompt, Size: req.Size})
	if err != nil {
		return nil, classify(op, err)
	}
	first := images[0]
	if first.B64 != "" {
		data, err := base64.StdEncoding.DecodeString(first.B64)
		if err != nil {
			return nil, model.ImageError(op, "invalid base64 image", err)
		}
		format := first.Format
		if format == "" {
			format = "png"
		}
		return &imagegen.Image{Data: data, MIMEType: "image/" + format}, nil
	}
	data, mime, err := m.client.Download(ctx, first.URL)
	if err != nil {
		return nil, classify(op, err)
	}
	return &imagegen.Image{Data: data, MIMEType: mime}, nil
}

// classify 将方舟错误映射为统一错误类型
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return model.QuotaError(op, err)
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"429", "quota", "ratelimit", "toomanyrequests"} {
		if strings.Contains(msg, s) {
			return model.QuotaError(op, err)
		}
	}
	return model.UpstreamError(op, err)
}
